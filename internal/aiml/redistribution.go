package aiml

const (
	TaxRate        = 0.09
	StimulusAmount = 10
)

func GetTaxRate(address []byte) float64 {
	// In a real implementation, this would use an AI/ML model to determine the
	// tax rate for the given address.
	return TaxRate
}

func GetStimulusAmount(address []byte) uint64 {
	// In a real implementation, this would use an AI/ML model to determine the
	// stimulus amount for the given address.
	return StimulusAmount
}
