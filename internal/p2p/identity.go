package p2p

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Identity is the process-wide local node identity: a single
// local_service, a per-session random nonce used to detect
// self-connection, and (supplementing net.cpp, which only ever compared
// connect-nonces) a secp256k1 keypair used to sign the nonce carried in
// our outgoing version message. The signature only proves the sender
// controls the private key for the public key it advertised in that same
// message; without a persisted record of a peer's public key across
// sessions this module does not pin identities, so it rejects a
// corrupted or mismatched nonce/signature pair but is not, by itself, a
// full replay or man-in-the-middle defense. The self-connect nonce
// comparison in msgpump.onVersion remains the primary replay guard.
type Identity struct {
	Service Service
	Nonce   uint64

	privKey *secp256k1.PrivateKey
	pubKey  *secp256k1.PublicKey
}

// NewIdentity builds a fresh Identity for this process: a random 64-bit
// nonce and a random secp256k1 keypair.
func NewIdentity(local Service) (*Identity, error) {
	nonce, err := randomUint64()
	if err != nil {
		return nil, fmt.Errorf("p2p: generating local nonce: %w", err)
	}
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("p2p: generating node identity key: %w", err)
	}
	return &Identity{
		Service: local,
		Nonce:   nonce,
		privKey: priv,
		pubKey:  priv.PubKey(),
	}, nil
}

func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// PublicKey returns the compressed serialized public key identifying this
// node, suitable for inclusion in a version message.
func (id *Identity) PublicKey() []byte {
	return id.pubKey.SerializeCompressed()
}

// SignNonce signs sha256(nonce) with the local identity key. The signature
// travels alongside the nonce and the public key in the version message
// so a receiving peer can confirm the two were produced together, via
// VerifyNonceSignature.
func (id *Identity) SignNonce(nonce uint64) []byte {
	h := nonceHash(nonce)
	sig := ecdsa.Sign(id.privKey, h[:])
	return sig.Serialize()
}

// VerifyNonceSignature verifies a remote peer's signature over its own
// claimed nonce, given the public key it advertised.
func VerifyNonceSignature(pubKeyBytes []byte, nonce uint64, sig []byte) bool {
	pub, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := nonceHash(nonce)
	return parsed.Verify(h[:], pub)
}

func nonceHash(nonce uint64) [32]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nonce)
	return sha256.Sum256(buf[:])
}
