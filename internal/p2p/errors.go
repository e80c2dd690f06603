package p2p

import "errors"

// Error kinds surfaced by the core, per the error-handling design.
// TransientSocket and PeerFatal never propagate past the Socket Loop;
// ProtocolViolation/Banned/SelfConnect are reported up through the Handler
// interface's return values and node.Misbehaving; ResourceLimit is logged
// and the accept is dropped with no Node allocated. ErrStartupFatal names
// a listen socket that cannot be created, but no function in this module
// returns it: the listener is opened by the caller before the Supervisor
// starts, and Supervisor.Start only returns an error (ErrShuttingDown)
// when it is called a second time.
var (
	ErrLocalAddress     = errors.New("p2p: address is the local service")
	ErrBanned           = errors.New("p2p: address is banned")
	ErrAlreadyConnected = errors.New("p2p: already connected to service")
	ErrSelfConnect      = errors.New("p2p: self connection detected")
	ErrOutboundCapped   = errors.New("p2p: outbound connection cap reached")
	ErrInboundCapped    = errors.New("p2p: inbound connection cap reached")
	ErrShuttingDown     = errors.New("p2p: context is shutting down")
	ErrOversizedFrame   = errors.New("p2p: frame payload exceeds maximum size")
	ErrBadMagic         = errors.New("p2p: frame magic mismatch")
	ErrFloodControl     = errors.New("p2p: buffer exceeded flood-control limit")
	ErrNodeNotFound     = errors.New("p2p: node not found")
	ErrNotHandshaked    = errors.New("p2p: node has not completed handshake")
	ErrStartupFatal     = errors.New("p2p: listen socket could not be created")
)
