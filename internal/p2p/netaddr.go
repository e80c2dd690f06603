package p2p

import "github.com/empower1/empower1/internal/p2p/netkey"

// NetAddress, Service and friends are re-exported from netkey so callers of
// package p2p never need to import the leaf package directly. netkey exists
// purely to break the import cycle between p2p and its addrmgr/banlist/
// connmgr/socketloop/msgpump subpackages, all of which need these types.
type NetAddress = netkey.NetAddress
type Service = netkey.Service

var (
	NewNetAddress   = netkey.NewNetAddress
	ParseNetAddress = netkey.ParseNetAddress
	ParseService    = netkey.ParseService
)

var ErrInvalidAddress = netkey.ErrInvalidAddress
