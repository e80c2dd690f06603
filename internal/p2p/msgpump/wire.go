package msgpump

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/empower1/empower1/internal/p2p"
	"github.com/empower1/empower1/internal/p2p/addrmgr"
)

// The commands the core itself interprets; everything else
// is opaque and handed to the external Handler verbatim.
const (
	cmdVersion   = "version"
	cmdVerack    = "verack"
	cmdSubscribe = "subscribe"
	cmdSubCancel = "sub-cancel"
	cmdAddr      = "addr"
	cmdGetAddr   = "getaddr"
	cmdPing      = "ping"
	cmdPong      = "pong"
)

var errShortPayload = errors.New("msgpump: payload too short")

// versionPayload is the concrete wire encoding for the version control
// message. Application messages are treated as opaque blobs, but
// version/verack/subscribe/addr/getaddr are messages the core itself
// must parse, so a concrete encoding lives here rather than in
// the Handler's domain.
type versionPayload struct {
	nonce       uint64
	services    uint64
	protoVer    uint32
	startHeight int64
	userAgent   string
	pubKey      []byte
	sig         []byte
}

func encodeVersion(v versionPayload) []byte {
	buf := make([]byte, 0, 8+8+4+8+2+len(v.userAgent)+2+len(v.pubKey)+2+len(v.sig))
	buf = appendUint64(buf, v.nonce)
	buf = appendUint64(buf, v.services)
	buf = appendUint32(buf, v.protoVer)
	buf = appendInt64(buf, v.startHeight)
	buf = appendString(buf, v.userAgent)
	buf = appendBytes(buf, v.pubKey)
	buf = appendBytes(buf, v.sig)
	return buf
}

func decodeVersion(payload []byte) (versionPayload, error) {
	var v versionPayload
	r := newReader(payload)
	var err error
	if v.nonce, err = r.uint64(); err != nil {
		return v, err
	}
	if v.services, err = r.uint64(); err != nil {
		return v, err
	}
	if v.protoVer, err = r.uint32(); err != nil {
		return v, err
	}
	if v.startHeight, err = r.int64(); err != nil {
		return v, err
	}
	if v.userAgent, err = r.string(); err != nil {
		return v, err
	}
	if v.pubKey, err = r.bytes(); err != nil {
		return v, err
	}
	if v.sig, err = r.bytes(); err != nil {
		return v, err
	}
	return v, nil
}

func encodeSubscribe(channel uint32, hops uint8) []byte {
	buf := appendUint32(nil, channel)
	return append(buf, hops)
}

func decodeSubscribe(payload []byte) (channel uint32, hops uint8, err error) {
	r := newReader(payload)
	if channel, err = r.uint32(); err != nil {
		return 0, 0, err
	}
	b, err := r.byte()
	if err != nil {
		return 0, 0, err
	}
	return channel, b, nil
}

func encodeSubCancel(channel uint32) []byte {
	return appendUint32(nil, channel)
}

func decodeSubCancel(payload []byte) (uint32, error) {
	r := newReader(payload)
	return r.uint32()
}

func encodeAddr(entries []addrmgr.Snapshot) []byte {
	buf := appendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		buf = appendString(buf, e.Service.String())
		buf = appendUint64(buf, e.Services)
		buf = appendInt64(buf, e.LastSeen)
	}
	return buf
}

func decodeAddr(payload []byte) ([]addrmgr.PeerAddress, error) {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if count > 10000 {
		return nil, fmt.Errorf("msgpump: addr count %d exceeds sane limit", count)
	}
	out := make([]addrmgr.PeerAddress, 0, count)
	for i := uint32(0); i < count; i++ {
		svcStr, err := r.string()
		if err != nil {
			return nil, err
		}
		services, err := r.uint64()
		if err != nil {
			return nil, err
		}
		lastSeen, err := r.int64()
		if err != nil {
			return nil, err
		}
		svc, err := p2p.ParseService(svcStr)
		if err != nil {
			continue
		}
		out = append(out, addrmgr.PeerAddress{Service: svc, Services: services, LastSeen: lastSeen})
	}
	return out, nil
}

// --- low-level byte-slice reader/writer helpers ---

type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) uint64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, errShortPayload
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *reader) uint32() (uint32, error) {
	if len(r.buf)-r.pos < 4 {
		return 0, errShortPayload
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if len(r.buf)-r.pos < 1 {
		return 0, errShortPayload
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.buf)-r.pos) < n {
		return nil, errShortPayload
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte { return appendUint64(buf, uint64(v)) }

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}
