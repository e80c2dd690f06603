package p2p

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Magic identifies the network (mainnet vs testnet); wired into every
// frame header so a misconfigured peer, or noise on the wire, is caught
// immediately by Framer.Next's magic check instead of corrupting the
// framer's resync scan.
type Magic uint32

const (
	MagicMainNet Magic = 0xD9B4BEF9
	MagicTestNet Magic = 0x0709110B

	commandSize      = 12
	frameHeaderSize  = 4 + commandSize + 4 + 4 // magic + command + length + checksum
)

// Frame is a decoded wire message: an opaque command name and payload.
// The core never interprets payload contents beyond the handful of
// commands it recognizes natively; everything else is handed
// up to the Handler untouched.
type Frame struct {
	Command string
	Payload []byte
}

func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// EncodeFrame serializes a Frame into the wire layout:
// [magic:4][command:12 NUL-padded][payload_len:4 LE][checksum:4][payload].
func EncodeFrame(magic Magic, command string, payload []byte) ([]byte, error) {
	if len(command) > commandSize {
		return nil, fmt.Errorf("p2p: command %q exceeds %d bytes", command, commandSize)
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(magic))
	copy(buf[4:4+commandSize], command)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	sum := checksum(payload)
	copy(buf[20:24], sum[:])
	copy(buf[24:], payload)
	return buf, nil
}

// Framer incrementally parses frames out of a growing receive buffer. It is
// not safe for concurrent use; callers hold the owning Node's receive lock.
type Framer struct {
	magic   Magic
	maxSize uint32
	buf     bytes.Buffer
}

// NewFramer creates a Framer bound to a specific network magic.
func NewFramer(magic Magic, maxFrameSize uint32) *Framer {
	return &Framer{magic: magic, maxSize: maxFrameSize}
}

// Write appends freshly received bytes to the framer's internal buffer.
func (f *Framer) Write(p []byte) {
	f.buf.Write(p)
}

// Buffered returns the number of bytes currently held (used by flood
// control to compare against ReceiveBufferSize).
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// Next extracts the next complete frame from the buffer, if any. It
// returns (frame, true, nil) on success, (Frame{}, false, nil) when more
// bytes are needed, and a non-nil error when the frame is fatally
// malformed (oversized payload).
//
// A header whose magic does not match triggers resynchronization: the
// framer scans forward for the next occurrence of the magic bytes and
// discards everything before it, rather than erroring — bad magic always
// triggers resync, never panic.
func (f *Framer) Next() (Frame, bool, error) {
	for {
		data := f.buf.Bytes()
		if len(data) < 4 {
			return Frame{}, false, nil
		}
		if binary.LittleEndian.Uint32(data[0:4]) != uint32(f.magic) {
			if !f.resync() {
				return Frame{}, false, nil
			}
			continue
		}
		if len(data) < frameHeaderSize {
			return Frame{}, false, nil
		}
		payloadLen := binary.LittleEndian.Uint32(data[16:20])
		if payloadLen > f.maxSize {
			return Frame{}, false, fmt.Errorf("%w: %d bytes > max %d", ErrOversizedFrame, payloadLen, f.maxSize)
		}
		total := frameHeaderSize + int(payloadLen)
		if len(data) < total {
			return Frame{}, false, nil
		}

		command := trimCommand(data[4 : 4+commandSize])
		wantSum := data[20:24]
		payload := make([]byte, payloadLen)
		copy(payload, data[frameHeaderSize:total])
		gotSum := checksum(payload)
		f.buf.Next(total)
		if !bytes.Equal(wantSum[:], gotSum[:]) {
			// Checksum failures are treated like a resync trigger rather
			// than a fatal error: the frame boundary we just consumed may
			// simply be wrong if a prior desync left us misaligned.
			continue
		}
		return Frame{Command: command, Payload: payload}, true, nil
	}
}

// resync scans forward for the next 4-byte occurrence of the magic and
// discards everything before it. Returns false if no occurrence is found
// yet (caller should wait for more bytes).
func (f *Framer) resync() bool {
	data := f.buf.Bytes()
	magicBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(magicBytes, uint32(f.magic))
	idx := bytes.Index(data[1:], magicBytes)
	if idx < 0 {
		// Keep the last 3 bytes in case the magic straddles the next read.
		if len(data) > 3 {
			f.buf.Next(len(data) - 3)
		}
		return false
	}
	f.buf.Next(idx + 1)
	return true
}

func trimCommand(b []byte) string {
	end := bytes.IndexByte(b, 0)
	if end < 0 {
		end = len(b)
	}
	return string(b[:end])
}
