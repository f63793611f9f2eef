// Package serial implements the UART transport: a byte-stuffed, delimiter
// framed stream so arbitrary binary payloads round-trip exactly over a
// tty device.
package serial

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

// Wire format: start | tid(4 BE) | length(2 BE) | payload | end.
// Any start/end/esc byte between the delimiters is sent as esc, b^escXor.
const (
	startByte = 0x7e
	endByte   = 0x7f
	escByte   = 0x7d
	escXor    = 0x20

	headerLen = 6 // tid + length
)

// DefaultMaxPayload fits one frame comfortably in the node's UART buffer.
const DefaultMaxPayload = 512

func reserved(b byte) bool {
	return b == startByte || b == endByte || b == escByte
}

// Escape byte-stuffs p. Reserved bytes double in size, worst case 2*len(p).
func Escape(p []byte) []byte {
	out := make([]byte, 0, len(p)+4)
	for _, b := range p {
		if reserved(b) {
			out = append(out, escByte, b^escXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape. A dangling or invalid escape sequence means the
// stream got corrupted mid-frame.
func Unescape(p []byte) ([]byte, error) {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		b := p[i]
		if b != escByte {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(p) {
			return nil, &proto.FrameError{Reason: "dangling escape"}
		}
		u := p[i] ^ escXor
		if !reserved(u) {
			return nil, &proto.FrameError{Reason: "invalid escape sequence"}
		}
		out = append(out, u)
	}
	return out, nil
}

// Encode wraps one frame for the wire.
func Encode(f transport.Frame) []byte {
	raw := make([]byte, headerLen+len(f.Payload))
	binary.BigEndian.PutUint32(raw[0:4], f.TID)
	binary.BigEndian.PutUint16(raw[4:6], uint16(len(f.Payload)))
	copy(raw[headerLen:], f.Payload)

	body := Escape(raw)
	out := make([]byte, 0, len(body)+2)
	out = append(out, startByte)
	out = append(out, body...)
	out = append(out, endByte)
	return out
}

// Decoder splits a byte stream into frames. Bytes outside start/end pairs are
// line-shell chatter (prompts, boot banner) and are skipped, not errors.
type Decoder struct {
	r   *bufio.Reader
	max int
}

func NewDecoder(r io.Reader, maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{r: bufio.NewReader(r), max: maxPayload}
}

// Read returns the next well-formed frame. A malformed frame yields a
// *proto.FrameError; the caller discards it and keeps reading, the stream
// itself stays usable.
func (d *Decoder) Read() (transport.Frame, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return transport.Frame{}, err
		}
		if b == startByte {
			break
		}
	}

	limit := 2*(headerLen+d.max) + 1
	body := make([]byte, 0, headerLen+16)
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return transport.Frame{}, err
		}
		if b == endByte {
			break
		}
		if b == startByte {
			// previous frame was truncated, resynchronize here
			body = body[:0]
			continue
		}
		if len(body) >= limit {
			return transport.Frame{}, &proto.FrameError{Reason: "frame exceeds maximum length"}
		}
		body = append(body, b)
	}

	raw, err := Unescape(body)
	if err != nil {
		return transport.Frame{}, err
	}
	if len(raw) < headerLen {
		return transport.Frame{}, &proto.FrameError{Reason: "frame shorter than header"}
	}
	length := int(binary.BigEndian.Uint16(raw[4:6]))
	if length != len(raw)-headerLen {
		return transport.Frame{}, &proto.FrameError{Reason: "length field mismatch"}
	}
	return transport.Frame{
		TID:     binary.BigEndian.Uint32(raw[0:4]),
		Payload: raw[headerLen:],
	}, nil
}
