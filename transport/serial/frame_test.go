package serial

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"plain", []byte("hello node")},
		{"start-byte", []byte{startByte}},
		{"end-byte", []byte{endByte}},
		{"esc-byte", []byte{escByte}},
		{"all-reserved", []byte{startByte, endByte, escByte, escByte, startByte}},
		{"reserved-mixed", []byte{0x00, startByte, 0x41, endByte, 0xff, escByte}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			in := transport.Frame{TID: 0x01020304, Payload: c.payload}
			wire := Encode(in)
			dec := NewDecoder(bytes.NewReader(wire), DefaultMaxPayload)
			out, err := dec.Read()
			require.NoError(t, err)
			assert.Equal(t, in.TID, out.TID)
			assert.Equal(t, append([]byte(nil), c.payload...), append([]byte(nil), out.Payload...))
		})
	}
}

func TestFrameRoundTripRandom(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(20260830))
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(DefaultMaxPayload))
		rng.Read(payload)
		in := transport.Frame{TID: rng.Uint32(), Payload: payload}
		dec := NewDecoder(bytes.NewReader(Encode(in)), DefaultMaxPayload)
		out, err := dec.Read()
		require.NoError(t, err)
		require.Equal(t, in.TID, out.TID)
		require.True(t, bytes.Equal(in.Payload, out.Payload), "payload mismatch len=%d", len(payload))
	}
}

func TestUnescapeErrors(t *testing.T) {
	t.Parallel()

	_, err := Unescape([]byte{0x41, escByte})
	assert.True(t, proto.IsFrameError(err), "dangling escape err=%v", err)

	_, err = Unescape([]byte{escByte, 0x41})
	assert.True(t, proto.IsFrameError(err), "invalid escape err=%v", err)
}

func TestDecoderSkipsShellChatter(t *testing.T) {
	t.Parallel()

	in := transport.Frame{TID: 7, Payload: []byte("pong")}
	stream := append([]byte("\r\nAdafruit CircuitPython REPL\r\n>>> "), Encode(in)...)
	dec := NewDecoder(bytes.NewReader(stream), DefaultMaxPayload)
	out, err := dec.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), out.TID)
	assert.Equal(t, []byte("pong"), out.Payload)
}

func TestDecoderResyncAfterTruncatedFrame(t *testing.T) {
	t.Parallel()

	good := Encode(transport.Frame{TID: 9, Payload: []byte("ok")})
	// a frame that lost its end delimiter, followed by a complete one
	stream := append([]byte{startByte, 0x01, 0x02}, good...)
	dec := NewDecoder(bytes.NewReader(stream), DefaultMaxPayload)
	out, err := dec.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(9), out.TID)
}

func TestDecoderLengthMismatch(t *testing.T) {
	t.Parallel()

	wire := Encode(transport.Frame{TID: 1, Payload: []byte("abcd")})
	// clip the last payload byte but keep the end delimiter
	broken := append(append([]byte(nil), wire[:len(wire)-2]...), endByte)
	dec := NewDecoder(bytes.NewReader(broken), DefaultMaxPayload)
	_, err := dec.Read()
	assert.True(t, proto.IsFrameError(err), "err=%v", err)
}

func BenchmarkEncode(b *testing.B) {
	payload := bytes.Repeat([]byte{0x40, startByte}, 128)
	f := transport.Frame{TID: 42, Payload: payload}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Encode(f)
	}
}
