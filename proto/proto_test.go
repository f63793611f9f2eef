package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEncode(t *testing.T) {
	t.Parallel()

	cmd := NewCommand(VerbWriteFile,
		Arg{Name: "path", Value: "code.py"},
		Arg{Name: "offset", Value: "0"},
	)
	cmd.TID = 7
	cmd.Payload = []byte("pass\n")

	b, err := cmd.Encode()
	require.NoError(t, err)

	// the node firmware depends on argument order surviving the wire
	assert.JSONEq(t, `{
		"tid": 7,
		"verb": "write-file",
		"args": [
			{"name": "path", "value": "code.py"},
			{"name": "offset", "value": "0"}
		],
		"payload": "cGFzcwo="
	}`, string(b))

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	// host-side bookkeeping stays off the wire
	assert.NotContains(t, m, "IssuedAt")
	assert.NotContains(t, m, "Timeout")
	assert.NotContains(t, m, "MaxRetries")
}

func TestArgsGet(t *testing.T) {
	t.Parallel()

	args := Args{{Name: "path", Value: "a"}, {Name: "path", Value: "b"}}
	v, ok := args.Get("path")
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = args.Get("missing")
	assert.False(t, ok)
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	r, err := DecodeResponse([]byte(`{"tid":3,"status":"ok","payload":{"version":"1.0"}}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), r.TID)
	assert.Equal(t, StatusOk, r.Status)
	assert.False(t, r.ReceivedAt.IsZero())

	r, err = DecodeResponse([]byte(`{"tid":4,"status":"busy"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, r.Status)
}

func TestDecodeResponseErrors(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		[]byte("Adafruit CircuitPython REPL"),
		[]byte(`{"tid":1,"status":"weird"}`),
		[]byte(`{"tid":"not-a-number"}`),
		nil,
	}
	for _, c := range cases {
		_, err := DecodeResponse(c)
		require.Error(t, err, "input %q", c)
		assert.True(t, IsFrameError(err), "input %q", c)
	}
}

func TestDecodeDescriptor(t *testing.T) {
	t.Parallel()

	d, err := DecodeDescriptor([]byte(`{"node_id":"node-1","serial_number":"SN1","hardware_name":"feather-m4","snsr_version":"1.2.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "node-1", d.NodeID)
	assert.Equal(t, "SN1", d.SerialNumber)

	// either identity alone is enough
	_, err = DecodeDescriptor([]byte(`{"serial_number":"SN1"}`))
	assert.NoError(t, err)
	_, err = DecodeDescriptor([]byte(`{"node_id":"node-1"}`))
	assert.NoError(t, err)

	_, err = DecodeDescriptor([]byte(`{"hardware_name":"feather-m4"}`))
	require.Error(t, err)
	assert.True(t, IsFrameError(err))
}
