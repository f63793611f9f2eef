package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/transport"
)

func TestDemuxRouting(t *testing.T) {
	t.Parallel()

	d := NewDemux(log2.NewTest(t, log2.LDebug))

	// three nodes sharing one broker, interleaved responses
	chA, err := d.Register("A", 1)
	require.NoError(t, err)
	chB, err := d.Register("B", 1)
	require.NoError(t, err)
	chC, err := d.Register("C", 4)
	require.NoError(t, err)

	assert.True(t, d.Offer("B", transport.Frame{TID: 1, Payload: []byte("b")}))
	assert.True(t, d.Offer("C", transport.Frame{TID: 4, Payload: []byte("c")}))
	assert.True(t, d.Offer("A", transport.Frame{TID: 1, Payload: []byte("a")}))

	assert.Equal(t, []byte("a"), (<-chA).Payload)
	assert.Equal(t, []byte("b"), (<-chB).Payload)
	assert.Equal(t, []byte("c"), (<-chC).Payload)
}

func TestDemuxNoWaiter(t *testing.T) {
	t.Parallel()

	d := NewDemux(log2.NewTest(t, log2.LDebug))
	// same device, wrong tid
	_, err := d.Register("A", 2)
	require.NoError(t, err)
	assert.False(t, d.Offer("A", transport.Frame{TID: 1}))
	// unknown device
	assert.False(t, d.Offer("Z", transport.Frame{TID: 2}))
}

func TestDemuxDuplicateRegister(t *testing.T) {
	t.Parallel()

	d := NewDemux(log2.NewTest(t, log2.LDebug))
	_, err := d.Register("A", 1)
	require.NoError(t, err)
	_, err = d.Register("A", 1)
	assert.Error(t, err)
}

func TestDemuxDuplicateDelivery(t *testing.T) {
	t.Parallel()

	d := NewDemux(log2.NewTest(t, log2.LDebug))
	ch, err := d.Register("A", 1)
	require.NoError(t, err)
	// at-least-once redelivery: first copy wins, second is dropped
	assert.True(t, d.Offer("A", transport.Frame{TID: 1, Payload: []byte("one")}))
	assert.False(t, d.Offer("A", transport.Frame{TID: 1, Payload: []byte("two")}))
	assert.Equal(t, []byte("one"), (<-ch).Payload)
}

func TestDemuxUnregister(t *testing.T) {
	t.Parallel()

	d := NewDemux(log2.NewTest(t, log2.LDebug))
	_, err := d.Register("A", 1)
	require.NoError(t, err)
	d.Unregister("A", 1)
	assert.False(t, d.Offer("A", transport.Frame{TID: 1}))

	_, err = d.Register("A", 2)
	require.NoError(t, err)
	_, err = d.Register("B", 2)
	require.NoError(t, err)
	d.dropAll("A")
	assert.False(t, d.Offer("A", transport.Frame{TID: 2}))
	assert.True(t, d.Offer("B", transport.Frame{TID: 2}))
}

func TestTopics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cmd/snsr/node-7/req", RequestTopic("node-7"))
	assert.Equal(t, "cmd/snsr/node-7/res", ResponseTopic("node-7"))
	assert.Equal(t, "cmd/snsr/+/res", ResponseWildcard())
	assert.Equal(t, "cmd/snsr/broadcast", BroadcastTopic())

	assert.Equal(t, "node-7", DeviceFromTopic("cmd/snsr/node-7/res"))
	assert.Equal(t, "", DeviceFromTopic("cmd/snsr/broadcast"))
	assert.Equal(t, "", DeviceFromTopic("cmd/snsr/log"))
	assert.Equal(t, "", DeviceFromTopic("other/scheme/entirely/here/x"))
}
