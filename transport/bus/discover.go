package bus

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// Discovery and monitor traffic rides the same shared connection as command
// exchange but outside the demux: group topics have no transaction pairing.

// NotifyDescriptors subscribes to every node's descriptor topic and calls h
// per message. The returned cancel unsubscribes.
func (c *Conn) NotifyDescriptors(h func(device string, payload []byte)) (func(), error) {
	topic := DescriptorWildcard()
	err := c.subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		device := DeviceFromTopic(msg.Topic())
		if device == "" || len(msg.Payload()) == 0 {
			// empty retained payload is a cleared will
			return
		}
		h(device, msg.Payload())
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return func() { c.m.Unsubscribe(topic) }, nil
}

// NotifyLog subscribes to the group log topic for monitor mode.
func (c *Conn) NotifyLog(h func(payload []byte)) (func(), error) {
	topic := LogTopic()
	err := c.subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Payload())
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return func() { c.m.Unsubscribe(topic) }, nil
}

// Broadcast publishes to the group broadcast topic at most once: discovery
// pings are cheap to repeat and must not queue up for offline nodes.
func (c *Conn) Broadcast(payload []byte) error {
	return errors.Trace(c.publish(BroadcastTopic(), 0, false, payload))
}
