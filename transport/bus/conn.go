package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultKeepaliveSec   = 60

	// DefaultMaxPayload keeps equip chunks broker-friendly even though MQTT
	// itself would carry much more.
	DefaultMaxPayload = 4096
)

type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepaliveSec   int
	NetworkTimeout time.Duration

	// QoSCommand rides every command publish unless the binding overrides it.
	// Discovery broadcasts always go best-effort.
	QoSCommand byte

	Log *log2.Log
}

// Conn is one shared broker connection. All sessions talking to bus devices
// publish and receive through it; the demux keeps their traffic apart.
type Conn struct {
	m     mqtt.Client
	demux *Demux
	cfg   Config
	log   *log2.Log

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects and subscribes to the shared response wildcard.
// The will clears the host's retained descriptor if we die uncleanly.
func Dial(cfg Config) (*Conn, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.NotValidf("empty broker URL")
	}
	if cfg.NetworkTimeout == 0 {
		cfg.NetworkTimeout = DefaultNetworkTimeout
	}
	if cfg.KeepaliveSec == 0 {
		cfg.KeepaliveSec = DefaultKeepaliveSec
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "host-" + uuid.NewString()[:8]
	}

	c := &Conn{
		demux:  NewDemux(cfg.Log),
		cfg:    cfg,
		log:    cfg.Log,
		closed: make(chan struct{}),
	}

	mopt := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(time.Duration(cfg.KeepaliveSec) * time.Second).
		SetPingTimeout(cfg.NetworkTimeout / 2).
		SetConnectTimeout(cfg.NetworkTimeout).
		SetAutoReconnect(true).
		SetBinaryWill(DescriptorTopic(cfg.ClientID), []byte{}, 1, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			cfg.Log.Errorf("bus connection lost: %v", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			cfg.Log.Debugf("bus connected broker=%s client=%s", cfg.BrokerURL, cfg.ClientID)
		})
	c.m = mqtt.NewClient(mopt)

	t := c.m.Connect()
	if !t.WaitTimeout(cfg.NetworkTimeout) {
		return nil, &transport.Unavailable{Endpoint: cfg.BrokerURL, Cause: errors.Timeoutf("broker connect")}
	}
	if err := t.Error(); err != nil {
		return nil, &transport.Unavailable{Endpoint: cfg.BrokerURL, Cause: err}
	}

	if err := c.subscribe(ResponseWildcard(), 1, c.onResponse); err != nil {
		c.m.Disconnect(250)
		return nil, &transport.Unavailable{Endpoint: cfg.BrokerURL, Cause: err}
	}
	return c, nil
}

func (c *Conn) subscribe(topic string, qos byte, h mqtt.MessageHandler) error {
	t := c.m.Subscribe(topic, qos, h)
	if !t.WaitTimeout(c.cfg.NetworkTimeout) {
		return errors.Timeoutf("subscribe %s", topic)
	}
	return errors.Annotatef(t.Error(), "subscribe %s", topic)
}

func (c *Conn) onResponse(_ mqtt.Client, msg mqtt.Message) {
	device := DeviceFromTopic(msg.Topic())
	if device == "" {
		c.log.Debugf("bus drop response on group topic=%s", msg.Topic())
		return
	}
	resp, err := proto.DecodeResponse(msg.Payload())
	if err != nil {
		c.log.Debugf("bus drop topic=%s: %v", msg.Topic(), err)
		return
	}
	c.demux.Offer(device, transport.Frame{TID: resp.TID, Payload: msg.Payload()})
}

func (c *Conn) publish(topic string, qos byte, retained bool, payload []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	t := c.m.Publish(topic, qos, retained, payload)
	if qos == 0 {
		return nil
	}
	if !t.WaitTimeout(c.cfg.NetworkTimeout) {
		return errors.Timeoutf("publish ack topic=%s", topic)
	}
	return errors.Annotatef(t.Error(), "publish %s", topic)
}

// ClientID reports the possibly-generated identity of this host connection.
func (c *Conn) ClientID() string { return c.cfg.ClientID }

// Bind returns the transport for one device over this shared connection.
func (c *Conn) Bind(device string, qos byte) *Binding {
	return &Binding{conn: c, device: device, qos: qos}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.m.Disconnect(250)
	})
	return nil
}

// Closed reports permanent shutdown, used by bindings to wake receivers.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) String() string {
	return fmt.Sprintf("bus(%s as %s)", c.cfg.BrokerURL, c.cfg.ClientID)
}
