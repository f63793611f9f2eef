// Package state holds host-side configuration and the reconnect cache.
// Connection parameters only: the protocol core itself persists nothing.
package state

import (
	"os"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/session"
	"github.com/wireddown/snsrhost/transport/bus"
)

type Config struct {
	Mqtt struct {
		Broker            string `hcl:"broker"`
		ClientID          string `hcl:"client_id"`
		Username          string `hcl:"username"`
		Password          string `hcl:"password"`
		KeepaliveSec      int    `hcl:"keepalive_sec"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		// QosCommand applies to regular command exchange; equip transfers are
		// pinned to at-least-once regardless.
		QosCommand int `hcl:"qos_command"`
	} `hcl:"mqtt"`

	Serial struct {
		Globs []string `hcl:"globs"`
		Baud  int      `hcl:"baud"`
	} `hcl:"serial"`

	Proto struct {
		HandshakeTimeoutMs int `hcl:"handshake_timeout_ms"`
		BaseTimeoutMs      int `hcl:"base_timeout_ms"`
		MaxTimeoutMs       int `hcl:"max_timeout_ms"`
		MaxRetries         int `hcl:"max_retries"`
		BusyGraceMs        int `hcl:"busy_grace_ms"`
		OverallDeadlineMs  int `hcl:"overall_deadline_ms"`
	} `hcl:"proto"`

	CacheDir string `hcl:"cache_dir"`
}

// newConfig carries sentinels that let SetDefaults tell "absent" from an
// explicit zero: qos_command = 0 is a valid at-most-once setting.
func newConfig() *Config {
	c := new(Config)
	c.Mqtt.QosCommand = -1
	return c
}

func (c *Config) SetDefaults() {
	if c.Mqtt.Broker == "" {
		c.Mqtt.Broker = "tcp://127.0.0.1:1883"
	}
	if c.Mqtt.QosCommand < 0 {
		c.Mqtt.QosCommand = 1
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if len(c.Serial.Globs) == 0 {
		c.Serial.Globs = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	}
	if c.CacheDir == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			c.CacheDir = home + "/.cache/snsrhost"
		}
	}
}

func (c *Config) SessionConfig() session.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return session.Config{
		HandshakeTimeout: ms(c.Proto.HandshakeTimeoutMs),
		BaseTimeout:      ms(c.Proto.BaseTimeoutMs),
		MaxTimeout:       ms(c.Proto.MaxTimeoutMs),
		MaxRetries:       c.Proto.MaxRetries,
		BusyGrace:        ms(c.Proto.BusyGraceMs),
		OverallDeadline:  ms(c.Proto.OverallDeadlineMs),
	}
}

func (c *Config) BusConfig(log *log2.Log) bus.Config {
	return bus.Config{
		BrokerURL:      c.Mqtt.Broker,
		ClientID:       c.Mqtt.ClientID,
		Username:       c.Mqtt.Username,
		Password:       c.Mqtt.Password,
		KeepaliveSec:   c.Mqtt.KeepaliveSec,
		NetworkTimeout: time.Duration(c.Mqtt.NetworkTimeoutSec) * time.Second,
		QoSCommand:     byte(c.Mqtt.QosCommand),
		Log:            log,
	}
}

func ReadConfig(b []byte) (*Config, error) {
	// hcl leaves fields without a matching key untouched, so the sentinels
	// survive unless the file sets them
	c := newConfig()
	if err := hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotate(err, "config parse")
	}
	c.SetDefaults()
	return c, nil
}

// ReadConfigFile tolerates a missing file: the CLI works with defaults.
func ReadConfigFile(log *log2.Log, path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debugf("config %s not found, using defaults", path)
		c := newConfig()
		c.SetDefaults()
		return c, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	c, err := ReadConfig(b)
	return c, errors.Annotatef(err, "config %s", path)
}

func MustReadConfigFile(log *log2.Log, path string) *Config {
	c, err := ReadConfigFile(log, path)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
