// Package discovery enumerates reachable sensor nodes per transport kind and
// returns candidate device descriptors for sessions to connect to.
package discovery

import (
	"time"

	"github.com/wireddown/snsrhost/proto"
	"github.com/wireddown/snsrhost/transport"
)

// DeviceDescriptor identifies one reachable node. Immutable once created:
// produced here, consumed by session.Connect and the caller's reconnect
// cache.
type DeviceDescriptor struct {
	// Identity is the stable node identity: serial number for UART nodes,
	// client id for bus nodes.
	Identity string         `json:"identity"`
	Kind     transport.Kind `json:"kind"`
	// Endpoint is the port path (serial) or broker URL (bus).
	Endpoint     string    `json:"endpoint"`
	DiscoveredAt time.Time `json:"discovered_at"`

	// Extra detail reported by the node itself, informational only.
	HardwareName string `json:"hardware_name,omitempty"`
	SnsrVersion  string `json:"snsr_version,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	SystemName   string `json:"system_name,omitempty"`
}

func fromProto(d *proto.Descriptor, kind transport.Kind, endpoint string) DeviceDescriptor {
	identity := d.SerialNumber
	if kind == transport.KindBus {
		identity = d.NodeID
	}
	return DeviceDescriptor{
		Identity:     identity,
		Kind:         kind,
		Endpoint:     endpoint,
		DiscoveredAt: time.Now(),
		HardwareName: d.HardwareName,
		SnsrVersion:  d.SnsrVersion,
		IPAddress:    d.IPAddress,
		SystemName:   d.SystemName,
	}
}
