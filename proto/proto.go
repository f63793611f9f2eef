// Package proto defines the command/response envelope exchanged with sensor
// nodes and the error taxonomy for the whole protocol stack.
//
// The envelope is JSON on both transports: the node firmware runs a trimmed
// interpreter whose json module only handles literals, lists and maps, so the
// schema stays flat and explicit.
package proto

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"
)

type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
	StatusBusy  Status = "busy"
)

// Known verbs. Nodes also accept free-form shell lines through VerbShell.
const (
	VerbIdentify  = "identify"
	VerbPing      = "ping"
	VerbInventory = "inventory"
	VerbWriteFile = "write-file"
	VerbVerify    = "verify"
	VerbShell     = "shell"
)

// Arg is one ordered key/value argument. Order matters to the node firmware,
// so arguments are a list, not a map.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Args []Arg

func (as Args) Get(name string) (string, bool) {
	for _, a := range as {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Command is one logical request. TID is allocated by the session just
// before the first send and reused verbatim for retries.
type Command struct {
	TID     uint32 `json:"tid"`
	Verb    string `json:"verb"`
	Args    Args   `json:"args,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	IssuedAt   time.Time     `json:"-"`
	Timeout    time.Duration `json:"-"`
	MaxRetries int           `json:"-"`
}

func NewCommand(verb string, args ...Arg) *Command {
	return &Command{Verb: verb, Args: args, IssuedAt: time.Now()}
}

func (c *Command) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	return b, errors.Trace(err)
}

// Response matches an in-flight Command by TID. Payload stays raw; only the
// issuer of the matching command knows how to interpret it.
type Response struct {
	TID     uint32          `json:"tid"`
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// DecodeResponse parses one envelope. Malformed input is a *FrameError: the
// frame is discarded and treated as a missed response upstream, never fatal.
func DecodeResponse(b []byte) (*Response, error) {
	r := new(Response)
	if err := json.Unmarshal(b, r); err != nil {
		return nil, &FrameError{Reason: "bad response envelope", Cause: err}
	}
	switch r.Status {
	case StatusOk, StatusError, StatusBusy:
	default:
		return nil, &FrameError{Reason: "bad status " + string(r.Status)}
	}
	r.ReceivedAt = time.Now()
	return r, nil
}

func (r *Response) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	return b, errors.Trace(err)
}

// Descriptor is the identity record a node publishes on its descriptor topic
// and returns to the identify verb.
type Descriptor struct {
	NodeID       string `json:"node_id"`
	SerialNumber string `json:"serial_number"`
	HardwareName string `json:"hardware_name"`
	SnsrVersion  string `json:"snsr_version"`
	IPAddress    string `json:"ip_address,omitempty"`
	SystemName   string `json:"system_name,omitempty"`
}

func DecodeDescriptor(b []byte) (*Descriptor, error) {
	d := new(Descriptor)
	if err := json.Unmarshal(b, d); err != nil {
		return nil, &FrameError{Reason: "bad descriptor", Cause: err}
	}
	if d.SerialNumber == "" && d.NodeID == "" {
		return nil, &FrameError{Reason: "descriptor without identity"}
	}
	return d, nil
}
