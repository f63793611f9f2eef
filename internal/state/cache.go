package state

import (
	"encoding/json"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"

	"github.com/wireddown/snsrhost/discovery"
	"github.com/wireddown/snsrhost/log2"
)

type storage interface {
	Read() ([]byte, error)
	Write([]byte) (int, error)
}

// DescriptorCache remembers the last connected device so `--device last`
// can reconnect without a discovery round. Crash-safe storage because a
// half-written cache is worse than none.
type DescriptorCache struct {
	log     *log2.Log
	storage storage
}

func NewDescriptorCache(log *log2.Log, dir string) *DescriptorCache {
	if dir == "" {
		return &DescriptorCache{log: log}
	}
	return &DescriptorCache{
		log: log,
		storage: extremofile.New(extremofile.Config{
			Dir:      filepath.Join(dir, "last-device"),
			DirPerm:  0o755,
			FilePerm: 0o644,
		}),
	}
}

func (c *DescriptorCache) Load() (*discovery.DeviceDescriptor, error) {
	if c.storage == nil {
		return nil, nil
	}
	b, err := c.storage.Read()
	if b == nil {
		if err != nil {
			c.log.Debugf("descriptor cache read: %v", err)
		}
		return nil, nil
	}
	if err != nil {
		c.log.Debugf("descriptor cache ignore non-critical err=%v", err)
	}
	d := new(discovery.DeviceDescriptor)
	if err := json.Unmarshal(b, d); err != nil {
		return nil, errors.Annotate(err, "descriptor cache decode")
	}
	return d, nil
}

func (c *DescriptorCache) Store(d discovery.DeviceDescriptor) error {
	if c.storage == nil {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = c.storage.Write(b)
	return errors.Annotate(err, "descriptor cache write")
}
