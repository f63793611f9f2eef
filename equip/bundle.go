// Package equip reconciles a versioned bundle manifest against the file set
// a node reports, using only the session's request/response primitive.
package equip

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
)

const ManifestName = "manifest.json"

// Entry describes one file by content, not by mtime: hashes are the only
// basis for the install diff.
type Entry struct {
	Path string `json:"path"` // relative, forward slashes
	Hash string `json:"hash"` // sha256, lowercase hex
	Size int64  `json:"size"`
}

// Notice carries the bundle build provenance, shown by `equip --describe`.
type Notice struct {
	Comment   string `json:"comment"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Timestamp string `json:"timestamp"`
}

// Bundle is a named, versioned manifest plus the directory holding the
// actual file contents.
type Bundle struct {
	Version string  `json:"version"`
	Notice  Notice  `json:"notice"`
	Files   []Entry `json:"files"`

	root string
}

// Inventory is what a node reports for the inventory and verify verbs.
type Inventory struct {
	Version string  `json:"version"`
	Files   []Entry `json:"files"`
}

func (inv *Inventory) byPath() map[string]Entry {
	m := make(map[string]Entry, len(inv.Files))
	for _, e := range inv.Files {
		m[e.Path] = e
	}
	return m
}

func DecodeInventory(b []byte) (*Inventory, error) {
	inv := new(Inventory)
	if err := json.Unmarshal(b, inv); err != nil {
		return nil, errors.Annotate(err, "inventory payload")
	}
	return inv, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errors.Trace(err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, errors.Trace(err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// LoadManifest reads a builder-produced manifest and binds it to its root
// directory so Open can stream contents during transfer.
func LoadManifest(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	b := new(Bundle)
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, errors.Annotatef(err, "manifest %s", path)
	}
	if b.Version == "" {
		return nil, errors.NotValidf("manifest %s without version", path)
	}
	b.root = filepath.Dir(path)
	return b, nil
}

// LoadDir builds a bundle from a directory tree: manifest.json when present,
// otherwise by hashing every file.
func LoadDir(root string) (*Bundle, error) {
	mpath := filepath.Join(root, ManifestName)
	if _, err := os.Stat(mpath); err == nil {
		return LoadManifest(mpath)
	}

	b := &Bundle{Version: "(unversioned)", root: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hash, size, err := hashFile(path)
		if err != nil {
			return err
		}
		b.Files = append(b.Files, Entry{
			Path: filepath.ToSlash(rel),
			Hash: hash,
			Size: size,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Slice(b.Files, func(i, j int) bool { return b.Files[i].Path < b.Files[j].Path })
	return b, nil
}

// Open returns the content of one manifest entry.
func (b *Bundle) Open(e Entry) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(e.Path)))
	return raw, errors.Trace(err)
}

// Describe renders the bundle the way `equip --describe` prints it.
func (b *Bundle) Describe() []string {
	lines := []string{
		fmt.Sprintf("bundle version=%s commit=%s timestamp=%s", b.Version, orDash(b.Notice.Commit), orDash(b.Notice.Timestamp)),
		fmt.Sprintf("files=%d", len(b.Files)),
	}
	for _, e := range b.Files {
		lines = append(lines, fmt.Sprintf("  %-40s %8d  %s", e.Path, e.Size, shortHash(e.Hash)))
	}
	if b.Notice.Comment != "" {
		lines = append(lines, "comment: "+b.Notice.Comment)
	}
	return lines
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
