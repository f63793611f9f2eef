package equip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
)

// fakeNode emulates the firmware side of inventory/write-file/verify with an
// in-memory file set. MaxPayload is kept small so multi-chunk transfers are
// exercised with tiny fixtures.
type fakeNode struct {
	version  string
	files    map[string][]byte
	partial  map[string][]byte
	writes   int
	failPath string // write-file for this path answers with status=error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		version: "0.9.0",
		files:   make(map[string][]byte),
		partial: make(map[string][]byte),
	}
}

func (n *fakeNode) MaxPayload() int { return 256 }

func (n *fakeNode) inventory() ([]byte, error) {
	inv := Inventory{Version: n.version}
	for path, content := range n.files {
		sum := sha256.Sum256(content)
		inv.Files = append(inv.Files, Entry{
			Path: path,
			Hash: hex.EncodeToString(sum[:]),
			Size: int64(len(content)),
		})
	}
	return json.Marshal(inv)
}

func (n *fakeNode) Execute(_ context.Context, cmd *proto.Command) (*proto.Response, error) {
	switch cmd.Verb {
	case proto.VerbInventory, proto.VerbVerify:
		b, err := n.inventory()
		if err != nil {
			return nil, err
		}
		return &proto.Response{TID: cmd.TID, Status: proto.StatusOk, Payload: b}, nil

	case proto.VerbWriteFile:
		n.writes++
		path, _ := cmd.Args.Get("path")
		if path == n.failPath {
			return &proto.Response{TID: cmd.TID, Status: proto.StatusError, Message: "filesystem is read-only"}, nil
		}
		offset, _ := cmd.Args.Get("offset")
		off, err := strconv.Atoi(offset)
		if err != nil {
			return nil, err
		}
		if off == 0 {
			n.partial[path] = []byte{}
		}
		if off != len(n.partial[path]) {
			return &proto.Response{TID: cmd.TID, Status: proto.StatusError, Message: "offset out of order"}, nil
		}
		n.partial[path] = append(n.partial[path], cmd.Payload...)
		if last, _ := cmd.Args.Get("last"); last == "true" {
			n.files[path] = n.partial[path]
			delete(n.partial, path)
		}
		return &proto.Response{TID: cmd.TID, Status: proto.StatusOk}, nil
	}
	return &proto.Response{TID: cmd.TID, Status: proto.StatusError, Message: "unknown verb " + cmd.Verb}, nil
}

func writeBundleDir(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

var testFiles = map[string]string{
	"code.py":        "import snsr\nsnsr.run()\n",
	"snsr/node.py":   "class Node:\n    def __init__(self):\n        self.alive = True\n" + longLine(),
	"snsr/empty.cfg": "",
}

// longLine pads one file past the 48-byte chunk so transfers span chunks.
func longLine() string {
	b := make([]byte, 200)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return string(b)
}

func TestEquipFreshInstall(t *testing.T) {
	t.Parallel()

	bundle, err := LoadDir(writeBundleDir(t, testFiles))
	require.NoError(t, err)
	require.Len(t, bundle.Files, 3)

	node := newFakeNode()
	log := log2.NewTest(t, log2.LDebug)
	report, err := Equip(context.Background(), node, bundle, log)
	require.NoError(t, err)

	assert.True(t, report.Verified)
	assert.Equal(t, 3, report.Written())
	assert.Equal(t, 0, report.Skipped())
	assert.Equal(t, []byte(testFiles["snsr/node.py"]), node.files["snsr/node.py"])
	assert.Equal(t, []byte{}, node.files["snsr/empty.cfg"])

	// second run finds everything in place and transfers nothing
	node.writes = 0
	report, err = Equip(context.Background(), node, bundle, log)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 0, report.Written())
	assert.Equal(t, 3, report.Skipped())
	assert.Equal(t, 0, node.writes)
}

func TestEquipUpdatesStaleFile(t *testing.T) {
	t.Parallel()

	bundle, err := LoadDir(writeBundleDir(t, testFiles))
	require.NoError(t, err)

	node := newFakeNode()
	log := log2.NewTest(t, log2.LDebug)
	_, err = Equip(context.Background(), node, bundle, log)
	require.NoError(t, err)

	node.files["code.py"] = []byte("print('older build')\n")
	report, err := Equip(context.Background(), node, bundle, log)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written())
	assert.Equal(t, 2, report.Skipped())
	assert.Equal(t, []byte(testFiles["code.py"]), node.files["code.py"])
}

func TestEquipPartialFailure(t *testing.T) {
	t.Parallel()

	bundle, err := LoadDir(writeBundleDir(t, testFiles))
	require.NoError(t, err)
	// entries are sorted, so code.py transfers first and snsr/empty.cfg fails
	require.Equal(t, "code.py", bundle.Files[0].Path)
	require.Equal(t, "snsr/empty.cfg", bundle.Files[1].Path)

	node := newFakeNode()
	node.failPath = "snsr/empty.cfg"
	report, err := Equip(context.Background(), node, bundle, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	assert.True(t, IsPartialFailure(err))
	assert.False(t, report.Verified)

	byPath := make(map[string]Outcome, len(report.Files))
	for _, f := range report.Files {
		byPath[f.Path] = f.Outcome
	}
	assert.Equal(t, OutcomeWritten, byPath["code.py"])
	assert.Equal(t, OutcomeFailed, byPath["snsr/empty.cfg"])
	assert.Equal(t, OutcomeAborted, byPath["snsr/node.py"])
	// the file written before the failure stays written
	assert.Equal(t, []byte(testFiles["code.py"]), node.files["code.py"])
}

func TestEquipReportsExtras(t *testing.T) {
	t.Parallel()

	bundle, err := LoadDir(writeBundleDir(t, testFiles))
	require.NoError(t, err)

	node := newFakeNode()
	node.files["boot_out.txt"] = []byte("Adafruit CircuitPython")
	report, err := Equip(context.Background(), node, bundle, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	assert.Equal(t, []string{"boot_out.txt"}, report.Extra)
	// extras are reported, never deleted
	assert.Contains(t, node.files, "boot_out.txt")
}

func TestCompareIsReadOnly(t *testing.T) {
	t.Parallel()

	bundle, err := LoadDir(writeBundleDir(t, testFiles))
	require.NoError(t, err)

	node := newFakeNode()
	node.files["boot_out.txt"] = []byte("x")
	report, err := Compare(context.Background(), node, bundle)
	require.NoError(t, err)
	assert.Equal(t, 0, node.writes)
	assert.Len(t, report.Files, 3)
	assert.Equal(t, 0, report.Skipped())
	assert.Equal(t, []string{"boot_out.txt"}, report.Extra)
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()

	root := writeBundleDir(t, map[string]string{"code.py": "pass\n"})
	sum := sha256.Sum256([]byte("pass\n"))
	manifest := Bundle{
		Version: "2.1.0",
		Notice:  Notice{Comment: "release build", Commit: "abc1234"},
		Files:   []Entry{{Path: "code.py", Hash: hex.EncodeToString(sum[:]), Size: 5}},
	}
	raw, err := json.Marshal(&manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestName), raw, 0o644))

	b, err := LoadDir(root)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", b.Version)
	require.Len(t, b.Files, 1)

	content, err := b.Open(b.Files[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("pass\n"), content)

	// a manifest without a version is a builder bug, not a bundle
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestName), []byte(`{"files":[]}`), 0o644))
	_, err = LoadManifest(filepath.Join(root, ManifestName))
	assert.Error(t, err)
}

func TestLoadDirHashes(t *testing.T) {
	t.Parallel()

	b, err := LoadDir(writeBundleDir(t, testFiles))
	require.NoError(t, err)
	assert.Equal(t, "(unversioned)", b.Version)

	sum := sha256.Sum256([]byte(testFiles["code.py"]))
	assert.Equal(t, Entry{
		Path: "code.py",
		Hash: hex.EncodeToString(sum[:]),
		Size: int64(len(testFiles["code.py"])),
	}, b.Files[0])
}
