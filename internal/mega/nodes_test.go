package mega

import (
	"crypto/aes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wrapKeyForTest(t *testing.T, shareKey, raw []byte) string {
	t.Helper()
	blk, err := aes.NewCipher(shareKey)
	require.NoError(t, err)
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += aes.BlockSize {
		blk.Encrypt(out[i:], raw[i:])
	}
	return base64.RawURLEncoding.EncodeToString(out)
}

func testShareKey() []byte {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(0xA0 + i)
	}
	return key
}

func rawFileKeyForTest(seed byte) []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return raw
}

func buildRawFile(t *testing.T, shareKey []byte, handle, parent, name string, size int64, seed byte) RawNode {
	t.Helper()
	rawKey := rawFileKeyForTest(seed)
	nk, err := fileNodeKey(rawKey)
	require.NoError(t, err)
	return RawNode{
		Handle: handle,
		Parent: parent,
		Type:   0,
		Size:   size,
		Attrs:  encryptAttrsForTest(t, nk.AESKey, fmt.Sprintf(`{"n":%q}`, name)),
		Key:    "ownerU:" + wrapKeyForTest(t, shareKey, rawKey),
	}
}

func buildRawFolder(t *testing.T, shareKey []byte, handle, parent, name string) RawNode {
	t.Helper()
	folderKey := make([]byte, 16)
	copy(folderKey, handle)
	return RawNode{
		Handle: handle,
		Parent: parent,
		Type:   1,
		Attrs:  encryptAttrsForTest(t, folderKey, fmt.Sprintf(`{"n":%q}`, name)),
		Key:    "ownerU:" + wrapKeyForTest(t, shareKey, folderKey),
	}
}

func TestBuildTree(t *testing.T) {
	shareKey := testShareKey()
	raw := []RawNode{
		buildRawFile(t, shareKey, "f2f2f2f2", "subsubsu", "a.bin", 50, 0x20),
		buildRawFolder(t, shareKey, "rootroot", "", "My Share"),
		buildRawFile(t, shareKey, "f1f1f1f1", "rootroot", "b.bin", 100, 0x10),
		buildRawFolder(t, shareKey, "subsubsu", "rootroot", "inner"),
		buildRawFile(t, shareKey, "f3f3f3f3", "rootroot", "A.txt", 25, 0x30),
	}

	tree := BuildTree("rootroot", shareKey, raw, discardLogger())
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "My Share", tree.Roots[0].Name)

	files := tree.Files()
	require.Len(t, files, 3)
	// Depth-first, children sorted case-insensitively by name.
	assert.Equal(t, "A.txt", files[0].Name)
	assert.Equal(t, "b.bin", files[1].Name)
	assert.Equal(t, "a.bin", files[2].Name)

	assert.Equal(t, "My Share/A.txt", tree.Path(files[0]))
	assert.Equal(t, "My Share/b.bin", tree.Path(files[1]))
	assert.Equal(t, "My Share/inner/a.bin", tree.Path(files[2]))

	assert.Equal(t, int64(175), tree.TotalSize())
	assert.True(t, files[0].Key.VerifyMAC)
}

func TestBuildTreeSkipsBadNodes(t *testing.T) {
	shareKey := testShareKey()
	bad := buildRawFile(t, shareKey, "badfile1", "rootroot", "x", 10, 0x40)
	bad.Attrs = encryptAttrsForTest(t, testShareKey(), `{"n":"x"}`) // wrong attr key
	noKey := buildRawFile(t, shareKey, "badfile2", "rootroot", "y", 10, 0x50)
	noKey.Key = ""

	raw := []RawNode{
		buildRawFolder(t, shareKey, "rootroot", "", "root"),
		bad,
		noKey,
		buildRawFile(t, shareKey, "goodfile", "rootroot", "keep.txt", 10, 0x60),
	}

	tree := BuildTree("rootroot", shareKey, raw, discardLogger())
	files := tree.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "keep.txt", files[0].Name)
}

func TestBuildTreeParentCycle(t *testing.T) {
	shareKey := testShareKey()
	raw := []RawNode{
		buildRawFolder(t, shareKey, "rootroot", "", "root"),
		buildRawFile(t, shareKey, "goodfile", "rootroot", "keep.txt", 10, 0x10),
		// Two folders pointing at each other, with a file trapped inside.
		buildRawFolder(t, shareKey, "cycleaaa", "cyclebbb", "a"),
		buildRawFolder(t, shareKey, "cyclebbb", "cycleaaa", "b"),
		buildRawFile(t, shareKey, "trapped1", "cycleaaa", "lost.txt", 10, 0x20),
	}

	tree := BuildTree("rootroot", shareKey, raw, discardLogger())
	files := tree.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "keep.txt", files[0].Name)
}

func TestBuildTreeExcludesDanglingParentFile(t *testing.T) {
	shareKey := testShareKey()
	raw := []RawNode{
		buildRawFolder(t, shareKey, "rootroot", "", "root"),
		buildRawFile(t, shareKey, "goodfile", "rootroot", "keep.txt", 10, 0x10),
		// The parent handle never appears in the listing: the chain ends at
		// a file, not a folder, so the node is not downloadable.
		buildRawFile(t, shareKey, "orphanf1", "gonegone", "stray.bin", 7, 0x11),
	}

	tree := BuildTree("rootroot", shareKey, raw, discardLogger())
	files := tree.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "keep.txt", files[0].Name)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, NodeFolder, tree.Roots[0].Type)
}

func TestFilesDepthGuard(t *testing.T) {
	shareKey := testShareKey()
	raw := []RawNode{buildRawFolder(t, shareKey, "d0000000", "", "d0")}
	parent := "d0000000"
	for i := 1; i < 70; i++ {
		handle := fmt.Sprintf("d%07d", i)
		raw = append(raw, buildRawFolder(t, shareKey, handle, parent, fmt.Sprintf("d%d", i)))
		parent = handle
	}
	raw = append(raw, buildRawFile(t, shareKey, "deepfile", parent, "deep.bin", 1, 0x33))

	tree := BuildTree("d0000000", shareKey, raw, discardLogger())
	assert.Empty(t, tree.Files(), "files beyond the depth bound are dropped")
}
