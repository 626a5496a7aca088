package queue

// End to end coverage over the real client, decryptor, governor and
// exporter against a fake share endpoint. The crypto fixtures here are
// written independently of the decryptor's internals so the two sides
// cross-check each other.

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvosk/msq/internal/engine"
	"github.com/kvosk/msq/internal/mega"
	"github.com/kvosk/msq/internal/upload"
)

func packA32(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func unpackA32(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return out
}

func e2ePlaintext(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 13)
	}
	return out
}

func fixtureWrapKey(t *testing.T, shareKey, raw []byte) string {
	t.Helper()
	blk, err := aes.NewCipher(shareKey)
	require.NoError(t, err)
	out := make([]byte, len(raw))
	for off := 0; off < len(raw); off += 16 {
		blk.Encrypt(out[off:off+16], raw[off:off+16])
	}
	return base64.RawURLEncoding.EncodeToString(out)
}

func fixtureEncryptAttrs(t *testing.T, aesKey []byte, name string) string {
	t.Helper()
	payload := []byte(`MEGA{"n":` + strconv.Quote(name) + `}`)
	padded := make([]byte, (len(payload)+15)/16*16)
	copy(padded, payload)
	blk, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	cipher.NewCBCEncrypter(blk, make([]byte, 16)).CryptBlocks(padded, padded)
	return base64.RawURLEncoding.EncodeToString(padded)
}

func fixtureEncryptBody(t *testing.T, aesKey []byte, iv [2]uint32, plain []byte) []byte {
	t.Helper()
	blk, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	out := make([]byte, len(plain))
	cipher.NewCTR(blk, packA32([]uint32{iv[0], iv[1], 0, 0})).XORKeyStream(out, plain)
	return out
}

// fixtureMetaMAC computes the condensed MAC over the plaintext the way the
// share host does: per chunk a CBC MAC seeded with the doubled IV, chunk
// MACs folded into a file MAC, then four words condensed to two.
func fixtureMetaMAC(t *testing.T, aesKey []byte, iv [2]uint32, plain []byte) [2]uint32 {
	t.Helper()
	blk, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	fileMAC := make([]byte, 16)
	chunkIV := packA32([]uint32{iv[0], iv[1], iv[0], iv[1]})
	rest := plain
	for i := 0; len(rest) > 0; i++ {
		size := (i + 1) * 0x20000
		if i >= 8 {
			size = 0x100000
		}
		if size > len(rest) {
			size = len(rest)
		}
		chunk := rest[:size]
		rest = rest[size:]
		mac := append([]byte(nil), chunkIV...)
		for off := 0; off < len(chunk); off += 16 {
			var block [16]byte
			copy(block[:], chunk[off:])
			for j := 0; j < 16; j++ {
				mac[j] ^= block[j]
			}
			blk.Encrypt(mac, mac)
		}
		for j := 0; j < 16; j++ {
			fileMAC[j] ^= mac[j]
		}
		blk.Encrypt(fileMAC, fileMAC)
	}
	w := unpackA32(fileMAC)
	return [2]uint32{w[0] ^ w[1], w[2] ^ w[3]}
}

func fixtureRawFileKey(aesKey []byte, iv, mac [2]uint32) []byte {
	second := packA32([]uint32{iv[0], iv[1], mac[0], mac[1]})
	raw := make([]byte, 32)
	for i := 0; i < 16; i++ {
		raw[i] = aesKey[i] ^ second[i]
	}
	copy(raw[16:], second)
	return raw
}

type e2eShare struct {
	handle string
	key    []byte
	nodes  []mega.RawNode
	bodies map[string][]byte
	attrs  map[string]string
	raws   map[string][]byte
}

func newE2EShare(handle string) *e2eShare {
	key := make([]byte, 16)
	for i := range key {
		key[i] = 0xC0 + byte(i)
	}
	return &e2eShare{
		handle: handle,
		key:    key,
		bodies: make(map[string][]byte),
		attrs:  make(map[string]string),
		raws:   make(map[string][]byte),
	}
}

func (s *e2eShare) addFolder(t *testing.T, handle, parent, name string) {
	t.Helper()
	raw := make([]byte, 16)
	copy(raw, handle)
	s.nodes = append(s.nodes, mega.RawNode{
		Handle: handle,
		Parent: parent,
		Type:   1,
		Attrs:  fixtureEncryptAttrs(t, raw, name),
		Key:    s.handle + ":" + fixtureWrapKey(t, s.key, raw),
	})
}

func (s *e2eShare) addFile(t *testing.T, handle, parent, name string, plain []byte, seed byte) {
	t.Helper()
	aesKey := make([]byte, 16)
	for i := range aesKey {
		aesKey[i] = seed + byte(i)
	}
	iv := [2]uint32{uint32(seed), uint32(seed) + 3}
	mac := fixtureMetaMAC(t, aesKey, iv, plain)
	raw := fixtureRawFileKey(aesKey, iv, mac)
	attrs := fixtureEncryptAttrs(t, aesKey, name)
	s.raws[handle] = raw
	s.nodes = append(s.nodes, mega.RawNode{
		Handle: handle,
		Parent: parent,
		Type:   0,
		Size:   int64(len(plain)),
		Attrs:  attrs,
		Key:    s.handle + ":" + fixtureWrapKey(t, s.key, raw),
	})
	s.bodies[handle] = fixtureEncryptBody(t, aesKey, iv, plain)
	s.attrs[handle] = attrs
}

func (s *e2eShare) folderURL() string {
	return "https://mega.nz/#F!" + s.handle + "!" + base64.RawURLEncoding.EncodeToString(s.key)
}

func (s *e2eShare) fileURL(handle string) string {
	return "https://mega.nz/file/" + handle + "#" + base64.RawURLEncoding.EncodeToString(s.raws[handle])
}

func newE2EServer(t *testing.T, share *e2eShare) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/cs", func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.Len(t, batch, 1)
		cmd := batch[0]
		switch cmd["a"] {
		case "f":
			json.NewEncoder(w).Encode([]any{map[string]any{"f": share.nodes}})
		case "g":
			handle, _ := cmd["n"].(string)
			if handle == "" {
				handle, _ = cmd["p"].(string)
			}
			body, ok := share.bodies[handle]
			if !ok {
				io.WriteString(w, `-9`)
				return
			}
			json.NewEncoder(w).Encode([]any{map[string]any{
				"g":  srv.URL + "/data/" + handle,
				"s":  len(body),
				"at": share.attrs[handle],
			}})
		default:
			t.Errorf("unexpected command %v", cmd["a"])
		}
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(share.bodies[strings.TrimPrefix(r.URL.Path, "/data/")])
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newE2EService(t *testing.T, srv *httptest.Server, fs afero.Fs, hist *historySink) *Service {
	t.Helper()
	client := mega.NewClient(discardLogger())
	client.SetBaseURL(srv.URL)
	dl := mega.NewDownloader(client, fs, discardLogger())
	return New(Config{DownloadDir: "/work", StatusInterval: time.Millisecond}, Deps{
		Engine:   engine.NewNative(dl),
		Uploader: upload.NewLocalExport(fs, "/export", discardLogger()),
		Premium:  premiumMap{},
		History:  hist,
		FS:       fs,
		Log:      discardLogger(),
	})
}

func TestEndToEndFolderShare(t *testing.T) {
	share := newE2EShare("e2eshare")
	share.addFolder(t, "e2eshare", "", "Concert")
	share.addFolder(t, "discsub1", "e2eshare", "disc1")
	track := e2ePlaintext(300 * 1024)
	notes := e2ePlaintext(700)
	share.addFile(t, "tracknod", "discsub1", "track01.flac", track, 0x51)
	share.addFile(t, "notesnod", "e2eshare", "notes.txt", notes, 0x77)

	fs := afero.NewMemMapFs()
	hist := &historySink{}
	svc := newE2EService(t, newE2EServer(t, share), fs, hist)

	v, err := svc.Submit(context.Background(), "alice", share.folderURL())
	require.NoError(t, err)

	waitFor(t, func() bool { _, ok := hist.find(v.ID); return ok }, "task reaches history")

	row, _ := hist.find(v.ID)
	require.Equal(t, string(StateCompleted), row.State, "task error: %s", row.Error)
	assert.Equal(t, 2, row.Files)
	assert.Equal(t, int64(len(track)+len(notes)), row.BytesDone)

	got, err := afero.ReadFile(fs, filepath.Join("/export", "1", "Concert", "disc1", "track01.flac"))
	require.NoError(t, err)
	assert.Equal(t, track, got)
	got, err = afero.ReadFile(fs, filepath.Join("/export", "1", "Concert", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, notes, got)

	left, err := afero.DirExists(fs, "/work/1")
	require.NoError(t, err)
	assert.False(t, left, "staging dir should be cleaned up")
}

func TestEndToEndFileShare(t *testing.T) {
	share := newE2EShare("e2eshare")
	plain := e2ePlaintext(150 * 1024)
	share.addFile(t, "pubfile1", "", "report.pdf", plain, 0x61)

	fs := afero.NewMemMapFs()
	hist := &historySink{}
	svc := newE2EService(t, newE2EServer(t, share), fs, hist)

	v, err := svc.Submit(context.Background(), "bob", share.fileURL("pubfile1"))
	require.NoError(t, err)

	waitFor(t, func() bool { _, ok := hist.find(v.ID); return ok }, "task reaches history")

	row, _ := hist.find(v.ID)
	require.Equal(t, string(StateCompleted), row.State, "task error: %s", row.Error)
	assert.Equal(t, 1, row.Files)

	got, err := afero.ReadFile(fs, filepath.Join("/export", "1", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestEndToEndMacMismatchFailsTask(t *testing.T) {
	share := newE2EShare("e2eshare")
	share.addFolder(t, "e2eshare", "", "Concert")
	share.addFile(t, "notesnod", "e2eshare", "notes.txt", e2ePlaintext(700), 0x77)
	share.bodies["notesnod"][10] ^= 0x01

	fs := afero.NewMemMapFs()
	hist := &historySink{}
	svc := newE2EService(t, newE2EServer(t, share), fs, hist)

	v, err := svc.Submit(context.Background(), "alice", share.folderURL())
	require.NoError(t, err)

	waitFor(t, func() bool { _, ok := hist.find(v.ID); return ok }, "task reaches history")

	row, _ := hist.find(v.ID)
	assert.Equal(t, string(StateFailed), row.State)
	assert.Equal(t, ErrCodeMacMismatch, row.ErrorCode)

	exported, err := afero.DirExists(fs, "/export/1")
	require.NoError(t, err)
	assert.False(t, exported, "failed task must not be exported")
}
