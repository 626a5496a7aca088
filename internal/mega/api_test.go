package mega

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetBaseURL(srv.URL)
	return c
}

func decodeCommand(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var batch []map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
	require.Len(t, batch, 1)
	return batch[0]
}

func TestListFolder(t *testing.T) {
	var seqs []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cs", r.URL.Path)
		assert.Equal(t, "shareH", r.URL.Query().Get("n"))
		seqs = append(seqs, r.URL.Query().Get("id"))

		cmd := decodeCommand(t, r)
		assert.Equal(t, "f", cmd["a"])
		assert.Equal(t, float64(1), cmd["c"])
		assert.Equal(t, float64(1), cmd["r"])

		io.WriteString(w, `[{"f":[{"h":"n1","p":"shareH","t":0,"a":"attr","k":"shareH:key","s":42,"ts":1700000000}]}]`)
	})

	nodes, err := c.ListFolder(context.Background(), "shareH")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "n1", nodes[0].Handle)
	assert.Equal(t, int64(42), nodes[0].Size)

	_, err = c.ListFolder(context.Background(), "shareH")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, seqs, "sequence number must increase per request")
}

func TestFetchPublicFile(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("n"))
		cmd := decodeCommand(t, r)
		assert.Equal(t, "g", cmd["a"])
		assert.Equal(t, "fileH", cmd["p"])
		io.WriteString(w, `[{"g":"https://dl.example/abc","s":1024,"at":"encattrs"}]`)
	})

	fetch, err := c.FetchPublicFile(context.Background(), "fileH")
	require.NoError(t, err)
	assert.Equal(t, "https://dl.example/abc", fetch.URL)
	assert.Equal(t, int64(1024), fetch.Size)
}

func TestFetchSharedFileMissingURL(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shareH", r.URL.Query().Get("n"))
		cmd := decodeCommand(t, r)
		assert.Equal(t, "nodeH", cmd["n"])
		io.WriteString(w, `[{"s":1024}]`)
	})

	_, err := c.FetchSharedFile(context.Background(), "shareH", "nodeH")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Error(), "not accessible")
}

func TestAPIErrorCodes(t *testing.T) {
	t.Run("bare code", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `-9`)
		})
		_, err := c.ListFolder(context.Background(), "h")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, -9, apiErr.Code)
		assert.Contains(t, apiErr.Error(), "not found")
	})

	t.Run("code in array", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[-11]`)
		})
		_, err := c.ListFolder(context.Background(), "h")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, -11, apiErr.Code)
	})
}

func TestRetryOnAgain(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			io.WriteString(w, `-3`)
			return
		}
		io.WriteString(w, `[{"f":[]}]`)
	})

	nodes, err := c.ListFolder(context.Background(), "h")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryOnTransportError(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `[{"f":[]}]`)
	})

	_, err := c.ListFolder(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransportRetriesExhausted(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c.SetMaxAttempts(2)

	_, err := c.ListFolder(context.Background(), "h")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDoRespectsContext(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `-3`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListFolder(ctx, "h")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "payload")
	}))
	t.Cleanup(srv.Close)
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)))

	rc, err := c.OpenStream(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "payload", string(body))

	_, err = c.OpenStream(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrNetwork)
}
