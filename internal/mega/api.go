package mega

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNetwork marks transient transport failures after retries are exhausted.
var ErrNetwork = errors.New("network_error")

const (
	defaultBaseURL     = "https://g.api.mega.co.nz"
	defaultMaxAttempts = 3

	// The API answers -3 under load; it is retried on its own budget with
	// truncated exponential backoff rather than counted as a transport
	// failure.
	codeAgain      = -3
	againAttempts  = 8
	backoffInitial = 10 * time.Millisecond
	backoffMax     = 5 * time.Second
)

// APIError is a permanent error returned by the remote API. Negative codes
// follow the MEGA convention; Reason covers protocol-level failures that
// carry no code, such as a fetch response without a download URL.
type APIError struct {
	Code   int
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return "mega_api_error:" + e.Reason
	}
	if msg, ok := apiErrorText[e.Code]; ok {
		return fmt.Sprintf("mega_api_error:%d (%s)", e.Code, msg)
	}
	return fmt.Sprintf("mega_api_error:%d", e.Code)
}

var apiErrorText = map[int]string{
	-1:  "internal error",
	-2:  "bad arguments",
	-4:  "rate limited",
	-6:  "too many concurrent connections",
	-9:  "not found",
	-11: "access denied",
	-16: "account blocked",
	-17: "quota exceeded",
	-18: "temporarily unavailable",
}

// Client talks to the MEGA command endpoint. Every command batch carries a
// monotonically increasing sequence number; folder share commands also carry
// the share handle as the n query parameter.
type Client struct {
	baseURL     string
	hc          *http.Client
	log         *slog.Logger
	maxAttempts int
	seqno       atomic.Uint64
}

func NewClient(log *slog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		hc:      &http.Client{Timeout: 2 * time.Minute},
		log: log.With(
			slog.String("comp", "mega"),
			slog.String("session", uuid.NewString()[:8]),
		),
		maxAttempts: defaultMaxAttempts,
	}
}

// SetBaseURL points the client at a different command endpoint.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetMaxAttempts bounds transport retries per command.
func (c *Client) SetMaxAttempts(n int) {
	if n > 0 {
		c.maxAttempts = n
	}
}

// SetHTTPClient swaps the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) { c.hc = hc }

// RawNode is one undecrypted node record from a folder listing.
type RawNode struct {
	Handle  string `json:"h"`
	Parent  string `json:"p"`
	Owner   string `json:"u"`
	Type    int    `json:"t"`
	Attrs   string `json:"a"`
	Key     string `json:"k"`
	Size    int64  `json:"s"`
	Created int64  `json:"ts"`
}

type filesReq struct {
	A  string `json:"a"`
	C  int    `json:"c"`
	CA int    `json:"ca"`
	R  int    `json:"r"`
}

type filesResp struct {
	Files []RawNode `json:"f"`
}

type fetchReq struct {
	A string `json:"a"`
	G int    `json:"g"`
	P string `json:"p,omitempty"`
	N string `json:"n,omitempty"`
}

// FileFetch describes where to stream one file's ciphertext from.
type FileFetch struct {
	URL   string `json:"g"`
	Size  int64  `json:"s"`
	Attrs string `json:"at"`
}

// ListFolder returns every raw node record reachable through a folder share.
func (c *Client) ListFolder(ctx context.Context, folderHandle string) ([]RawNode, error) {
	var resp filesResp
	if err := c.do(ctx, folderHandle, filesReq{A: "f", C: 1, CA: 1, R: 1}, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// FetchPublicFile asks for the transient download URL of a standalone file
// share.
func (c *Client) FetchPublicFile(ctx context.Context, handle string) (*FileFetch, error) {
	var resp FileFetch
	if err := c.do(ctx, "", fetchReq{A: "g", G: 1, P: handle}, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, &APIError{Reason: "file not accessible"}
	}
	return &resp, nil
}

// FetchSharedFile asks for the transient download URL of a file node inside
// a folder share.
func (c *Client) FetchSharedFile(ctx context.Context, folderHandle, nodeHandle string) (*FileFetch, error) {
	var resp FileFetch
	if err := c.do(ctx, folderHandle, fetchReq{A: "g", G: 1, N: nodeHandle}, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, &APIError{Reason: "file not accessible"}
	}
	return &resp, nil
}

// OpenStream GETs a transient download URL. The caller owns the reader.
func (c *Client) OpenStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream status %d", ErrNetwork, resp.StatusCode)
	}
	return resp.Body, nil
}

// do posts a single-command batch and decodes the first result into out.
// Transport failures and -3 answers are retried on separate budgets;
// any other negative code is returned as a permanent APIError.
func (c *Client) do(ctx context.Context, nodeHandle string, cmd any, out any) error {
	body, err := json.Marshal([]any{cmd})
	if err != nil {
		return err
	}
	var lastErr error
	backoff := backoffInitial
	transport, again := 0, 0
	for transport < c.maxAttempts && again < againAttempts {
		if transport > 0 || again > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		seq := c.seqno.Add(1)
		endpoint := fmt.Sprintf("%s/cs?id=%d", c.baseURL, seq)
		if nodeHandle != "" {
			endpoint += "&n=" + url.QueryEscape(nodeHandle)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			transport++
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			transport++
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			transport++
			continue
		}
		payload := bytes.TrimSpace(data)
		// The API answers either a bare negative integer or an array with
		// one result per command, where the result itself may be a code.
		if code, ok := negCode(payload); ok {
			if code == codeAgain {
				c.log.Debug("api busy, retrying", slog.Uint64("seq", seq))
				again++
				lastErr = &APIError{Code: code}
				continue
			}
			return &APIError{Code: code}
		}
		var results []json.RawMessage
		if err := json.Unmarshal(payload, &results); err != nil {
			lastErr = fmt.Errorf("bad response: %v", err)
			transport++
			continue
		}
		if len(results) == 0 {
			return &APIError{Reason: "empty response"}
		}
		first := bytes.TrimSpace(results[0])
		if code, ok := negCode(first); ok {
			if code == codeAgain {
				c.log.Debug("api busy, retrying", slog.Uint64("seq", seq))
				again++
				lastErr = &APIError{Code: code}
				continue
			}
			return &APIError{Code: code}
		}
		return json.Unmarshal(first, out)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, lastErr)
}

func negCode(b []byte) (int, bool) {
	var code int
	if err := json.Unmarshal(b, &code); err != nil {
		return 0, false
	}
	return code, code < 0
}
