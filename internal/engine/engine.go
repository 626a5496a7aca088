// Package engine abstracts how a share actually gets fetched: the native
// in-process protocol client, or a megatools binary on PATH.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kvosk/msq/internal/mega"
)

// ErrNoBackend means the configured backend cannot run on this host.
var ErrNoBackend = errors.New("no_usable_backend")

// Request describes one fetch: the parsed link plus where to put the files.
type Request struct {
	RawURL  string
	Link    mega.PublicLink
	DestDir string
	// OnBytes receives cumulative (done, total) progress. Total may be zero
	// when the backend cannot estimate it.
	OnBytes func(done, total int64)
}

// Result is the outcome of a successful fetch.
type Result struct {
	Files []string // absolute paths, sorted
	Bytes int64
}

// Engine fetches a share into a local directory.
type Engine interface {
	Name() string
	Fetch(ctx context.Context, req *Request) (*Result, error)
}

// Select picks the backend once at startup. "auto" probes what the host
// offers and prefers the native client, which handles folder trees and
// integrity checks the exec backend cannot; "megatools" requires the binary
// and fails fast when it is missing.
func Select(mode string, native Engine, mt *Megatools, log *slog.Logger) (Engine, error) {
	switch mode {
	case "", "auto":
		if err := mt.Probe(); err != nil {
			log.Debug("megatools not on this host", slog.String("reason", err.Error()))
		} else {
			log.Debug("megatools present, native still preferred")
		}
		log.Info("download backend selected", slog.String("backend", native.Name()))
		return native, nil
	case "native":
		log.Info("download backend selected", slog.String("backend", native.Name()))
		return native, nil
	case "megatools":
		if err := mt.Probe(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
		}
		log.Info("download backend selected", slog.String("backend", mt.Name()))
		return mt, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrNoBackend, mode)
}
