// Package upload hands finished downloads to their final destination.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/kvosk/msq/internal/storage"
)

// Item is one downloaded file handed to the uploader.
type Item struct {
	Path string // absolute path under the task destination
	Rel  string // destination-relative path
}

// Options carries per-task upload settings.
type Options struct {
	TaskID uint64
	Owner  string
	// Mode is "tree" to preserve relative paths or "flat" to collapse
	// everything to basenames.
	Mode string
	// OnFile, when set, is told after each finished file.
	OnFile func(done, total int)
}

const (
	ModeTree = "tree"
	ModeFlat = "flat"
)

// Uploader consumes the file set of a completed download.
type Uploader interface {
	Upload(ctx context.Context, items []Item, opts Options) error
}

// LocalExport copies finished files into an export directory, one
// subdirectory per task. It checks for cancellation before every file.
type LocalExport struct {
	fs   afero.Fs
	root string
	log  *slog.Logger
}

var _ Uploader = (*LocalExport)(nil)

func NewLocalExport(fs afero.Fs, root string, log *slog.Logger) *LocalExport {
	return &LocalExport{fs: fs, root: root, log: log.With(slog.String("comp", "export"))}
}

func (u *LocalExport) Upload(ctx context.Context, items []Item, opts Options) error {
	sorted := append([]Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rel < sorted[j].Rel })

	base := filepath.Join(u.root, strconv.FormatUint(opts.TaskID, 10))
	for i, item := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(base, item.Rel)
		if opts.Mode == ModeFlat {
			dest = filepath.Join(base, storage.SafeName(item.Rel))
		}
		dest, err := storage.EnsureUnique(u.fs, dest)
		if err != nil {
			return fmt.Errorf("%s: %w", item.Rel, err)
		}
		if err := u.copyFile(item.Path, dest); err != nil {
			return fmt.Errorf("%s: %w", item.Rel, err)
		}
		u.log.Debug("exported file",
			slog.String("dest", dest), slog.Uint64("task", opts.TaskID))
		if opts.OnFile != nil {
			opts.OnFile(i+1, len(sorted))
		}
	}
	return nil
}

func (u *LocalExport) copyFile(src, dest string) error {
	if err := u.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := u.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := u.fs.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		u.fs.Remove(dest)
		return err
	}
	return out.Close()
}
