package mega

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrNoFilesFound marks a share that resolves to an empty result set: an
// empty folder, or a file link whose target has zero bytes.
var ErrNoFilesFound = errors.New("no_files_found")

// Downloader resolves a parsed link and streams every file it covers into a
// destination directory through the decryption pipeline.
type Downloader struct {
	api         *Client
	fs          afero.Fs
	log         *slog.Logger
	maxAttempts int
}

func NewDownloader(api *Client, fs afero.Fs, log *slog.Logger) *Downloader {
	return &Downloader{
		api:         api,
		fs:          fs,
		log:         log.With(slog.String("comp", "downloader")),
		maxAttempts: defaultMaxAttempts,
	}
}

// SetMaxAttempts bounds whole-stream restarts per file.
func (d *Downloader) SetMaxAttempts(n int) {
	if n > 0 {
		d.maxAttempts = n
	}
}

// Download fetches the share behind link into destDir and returns the
// absolute paths of all files written, sorted, plus the total plaintext
// bytes. onBytes receives cumulative (done, total) progress. Cancellation
// is honored between files and between stream buffers; a failure on any
// file aborts the remaining ones.
func (d *Downloader) Download(ctx context.Context, link PublicLink, destDir string, onBytes func(done, total int64)) ([]string, int64, error) {
	if link.Kind == LinkFolder {
		return d.downloadFolder(ctx, link, destDir, onBytes)
	}
	return d.downloadFile(ctx, link, destDir, onBytes)
}

func (d *Downloader) downloadFile(ctx context.Context, link PublicLink, destDir string, onBytes func(done, total int64)) ([]string, int64, error) {
	key, err := FileKeyFromToken(link.Key)
	if err != nil {
		return nil, 0, err
	}
	fetch, err := d.api.FetchPublicFile(ctx, link.Handle)
	if err != nil {
		return nil, 0, err
	}
	if fetch.Size == 0 {
		return nil, 0, ErrNoFilesFound
	}
	name, err := decryptAttrs(key.AESKey, fetch.Attrs)
	if err != nil {
		return nil, 0, err
	}
	dest := filepath.Join(destDir, safeSegment(name, link.Handle))
	d.log.Info("downloading file", slog.String("name", name), slog.Int64("size", fetch.Size))

	prog := &progressFan{total: fetch.Size, onBytes: onBytes}
	prog.report()
	if err := d.fetchInto(ctx, fetch, key, dest, prog); err != nil {
		return nil, 0, err
	}
	return []string{dest}, fetch.Size, nil
}

func (d *Downloader) downloadFolder(ctx context.Context, link PublicLink, destDir string, onBytes func(done, total int64)) ([]string, int64, error) {
	shareKey, err := ShareKeyFromToken(link.Key)
	if err != nil {
		return nil, 0, err
	}
	raw, err := d.api.ListFolder(ctx, link.Handle)
	if err != nil {
		return nil, 0, err
	}
	tree := BuildTree(link.Handle, shareKey, raw, d.log)
	files := tree.Files()
	if len(files) == 0 {
		return nil, 0, ErrNoFilesFound
	}
	d.log.Info("resolved folder share",
		slog.Int("files", len(files)), slog.Int64("bytes", tree.TotalSize()))

	prog := &progressFan{total: tree.TotalSize(), onBytes: onBytes}
	prog.report()
	written := make([]string, 0, len(files))
	for _, node := range files {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		fetch, err := d.api.FetchSharedFile(ctx, link.Handle, node.Handle)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", node.Name, err)
		}
		dest := filepath.Join(destDir, relPath(tree, node))
		if err := d.fetchInto(ctx, fetch, node.Key, dest, prog); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", node.Name, err)
		}
		written = append(written, dest)
	}
	sort.Strings(written)
	return written, prog.base, nil
}

// fetchInto streams one file to dest, restarting the whole stream on
// transient failures. MAC mismatches and local write errors are permanent.
// The partial file is removed on failure; directory-level cleanup belongs
// to the caller.
func (d *Downloader) fetchInto(ctx context.Context, fetch *FileFetch, key NodeKey, dest string, prog *progressFan) error {
	if err := d.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := d.fs.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if attempt > 1 {
			if err := f.Truncate(0); err != nil {
				lastErr = fmt.Errorf("truncate partial: %w", err)
				break
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				lastErr = fmt.Errorf("rewind partial: %w", err)
				break
			}
			prog.resetAttempt()
			d.log.Warn("restarting stream",
				slog.String("dest", dest), slog.Int("attempt", attempt), slog.Any("error", lastErr))
		}
		rc, err := d.api.OpenStream(ctx, fetch.URL)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrNetwork) {
				continue
			}
			break
		}
		err = DecryptStream(ctx, key, fetch.Size, rc, f, prog.delta)
		rc.Close()
		if err == nil {
			if cerr := f.Close(); cerr != nil {
				d.fs.Remove(dest)
				return fmt.Errorf("close file: %w", cerr)
			}
			prog.fileDone()
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrNetwork) {
			break
		}
	}
	f.Close()
	d.fs.Remove(dest)
	return lastErr
}

// progressFan turns per-write deltas into cumulative (done, total) reports
// across the files of one share, resetting the in-flight span when a stream
// restarts.
type progressFan struct {
	base    int64 // bytes of fully completed files
	cur     int64 // bytes written by the in-flight attempt
	total   int64
	onBytes func(done, total int64)
}

func (p *progressFan) delta(n int64) {
	p.cur += n
	p.report()
}

func (p *progressFan) resetAttempt() {
	p.cur = 0
	p.report()
}

func (p *progressFan) fileDone() {
	p.base += p.cur
	p.cur = 0
}

func (p *progressFan) report() {
	if p.onBytes != nil {
		p.onBytes(p.base+p.cur, p.total)
	}
}

func relPath(tree *Tree, n *Node) string {
	segs := strings.Split(tree.Path(n), "/")
	for i, s := range segs {
		segs[i] = safeSegment(s, n.Handle)
	}
	return filepath.Join(segs...)
}

// safeSegment sanitizes one remote-supplied path component. Separators come
// back as underscores; dot segments and empty names fall back to the node
// handle so remote names can never escape the destination.
func safeSegment(name, fallback string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}
