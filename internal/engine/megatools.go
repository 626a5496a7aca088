package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kvosk/msq/internal/mega"
)

// Megatools shells out to the megatools binary. It always writes to the
// real filesystem and only reports coarse progress (done when done).
type Megatools struct {
	bin  string
	path string
	log  *slog.Logger

	// seams for tests
	lookPath func(string) (string, error)
	run      func(ctx context.Context, bin string, args ...string) ([]byte, error)
}

var _ Engine = (*Megatools)(nil)

func NewMegatools(log *slog.Logger) *Megatools {
	return &Megatools{
		bin:      "megatools",
		log:      log.With(slog.String("comp", "megatools")),
		lookPath: exec.LookPath,
		run: func(ctx context.Context, bin string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, bin, args...).CombinedOutput()
		},
	}
}

func (m *Megatools) Name() string { return "megatools" }

// Probe locates the binary. It must be called before Fetch.
func (m *Megatools) Probe() error {
	path, err := m.lookPath(m.bin)
	if err != nil {
		return fmt.Errorf("megatools not found on PATH: %w", err)
	}
	m.path = path
	return nil
}

func (m *Megatools) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if m.path == "" {
		if err := m.Probe(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dest: %w", err)
	}
	args := m.buildArgs(req)
	m.log.Info("running megatools", slog.String("args", strings.Join(args, " ")))
	out, err := m.run(ctx, m.path, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: megatools: %v: %s", mega.ErrNetwork, err, firstLine(out))
	}

	files, bytes, err := collectFiles(req.DestDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, mega.ErrNoFilesFound
	}
	if req.OnBytes != nil {
		req.OnBytes(bytes, bytes)
	}
	return &Result{Files: files, Bytes: bytes}, nil
}

func (m *Megatools) buildArgs(req *Request) []string {
	return []string{"dl", "--path", req.DestDir, req.Link.LegacyURL()}
}

func collectFiles(root string) ([]string, int64, error) {
	var files []string
	var bytes int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, path)
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan dest: %w", err)
	}
	sort.Strings(files)
	return files, bytes, nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
