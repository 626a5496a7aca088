// Package queue owns the task lifecycle: admission through the two-class
// governors, the per-task state machine, progress aggregation and the
// single terminal cleanup path.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/kvosk/msq/internal/engine"
	"github.com/kvosk/msq/internal/governor"
	"github.com/kvosk/msq/internal/mega"
	"github.com/kvosk/msq/internal/storage"
	"github.com/kvosk/msq/internal/store"
	"github.com/kvosk/msq/internal/upload"
)

var (
	ErrTaskNotFound = errors.New("task_not_found")
	ErrNotOwner     = errors.New("not_task_owner")
	ErrShuttingDown = errors.New("queue_shutting_down")
)

// PremiumChecker resolves an owner's admission class at submission time.
type PremiumChecker interface {
	IsPremium(ctx context.Context, owner string) (bool, error)
}

// SettingsSource supplies per-owner defaults applied at submission time.
type SettingsSource interface {
	UserSettings(ctx context.Context, owner string) (store.UserSettings, error)
}

// History records tasks when they reach a terminal state.
type History interface {
	AddTask(ctx context.Context, row store.TaskRow) error
}

var (
	_ PremiumChecker = (*store.Store)(nil)
	_ SettingsSource = (*store.Store)(nil)
	_ History        = (*store.Store)(nil)
)

type Config struct {
	DownloadDir    string
	MaxDownloads   int
	MaxUploads     int
	StatusInterval time.Duration
}

// Deps are the collaborators of a Service. Premium, Settings and History
// are optional; FS and Log default to the OS filesystem and slog.Default.
type Deps struct {
	Engine   engine.Engine
	Uploader upload.Uploader
	Premium  PremiumChecker
	Settings SettingsSource
	History  History
	FS       afero.Fs
	Log      *slog.Logger
}

// Service is the in-memory task registry plus the goroutine-per-task
// runner. Tasks leave the registry when they reach a terminal state; their
// lasting record is the history store.
type Service struct {
	cfg  Config
	deps Deps
	dl   *governor.Governor
	ul   *governor.Governor

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	tasks  map[uint64]*Task
	nextID uint64
	closed bool
}

func New(cfg Config, deps Deps) *Service {
	if cfg.MaxDownloads < 1 {
		cfg.MaxDownloads = 3
	}
	if cfg.MaxUploads < 1 {
		cfg.MaxUploads = 3
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:   cfg,
		deps:  deps,
		dl:    governor.New(cfg.MaxDownloads),
		ul:    governor.New(cfg.MaxUploads),
		base:  base,
		stop:  stop,
		tasks: make(map[uint64]*Task),
	}
}

// Submit validates the link, resolves the owner's class and settings, and
// starts the task's runner. The returned view is already in the queued
// state.
func (s *Service) Submit(ctx context.Context, owner, rawURL string) (TaskView, error) {
	link, err := mega.ParseLink(rawURL)
	if err != nil {
		return TaskView{}, err
	}

	prio := governor.Free
	if s.deps.Premium != nil {
		premium, err := s.deps.Premium.IsPremium(ctx, owner)
		if err != nil {
			s.deps.Log.Warn("premium lookup failed",
				slog.String("owner", owner), slog.Any("error", err))
		} else if premium {
			prio = governor.Premium
		}
	}
	interval := s.cfg.StatusInterval
	uploadMode := store.DefaultUploadMode
	if s.deps.Settings != nil {
		if us, err := s.deps.Settings.UserSettings(ctx, owner); err == nil {
			if us.StatusIntervalSeconds > 0 {
				interval = time.Duration(us.StatusIntervalSeconds) * time.Second
			}
			if us.UploadMode != "" {
				uploadMode = us.UploadMode
			}
		}
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return TaskView{}, ErrShuttingDown
	}
	s.nextID++
	id := s.nextID
	tctx, cancel := context.WithCancel(s.base)
	t := &Task{
		ID:         id,
		Owner:      owner,
		RawURL:     rawURL,
		Link:       link,
		Priority:   prio,
		Dest:       storage.TaskDir(s.cfg.DownloadDir, id),
		ctx:        tctx,
		cancel:     cancel,
		prog:       newProgressTracker(interval),
		uploadMode: uploadMode,
		state:      StateCreated,
		createdAt:  now,
		updatedAt:  now,
	}
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	t.setState(StateQueued)
	s.deps.Log.Info("task submitted",
		slog.Uint64("task", id), slog.String("owner", owner),
		slog.String("kind", link.Kind.String()), slog.String("class", prio.String()))
	go s.run(t)
	return t.View(), nil
}

// Get returns the live view of an active task.
func (s *Service) Get(id uint64) (TaskView, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return TaskView{}, ErrTaskNotFound
	}
	return t.View(), nil
}

// List returns active tasks ordered by id, optionally filtered by state.
func (s *Service) List(state string) []TaskView {
	s.mu.Lock()
	views := make([]TaskView, 0, len(s.tasks))
	for _, t := range s.tasks {
		v := t.View()
		if state != "" && v.State != state {
			continue
		}
		views = append(views, v)
	}
	s.mu.Unlock()
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Files returns the downloaded file paths of an active task.
func (s *Service) Files(id uint64) ([]string, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Files(), nil
}

// Cancel requests cooperative cancellation. An id that is unknown or has
// already left the registry reports ErrTaskNotFound; nothing is cancelled
// twice. Non-admin callers may only cancel their own tasks.
func (s *Service) Cancel(owner string, id uint64, admin bool) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	if !admin && t.Owner != owner {
		return ErrNotOwner
	}
	s.deps.Log.Info("cancel requested",
		slog.Uint64("task", id), slog.String("by", owner), slog.Bool("admin", admin))
	t.cancel()
	return nil
}

// Stats reports registry and governor occupancy.
type Stats struct {
	ActiveTasks      int `json:"active_tasks"`
	DownloadsInUse   int `json:"downloads_in_use"`
	DownloadsWaiting int `json:"downloads_waiting"`
	UploadsInUse     int `json:"uploads_in_use"`
	UploadsWaiting   int `json:"uploads_waiting"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	active := len(s.tasks)
	s.mu.Unlock()
	st := Stats{ActiveTasks: active}
	st.DownloadsInUse, st.DownloadsWaiting = s.dl.Stats()
	st.UploadsInUse, st.UploadsWaiting = s.ul.Stats()
	return st
}

// Shutdown refuses new submissions, cancels every active task and waits
// for the runners to drain or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
