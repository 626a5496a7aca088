package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kvosk/msq/internal/engine"
	"github.com/kvosk/msq/internal/store"
	"github.com/kvosk/msq/internal/upload"
)

// run drives one task from queued to a terminal state. Every exit path
// goes through finish, which records history and cleans up exactly once.
func (s *Service) run(t *Task) {
	log := s.deps.Log.With(slog.Uint64("task", t.ID), slog.String("owner", t.Owner))

	ticket, err := s.dl.Acquire(t.ctx, t.Priority)
	if err != nil {
		s.finish(t, err, log)
		return
	}
	defer ticket.Release()

	t.setState(StateDownloading)
	log.Info("download started",
		slog.String("backend", s.deps.Engine.Name()),
		slog.String("kind", t.Link.Kind.String()))

	res, err := s.deps.Engine.Fetch(t.ctx, &engine.Request{
		RawURL:  t.RawURL,
		Link:    t.Link,
		DestDir: t.Dest,
		OnBytes: func(done, total int64) { s.onProgress(t, log, done, total) },
	})
	if err != nil {
		ticket.Release()
		s.finish(t, err, log)
		return
	}
	t.setFiles(res.Files)
	t.setProgress(res.Bytes, res.Bytes)
	ticket.Release()
	log.Info("download finished",
		slog.Int("files", len(res.Files)), slog.Int64("bytes", res.Bytes))

	upTicket, err := s.ul.Acquire(t.ctx, t.Priority)
	if err != nil {
		s.finish(t, err, log)
		return
	}
	defer upTicket.Release()

	t.setState(StateUploading)
	err = s.deps.Uploader.Upload(t.ctx, uploadItems(res.Files, t.Dest), upload.Options{
		TaskID: t.ID,
		Owner:  t.Owner,
		Mode:   t.uploadMode,
		OnFile: func(done, total int) {
			log.Debug("upload progress", slog.Int("done", done), slog.Int("total", total))
		},
	})
	upTicket.Release()
	s.finish(t, err, log)
}

// finish is the single terminal path. It sets the terminal state, removes
// the task's working directory, writes the history row and deregisters
// the task.
func (s *Service) finish(t *Task, err error, log *slog.Logger) {
	defer s.wg.Done()

	state := StateCompleted
	code, msg := "", ""
	if err != nil {
		code = errorKind(err)
		msg = err.Error()
		if code == ErrCodeCancelled {
			state = StateCancelled
		} else {
			state = StateFailed
		}
	}
	t.setTerminal(state, code, msg)

	if t.Dest != "" {
		if rmErr := s.deps.FS.RemoveAll(t.Dest); rmErr != nil {
			log.Warn("cleanup failed", slog.String("dir", t.Dest), slog.Any("error", rmErr))
		}
	}
	if s.deps.History != nil {
		// The task context is cancelled by now; history must still land.
		if hErr := s.deps.History.AddTask(context.Background(), historyRow(t)); hErr != nil {
			log.Warn("history write failed", slog.Any("error", hErr))
		}
	}

	s.mu.Lock()
	delete(s.tasks, t.ID)
	s.mu.Unlock()
	t.cancel()

	switch state {
	case StateCompleted:
		log.Info("task completed", slog.Int64("bytes", t.BytesDone()))
	case StateCancelled:
		log.Info("task cancelled")
	default:
		log.Warn("task failed", slog.String("code", code), slog.String("error", msg))
	}
}

func historyRow(t *Task) store.TaskRow {
	v := t.View()
	return store.TaskRow{
		TaskID:     v.ID,
		Owner:      v.Owner,
		URL:        v.URL,
		Kind:       v.Kind,
		State:      v.State,
		BytesDone:  v.BytesDone,
		BytesTotal: v.BytesTotal,
		Files:      len(t.Files()),
		ErrorCode:  v.ErrorCode,
		Error:      v.Error,
		CreatedAt:  v.CreatedAt,
		FinishedAt: v.UpdatedAt,
	}
}

// uploadItems maps absolute downloaded paths to export items with paths
// relative to the task directory.
func uploadItems(files []string, dest string) []upload.Item {
	items := make([]upload.Item, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(dest, f)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(f)
		}
		items = append(items, upload.Item{Path: f, Rel: rel})
	}
	return items
}

// onProgress feeds a raw byte count through the task's tracker; the
// tracker decides whether this sample produces a status line.
func (s *Service) onProgress(t *Task, log *slog.Logger, done, total int64) {
	line, speed, eta, emit := t.prog.sample(time.Now(), done, total)
	t.setProgress(done, total)
	if !emit {
		return
	}
	t.setRates(speed, eta)
	log.Info("progress", slog.String("status", line))
}
