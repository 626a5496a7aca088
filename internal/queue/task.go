package queue

import (
	"context"
	"sync"
	"time"

	"github.com/kvosk/msq/internal/governor"
	"github.com/kvosk/msq/internal/mega"
)

// Task is one submitted download, owned by its runner goroutine. Immutable
// identity fields are set at submission; everything behind mu is the live
// status the API reads concurrently.
type Task struct {
	ID       uint64
	Owner    string
	RawURL   string
	Link     mega.PublicLink
	Priority governor.Class
	Dest     string

	ctx        context.Context
	cancel     context.CancelFunc
	prog       *progressTracker
	uploadMode string

	mu         sync.Mutex
	state      TaskState
	bytesDone  int64
	bytesTotal int64
	speed      int64
	etaSeconds int64
	files      []string
	errorCode  string
	errorMsg   string
	createdAt  time.Time
	updatedAt  time.Time
}

// setState applies a lifecycle transition, rejecting illegal ones.
func (t *Task) setState(to TaskState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.state, to) {
		return false
	}
	t.state = to
	t.updatedAt = time.Now().UTC()
	return true
}

// setTerminal is setState plus the error attribution of a finished task.
func (t *Task) setTerminal(to TaskState, code, msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.state, to) {
		return false
	}
	t.state = to
	t.errorCode = code
	t.errorMsg = msg
	t.updatedAt = time.Now().UTC()
	return true
}

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setProgress(done, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesDone = done
	if total > 0 {
		t.bytesTotal = total
	}
	t.updatedAt = time.Now().UTC()
}

func (t *Task) setRates(speed, etaSeconds int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speed = speed
	t.etaSeconds = etaSeconds
}

func (t *Task) setFiles(files []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append([]string(nil), files...)
}

// Files returns a copy of the downloaded file paths.
func (t *Task) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.files...)
}

func (t *Task) BytesDone() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesDone
}

// TaskView is the read-only snapshot served over the API.
type TaskView struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	Priority   string `json:"priority"`
	State      string `json:"state"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal int64  `json:"bytes_total,omitempty"`
	SpeedBPS   int64  `json:"speed_bps,omitempty"`
	EtaSeconds int64  `json:"eta_seconds,omitempty"`
	Files      int    `json:"files,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (t *Task) View() TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskView{
		ID:         t.ID,
		Owner:      t.Owner,
		URL:        t.RawURL,
		Kind:       t.Link.Kind.String(),
		Priority:   t.Priority.String(),
		State:      string(t.state),
		BytesDone:  t.bytesDone,
		BytesTotal: t.bytesTotal,
		SpeedBPS:   t.speed,
		EtaSeconds: t.etaSeconds,
		Files:      len(t.files),
		ErrorCode:  t.errorCode,
		Error:      t.errorMsg,
		CreatedAt:  t.createdAt.Format(time.RFC3339),
		UpdatedAt:  t.updatedAt.Format(time.RFC3339),
	}
}
