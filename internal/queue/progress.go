package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// progressTracker rate-limits status renders for one task. A render is due
// when the interval has elapsed since the last emission; renders identical
// to the previous one are suppressed without consuming the slot.
type progressTracker struct {
	mu        sync.Mutex
	interval  time.Duration
	lastEmit  time.Time
	lastLine  string
	prevBytes int64
	prevAt    time.Time
}

func newProgressTracker(interval time.Duration) *progressTracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &progressTracker{interval: interval}
}

// sample feeds one progress observation. When a render is due it returns
// the formatted line plus the speed and ETA behind it; otherwise emit is
// false and the other returns are zero.
func (p *progressTracker) sample(now time.Time, done, total int64) (line string, speed, etaSeconds int64, emit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prevAt.IsZero() {
		p.prevAt = now
		p.prevBytes = done
	}
	// A byte counter moving backwards means the stream restarted.
	if done < p.prevBytes {
		p.prevBytes = done
		p.prevAt = now
	}
	if !p.lastEmit.IsZero() && now.Sub(p.lastEmit) < p.interval {
		return "", 0, 0, false
	}
	if dt := now.Sub(p.prevAt); dt > 0 {
		speed = int64(float64(done-p.prevBytes) / dt.Seconds())
	}
	if speed < 0 {
		speed = 0
	}
	if speed > 0 && total > 0 && done < total {
		etaSeconds = (total - done) / speed
	}
	line = renderProgress(done, total, speed, etaSeconds)
	if line == p.lastLine {
		return "", 0, 0, false
	}
	p.lastEmit = now
	p.lastLine = line
	p.prevBytes = done
	p.prevAt = now
	return line, speed, etaSeconds, true
}

func renderProgress(done, total, speed, etaSeconds int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s at %s/s",
			humanize.IBytes(uint64(done)), humanize.IBytes(uint64(speed)))
	}
	pct := float64(done) / float64(total) * 100
	out := fmt.Sprintf("%s / %s (%.1f%%) at %s/s",
		humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)), pct,
		humanize.IBytes(uint64(speed)))
	if etaSeconds > 0 {
		out += " eta " + formatETA(etaSeconds)
	}
	return out
}

func formatETA(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
