package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

func printTasks(tasks []taskView) {
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSTATE\tPROGRESS\tSPEED\tETA\tKIND\tURL")
	for _, t := range tasks {
		progress := formatProgress(t.BytesDone, t.BytesTotal)
		speed := formatSpeed(t)
		eta := formatETA(t)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Owner, t.State, progress, speed, eta, t.Kind, shortURL(t.URL))
		if t.ErrorCode != "" {
			fmt.Fprintf(tw, " \t \t \t \t \t \t \t  error: %s (%s)\n", t.ErrorCode, t.Error)
		}
	}
	_ = tw.Flush()
}

func shortURL(u string) string {
	if len(u) > 64 {
		return u[:61] + "..."
	}
	return u
}

func formatProgress(done, total int64) string {
	if total <= 0 {
		return humanBytes(done)
	}
	pct := float64(done) / float64(total) * 100
	return fmt.Sprintf("%s / %s (%.1f%%)", humanBytes(done), humanBytes(total), pct)
}

func formatSpeed(t taskView) string {
	if t.State != "downloading" || t.SpeedBPS <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s/s", humanBytes(t.SpeedBPS))
}

func formatETA(t taskView) string {
	if t.State != "downloading" || t.EtaSeconds <= 0 {
		return "-"
	}
	return humanDuration(time.Duration(t.EtaSeconds) * time.Second)
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	seconds := int64(d.Seconds())
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
