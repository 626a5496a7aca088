package main

import (
	"flag"
	"fmt"
	"time"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	state := fs.String("state", "", "filter by state")
	api := fs.String("api", apiBase(), "api base URL")
	watch := fs.Bool("watch", false, "refresh until all tasks settle")
	interval := fs.Int("interval", 1, "refresh interval in seconds")
	fs.Parse(args)
	if *interval <= 0 {
		*interval = 1
	}
	for {
		if *watch {
			fmt.Print("\033[H\033[2J")
		}
		url := *api + "/tasks"
		if *state != "" {
			url += "?state=" + *state
		}
		var tasks []taskView
		if err := getJSON(url, &tasks); err != nil {
			fmt.Println("error:", err)
			return
		}
		counts := map[string]int{}
		for _, t := range tasks {
			counts[t.State]++
		}
		fmt.Printf("Tasks: %d live (queued %d, downloading %d, uploading %d)\n",
			len(tasks), counts["queued"], counts["downloading"], counts["uploading"])
		printTasks(tasks)
		if !*watch || !hasActiveTasks(tasks) {
			return
		}
		time.Sleep(time.Duration(*interval) * time.Second)
	}
}

func hasActiveTasks(tasks []taskView) bool {
	for _, t := range tasks {
		switch t.State {
		case "created", "queued", "downloading", "uploading":
			return true
		}
	}
	return false
}
