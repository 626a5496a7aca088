package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

func cmdInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("usage: msq info <task_id>")
		return
	}
	id := fs.Arg(0)
	var task taskView
	if err := getJSON(fmt.Sprintf("%s/tasks/%s", *api, id), &task); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("task %d (%s)\n", task.ID, task.State)
	fmt.Printf("  owner:    %s\n", task.Owner)
	fmt.Printf("  link:     %s [%s]\n", task.URL, task.Kind)
	fmt.Printf("  priority: %s\n", task.Priority)
	fmt.Printf("  progress: %s\n", formatProgress(task.BytesDone, task.BytesTotal))
	if task.Files > 0 {
		fmt.Printf("  files:    %d\n", task.Files)
	}
	if task.ErrorCode != "" {
		fmt.Printf("  error:    %s (%s)\n", task.ErrorCode, task.Error)
	}
	fmt.Printf("  created:  %s\n", task.CreatedAt)
	fmt.Printf("  updated:  %s\n", task.UpdatedAt)
}

func cmdFiles(args []string) {
	fs := flag.NewFlagSet("files", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("usage: msq files <task_id>")
		return
	}
	id := fs.Arg(0)
	var resp struct {
		Files []string `json:"files"`
	}
	if err := getJSON(fmt.Sprintf("%s/tasks/%s/files", *api, id), &resp); err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(resp.Files) == 0 {
		fmt.Println("No files yet.")
		return
	}
	for _, f := range resp.Files {
		fmt.Println(f)
	}
}

func cmdCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	owner := fs.String("owner", ownerName(), "owner the cancel is issued as")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("usage: msq cancel <task_id>")
		return
	}
	id := fs.Arg(0)
	payload := map[string]any{"owner": *owner}
	if err := postJSON(fmt.Sprintf("%s/tasks/%s/cancel", *api, id), payload, nil); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	owner := fs.String("owner", "", "filter by owner")
	limit := fs.Int("limit", 50, "number of rows")
	fs.Parse(args)
	url := fmt.Sprintf("%s/history?limit=%d", *api, *limit)
	if *owner != "" {
		url += "&owner=" + *owner
	}
	var rows []historyRow
	if err := getJSON(url, &rows); err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(rows) == 0 {
		fmt.Println("No finished tasks.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSTATE\tSIZE\tFILES\tFINISHED\tURL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.TaskID, r.Owner, r.State, humanBytes(r.BytesDone), r.Files, r.FinishedAt, shortURL(r.URL))
		if r.ErrorCode != "" {
			fmt.Fprintf(tw, " \t \t \t \t \t \t  error: %s (%s)\n", r.ErrorCode, r.Error)
		}
	}
	_ = tw.Flush()
}
