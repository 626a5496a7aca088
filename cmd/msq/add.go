package main

import (
	"flag"
	"fmt"
	"os"
)

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	owner := fs.String("owner", ownerName(), "owner the tasks are submitted as")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("usage: msq add <link> [<link2> ...] [--owner name]")
		return
	}
	hadErr := false
	for _, link := range fs.Args() {
		payload := map[string]any{
			"url":   link,
			"owner": *owner,
		}
		var task taskView
		if err := postJSON(*api+"/tasks", payload, &task); err != nil {
			fmt.Printf("error for %s: %v\n", link, err)
			hadErr = true
			continue
		}
		fmt.Printf("queued task %d [%s, %s] (%s)\n", task.ID, task.Kind, task.Priority, shortURL(link))
	}
	if hadErr {
		os.Exit(1)
	}
}
