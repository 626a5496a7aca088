// Command msq is the CLI for the MEGA share queue daemon. It talks to the
// msqd HTTP API and renders task status in the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const defaultAPI = "http://127.0.0.1:8099"

// version is set at build time via -ldflags "-X main.version=...".
var version string

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "--version", "version":
		fmt.Println(versionString())
		return
	case "add":
		cmdAdd(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "info":
		cmdInfo(os.Args[2:])
	case "files":
		cmdFiles(os.Args[2:])
	case "cancel":
		cmdCancel(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "settings":
		cmdSettings(os.Args[2:])
	case "grants":
		cmdGrants(os.Args[2:])
	case "help":
		usage()
	default:
		usage()
	}
}

func versionString() string {
	if version == "" {
		return "msq (dev)"
	}
	return "msq " + version
}

func usage() {
	fmt.Println("MSQ - MEGA share queue CLI")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  msq add <link> [<link2> ...] [--owner name]")
	fmt.Println("  msq status [--watch] [--interval 1] [--state <state>]")
	fmt.Println("  msq info <task_id>")
	fmt.Println("  msq files <task_id>")
	fmt.Println("  msq cancel <task_id>")
	fmt.Println("  msq history [--owner name] [--limit 50]")
	fmt.Println("  msq settings [--owner name] [--status-interval <sec>] [--upload-mode tree|flat]")
	fmt.Println("  msq grants list|add|revoke ...   (requires MSQ_TOKEN)")
	fmt.Println("")
	fmt.Println("Env:")
	fmt.Println("  MSQ_API=http://127.0.0.1:8099")
	fmt.Println("  MSQ_OWNER=<default owner for add/cancel/settings>")
	fmt.Println("  MSQ_TOKEN=<admin bearer token>")
}

func apiBase() string {
	if v := os.Getenv("MSQ_API"); v != "" {
		return v
	}
	return defaultAPI
}

func ownerName() string {
	if v := os.Getenv("MSQ_OWNER"); v != "" {
		return v
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "local"
}
