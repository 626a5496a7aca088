package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

func cmdSettings(args []string) {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	owner := fs.String("owner", ownerName(), "owner whose settings to show or change")
	statusInterval := fs.Int("status-interval", 0, "progress report interval in seconds")
	uploadMode := fs.String("upload-mode", "", "export layout: tree or flat")
	fs.Parse(args)

	url := fmt.Sprintf("%s/settings/%s", *api, *owner)

	// No flags set, just show the current settings.
	if *statusInterval == 0 && *uploadMode == "" {
		var s settingsView
		if err := getJSON(url, &s); err != nil {
			fmt.Println("error:", err)
			return
		}
		printSettings(s)
		return
	}

	updates := map[string]any{}
	if *statusInterval > 0 {
		updates["status_interval_seconds"] = *statusInterval
	}
	if *uploadMode != "" {
		updates["upload_mode"] = *uploadMode
	}
	var s settingsView
	if err := postJSON(url, updates, &s); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("Settings updated:")
	printSettings(s)
}

func printSettings(s settingsView) {
	fmt.Printf("  owner:           %s\n", s.Owner)
	fmt.Printf("  status interval: %ds\n", s.StatusIntervalSeconds)
	fmt.Printf("  upload mode:     %s\n", s.UploadMode)
}

func cmdGrants(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: msq grants list [--owner name]")
		fmt.Println("       msq grants add <owner> [--expires 2026-12-31T00:00:00Z]")
		fmt.Println("       msq grants revoke <grant_id>")
		return
	}
	switch args[0] {
	case "list":
		cmdGrantsList(args[1:])
	case "add":
		cmdGrantsAdd(args[1:])
	case "revoke":
		cmdGrantsRevoke(args[1:])
	default:
		fmt.Println("unknown grants subcommand:", args[0])
	}
}

func cmdGrantsList(args []string) {
	fs := flag.NewFlagSet("grants list", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	owner := fs.String("owner", "", "filter by owner")
	fs.Parse(args)
	url := *api + "/grants"
	if *owner != "" {
		url += "?owner=" + *owner
	}
	var grants []grantView
	if err := getJSON(url, &grants); err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(grants) == 0 {
		fmt.Println("No grants.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tGRANTED\tEXPIRES\tREVOKED")
	for _, g := range grants {
		expires := g.ExpiresAt
		if expires == "" {
			expires = "-"
		}
		revoked := g.RevokedAt
		if revoked == "" {
			revoked = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Owner, g.GrantedAt, expires, revoked)
	}
	_ = tw.Flush()
}

func cmdGrantsAdd(args []string) {
	fs := flag.NewFlagSet("grants add", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	expires := fs.String("expires", "", "expiry in RFC3339, empty for no expiry")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("usage: msq grants add <owner> [--expires 2026-12-31T00:00:00Z]")
		return
	}
	payload := map[string]any{
		"owner":      fs.Arg(0),
		"expires_at": *expires,
	}
	var g grantView
	if err := postJSON(*api+"/grants", payload, &g); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("granted premium to %s (grant %s)\n", g.Owner, g.ID)
}

func cmdGrantsRevoke(args []string) {
	fs := flag.NewFlagSet("grants revoke", flag.ExitOnError)
	api := fs.String("api", apiBase(), "api base URL")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("usage: msq grants revoke <grant_id>")
		return
	}
	if err := deleteJSON(fmt.Sprintf("%s/grants/%s", *api, fs.Arg(0)), nil); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}
