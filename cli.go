package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"mixconsole/server/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("mixconsole server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "audit":
		return cliAudit(args[1:], dbPath)
	case "discovery":
		return cliDiscovery(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	entries, err := st.RecentCommands(context.Background(), 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Version: %s\n", Version)
	if len(entries) > 0 {
		fmt.Printf("Last command: %s by %s at %d\n", entries[0].Command, entries[0].ClientID, entries[0].CreatedAt)
	} else {
		fmt.Println("Last command: none")
	}
	return true
}

func cliAudit(args []string, dbPath string) bool {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	limit := 50
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			limit = n
		}
	}

	entries, err := st.RecentCommands(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No audit log entries found.")
		return true
	}
	for _, e := range entries {
		fmt.Printf("[%d] %s client=%s %s\n", e.ID, e.Command, e.ClientID, e.Payload)
	}
	return true
}

func cliDiscovery(args []string, dbPath string) bool {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: server discovery <session-id> [limit]\n")
		os.Exit(1)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	limit := 50
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			limit = n
		}
	}

	events, err := st.DiscoveryHistory(context.Background(), args[0], limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(events, "", "  ")
	fmt.Println(string(out))
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	outPath := "mixconsole-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
