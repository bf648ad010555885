package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docuchat/internal/client"
	"docuchat/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		server     string
		owner      string
		token      string
		collection string
		pollLimit  time.Duration
	)
	flag.StringVar(&server, "server", envOr("DOCUCHAT_SERVER", "http://localhost:8080"), "docuchat API base URL")
	flag.StringVar(&owner, "owner", envOr("DOCUCHAT_OWNER", ""), "owner id sent as X-Owner-ID")
	flag.StringVar(&token, "token", os.Getenv("DOCUCHAT_TOKEN"), "bearer token; overrides -owner")
	flag.StringVar(&collection, "collection", "", "collection to upload to and search")
	flag.DurationVar(&pollLimit, "poll-limit", tui.DefaultPollLimit, "how long to wait for an upload to finish processing")
	flag.Parse()

	api := client.New(client.Config{BaseURL: server, OwnerID: owner, Token: token})
	if _, err := tea.NewProgram(tui.New(api, collection, tui.WithPollLimit(pollLimit)), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "docuchat-cli:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
