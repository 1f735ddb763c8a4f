// Command huntrelay-console is an operator TUI for browsing assets,
// hunt modules, and the Intelligence Store's timeline and findings against a running
// Gateway, talking only to its REST surface — it never touches the
// database or SSH directly. Built with the same bubbletea/bubbles/
// lipgloss stack the teacher's own terminal viewer uses, with
// go-humanize for relative timestamps and chroma for highlighting a
// hunt-module spec's command text when viewing one.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/huntrelay/huntrelay/internal/consoleui"
)

func main() {
	var addr, token string
	pflag.StringVar(&addr, "addr", "https://127.0.0.1:8443", "Gateway base URL")
	pflag.StringVar(&token, "token", os.Getenv("HUNTRELAY_TOKEN"), "bearer token (defaults to $HUNTRELAY_TOKEN)")
	pflag.Parse()

	if token == "" {
		fmt.Fprintln(os.Stderr, "huntrelay-console: no bearer token; pass --token or set HUNTRELAY_TOKEN")
		os.Exit(1)
	}

	client := consoleui.NewClient(addr, token)
	model := consoleui.NewModel(client)

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "huntrelay-console:", err)
		os.Exit(1)
	}
}
