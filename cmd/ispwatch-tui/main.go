package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kylerisse/ispwatch/pkg/tui"
)

func main() {
	addr := flag.String("addr", "http://localhost:8501", "base URL of the ispwatchd dashboard")
	refresh := flag.Duration("refresh", tui.DefaultRefresh, "how often to reload the view")
	flag.Parse()

	model := tui.NewModel(tui.NewClient(*addr, nil), *refresh)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ispwatch-tui: %v\n", err)
		os.Exit(1)
	}
}
