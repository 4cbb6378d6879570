package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Wadera/clawboard/internal/liveness"
	"github.com/Wadera/clawboard/internal/registry"
)

// Table column widths for sessions command output
const (
	tableColKey   = 32
	tableColState = 10
	tableColAge   = 10
	tableColModel = 18
)

// sessionRow is the JSON shape of one session in `clawboard sessions --json`.
type sessionRow struct {
	Key       string         `json:"key"`
	SessionID string         `json:"sessionId"`
	Label     string         `json:"label,omitempty"`
	Model     string         `json:"model,omitempty"`
	UpdatedAt int64          `json:"updatedAt"`
	State     liveness.State `json:"state"`
	Task      string         `json:"task"`
	Subagent  bool           `json:"subagent"`
}

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: clawboard sessions [options]")
		fmt.Println()
		fmt.Println("List known sessions with live status classification.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(1)
	}

	settings := loadSettings()
	initLogging(settings, false)

	reader := registry.NewReader(settings.RegistryPath)
	classifier := buildClassifier(settings)

	sessions, err := reader.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read registry: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, sessionRow{
			Key:       s.Key,
			SessionID: s.SessionID,
			Label:     s.Label,
			Model:     s.Model,
			UpdatedAt: s.UpdatedAt,
			State:     classifier.Classify(s.Record, now),
			Task:      classifier.TaskExcerpt(s.SessionID),
			Subagent:  registry.IsSubagent(s.Key),
		})
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(rows) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	fmt.Printf("%-*s %-*s %-*s %-*s %s\n",
		tableColKey, "KEY",
		tableColState, "STATE",
		tableColAge, "UPDATED",
		tableColModel, "MODEL",
		"TASK")
	for _, row := range rows {
		fmt.Printf("%-*s %-*s %-*s %-*s %s\n",
			tableColKey, clipCell(row.Key, tableColKey),
			tableColState, string(row.State),
			tableColAge, formatAge(row.UpdatedAt, now),
			tableColModel, clipCell(row.Model, tableColModel),
			clipCell(row.Task, 60))
	}
}

// formatAge renders how long ago an epoch-millis timestamp was, coarsely.
func formatAge(updatedAt int64, now time.Time) string {
	if updatedAt <= 0 {
		return "never"
	}
	age := now.Sub(time.UnixMilli(updatedAt))
	switch {
	case age < 0:
		return "now"
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

// clipCell truncates a string to fit a table column.
func clipCell(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
