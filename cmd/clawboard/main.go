package main

import (
	"fmt"
	"os"

	"github.com/Wadera/clawboard/internal/config"
	"github.com/Wadera/clawboard/internal/logging"
)

const Version = "0.4.0"

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("clawboard v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "serve":
			handleServe(args[1:])
			return
		case "sessions", "ls":
			handleSessions(args[1:])
			return
		case "stop":
			handleStop(args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand starts the dashboard server.
	handleServe(nil)
}

func printHelp() {
	fmt.Println("clawboard - operator dashboard for agent chat sessions")
	fmt.Println()
	fmt.Println("Usage: clawboard [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the dashboard server (default)")
	fmt.Println("  sessions   List known sessions with live status")
	fmt.Println("  stop       Abort a session's active run")
	fmt.Println("  version    Print version")
	fmt.Println("  help       Show this help")
	fmt.Println()
	fmt.Println("Run 'clawboard <command> --help' for command options.")
}

// loadSettings reads user configuration or exits with a diagnostic. Every
// subcommand needs it, so failures end the process here.
func loadSettings() *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return settings
}

// initLogging sets up the file logger. CLI one-shot commands keep logs
// quiet unless debug mode is requested; the server always logs.
func initLogging(settings *config.Settings, alwaysOn bool) {
	debug := os.Getenv("CLAWBOARD_DEBUG") != ""
	logDir := settings.Logs.Dir
	if logDir == "" {
		logDir = config.ConfigDir()
	}
	logging.Init(logging.Config{
		Debug:      debug || alwaysOn,
		LogDir:     logDir,
		Level:      settings.Logs.Level,
		Format:     settings.Logs.Format,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 10,
		Compress:   true,
	})
}
