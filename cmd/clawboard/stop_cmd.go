package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Wadera/clawboard/internal/registry"
)

func handleStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	all := fs.Bool("all", false, "Abort every recently-active session")
	stopMain := fs.Bool("main", false, "Abort the main session")

	fs.Usage = func() {
		fmt.Println("Usage: clawboard stop [options] [session-key]")
		fmt.Println()
		fmt.Println("Abort a session's active run via the control plane.")
		fmt.Println("Aborting a session with no active run succeeds.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  clawboard stop --main")
		fmt.Println("  clawboard stop agent:main:subagent:abc123")
		fmt.Println("  clawboard stop --all")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(1)
	}

	key := ""
	switch {
	case *all && *stopMain:
		fmt.Fprintln(os.Stderr, "Error: --all and --main are mutually exclusive")
		os.Exit(1)
	case *all, *stopMain:
		if fs.NArg() > 0 {
			fmt.Fprintln(os.Stderr, "Error: session key and flag target are mutually exclusive")
			os.Exit(1)
		}
	case fs.NArg() == 1:
		key = fs.Arg(0)
	default:
		fs.Usage()
		os.Exit(1)
	}

	settings := loadSettings()
	initLogging(settings, false)

	reader := registry.NewReader(settings.RegistryPath)
	gw := buildGatewayClient(settings, reader)

	if *all {
		results, err := gw.StopAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read registry: %v\n", err)
			os.Exit(1)
		}
		if len(results) == 0 {
			fmt.Println("No active sessions.")
			return
		}
		failed := 0
		for _, res := range results {
			if res.OK {
				fmt.Printf("✓ %s\n", res.SessionKey)
			} else {
				failed++
				fmt.Printf("✗ %s: %s\n", res.SessionKey, res.Error)
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	if *stopMain {
		key = registry.MainSessionKey
	}

	result := gw.AbortDetail(key)
	if !result.OK {
		fmt.Fprintf(os.Stderr, "Error: abort %s: %s\n", key, result.Error)
		os.Exit(1)
	}
	fmt.Printf("Aborted %s\n", key)
}
