package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wadera/clawboard/internal/config"
	"github.com/Wadera/clawboard/internal/gateway"
	"github.com/Wadera/clawboard/internal/hub"
	"github.com/Wadera/clawboard/internal/liveness"
	"github.com/Wadera/clawboard/internal/logging"
	"github.com/Wadera/clawboard/internal/registry"
	"github.com/Wadera/clawboard/internal/web"
)

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listenAddr := fs.String("listen", "", "Listen address (overrides config)")
	token := fs.String("token", "", "Bearer token for API/WS access (overrides config)")

	fs.Usage = func() {
		fmt.Println("Usage: clawboard serve [options]")
		fmt.Println()
		fmt.Println("Start the dashboard HTTP server.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  clawboard serve")
		fmt.Println("  clawboard serve --listen 127.0.0.1:9000 --token secret")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	settings := loadSettings()
	initLogging(settings, true)
	defer logging.Shutdown()

	reader := registry.NewReader(settings.RegistryPath)
	classifier := buildClassifier(settings)
	gw := buildGatewayClient(settings, reader)

	server := web.NewServer(web.Config{
		ListenAddr: listenOrDefault(*listenAddr, settings),
		Token:      tokenOrDefault(*token, settings),
		Registry:   reader,
		Classifier: classifier,
		Gateway:    gw,
		Hub:        hub.New(gw.URL),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("clawboard v%s listening on http://%s\n", Version, server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		fmt.Printf("Received %s, shutting down\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
			os.Exit(1)
		}
	}
}

func listenOrDefault(flagValue string, settings *config.Settings) string {
	if flagValue != "" {
		return flagValue
	}
	return settings.Web.ListenAddr
}

func tokenOrDefault(flagValue string, settings *config.Settings) string {
	if flagValue != "" {
		return flagValue
	}
	return settings.Web.Token
}

func buildClassifier(settings *config.Settings) *liveness.Classifier {
	th := liveness.ThresholdsFromSecs(
		settings.Status.RunningThresholdSecs,
		settings.Status.IdleThresholdSecs,
		settings.Status.TranscriptWindowSecs,
	)
	return liveness.NewClassifier(settings.TranscriptsDir, th)
}

func buildGatewayClient(settings *config.Settings, reader *registry.Reader) *gateway.Client {
	url, auth := settings.ResolveGateway()
	gw := gateway.NewClient(url, auth, reader)
	if secs := settings.Status.ActiveAbortWindowSecs; secs > 0 {
		gw.ActiveWindow = time.Duration(secs) * time.Second
	}
	return gw
}
