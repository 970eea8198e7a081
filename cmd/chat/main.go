package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/peterh/liner"

	"firstprinciple-chat/internal/chat"
	"firstprinciple-chat/internal/config"
	"firstprinciple-chat/internal/history"
	"firstprinciple-chat/internal/logging"
	"firstprinciple-chat/internal/ratelimit"
	"firstprinciple-chat/internal/resilient"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the client TOML config")
	serverURL := flag.String("server", "", "chat server URL (overrides config)")
	flag.Parse()

	if err := run(*configPath, *serverURL); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("[Error] ")+err.Error())
		os.Exit(1)
	}
}

// cancelSignals only covers Ctrl-C; SIGTERM keeps its default and ends
// the process.
var cancelSignals = []os.Signal{os.Interrupt}

// cancelOnInterrupt makes Ctrl-C outside the prompt cancel the request in
// flight. The returned function stops listening.
func cancelOnInterrupt(c interface{ Cancel() }) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, cancelSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigChan:
				c.Cancel()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".firstprinciple", "config.toml")
}

func run(configPath, serverURL string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	// logs go to stderr so they do not interleave with answers
	logger := logging.NewWithWriter(os.Stderr, "development", cfg.LogLevel)
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s history backend: %w", cfg.HistoryBackend, err)
	}
	defer closeStore()

	clientKey := ratelimit.ClientKey(ctx, store)
	executor := resilient.NewExecutor(&http.Client{},
		resilient.WithTimeout(cfg.Timeout),
		resilient.WithLogger(logger),
	)
	session := chat.NewSession(ctx,
		chat.NewAPIClient(cfg.ServerURL, clientKey, executor),
		ratelimit.New(cfg.RateLimit, cfg.RateWindow),
		clientKey,
		history.New(store, history.WithLogger(logger)),
		chat.WithLogger(logger),
		chat.WithMaxRetries(cfg.MaxRetries),
	)

	stopCancel := cancelOnInterrupt(session)
	defer stopCancel()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	a := &app{
		session: session,
		line:    line,
		render:  newRenderer(),
		out:     os.Stdout,
	}
	return a.run(ctx)
}
