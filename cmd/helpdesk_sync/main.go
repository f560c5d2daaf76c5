// Package main implements the helpdesk_sync binary for incremental
// replication of helpdesk change records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/datapipe-labs/helpdesk-sync/internal/api"
	"github.com/datapipe-labs/helpdesk-sync/internal/emit"
	"github.com/datapipe-labs/helpdesk-sync/internal/replicate"
	"github.com/datapipe-labs/helpdesk-sync/internal/state"
)

// Config holds the application configuration
type Config struct {
	APIURL     string `short:"a" env:"HDSYNC_API_URL" long:"api-url" description:"Helpdesk API base URL"`
	APIToken   string `env:"HDSYNC_API_TOKEN" long:"api-token" description:"Helpdesk API access token"`
	StateDSN   string `short:"s" env:"HDSYNC_STATE_DSN" long:"state-dsn" description:"Bookmark store DSN (postgres:// or etcd://)"`
	StartDate  string `env:"HDSYNC_START_DATE" long:"start-date" description:"Default bookmark as RFC 3339 timestamp" default:"2020-01-01T00:00:00Z"`
	WindowSize int64  `long:"window-size" description:"Search window size override in seconds" default:"2592000"`
	Streams    string `long:"streams" description:"Comma-separated streams to sync (default: all)"`
	LogLevel   string `short:"l" env:"HDSYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	Version    bool   `short:"v" long:"version" description:"Show version information"`
	Help       bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	parser.SubcommandsOptional = true
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// RunConfig validates the parsed CLI options and converts them into the
// engine's run configuration. Invalid configuration aborts before any sync.
func RunConfig(config *Config) (replicate.Config, error) {
	startDate, err := time.Parse(time.RFC3339, config.StartDate)
	if err != nil {
		return replicate.Config{}, fmt.Errorf("invalid start date %q: %w", config.StartDate, err)
	}
	if config.WindowSize < 1 {
		return replicate.Config{}, fmt.Errorf("window size must be at least 1 second, got %d", config.WindowSize)
	}

	var streams []string
	for _, name := range strings.Split(config.Streams, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := replicate.Lookup(name); !ok {
			return replicate.Config{}, fmt.Errorf("unknown stream %q", name)
		}
		streams = append(streams, name)
	}

	return replicate.Config{
		StartDate:     startDate,
		WindowSeconds: config.WindowSize,
		Streams:       streams,
	}, nil
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("helpdesk_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output. Records
// go to stdout, logs go to stderr so the emitted stream stays parseable.
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("helpdesk_sync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	runConfig, err := RunConfig(config)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	client, err := api.NewClient(config.APIURL, config.APIToken)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid API configuration")
	}

	// Connect to the bookmark store with retry logic
	store, err := state.Open(ctx, config.StateDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to bookmark store after retries")
	}
	defer store.Close()

	stateManager, err := replicate.NewStateManager(ctx, store, runConfig.StartDate)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load sync state")
	}

	sink := emit.NewJSONLines(os.Stdout)
	engine := replicate.NewEngine(client, stateManager, sink, runConfig)
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Replication run failed")
	}

	logrus.Info("Graceful shutdown completed")
}
