// Saathi is a conversational loan-assistant service.
//
// It exposes JSON, streamed, and websocket chat endpoints backed by a
// fallback chain of Gemini models, with per-session history, automatic
// summarization, and a guided loan-application flow. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	saathi serve             Start the API server
//	saathi ask <question>    Ask a single question (for testing)
//	saathi version           Print version and build information
//	saathi -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/saathi-labs/saathi/internal/api"
	"github.com/saathi-labs/saathi/internal/archive"
	"github.com/saathi-labs/saathi/internal/buildinfo"
	"github.com/saathi-labs/saathi/internal/compactor"
	"github.com/saathi-labs/saathi/internal/config"
	"github.com/saathi-labs/saathi/internal/customer"
	"github.com/saathi-labs/saathi/internal/gateway"
	"github.com/saathi-labs/saathi/internal/llm"
	"github.com/saathi-labs/saathi/internal/onboarding"
	"github.com/saathi-labs/saathi/internal/orchestrator"
	"github.com/saathi-labs/saathi/internal/session"
	"github.com/saathi-labs/saathi/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the saathi command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand — the flag package relies
// on package-level globals, which makes run() impossible to call
// concurrently from tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: saathi ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Saathi - Conversational Loan Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: saathi [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/saathi/config.yaml, /etc/saathi/config.yaml")
	return nil
}

// runAsk handles the "saathi ask <question>" subcommand. It boots a
// minimal pipeline (no archive, no server) and processes one turn with
// a default customer, printing the reply to stdout. Useful for smoke
// tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	orch := buildOrchestrator(cfg, nil, logger)
	result := orch.ProcessTurn(ctx, "cli-test", question, customer.Context{}.WithDefaults(""))

	fmt.Fprintln(stdout, result.Message)
	return nil
}

// runServe handles the "saathi serve" subcommand: full pipeline, sweep
// janitor, optional archive, and the HTTP server with graceful
// shutdown on SIGINT/SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	if err := config.LoadDotenv(); err != nil {
		return fmt.Errorf("dotenv: %w", err)
	}

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, "text")
	slog.SetDefault(logger)

	logger.Info(buildinfo.String())
	logger.Info("config loaded", "path", cfgPath)
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set; chat turns will fail gracefully")
	}

	var arch *archive.Store
	if cfg.ArchivePath != "" {
		arch, err = archive.Open(cfg.ArchivePath, logger)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer arch.Close()
	}

	orch := buildOrchestrator(cfg, arch, logger)

	sessions := orch.Sessions()
	sessions.Start()
	defer sessions.Stop()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, orch, arch, cfg.Stream.Pace(), logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Saathi stopped")
	return nil
}

// buildOrchestrator assembles the turn pipeline from configuration.
// arch may be nil to disable archiving.
func buildOrchestrator(cfg *config.Config, arch *archive.Store, logger *slog.Logger) *orchestrator.Orchestrator {
	backend := llm.NewGeminiClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Timeout(), logger)

	gw := gateway.New(backend, gateway.Config{
		Models:         cfg.Gemini.Models,
		Threshold:      cfg.Breaker.Threshold,
		Cooldown:       cfg.Breaker.Cooldown(),
		AttemptTimeout: cfg.Gemini.Timeout(),
	}, logger)

	comp := compactor.New(gw, compactor.Config{
		SummarizeAfter: cfg.Conversation.SummarizeAfter,
		KeepRecent:     cfg.Conversation.KeepRecent,
		MaxHistory:     cfg.Conversation.MaxHistory,
	}, logger)

	sessions := session.NewStore(cfg.Conversation.SessionTTL(), logger)

	return orchestrator.New(sessions, gw, comp, tools.NewRegistry(logger),
		onboarding.NewEngine(), arch, orchestrator.Config{
			APIKey:          cfg.Gemini.APIKey,
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
			EchoExtraction:  cfg.Conversation.EchoExtraction,
		}, logger)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Otherwise [config.FindConfig] searches the default locations; when
// nothing is found the built-in defaults apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
