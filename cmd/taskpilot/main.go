// Taskpilot is a task management backend with a conversational AI
// assistant.
//
// It exposes a JSON HTTP API for signup/signin, task CRUD, and a chat
// endpoint that drives tasks through a remote assistant. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	taskpilot serve                      Start the API server
//	taskpilot create-assistant [model]   Provision the remote assistant
//	taskpilot version                    Print version and build information
//	taskpilot -o json version            Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/api"
	"github.com/taskpilot/taskpilot/internal/assistant"
	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/buildinfo"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/conversation"
	"github.com/taskpilot/taskpilot/internal/events"
	"github.com/taskpilot/taskpilot/internal/task"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/internal/user"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
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

// run is the real entry point for the taskpilot command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface is small enough that manual parsing is clearer
// than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
	case "create-assistant":
		model := "gpt-4o"
		if len(cmdArgs) > 0 {
			model = cmdArgs[0]
		}
		return runCreateAssistant(ctx, stdout, configPath, model)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe is the primary operating mode: loads config, opens the
// database, wires the stores, tool registry, orchestrator, and event
// publisher into the API server, and blocks until a shutdown signal
// arrives or the listener fails.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting taskpilot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if cfg.Assistant.APIKey == "" {
		return fmt.Errorf("invalid config %s: assistant.api_key is required", cfgPath)
	}
	if cfg.Assistant.AssistantID == "" {
		return fmt.Errorf("invalid config %s: assistant.assistant_id is required (run taskpilot create-assistant)", cfgPath)
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "database", cfg.Database.Path)

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := user.NewStore(db)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	tasks, err := task.NewStore(db)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	conversations, err := conversation.NewStore(db)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Task events are optional; without a broker the publisher stays
	// nil and every emit site skips it.
	var pub events.Publisher
	var mqttPub *events.MQTTPublisher
	if cfg.Events.Broker != "" {
		mqttPub = events.NewMQTT(cfg.Events, logger)
		if err := mqttPub.Start(ctx); err != nil {
			return fmt.Errorf("start event publisher: %w", err)
		}
		pub = mqttPub
		logger.Info("task events enabled", "broker", cfg.Events.Broker, "topic", mqttPub.Topic())
	} else {
		logger.Info("task events disabled (not configured)")
	}

	registry := tools.NewRegistry(tasks, pub, logger)
	client := assistant.NewHTTPClient(cfg.Assistant.APIKey, cfg.Assistant.AssistantID, cfg.Assistant.BaseURL, logger)
	processor := agent.NewProcessor(client, registry, cfg.Assistant.PollInterval(), cfg.Assistant.MaxIterations, logger)
	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL())

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, users, tasks, conversations, verifier, processor, pub, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if mqttPub != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := mqttPub.Stop(stopCtx); err != nil {
				logger.Error("event publisher shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("taskpilot stopped")
	return nil
}

// runCreateAssistant provisions the remote assistant with the system
// prompt and the registry's tool definitions, printing the id to put
// in the assistant.assistant_id config field.
func runCreateAssistant(ctx context.Context, stdout io.Writer, configPath, model string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Assistant.APIKey == "" {
		return fmt.Errorf("invalid config %s: assistant.api_key is required", cfgPath)
	}

	registry := tools.NewRegistry(nil, nil, logger)
	client := assistant.NewHTTPClient(cfg.Assistant.APIKey, "", cfg.Assistant.BaseURL, logger)

	id, err := client.CreateAssistant(ctx, "TaskPilot", model, registry.Definitions())
	if err != nil {
		return fmt.Errorf("create assistant: %w", err)
	}

	fmt.Fprintf(stdout, "Created assistant %s (model %s)\n", id, model)
	fmt.Fprintln(stdout, "Set assistant.assistant_id to this value in your config file.")
	return nil
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "TaskPilot - Task management with a conversational assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskpilot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                      Start the API server")
	fmt.Fprintln(w, "  create-assistant [model]   Provision the remote assistant (default model: gpt-4o)")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./taskpilot.yaml, ~/.config/taskpilot/taskpilot.yaml, /etc/taskpilot/taskpilot.yaml")
	return nil
}

// newLogger creates a structured text logger writing to w. All log
// output goes through slog; the ReplaceAttr hook renders the custom
// trace level by name.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty that exact path is used; otherwise
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// openDatabase opens the shared SQLite database with WAL journaling
// and a busy timeout so concurrent handlers do not trip over locks.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}
