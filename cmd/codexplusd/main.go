// Package main is the CLI entry point for codexplusd — a local reverse
// proxy that sits between a coding-assistant CLI and the upstream LLM
// provider, injecting hooks, slash commands, dialect translation, and
// SSE colourisation into the request path with zero changes to the
// upstream agent.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jleechan/codexplusd/internal/config"
	"github.com/jleechan/codexplusd/internal/dashboard"
	"github.com/jleechan/codexplusd/internal/dialect"
	"github.com/jleechan/codexplusd/internal/hooks"
	"github.com/jleechan/codexplusd/internal/httpsurface"
	"github.com/jleechan/codexplusd/internal/metrics"
	"github.com/jleechan/codexplusd/internal/pipeline"
	"github.com/jleechan/codexplusd/internal/portguard"
	"github.com/jleechan/codexplusd/internal/reqlog"
	"github.com/jleechan/codexplusd/internal/slashcmd"
	"github.com/jleechan/codexplusd/internal/transport"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codexplus"
	}
	return filepath.Join(home, ".codexplus")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configDir string
var daemonMode bool

var rootCmd = &cobra.Command{
	Use:     "codexplusd",
	Short:   "codexplusd — local reverse proxy for coding-assistant LLM traffic",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "configuration/state directory")
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, hooksCmd, auditCmd, configCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy server",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "run in background")
}

func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("CODEXPLUS_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	hookRegistry, err := hooks.NewRegistry(cfg.Hooks.Directories)
	if err != nil {
		return fmt.Errorf("failed to load hooks: %w", err)
	}
	hookRunner := hooks.NewRunner(hookRegistry, nil, time.Duration(cfg.Hooks.SubprocessTimeoutMs)*time.Millisecond)

	slashResolver := slashcmd.NewResolver(cfg.SlashCmd.Directories)

	metricSink := metrics.New(metrics.Thresholds{
		CoordinationWarningMs:  cfg.Performance.Thresholds.CoordinationOverheadWarningMs,
		CoordinationCriticalMs: cfg.Performance.Thresholds.CoordinationOverheadCriticalMs,
		CoordinationMaxMs:      cfg.Performance.Thresholds.CoordinationOverheadCriticalMs,
		MinSuccessRate:         cfg.Performance.Baseline.MinSuccessRate,
	})

	var logger *reqlog.Logger
	if cfg.Logging.Root != "" {
		logger, err = reqlog.New(reqlog.Options{
			Root:      filepath.Join(cfg.Logging.Root, cfg.Logging.Product),
			IndexPath: filepath.Join(configDir, "reqlog.db"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize request logger: %w", err)
		}
		defer logger.Close()
	}

	baseURL := transport.ResolveBaseURL(cfg.Upstream.BaseURLFile, "CODEX_PLUS_UPSTREAM_URL", cfg.Upstream.DefaultURL)
	if err := transport.ValidateBaseURL(baseURL); err != nil {
		return fmt.Errorf("invalid upstream configuration: %w", err)
	}
	tr := transport.New(transport.Options{AllowedHosts: cfg.Upstream.AllowedHosts, MaxRetries: 1})

	var dash *dashboard.Dashboard
	if cfg.Dashboard.Enabled {
		var idx dashboard.Index
		if logger != nil {
			if li := logger.Index(); li != nil {
				idx = li
			}
		}
		dash = dashboard.New(dashboard.Options{Index: idx, Metrics: metricSink})
	}

	pipe := pipeline.New(pipeline.Options{
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		Hooks:            hookRunner,
		SlashCmd:         slashResolver,
		TransformEnabled: cfg.Upstream.Dialect == "chat-completions",
		TransformOpts: dialect.Options{
			DefaultTemperature: cfg.Streaming.DefaultTemperature,
			DefaultMaxTokens:   cfg.Streaming.DefaultMaxTokens,
		},
		Transport:       tr,
		UpstreamBaseURL: baseURL,
		Metrics:         metricSink,
		ReqLog:          logger,
		BranchDir:       ".",
		Dashboard:       dash,
	})

	mux := http.NewServeMux()
	mux.Handle("/", httpsurface.New(pipe))
	if dash != nil {
		mux.Handle("/dashboard", dash)
		mux.Handle("/dashboard/", dash)
		mux.Handle("/dashboard/ws", dash.WebSocketHandler())
		mux.Handle("/api/", dash.APIHandler())
	}

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pidFile := filepath.Join(configDir, "codexplusd.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := config.NewWatcher(cfg.Hooks.Directories, cfg.SlashCmd.Directories, config.WatchTargets{
		OnHooksChange: func() {
			if err := hookRegistry.Reload(); err != nil {
				fmt.Fprintf(os.Stderr, "[codexplusd] warning: hook reload failed: %v\n", err)
			} else {
				fmt.Println("[codexplusd] hooks reloaded")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[codexplusd] listening on http://%s\n", addr)
		if !daemonMode {
			fmt.Println("[codexplusd] press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[codexplusd] shutting down (signal received)")
	case <-shutdownCh:
		fmt.Println("[codexplusd] shutting down (stop command received)")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[codexplusd] shutdown error: %v\n", err)
	}

	fmt.Println("[codexplusd] stopped")
	return nil
}

func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "codexplusd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "CODEXPLUS_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[codexplusd] started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[codexplusd] log file: %s\n", logPath)

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[codexplusd] warning: failed to release child process: %v\n", err)
	}
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running proxy",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[codexplusd] stop signal sent")
			os.Remove(filepath.Join(configDir, "codexplusd.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "codexplusd.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}
	os.Remove(pidFile)
	fmt.Printf("[codexplusd] sent stop signal (PID %d)\n", pid)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy and port-ownership status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result := portguard.CheckOwnership(context.Background(), cfg.Server.Port, portguard.Options{
		ExpectedMarkers: portguard.DefaultExpectedMarkers,
	})

	fmt.Printf("port %d: %s\n", cfg.Server.Port, result.State)
	for _, p := range result.Processes {
		fmt.Printf("  pid=%d command=%s\n", p.PID, p.Command)
	}
	return nil
}

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect the hook registry",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return err
		}
		reg, err := hooks.NewRegistry(cfg.Hooks.Directories)
		if err != nil {
			return err
		}
		for _, d := range reg.All() {
			fmt.Printf("%-24s %-20s priority=%d enabled=%v %s\n", d.Name, d.EventType, d.Priority, d.Enabled, d.SourcePath)
		}
		return nil
	},
}

func init() {
	hooksCmd.AddCommand(hooksListCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the request/response log index",
}

var (
	auditTailBranch string
	auditTailLimit  int
)

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent logged requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := reqlog.New(reqlog.Options{IndexPath: filepath.Join(configDir, "reqlog.db")})
		if err != nil {
			return err
		}
		defer logger.Close()

		records, err := logger.Index().Query(reqlog.QueryParams{Branch: auditTailBranch, Limit: auditTailLimit})
		if err != nil {
			return fmt.Errorf("querying request log: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("(no logged requests)")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%-4d %-28s %-12s %-6s %-40s %7.1fms\n", r.ID, r.Timestamp, r.Branch, r.Method, r.Path, r.LatencyMs)
		}
		return nil
	},
}

func init() {
	auditTailCmd.Flags().StringVar(&auditTailBranch, "branch", "", "filter by Git branch")
	auditTailCmd.Flags().IntVar(&auditTailLimit, "limit", 50, "maximum rows to show")
	auditCmd.AddCommand(auditTailCmd)
}

var (
	auditQueryBranch string
	auditQuerySince  string
	auditQueryLimit  int
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query logged requests with filters",
	Long: `Query the request/response log index with filters.

Example:
  codexplusd audit query --branch main --since 2026-07-30T00:00:00Z --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := reqlog.New(reqlog.Options{IndexPath: filepath.Join(configDir, "reqlog.db")})
		if err != nil {
			return err
		}
		defer logger.Close()

		records, err := logger.Index().Query(reqlog.QueryParams{
			Branch: auditQueryBranch,
			Since:  auditQuerySince,
			Limit:  auditQueryLimit,
		})
		if err != nil {
			return fmt.Errorf("audit query failed: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("no matching requests found.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%-4d %-28s %-12s %-6s %-40s %7.1fms\n", r.ID, r.Timestamp, r.Branch, r.Method, r.Path, r.LatencyMs)
		}
		fmt.Printf("\n%d entries found.\n", len(records))
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditQueryBranch, "branch", "", "filter by Git branch")
	auditQueryCmd.Flags().StringVar(&auditQuerySince, "since", "", "filter to entries at/after this RFC3339 timestamp")
	auditQueryCmd.Flags().IntVar(&auditQueryLimit, "limit", 50, "maximum rows to return")
	auditCmd.AddCommand(auditQueryCmd)
}

var auditExportFormat string

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export logged requests to stdout",
	Long: `Export the request/response log index to stdout. Supported formats:
csv, json.

Example:
  codexplusd audit export --format csv > requests.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := reqlog.New(reqlog.Options{IndexPath: filepath.Join(configDir, "reqlog.db")})
		if err != nil {
			return err
		}
		defer logger.Close()

		records, err := logger.Index().Query(reqlog.QueryParams{})
		if err != nil {
			return fmt.Errorf("audit export failed: %w", err)
		}
		return exportRecords(os.Stdout, auditExportFormat, records)
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "jsonl", "export format: csv, json, jsonl")
	auditCmd.AddCommand(auditExportCmd)
}

func exportRecords(w io.Writer, format string, records []reqlog.Record) error {
	switch format {
	case "csv":
		cw := csv.NewWriter(w)
		cw.Write([]string{"id", "timestamp", "branch", "path", "method", "latency_ms", "redacted"})
		for _, r := range records {
			cw.Write([]string{
				strconv.FormatInt(r.ID, 10), r.Timestamp, r.Branch, r.Path, r.Method,
				strconv.FormatFloat(r.LatencyMs, 'f', 1, 64), strconv.FormatBool(r.Redacted),
			})
		}
		cw.Flush()
		return cw.Error()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "jsonl":
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format %q (want csv, json, or jsonl)", format)
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or initialize configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(configDir, "config.yaml")
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("wrote default config to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
