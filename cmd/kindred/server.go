package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/kindred/internal/api"
	"github.com/kalambet/kindred/internal/config"
	"github.com/kalambet/kindred/internal/embedding"
	"github.com/kalambet/kindred/internal/engine"
	"github.com/kalambet/kindred/internal/index"
	"github.com/kalambet/kindred/internal/match"
	"github.com/kalambet/kindred/internal/reembed"
	"github.com/kalambet/kindred/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kindred server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running kindred server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kindred system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "kindred.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// openIndex builds the configured vector index. The returned closer is
// non-nil only for backends that own a connection.
func openIndex(ctx context.Context, cfg config.Config, store *storage.Store) (index.Index, io.Closer, error) {
	switch cfg.Index.Backend {
	case "", "sqlite":
		idx, err := index.NewSQLite(store.DB(), cfg.Index.Table)
		return idx, nil, err
	case "postgres":
		idx, err := index.OpenPostgres(ctx, cfg.Index.PostgresDSN, cfg.Index.Table)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx, nil
	case "memory":
		return index.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func matchConfig(cfg config.Config) (match.Config, error) {
	policy, err := match.ParsePolicy(cfg.Match.DuplicatePolicy)
	if err != nil {
		return match.Config{}, err
	}
	return match.Config{
		Threshold:    float32(cfg.Match.ScoreThreshold),
		Count:        cfg.Match.Count,
		Policy:       policy,
		IndexTimeout: cfg.Index.Timeout,
	}, nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "kindred version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Refuse to start twice against the same data dir.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("kindred is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("kindred is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Provider:      cfg.Engine.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		GeminiAPIKey:  cfg.Gemini.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting embedding engine: %w", err)
	}
	if c, ok := eng.(io.Closer); ok {
		defer c.Close()
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Embed.Model); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	idx, idxCloser, err := openIndex(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("opening %s index: %w", cfg.Index.Backend, err)
	}
	if idxCloser != nil {
		defer idxCloser.Close()
	}

	mcfg, err := matchConfig(cfg)
	if err != nil {
		return err
	}
	embedder := embedding.NewEmbedder(eng, cfg.Embed.Model, cfg.Embed.Timeout)
	svc := match.NewService(embedder, idx, store, mcfg)
	planner := reembed.NewPlanner(store, idx)

	worker := reembed.NewWorker(store, svc, cfg.Reembed.PollInterval)
	go worker.Run(ctx)

	appHandler := api.NewAppHandler(api.AppDeps{
		Matcher:   svc,
		Profiles:  store,
		Reindexer: planner,
		Token:     cfg.Server.Token,
	})
	if cfg.Server.Token == "" {
		slog.Warn("server.token is unset; API routes accept unauthenticated requests")
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Matcher: svc, Profiles: store})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kindred listening",
			"addr", addr,
			"engine", cfg.Engine.Provider,
			"model", cfg.Embed.Model,
			"index", cfg.Index.Backend,
			"threshold", mcfg.Threshold,
			"duplicate_policy", mcfg.Policy,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("kindred is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop kindred (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to kindred (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status   string      `json:"status"`
	Error    string      `json:"error"`
	Index    match.Stats `json:"index"`
	Profiles int         `json:"profiles"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var h healthResponse
		json.NewDecoder(resp.Body).Decode(&h)
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Profiles", "%d", h.Profiles)
			printStatus("Indexed", "%d (dimension %d)", h.Index.Entries, h.Index.Dimension)
		case h.Error != "":
			printStatus("Server", "%s: %s", h.Status, h.Error)
		default:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}

		if resp.StatusCode == http.StatusOK {
			if rr, err := client.get(ctx, "/reindex"); err == nil {
				var counts storage.JobCounts
				if decodeJSON(rr, &counts) == nil && counts.Pending+counts.Running > 0 {
					printStatus("Reindex", "%d pending, %d running, %d failed",
						counts.Pending, counts.Running, counts.Failed)
				}
			}
		}
	}

	printStatus("Engine", "%s", cfg.Engine.Provider)
	printStatus("Embed model", "%s", cfg.Embed.Model)
	printStatus("Index", "%s", cfg.Index.Backend)
	printStatus("Threshold", "%.2f", cfg.Match.ScoreThreshold)
	printStatus("Duplicates", "%s", cfg.Match.DuplicatePolicy)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
