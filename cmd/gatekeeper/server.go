package main

import (
	"context"
	"errors"
	"fmt"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/gatekeeper/internal/api"
	"github.com/kalambet/gatekeeper/internal/bot"
	"github.com/kalambet/gatekeeper/internal/config"
	"github.com/kalambet/gatekeeper/internal/drive"
	"github.com/kalambet/gatekeeper/internal/export"
	"github.com/kalambet/gatekeeper/internal/insights"
	"github.com/kalambet/gatekeeper/internal/invite"
	"github.com/kalambet/gatekeeper/internal/jobs"
	"github.com/kalambet/gatekeeper/internal/membership"
	"github.com/kalambet/gatekeeper/internal/pipeline"
	"github.com/kalambet/gatekeeper/internal/storage"
	"github.com/kalambet/gatekeeper/internal/transcribe"
	"github.com/kalambet/gatekeeper/internal/transport"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gatekeeper server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gatekeeper server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gatekeeper system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "gatekeeper.pid")
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

// groupNotifier delivers pipeline and export notices to the reviewer group.
type groupNotifier struct {
	tg     *transport.Client
	chatID int64
}

func (n *groupNotifier) Notify(ctx context.Context, text string) error {
	_, err := n.tg.SendMessage(ctx, n.chatID, text)
	return err
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "gatekeeper version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("gatekeeper is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("gatekeeper is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage and finalize any job interrupted by the previous run.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	tracker := jobs.NewTracker(store)
	if err := tracker.RecoverOnStartup(); err != nil {
		return fmt.Errorf("recovering job state: %w", err)
	}

	// Outbound surfaces: chat transport, invite links, Drive uploads.
	tg := transport.New(cfg.Telegram.BaseURL, cfg.Telegram.BotToken)
	notifier := &groupNotifier{tg: tg, chatID: cfg.Telegram.AdminGroupID}
	granter := invite.NewGranter(tg, store, cfg.Telegram.TargetGroupID)
	driveClient := drive.New(cfg.Drive.BaseURL, cfg.Drive.AccessToken)

	exporter := export.NewExporter(store, cfg.Survey.Questions)
	archiver := export.NewArchiver(exporter, driveClient, notifier, cfg.Storage.DataDir, cfg.Drive.MainFolderID)

	members := membership.NewService(store, tg, granter, archiver,
		cfg.Survey.Questions, cfg.Telegram.AdminGroupID, cfg.Telegram.TargetGroupID)

	// Transcription pipeline.
	decoder := transcribe.NewFFmpegDecoder(cfg.Transcribe.SampleRate)
	whisper := transcribe.NewWhisperClient(cfg.Transcribe.WhisperURL, cfg.Transcribe.SampleRate)
	transcriber := transcribe.New(whisper, decoder, transcribe.Config{
		ChunkSeconds:   cfg.Transcribe.ChunkSeconds,
		OverlapSeconds: cfg.Transcribe.OverlapSeconds,
		SampleRate:     cfg.Transcribe.SampleRate,
		Language:       cfg.Transcribe.Language,
	})

	gemini := insights.NewGeminiClient(cfg.Summarizer.BaseURL, cfg.Summarizer.APIKey)
	extractor := insights.NewExtractor(gemini, insights.Config{
		Model:      cfg.Summarizer.Model,
		ChunkChars: cfg.Summarizer.ChunkChars,
		CallDelay:  cfg.Summarizer.CallDelay,
	})

	orch := pipeline.New(tracker, transcriber, extractor, driveClient, notifier, pipeline.Config{
		TranscriptionsDir:   filepath.Join(cfg.Storage.DataDir, cfg.Storage.TranscriptionsDir),
		InsightsDir:         filepath.Join(cfg.Storage.DataDir, cfg.Storage.InsightsDir),
		TranscriptsFolderID: cfg.Drive.TranscriptsFolderID,
		InsightsFolderID:    cfg.Drive.InsightsFolderID,
	})

	var fallback transport.FallbackDownloader
	if cfg.Telegram.LocalAPIURL != "" {
		fallback = transport.NewLocalServerDownloader(cfg.Telegram.LocalAPIURL, cfg.Telegram.BotToken)
	} else {
		slog.Warn("GATEKEEPER_LOCAL_BOT_API_URL not set, files over the Bot API limit cannot be downloaded")
	}

	dispatcher := bot.New(tg, fallback, members, tracker, orch, exporter, store, bot.Config{
		AdminGroupID:      cfg.Telegram.AdminGroupID,
		TargetGroupID:     cfg.Telegram.TargetGroupID,
		AudioDir:          filepath.Join(cfg.Storage.DataDir, cfg.Storage.AudioDir),
		MaxAudioFileBytes: cfg.Telegram.MaxAudioFileBytes,
		BotAPIFileLimit:   cfg.Telegram.BotAPIFileLimit,
	})

	// Admin HTTP API.
	if cfg.Server.APIToken == "" {
		slog.Warn("GATEKEEPER_API_TOKEN not set, admin API disabled; only /health is served")
	}
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Tracker:  tracker,
		Exporter: exporter,
		Archiver: archiver,
		Runner:   orch,
		Token:    cfg.Server.APIToken,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server on stdio, serving agent tooling alongside the bot.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Tracker:  tracker,
		Archiver: archiver,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("bot dispatcher started")
		if err := dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bot dispatcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("admin API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
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
		printError("gatekeeper is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop gatekeeper (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to gatekeeper (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	whisperResp, err := client.Get(cfg.Transcribe.WhisperURL + "/health")
	if err != nil {
		printStatus("Whisper", "not running")
	} else {
		whisperResp.Body.Close()
		printStatus("Whisper", "running at %s", cfg.Transcribe.WhisperURL)
	}
	printStatus("Summarizer model", "%s", cfg.Summarizer.Model)

	if running && cfg.Server.APIToken != "" {
		if apic, err := newAPIClient(); err == nil {
			var jr struct {
				Phase string `json:"phase"`
			}
			if resp, err := apic.get(context.Background(), "/jobs/active"); err == nil {
				if decodeJSON(resp, &jr) == nil {
					printStatus("Transcription", "%s", jr.Phase)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
