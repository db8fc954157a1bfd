// Package main is the Bunko CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/chunker"
	"github.com/hyperjump/bunko/internal/config"
	"github.com/hyperjump/bunko/internal/embedding"
	"github.com/hyperjump/bunko/internal/extract"
	"github.com/hyperjump/bunko/internal/index"
	"github.com/hyperjump/bunko/internal/ingest"
	"github.com/hyperjump/bunko/internal/models"
	"github.com/hyperjump/bunko/internal/search"
	"github.com/hyperjump/bunko/internal/server"
	"github.com/hyperjump/bunko/internal/storage"
	"github.com/hyperjump/bunko/internal/watcher"
	"github.com/hyperjump/bunko/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/bunko/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "bunko server" from the project dir uses the project's config.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "add":
		runAdd()
	case "delete":
		runDelete()
	case "reindex":
		runReindex()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("bunko version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components.Manager.Start(ctx)
	if err := components.Manager.EnsureReady(ctx); err != nil {
		logger.Warn("vector index initialization failed; continuing", zap.Error(err))
	}

	svc := components.Ingest
	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		func(path string) {
			if _, err := svc.IngestPath(context.Background(), path); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if err := svc.DeleteByPath(context.Background(), path); err != nil {
				logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
			}
		},
		watchOpts...,
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Router,
		components.Ingest,
		components.Storage,
		components.Manager,
		watchSvc,
		cfg,
		resolvedConfigPath,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	topK := fs.Int("limit", 0, "number of results (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: bunko ask [flags] <question>")
		os.Exit(1)
	}
	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		fmt.Println("Usage: bunko ask [flags] <question>")
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]interface{}{"message": message, "top_k": *topK})
	resp, err := http.Post(*serverURL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(response)
	case "text":
		fmt.Printf("mode: %s\n\n", response.Mode)
		if len(response.Results) == 0 {
			fmt.Println("no results")
			return
		}
		for i, r := range response.Results {
			if r.Score != nil {
				fmt.Printf("%d. %s (score %.3f)\n", i+1, r.Title, *r.Score)
			} else {
				fmt.Printf("%d. %s\n", i+1, r.Title)
			}
			fmt.Printf("   %s\n\n", r.Snippet)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	title := fs.String("title", "", "document title (for --text; files use the filename)")
	text := fs.String("text", "", "raw text to ingest instead of a file")
	_ = fs.Parse(os.Args[2:])

	if *text == "" && fs.NArg() < 1 {
		fmt.Println("Usage: bunko add [flags] <file>  |  bunko add --title T --text \"...\"")
		os.Exit(1)
	}

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	ctx := context.Background()
	components.Manager.Start(ctx)

	var res *models.IngestResult
	var err error
	if *text != "" {
		res, err = components.Ingest.CreateFromText(ctx, *title, *text)
	} else {
		path := fs.Arg(0)
		var content []byte
		content, err = os.ReadFile(path)
		if err == nil {
			res, err = components.Ingest.CreateFromFile(ctx, filepath.Base(path), content)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	components.Manager.Wait()
	if res.Note != "" {
		fmt.Printf("Document added: %s (%d chunks, %s)\n", res.DocumentID, res.Chunks, res.Note)
	} else {
		fmt.Printf("Document added: %s (%d chunks)\n", res.DocumentID, res.Chunks)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: bunko delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	ctx := context.Background()
	components.Manager.Start(ctx)
	if err := components.Ingest.Delete(ctx, docID); err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	components.Manager.Wait()
	fmt.Printf("Document deleted: %s\n", docID)
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	ctx := context.Background()
	components.Manager.Start(ctx)
	components.Ingest.Reindex()
	components.Manager.Wait()
	fmt.Printf("Reindex complete: %d vectors (%s)\n",
		components.Manager.Size(), components.Manager.State())
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: bunko watch <add|remove|list> [path]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	token := fs.String("token", os.Getenv("BUNKO_ADMIN_TOKEN"), "admin token")
	_ = fs.Parse(os.Args[3:])

	client := &http.Client{Timeout: 30 * time.Second}
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: bunko watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		req, _ := http.NewRequest(http.MethodPost, *serverURL+"/api/watch/dirs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Admin-Token", *token)
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Add failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: bunko watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/watch/dirs?path="+url.QueryEscape(path), nil)
		req.Header.Set("X-Admin-Token", *token)
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Remove failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := client.Get(*serverURL + "/api/watch/dirs")
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("List failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Printf("Parse failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/status.
type statusResponse struct {
	Documents       int64                  `json:"documents"`
	Chunks          int64                  `json:"chunks"`
	IndexState      string                 `json:"index_state"`
	VectorIndexSize int                    `json:"vector_index_size"`
	DiskUsageBytes  *int64                 `json:"disk_usage_bytes,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("documents:          %d\n", status.Documents)
		fmt.Printf("chunks:             %d\n", status.Chunks)
		fmt.Printf("index_state:        %s\n", status.IndexState)
		fmt.Printf("vector_index_size:  %d\n", status.VectorIndexSize)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Embedder embedding.Embedder
	Manager  *index.Manager
	Ingest   *ingest.Service
	Router   *search.Router
}

func (c *Components) Close() {
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// An unusable embedding provider is not fatal: the manager runs in the
	// Unavailable state and every query takes the keyword path.
	embedder, err := embedding.New(
		cfg.Embedding.Provider,
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("embedding provider unavailable; keyword-only mode", zap.Error(err))
		embedder = nil
	}

	manager := index.NewManager(
		store,
		embedder,
		cfg.Index.Type,
		cfg.Storage.VectorIndexPath,
		cfg.Embedding.BatchSize,
		logger,
	)

	ch, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}

	svc := ingest.NewService(store, ch, extract.NewExtractor(), manager, logger)
	router := search.NewRouter(store, manager, embedder, cfg.Search.SnippetMaxChars, cfg.Search.QueryTimeout, logger)

	return &Components{
		Storage:  store,
		Embedder: embedder,
		Manager:  manager,
		Ingest:   svc,
		Router:   router,
	}, nil
}

// mustInitialize loads config, builds a logger, and initializes components for
// direct-storage commands. Exits on failure.
func mustInitialize(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, logger
}

func printUsage() {
	fmt.Println(`bunko - personal document retrieval server

Usage:
  bunko server [flags]            Start the HTTP server
  bunko ask [flags] <question>    Query a running server
  bunko add [flags] <file>        Ingest a document directly into storage
  bunko delete [flags] <id>       Delete a document
  bunko reindex [flags]           Rebuild the vector index from storage
  bunko status [flags]            Show server status
  bunko watch <add|remove|list>   Manage watched directories on a running server
  bunko version                   Show version
  bunko help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/bunko/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --server string    Server URL (default: http://localhost:8080)
  --limit int        Number of results (0 = server default)
  --output string    Output format: text or json (default: text)

Add Flags:
  --config string    Config file path
  --title string     Document title (with --text)
  --text string      Ingest raw text instead of a file

Watch Flags:
  --server string    Server URL (default: http://localhost:8080)
  --token string     Admin token (default: $BUNKO_ADMIN_TOKEN)

Examples:
  bunko server
  bunko ask "what did the kickoff notes say about budget?"
  bunko add notes.pdf
  bunko add --title "Meeting notes" --text "decided to ship friday"
  bunko delete 4f1c...
  bunko reindex
  bunko status --output json
  bunko watch add ~/Documents/drop`)
}
