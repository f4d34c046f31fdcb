// Package main is the dressapi CLI entry point.
package main

import (
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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nomdn/dress-api/internal/cli"
	"github.com/nomdn/dress-api/internal/config"
	"github.com/nomdn/dress-api/internal/escape"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/server"
	"github.com/nomdn/dress-api/internal/storage"
	"github.com/nomdn/dress-api/internal/syncer"
	"github.com/nomdn/dress-api/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/etc/dress-api/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists.
// Returns the config and the path that was actually loaded.
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
	case "build":
		runBuild()
	case "sync":
		runSync()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "builds":
		runBuilds()
	case "escape":
		runEscape()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("dressapi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the storage and lifecycle service shared by commands.
type Components struct {
	Store   *storage.FileStore
	Ledger  *storage.SQLiteLedger
	Service *syncer.Service
}

// Close stops background work and closes the ledger.
func (c *Components) Close() {
	if c.Service != nil {
		c.Service.Close()
	}
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewFileStore(cfg.Storage.IndexDir, storage.WithStoreLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index store: %w", err)
	}
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize build ledger: %w", err)
	}
	svc := syncer.New(cfg, store, ledger, syncer.WithLogger(logger))
	return &Components{Store: store, Ledger: ledger, Service: svc}, nil
}

// mustSetup loads config and builds the logger, exiting on failure.
func mustSetup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode, zap.String("version", version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("mode", cfg.Source.Mode),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger
}

func mustFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := components.Service.Bootstrap(ctx); err != nil {
		logger.Fatal("Failed to prepare index", zap.Error(err))
	}
	go func() {
		if err := components.Service.Run(ctx); err != nil {
			logger.Error("resync loop stopped", zap.Error(err))
		}
	}()

	srv := server.NewServer(components.Service, components.Store, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()
	fmt.Fprint(os.Stderr, cli.Banner(os.Stderr, version, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	pull := fs.Bool("pull", false, "pull the tracked repository before building (local mode)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	cfg, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pull {
		if err := components.Service.Pull(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Pull failed, building from the current checkout: %v\n", err)
		}
	}
	b, err := components.Service.Build(ctx, syncer.TriggerCLI)
	if b != nil {
		_ = cli.WriteBuild(os.Stdout, b, format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (used for the API key when --api-key is empty)")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	apiKey := fs.String("api-key", "", "sync API key (default: server.api_key from config, or ARK_API_KEY)")
	rebuild := fs.Bool("rebuild", true, "rebuild the index after pulling")
	_ = fs.Parse(os.Args[2:])

	key := *apiKey
	if key == "" {
		key = os.Getenv("ARK_API_KEY")
	}
	if key == "" {
		if cfg, _, err := loadConfig(*configPath); err == nil {
			key = cfg.Server.APIKey
		}
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "No API key: pass --api-key, set ARK_API_KEY, or configure server.api_key")
		os.Exit(1)
	}
	if err := syncViaHTTP(http.DefaultClient, *serverURL, key, *rebuild); err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sync accepted (rebuild_index=%t)\n", *rebuild)
}

func syncViaHTTP(client *http.Client, serverURL, apiKey string, rebuild bool) error {
	target := strings.TrimRight(serverURL, "/") + "/dresses/v1/sync?rebuild_index=" + strconv.FormatBool(rebuild)
	req, err := http.NewRequest(http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", apiKey)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return serverError(resp)
	}
	return nil
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: dressapi search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. It matches contributor names and path words.\n\n")
	fs.PrintDefaults()
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves flags that appear after the query to the front so that
// flag.Parse sees them; flag stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	limit := fs.Int("limit", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))
	format := mustFormat(*outputFormat)

	query := models.SearchQuery{Query: buildSearchQuery(fs.Args()), Limit: *limit}
	if err := query.Validate(); err != nil {
		printSearchUsage(fs)
		os.Exit(1)
	}
	response, err := searchViaHTTP(http.DefaultClient, *serverURL, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(client *http.Client, serverURL string, query models.SearchQuery) (*models.SearchResponse, error) {
	params := url.Values{}
	params.Set("q", query.Query)
	params.Set("limit", strconv.Itoa(query.Limit))
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/dress/v1/search?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	var st *syncer.Status
	if *serverURL != "" {
		var err error
		st, err = statusViaHTTP(http.DefaultClient, *serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			fmt.Fprintln(os.Stderr, "Is the server running? Use --server \"\" to read storage directly.")
			os.Exit(1)
		}
	} else {
		cfg, logger := mustSetup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		if _, err := components.Service.LoadPersisted(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load index: %v\n", err)
		}
		st, err = components.Service.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(client *http.Client, serverURL string) (*syncer.Status, error) {
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}
	var st syncer.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

func runBuilds() {
	fs := flag.NewFlagSet("builds", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 20, "number of builds to show")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	cfg, logger := mustSetup(*configPath, false)
	defer logger.Sync()
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open build ledger: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()
	builds, err := ledger.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List builds failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteBuilds(os.Stdout, builds, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runEscape() {
	fs := flag.NewFlagSet("escape", flag.ExitOnError)
	kind := fs.String("kind", "", "document kind: master or author (default: from file name)")
	out := fs.String("out", "", "output path (default: rewrite the input in place)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: dressapi escape [flags] <index.json>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	in := fs.Arg(0)
	dest := *out
	if dest == "" {
		dest = in
	}
	if err := escapeFile(in, dest, *kind); err != nil {
		fmt.Fprintf(os.Stderr, "Escape failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Escaped %s -> %s\n", in, dest)
}

// kindForFile maps the published file names to document kinds.
func kindForFile(path string) (string, error) {
	switch filepath.Base(path) {
	case storage.MasterFile:
		return escape.KindMaster, nil
	case storage.AuthorFile:
		return escape.KindAuthor, nil
	}
	return "", fmt.Errorf("cannot infer kind from %q; pass --kind master or --kind author", filepath.Base(path))
}

func escapeFile(in, out, kind string) error {
	if kind == "" {
		var err error
		if kind, err = kindForFile(in); err != nil {
			return err
		}
	}
	if kind != escape.KindMaster && kind != escape.KindAuthor {
		return fmt.Errorf("%w: %q", escape.ErrUnknownKind, kind)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", escape.ErrMalformedInput, err)
	}
	escaped, err := escape.EscapeDocument(kind, doc)
	if err != nil {
		return err
	}
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(escaped); err != nil {
		return err
	}
	return storage.WriteFileAtomic(out, []byte(buf.String()), 0644)
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*path, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s; set server.api_key (or ARK_API_KEY) before starting the server\n", *path)
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return config.Save(path, cfg)
}

func serverError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, utils.Truncate(strings.TrimSpace(string(b)), 200))
}

func printUsage() {
	fmt.Println(`dressapi - random dress images with commit-history attribution

Usage:
  dressapi server [flags]            Start the HTTP server
  dressapi build [flags]             Build and publish the index pair once
  dressapi sync [flags]              Ask a running server to pull and rebuild
  dressapi search [flags] <query>    Search paths and contributor names
  dressapi status [flags]            Show index, build and disk status
  dressapi builds [flags]            List recent builds from the ledger
  dressapi escape [flags] <file>     Escape '#' in an existing index document
  dressapi init [flags]              Write a default config file
  dressapi version                   Show version
  dressapi help                      Show this help

Common Flags:
  --config string    Config file path (default: /etc/dress-api/config.yaml, or ./config.yaml if present)
  --debug            Enable debug logging (server, build)
  --output string    Output format: text or json (build, search, status, builds)
  --server string    Server URL (default: http://localhost:8080)

Examples:
  dressapi init
  ARK_API_KEY=secret dressapi server
  dressapi build --pull
  dressapi sync --rebuild=false
  dressapi search --limit 5 CuteDress
  dressapi status --server ""
  dressapi escape --out public/index_0.json legacy/index_0.json`)
}
