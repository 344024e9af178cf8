// Package main is the Osusume CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/cli"
	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/importer"
	"github.com/hyperjump/osusume/internal/lock"
	"github.com/hyperjump/osusume/internal/mutator"
	"github.com/hyperjump/osusume/internal/server"
	"github.com/hyperjump/osusume/internal/snapshot"
	"github.com/hyperjump/osusume/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/osusume/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "osusume server" from the project dir uses the project's config (including debug).
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
	case "add":
		runMutation("add")
	case "update":
		runMutation("update")
	case "delete":
		runDelete()
	case "similar":
		runSimilar()
	case "import":
		runImport()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("osusume version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// reorderArgs moves any flags (and their values) that appear after positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's
// flag package stops at the first non-flag argument, so "osusume add 42
// --top-k 5" would otherwise leave --top-k unparsed.
func reorderArgs(args []string) []string {
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

// parseBookID parses a positional book-id argument.
func parseBookID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("book id must be a positive integer, got %q", arg)
	}
	return id, nil
}

func parseOutputFormat(raw string) (cli.OutputFormat, error) {
	switch raw {
	case "text":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", raw)
	}
}

func runMutation(op string) {
	args := reorderArgs(os.Args[2:])
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	topK := fs.Int("top-k", 0, "neighbor count override (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Printf("Usage: osusume %s [flags] <book-id>\n", op)
		os.Exit(1)
	}
	bookID, err := parseBookID(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	ctx := context.Background()
	var res *mutator.Result
	switch op {
	case "add":
		res, err = components.Mutator.Add(ctx, bookID, *topK)
	case "update":
		res, err = components.Mutator.Update(ctx, bookID, *topK)
	}
	if err != nil {
		exitMutationError(op, bookID, err)
	}
	if err := cli.WriteMutationResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	args := reorderArgs(os.Args[2:])
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: osusume delete [flags] <book-id>")
		os.Exit(1)
	}
	bookID, err := parseBookID(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	res, err := components.Mutator.Delete(context.Background(), bookID)
	if err != nil {
		exitMutationError("delete", bookID, err)
	}
	if err := cli.WriteMutationResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSimilar() {
	args := reorderArgs(os.Args[2:])
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use direct storage)")
	limit := fs.Int("limit", 0, "number of neighbors (default from config)")
	algo := fs.String("algo", "", "algorithm tag (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: osusume similar [flags] <book-id>")
		os.Exit(1)
	}
	bookID, err := parseBookID(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *serverURL != "" {
		response, err := similarViaHTTP(*serverURL, bookID, *limit, *algo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Similar query failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSimilarBooks(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *limit <= 0 {
		*limit = cfg.Model.TopK
	}
	if *algo == "" {
		*algo = cfg.Model.AlgoType
	}

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	ctx := context.Background()
	if _, err := components.Storage.GetBook(ctx, bookID); err != nil {
		fmt.Fprintf(os.Stderr, "Similar query failed: %v\n", err)
		os.Exit(1)
	}
	similar, err := components.Storage.QuerySimilar(ctx, bookID, *algo, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Similar query failed: %v\n", err)
		os.Exit(1)
	}
	response := &cli.SimilarResponse{BookID: bookID, Algo: *algo, Similar: similar}
	if err := cli.WriteSimilarBooks(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func similarViaHTTP(serverURL string, bookID int64, limit int, algo string) (*cli.SimilarResponse, error) {
	u := fmt.Sprintf("%s/api/v1/books/%d/similar", serverURL, bookID)
	sep := "?"
	if limit > 0 {
		u += fmt.Sprintf("%slimit=%d", sep, limit)
		sep = "&"
	}
	if algo != "" {
		u += sep + "algo=" + algo
	}
	resp, err := http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response cli.SimilarResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: osusume import [flags] <workbook.xlsx>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	components, logger := mustInitialize(*configPath)
	defer components.Close()
	defer logger.Sync()

	imp := importer.New(components.Storage, importer.WithLogger(logger))
	sum, err := imp.ImportFile(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d book(s) from %s (%d skipped)\n", sum.Imported, path, sum.Skipped)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status map[string]interface{}
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		components, logger := mustInitialize(*configPath)
		defer components.Close()
		defer logger.Sync()

		ctx := context.Background()
		bookCount, err := components.Storage.CountBooks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count books failed: %v\n", err)
			os.Exit(1)
		}
		edgeCount, err := components.Storage.CountEdges(ctx, cfg.Model.AlgoType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count edges failed: %v\n", err)
			os.Exit(1)
		}
		status = map[string]interface{}{
			"books": bookCount,
			"edges": edgeCount,
		}
		if snap, err := components.Store.Load(); err == nil {
			status["model_initialized"] = true
			status["model_rows"] = snap.Rows()
			status["vocabulary_size"] = snap.Vectorizer.Dim()
		} else {
			status["model_initialized"] = false
		}
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
		for _, key := range []string{"books", "edges", "model_initialized", "model_rows", "vocabulary_size"} {
			if v, ok := status[key]; ok {
				fmt.Printf("%-19s %v\n", key+":", v)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
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

	srv := server.NewServer(components.Mutator, components.Storage, components.Store, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// exitMutationError prints a mutation failure and exits non-zero. Lock
// timeouts and missing books get their own messages since they are the
// expected operational failures.
func exitMutationError(op string, bookID int64, err error) {
	switch {
	case errors.Is(err, lock.ErrTimeout):
		fmt.Fprintf(os.Stderr, "%s book %d failed: mutation lock busy, retry later\n", op, bookID)
	case errors.Is(err, catalog.ErrBookNotFound):
		fmt.Fprintf(os.Stderr, "%s book %d failed: book not found in catalog\n", op, bookID)
	case errors.Is(err, snapshot.ErrModelNotInitialized):
		fmt.Fprintf(os.Stderr, "%s book %d failed: model not initialized, run a full rebuild first\n", op, bookID)
	default:
		fmt.Fprintf(os.Stderr, "%s book %d failed: %v\n", op, bookID, err)
	}
	os.Exit(1)
}

// Components holds initialized services.
type Components struct {
	Storage *catalog.SQLiteStorage
	Store   *snapshot.Store
	Lock    *lock.Mutex
	Mutator *mutator.Mutator
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	storage, err := catalog.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog storage: %w", err)
	}

	store, err := snapshot.NewStore(cfg.Storage.ModelDir, snapshot.WithLogger(logger))
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	mu, err := lock.New(cfg.Storage.ModelDir, cfg.Model.LockName)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to initialize mutation lock: %w", err)
	}

	mut := mutator.New(
		storage, storage, store, mu,
		cfg.Model.AlgoType,
		cfg.Model.TopK,
		cfg.Model.LockTimeout(),
		mutator.WithLogger(logger),
		mutator.WithOOVWarnRatio(cfg.Model.OOVWarnRatio),
	)

	return &Components{
		Storage: storage,
		Store:   store,
		Lock:    mu,
		Mutator: mut,
	}, nil
}

// mustInitialize loads config, builds the logger, and initializes components,
// exiting on any failure. Shared by the one-shot commands.
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
	fmt.Println(`osusume - Incremental content-based book similarity

Usage:
  osusume server [flags]            Start the HTTP server
  osusume add [flags] <book-id>     Index a book into the similarity model
  osusume update [flags] <book-id>  Recompute a book's vector and neighbors
  osusume delete [flags] <book-id>  Remove a book from the model and its edges
  osusume similar [flags] <book-id> List a book's similar books
  osusume import [flags] <xlsx>     Import a catalog workbook
  osusume status [flags]            Show catalog/model status
  osusume version                   Show version
  osusume help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/osusume/config.yaml)
  --debug            Enable debug logging

Add/Update Flags:
  --config string    Config file path
  --top-k int        Neighbor count override (default from config)
  --output string    Output format: text or json (default: text)

Similar Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (empty = direct storage, default)
  --limit int        Number of neighbors (default from config)
  --algo string      Algorithm tag (default from config)
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  osusume server
  osusume import catalog.xlsx
  osusume add 42
  osusume update 42 --top-k 10
  osusume similar 42 --limit 5
  osusume similar 42 --output json
  osusume delete 42
  osusume status --server ""`)
}
