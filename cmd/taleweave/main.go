// Package main is the Taleweave CLI entry point.
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

	"github.com/hyperjump/taleweave/internal/cli"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/extraction"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/server"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/internal/watcher"
	"github.com/hyperjump/taleweave/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/taleweave/config.yaml"

// loadConfig loads config from path. When path is the default and a
// config.yaml exists in the current directory, that file is used instead.
// Variables from a .env file next to the loaded config are applied first.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	if err := config.LoadEnvFile(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, "", err
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
	case "ingest":
		runIngest()
	case "analyze":
		runAnalyze()
	case "focus":
		runFocus()
	case "label":
		runLabel()
	case "aggregate":
		runAggregate()
	case "status":
		runStatus()
	case "delete":
		runDelete()
	case "budget":
		runBudget()
	case "version", "--version", "-v":
		fmt.Printf("taleweave version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags registers the flags every direct-storage command takes.
type commonFlags struct {
	config *string
	debug  *bool
	output *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config: fs.String("config", defaultConfigPath, "config file path"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
		output: fs.String("output", "text", "output format: text or json"),
	}
}

// setup loads config, builds the logger and parses the output format. It
// exits the process on failure.
func setup(cf commonFlags) (*config.Config, *zap.Logger, cli.OutputFormat) {
	cfg, resolved, err := loadConfig(*cf.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*cf.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *cf.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, format
}

func mustComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Components {
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	cf := addCommonFlags(fs)
	noWatch := fs.Bool("no-watch", false, "do not watch the inbox directories")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := setup(cf)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	go func() { _ = components.Labeling.Run(ctx) }()

	if len(cfg.Watch.Directories) > 0 && !*noWatch {
		inbox, err := watcher.NewInbox(cfg.Watch, components.Pipeline, watcher.WithLogger(logger))
		if err != nil {
			logger.Fatal("Failed to create inbox", zap.Error(err))
		}
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox", zap.Error(err))
		}
		defer inbox.Stop()
		go inbox.SyncExisting(ctx)
	}

	srv := server.NewServer(server.Services{
		Storage:    components.Storage,
		Ingester:   components.Pipeline,
		Labeler:    components.Labeling,
		Aggregator: components.Sweeper,
		Resolver:   components.Resolver,
		Analyzer:   components.Engine,
		Budget:     components.Governor,
	}, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addCommonFlags(fs)
	owner := fs.String("owner", "local", "owner id")
	label := fs.Bool("label", false, "run micro-fragment labeling after ingestion")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 1 {
		fatal("Usage: taleweave ingest [flags] <file>")
	}

	cfg, logger, format := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	doc, registered, err := components.Pipeline.RegisterFile(ctx, fs.Arg(0), *owner, nil)
	if err != nil {
		fatal("Register failed: %v", err)
	}
	if !registered && doc.Status == models.DocumentReady {
		fmt.Fprintf(os.Stderr, "%s is unchanged; skipping ingestion\n", fs.Arg(0))
	} else {
		res, err := components.Pipeline.Ingest(ctx, doc.ID)
		if err != nil {
			fatal("Ingest failed: %v", err)
		}
		if !res.Success {
			fmt.Fprintf(os.Stderr, "Ingest failed: %s\n", res.Error)
		} else {
			fmt.Fprintf(os.Stderr, "%d chapters, %d scenes, %d chunks\n", res.Stats.Chapters, res.Stats.Scenes, res.Stats.Chunks)
		}
	}
	if *label {
		n, err := components.Labeling.Drain(ctx)
		if err != nil {
			fatal("Labeling failed: %v", err)
		}
		fmt.Fprintf(os.Stderr, "%d labeling jobs processed\n", n)
	}
	doc, err = components.Storage.GetDocument(ctx, doc.ID)
	if err != nil {
		fatal("Get document failed: %v", err)
	}
	_ = cli.WriteDocument(os.Stdout, doc, format)
}

func runAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	cf := addCommonFlags(fs)
	owner := fs.String("owner", "local", "owner id")
	docs := fs.String("docs", "", "comma-separated document ids")
	entityType := fs.String("type", "character", "entity type")
	focus := fs.String("focus", "", "focus text naming a moment of the story")
	serverURL := fs.String("server", "", "server URL; empty uses direct storage")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if name == "" {
		fatal("Usage: taleweave analyze [flags] <entity name>")
	}
	req := extraction.AnalyzeRequest{
		OwnerID:     *owner,
		DocumentIDs: splitList(*docs),
		EntityName:  name,
		EntityType:  *entityType,
		FocusText:   *focus,
	}

	if *serverURL != "" {
		format, err := cli.ParseFormat(*cf.output)
		if err != nil {
			fatal("%v", err)
		}
		var res models.AnalysisResult
		if err := callAPI(http.MethodPost, *serverURL+"/api/v1/analyze", req, &res); err != nil {
			fatal("Analyze failed: %v", err)
		}
		_ = cli.WriteAnalysis(os.Stdout, &res, format)
		return
	}

	cfg, logger, format := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	res, err := components.Engine.Analyze(ctx, req)
	if err != nil {
		fatal("Analyze failed: %v", err)
	}
	_ = cli.WriteAnalysis(os.Stdout, res, format)
}

func runFocus() {
	fs := flag.NewFlagSet("focus", flag.ExitOnError)
	cf := addCommonFlags(fs)
	owner := fs.String("owner", "local", "owner id")
	doc := fs.String("doc", "", "document id")
	serverURL := fs.String("server", "", "server URL; empty uses direct storage")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" || *doc == "" {
		fatal("Usage: taleweave focus -doc <id> [flags] <focus text>")
	}

	if *serverURL != "" {
		format, err := cli.ParseFormat(*cf.output)
		if err != nil {
			fatal("%v", err)
		}
		var out struct {
			Window *models.FocusWindow `json:"window"`
		}
		target := fmt.Sprintf("%s/api/v1/documents/%s/focus?owner=%s&q=%s",
			*serverURL, url.PathEscape(*doc), url.QueryEscape(*owner), url.QueryEscape(text))
		if err := callAPI(http.MethodGet, target, nil, &out); err != nil {
			fatal("Focus failed: %v", err)
		}
		_ = cli.WriteFocusWindow(os.Stdout, out.Window, format)
		return
	}

	cfg, logger, format := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	window, err := components.Resolver.ResolveFocusWindow(ctx, *owner, []string{*doc}, text)
	if err != nil {
		fatal("Focus failed: %v", err)
	}
	_ = cli.WriteFocusWindow(os.Stdout, window, format)
}

func runLabel() {
	fs := flag.NewFlagSet("label", flag.ExitOnError)
	cf := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	cfg, logger, _ := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	for _, id := range fs.Args() {
		job, err := components.Labeling.Enqueue(ctx, id)
		if err != nil {
			fatal("Enqueue %s failed: %v", id, err)
		}
		fmt.Fprintf(os.Stderr, "job %s queued for %s\n", job.ID, id)
	}
	n, err := components.Labeling.Drain(ctx)
	if err != nil {
		fatal("Labeling failed: %v", err)
	}
	fmt.Printf("%d labeling jobs processed\n", n)
}

func runAggregate() {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	cf := addCommonFlags(fs)
	owner := fs.String("owner", "local", "owner id")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 1 {
		fatal("Usage: taleweave aggregate [flags] <document id>")
	}

	cfg, logger, format := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	res, err := components.Sweeper.Aggregate(ctx, fs.Arg(0), *owner)
	if err != nil {
		fatal("Aggregate failed: %v", err)
	}
	if format == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, res)
		return
	}
	fmt.Printf("%d snippets, %d candidates, %d characters, %d digests (%d entities and %d blocks skipped)\n",
		res.Snippets, res.Candidates, len(res.Characters), len(res.Digests), res.SkippedEntities, res.SkippedBlocks)
	for _, c := range res.Characters {
		fmt.Printf("  %-24s %-12s %d mentions\n", c.Name, c.Role, c.MentionCount)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addCommonFlags(fs)
	owner := fs.String("owner", "", "list the documents of this owner")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, format := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	count, err := components.Storage.CountDocuments(ctx)
	if err != nil {
		fatal("Count documents failed: %v", err)
	}
	footprint, err := storage.MeasureFootprint(map[string]string{
		"database": cfg.Storage.DatabasePath,
		"keyword":  cfg.Storage.BleveIndexPath,
		"vectors":  cfg.Storage.VectorIndexPath,
		"raw":      cfg.Blob.LocalDir,
	})
	if err != nil {
		fatal("Measure footprint failed: %v", err)
	}
	_ = cli.WriteStatus(os.Stdout, count, footprint, format)
	if *owner == "" {
		return
	}
	docs, err := components.Storage.ListDocuments(ctx, *owner, 0, 1000)
	if err != nil {
		fatal("List documents failed: %v", err)
	}
	for _, d := range docs {
		_ = cli.WriteDocument(os.Stdout, d, format)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := addCommonFlags(fs)
	owner := fs.String("owner", "local", "owner id")
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() < 1 {
		fatal("Usage: taleweave delete [flags] <document id>")
	}

	cfg, logger, _ := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	doc, err := components.Storage.GetDocument(ctx, fs.Arg(0))
	if err == nil && doc.OwnerID != *owner {
		err = models.ErrNotFound
	}
	if err != nil {
		fatal("Delete failed: %v", err)
	}
	if err := components.Pipeline.Delete(ctx, doc.ID); err != nil {
		fatal("Delete failed: %v", err)
	}
	fmt.Printf("Deleted %s\n", doc.ID)
}

func runBudget() {
	fs := flag.NewFlagSet("budget", flag.ExitOnError)
	cf := addCommonFlags(fs)
	date := fs.String("date", "", "usage date (YYYY-MM-DD, default today in UTC)")
	bypass := fs.String("bypass", "", "set the global limit override: on or off")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, format := setup(cf)
	defer logger.Sync()
	ctx := context.Background()
	components := mustComponents(ctx, cfg, logger)
	defer components.Close()

	if *bypass != "" {
		disabled, err := parseSwitch(*bypass)
		if err != nil {
			fatal("%v", err)
		}
		if err := components.Governor.SetGlobalLimitDisabled(ctx, disabled); err != nil {
			fatal("Set bypass failed: %v", err)
		}
	}
	day := *date
	if day == "" {
		day = components.Governor.Today()
	}
	usage, err := components.Governor.Usage(ctx, day)
	if err != nil {
		fatal("Usage failed: %v", err)
	}
	_ = cli.WriteUsage(os.Stdout, day, usage, components.Governor.IsGlobalLimitDisabled(ctx), format)
}

// callAPI sends body as JSON (when non-nil) and decodes the response into out.
// A non-2xx response is returned as an error carrying the server message.
func callAPI(method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// reorderArgs moves flags that follow positional arguments to the front so
// that flag.Parse sees them ("taleweave analyze Mara -docs d1" works).
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

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q (want on or off)", s)
}

func printUsage() {
	fmt.Println(`taleweave - Timeline-aware narrative ingestion and retrieval

Usage:
  taleweave server [flags]                  Start the HTTP API, labeling worker and inbox
  taleweave ingest [flags] <file>           Register and ingest a book (txt, md, pdf, docx)
  taleweave analyze [flags] <entity name>   Describe an entity's appearance
  taleweave focus -doc <id> [flags] <text>  Resolve the scene window a focus text names
  taleweave label [flags] [document id...]  Queue labeling and process the queue
  taleweave aggregate [flags] <document id> Build character records and scene digests
  taleweave status [flags]                  Show document count and storage footprint
  taleweave delete [flags] <document id>    Delete a document and its fragments
  taleweave budget [flags]                  Show daily LLM usage or toggle the limit override
  taleweave version                         Show version
  taleweave help                            Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/taleweave/config.yaml)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Analyze Flags:
  --owner string     Owner id (default: local)
  --docs string      Comma-separated document ids
  --type string      Entity type: character, object, location, creature, or any other (default: character)
  --focus string     Focus text, e.g. "before the battle at the ford"
  --server string    Server URL; empty uses direct storage

Commands other than server open the stores directly; stop the server first
or pass --server to analyze and focus.

Examples:
  taleweave server
  taleweave ingest --owner alice --label books/the-ford.md
  taleweave analyze --owner alice --docs 1f0c... --focus "after the battle" Mara
  taleweave analyze --type object --docs 1f0c... "the Warden's sword"
  taleweave focus --owner alice --doc 1f0c... the battle at the ford
  taleweave budget --bypass off`)
}
