package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pulseboard/sentinel/internal/config"
	"github.com/pulseboard/sentinel/internal/logger"
	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/sanitize"
	"github.com/pulseboard/sentinel/internal/security"
	"github.com/pulseboard/sentinel/internal/telemetry"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/tui"
	"github.com/pulseboard/sentinel/internal/types"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitUnsafe = 2
)

var log = logger.New("main")

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string) int {
	if len(args) == 0 {
		printUsage(tui.Stdout)
		return exitOK
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "scan-file":
		return runScanFile(args[1:])
	case "scan-text":
		return runScanText(args[1:])
	case "sanitize":
		return runSanitize(args[1:])
	case "lint-catalog":
		return runLintCatalog(args[1:])
	case "reload-catalog":
		return runReloadCatalog(args[1:])
	case "version", "-v", "--version":
		fmt.Fprintf(tui.Stdout, "sentinel version %s\n", Version)
		return exitOK
	case "help", "-h", "--help":
		printUsage(tui.Stdout)
		return exitOK
	}
	tui.PrintError(fmt.Sprintf("unknown command %q", args[0]))
	printUsage(tui.Stderr)
	return exitError
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `sentinel - upload and text threat detection

Usage:
  sentinel <command> [flags]

Commands:
  serve            Run the HTTP API
  scan-file        Scan a file from disk
  scan-text        Scan a string (argument or stdin)
  sanitize         Sanitize a string for HTML display
  lint-catalog     Lint the rule catalog or a single catalog file
  reload-catalog   Ask a running server to reload its catalog
  version          Print the version

Exit codes:
  0  safe / success
  1  error
  2  content rejected

Environment:
  SENTINEL_API_TOKEN   bearer token for the catalog API
  SENTINEL_AUDIT_KEY   SQLCipher key for the audit log (16+ chars)
  NO_COLOR             disable styled output
`)
}

// commonFlags are shared by every command that builds an engine.
type commonFlags struct {
	configPath     *string
	logLevel       *string
	noColor        *bool
	disableBuiltin *bool
}

func addCommonFlags(fs *flag.FlagSet, defaultLevel string) commonFlags {
	return commonFlags{
		configPath:     fs.String("config", config.DefaultConfigPath(), "Path to configuration file"),
		logLevel:       fs.String("log-level", defaultLevel, "Log level: trace, debug, info, warn, error"),
		noColor:        fs.Bool("no-color", false, "Disable colored output"),
		disableBuiltin: fs.Bool("disable-builtin", false, "Disable the builtin catalog"),
	}
}

// loadConfig loads the file, applies flag overrides and validates.
func (f commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	if *f.logLevel != "" {
		cfg.Server.LogLevel = types.LogLevel(*f.logLevel)
	}
	if *f.noColor {
		cfg.Server.NoColor = true
	}
	if *f.disableBuiltin {
		cfg.Catalog.DisableBuiltin = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.SetGlobalLevelFromString(string(cfg.Server.LogLevel))
	if cfg.Server.NoColor {
		logger.SetColored(false)
		tui.SetPlainMode(true)
	}
	return cfg, nil
}

// newEngine builds the catalog store and the manager from cfg.
func newEngine(cfg *config.Config) (*security.Manager, *rules.Store, error) {
	risk, err := cfg.Engine.Risk()
	if err != nil {
		return nil, nil, err
	}
	userDir := cfg.Catalog.UserDir
	if userDir == "" {
		userDir = rules.DefaultUserCatalogDir()
	}
	store, err := rules.NewStore(rules.StoreConfig{
		UserDir:        userDir,
		DisableBuiltin: cfg.Catalog.DisableBuiltin,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: %w", err)
	}
	manager, err := security.NewManager(store, security.Config{
		Limits:    cfg.Engine.Limits(),
		Risk:      risk,
		Sanitizer: cfg.Sanitizer,
	})
	if err != nil {
		return nil, nil, err
	}
	return manager, store, nil
}

// =============================================================================
// serve
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common := addCommonFlags(fs, "")
	port := fs.Int("port", 0, "Listen port (default from config)")
	noAudit := fs.Bool("no-audit", false, "Disable the audit log")
	retentionDays := fs.Int("retention-days", -1, "Audit retention in days (0 = forever, -1 = config default)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := common.loadConfig()
	if err != nil {
		tui.PrintError(fmt.Sprintf("Failed to load configuration: %v", err))
		return exitError
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *noAudit {
		cfg.Audit.Enabled = false
	}
	if *retentionDays >= 0 {
		cfg.Audit.RetentionDays = *retentionDays
	}

	// SECURITY: secrets come from the environment, never from flags
	secrets, err := config.LoadSecrets()
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	if err := secrets.Validate(); err != nil {
		tui.PrintError(err.Error())
		return exitError
	}

	gin.SetMode(gin.ReleaseMode)
	log.Info("Starting sentinel %s...", Version)

	manager, store, err := newEngine(cfg)
	if err != nil {
		log.Error("Failed to initialize engine: %v", err)
		return exitError
	}
	security.SetGlobalManager(manager)

	var watcher *rules.Watcher
	if cfg.Catalog.Watch {
		watcher, err = rules.NewWatcher(store)
		if err != nil {
			log.Warn("Failed to create catalog watcher: %v", err)
		} else if err := watcher.Start(); err != nil {
			log.Warn("Failed to start catalog watcher: %v", err)
			watcher = nil
		}
	}
	defer func() {
		if watcher != nil {
			_ = watcher.Stop()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := security.NewMetrics(registry, store)
	if err != nil {
		log.Error("Failed to register metrics: %v", err)
		return exitError
	}
	manager.SetMetrics(metrics)

	var storage *telemetry.Storage
	if cfg.Audit.Enabled {
		storage, err = telemetry.NewStorage(cfg.Audit.DBPath, secrets.AuditKey)
		if err != nil {
			log.Error("Failed to open audit log: %v", err)
			return exitError
		}
		defer storage.Close()
		telemetry.SetGlobalStorage(storage)
		log.Info("Audit log: %s (encrypted: %v, retention: %d days)",
			cfg.Audit.DBPath, storage.IsEncrypted(), cfg.Audit.RetentionDays)
	}
	if secrets.APIToken == "" {
		log.Warn("SENTINEL_API_TOKEN not set, catalog API disabled")
	} else {
		log.Debug("Catalog API token: %s", secrets.MaskAPIToken())
	}

	server := security.NewServer(manager, storage, security.ServerConfig{
		Port:          cfg.Server.Port,
		RetentionDays: cfg.Audit.RetentionDays,
		API: security.APIOptions{
			APIToken:       secrets.APIToken,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Gatherer:       registry,
		},
	})
	if err := server.Start(); err != nil {
		log.Error("Failed to start server: %v", err)
		return exitError
	}
	log.Info("Sentinel listening on :%d", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: %v", err)
		return exitError
	}
	log.Info("Sentinel stopped")
	return exitOK
}

// =============================================================================
// one-shot scans
// =============================================================================

// printVerdict writes v as JSON or as a rendered summary and maps it to an
// exit code.
func printVerdict(v threat.Verdict, asJSON, showFragments bool) int {
	if asJSON {
		out := v
		if !showFragments {
			out = v.Redacted()
		}
		enc := json.NewEncoder(tui.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			tui.PrintError(err.Error())
			return exitError
		}
	} else {
		fmt.Fprint(tui.Stdout, tui.RenderVerdict(v, showFragments))
	}
	if !v.Safe {
		return exitUnsafe
	}
	return exitOK
}

func runScanFile(args []string) int {
	fs := flag.NewFlagSet("scan-file", flag.ContinueOnError)
	common := addCommonFlags(fs, "warn")
	category := fs.String("category", "", "Upload category: image, document, archive")
	mediaType := fs.String("type", "", "Declared media type (default from extension)")
	name := fs.String("name", "", "Declared file name (default: base name of path)")
	asJSON := fs.Bool("json", false, "Print the verdict as JSON")
	fragments := fs.Bool("fragments", false, "Show matched fragments")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		tui.PrintError("usage: sentinel scan-file [flags] <path>")
		return exitError
	}
	path := fs.Arg(0)

	cfg, err := common.loadConfig()
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	data, err := os.ReadFile(path)
	if err != nil {
		tui.PrintError(fmt.Sprintf("failed to read file: %v", err))
		return exitError
	}
	if data == nil {
		data = []byte{}
	}

	declaredName := *name
	if declaredName == "" {
		declaredName = filepath.Base(path)
	}
	declaredType := *mediaType
	if declaredType == "" {
		declaredType = mime.TypeByExtension(strings.ToLower(filepath.Ext(declaredName)))
		if i := strings.IndexByte(declaredType, ';'); i >= 0 {
			declaredType = declaredType[:i]
		}
	}
	if declaredType == "" {
		declaredType = "application/octet-stream"
	}

	manager, _, err := newEngine(cfg)
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	v, err := manager.ScanBinary(security.BinaryRequest{
		Bytes:             data,
		DeclaredName:      declaredName,
		DeclaredMediaType: declaredType,
		DeclaredSize:      int64(len(data)),
		Category:          types.Category(*category),
	})
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	return printVerdict(v, *asJSON, *fragments)
}

// readInput returns the first positional argument, or stdin when it is
// absent or "-".
func readInput(fs *flag.FlagSet, stdin io.Reader) (string, error) {
	if fs.NArg() > 1 {
		return "", errors.New("too many arguments")
	}
	if fs.NArg() == 1 && fs.Arg(0) != "-" {
		return fs.Arg(0), nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, 16<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stdin is swapped by tests.
var stdin io.Reader = os.Stdin

func runScanText(args []string) int {
	fs := flag.NewFlagSet("scan-text", flag.ContinueOnError)
	common := addCommonFlags(fs, "warn")
	ctxTag := fs.String("context", string(types.ContextGeneric),
		"Usage context: html_body, html_attribute, sql_where, sql_order_by, sql_limit, generic")
	asJSON := fs.Bool("json", false, "Print the verdict as JSON")
	fragments := fs.Bool("fragments", false, "Show matched fragments")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := common.loadConfig()
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	content, err := readInput(fs, stdin)
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}

	manager, _, err := newEngine(cfg)
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	v, err := manager.ScanText(security.TextRequest{Content: content, Context: types.ContextTag(*ctxTag)})
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	return printVerdict(v, *asJSON, *fragments)
}

func runSanitize(args []string) int {
	fs := flag.NewFlagSet("sanitize", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	keepSchemes := fs.Bool("keep-schemes", false, "Do not strip javascript:/data: schemes")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	if err := cfg.Sanitizer.Validate(); err != nil {
		tui.PrintError(fmt.Sprintf("sanitizer policy: %v", err))
		return exitError
	}
	if *keepSchemes {
		cfg.Sanitizer.StripSchemes = false
	}
	text, err := readInput(fs, stdin)
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	fmt.Fprintln(tui.Stdout, sanitize.Sanitize(text, cfg.Sanitizer))
	return exitOK
}

// =============================================================================
// catalog management
// =============================================================================

func runLintCatalog(args []string) int {
	fs := flag.NewFlagSet("lint-catalog", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	showInfo := fs.Bool("info", false, "Show informational messages")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	linter := rules.NewLinter()
	var result rules.LintResult
	var err error

	if fs.NArg() > 0 {
		filePath := fs.Arg(0)
		tui.PrintInfo(fmt.Sprintf("Linting %s...", filePath))
		result, err = linter.LintFile(filePath)
	} else {
		cfg, cfgErr := config.Load(*configPath)
		if cfgErr != nil {
			cfg = config.DefaultConfig()
		}
		userDir := cfg.Catalog.UserDir
		if userDir == "" {
			userDir = rules.DefaultUserCatalogDir()
		}

		loader := rules.NewLoader(userDir)
		var files []rules.SourceFile
		var rows [][2]string
		if !cfg.Catalog.DisableBuiltin {
			builtin, loadErr := loader.LoadBuiltin()
			if loadErr != nil {
				tui.PrintError(fmt.Sprintf("Failed to load builtin catalog: %v", loadErr))
				return exitError
			}
			files = append(files, builtin...)
			rows = append(rows, [2]string{"Builtin files", fmt.Sprint(len(builtin))})
		}
		user, loadErr := loader.LoadUser()
		if loadErr != nil {
			tui.PrintError(fmt.Sprintf("Failed to load user catalog: %v", loadErr))
			return exitError
		}
		files = append(files, user...)
		rows = append(rows,
			[2]string{"User files", fmt.Sprint(len(user))},
			[2]string{"User directory", tui.Hyperlink("file://"+filepath.ToSlash(userDir), userDir)},
		)
		fmt.Fprintln(tui.Stdout, tui.RenderKeyValues("Catalog", rows))
		result = linter.LintFiles(files)
	}
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}

	fmt.Fprint(tui.Stdout, result.FormatIssues(*showInfo))
	switch {
	case result.Errors > 0:
		tui.PrintError(fmt.Sprintf("%d error(s), %d warning(s)", result.Errors, result.Warns))
		return exitError
	case result.Warns > 0:
		tui.PrintWarning(fmt.Sprintf("%d warning(s)", result.Warns))
	default:
		tui.PrintSuccess("Catalog valid")
	}
	return exitOK
}

// reloadResponse is the body of POST /api/catalog/reload.
type reloadResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Error   string `json:"error"`
}

func runReloadCatalog(args []string) int {
	fs := flag.NewFlagSet("reload-catalog", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	addr := fs.String("addr", "", "Server base URL (default http://localhost:<server.port>)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	baseURL := *addr
	if baseURL == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			cfg = config.DefaultConfig()
		}
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	if secrets.APIToken == "" {
		tui.PrintError("SENTINEL_API_TOKEN is not set")
		return exitError
	}

	resp, err := reloadCatalog(context.Background(), strings.TrimRight(baseURL, "/"), secrets.APIToken)
	if err != nil {
		tui.PrintError(err.Error())
		return exitError
	}
	if resp.Status != "reloaded" {
		tui.PrintError(fmt.Sprintf("Reload failed, still serving %s: %s", resp.Version, resp.Error))
		return exitError
	}
	tui.PrintSuccess(fmt.Sprintf("Catalog reloaded (version %s)", resp.Version))
	return exitOK
}

// reloadCatalog posts to the catalog reload route of a running server.
func reloadCatalog(ctx context.Context, baseURL, token string) (*reloadResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/catalog/reload", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("catalog API refused the token (HTTP %d)", resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected HTTP %d from server", resp.StatusCode)
	}

	var out reloadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &out, nil
}
