package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/kubenl/kubenl/pkg/allowlist"
	"github.com/kubenl/kubenl/pkg/audit"
	"github.com/kubenl/kubenl/pkg/config"
	"github.com/kubenl/kubenl/pkg/executor"
	"github.com/kubenl/kubenl/pkg/kube"
	"github.com/kubenl/kubenl/pkg/safety"
	"github.com/kubenl/kubenl/pkg/session"
	"github.com/kubenl/kubenl/pkg/translate"
	"github.com/kubenl/kubenl/pkg/ui"
)

// Version info (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	kubeconfig := flag.String("kubeconfig", "", "Path to the kubeconfig file (default: standard discovery)")
	contextName := flag.String("context", "", "Kubeconfig context to target (default: current context)")
	dbPath := flag.String("db-path", "", "Audit database path (sqlite backend only)")
	configPath := flag.String("config", "", "Config file path (default: "+config.GetConfigPath()+")")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kubenl version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	}

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not initialize logger: %v\n", err)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", "panic", r, "stack", string(debug.Stack()))
			fmt.Fprintf(os.Stderr, "kubenl crashed due to a panic. Details have been logged.\n")
			os.Exit(1)
		}
	}()

	if err := run(*kubeconfig, *contextName, *dbPath, *configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		fmt.Fprintf(os.Stderr, "kubenl: %v\n", err)
		os.Exit(1)
	}
}

func initLogger() (*slog.Logger, error) {
	path := config.DefaultLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	return logger, nil
}

func run(kubeconfig, contextName, dbPath, configPath string, logger *slog.Logger) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfigFrom(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DBType = "sqlite"
		cfg.Storage.DBPath = dbPath
	}

	// Resolve the environment first: without a usable context there is
	// no session to start.
	resolver := &kube.Resolver{KubeconfigPath: kubeconfig}
	env, err := resolver.Resolve(contextName)
	if err != nil {
		var cfgErr *kube.ConfigurationError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("%s\n  %s", cfgErr.Reason, cfgErr.Remediation)
		}
		return err
	}
	logger.Info("session starting",
		"version", Version,
		"context", env.Name,
		"cluster", env.Cluster,
		"tier", env.Class.String())

	store, err := audit.Open(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	retention := cfg.Storage.RetentionDays
	if retention <= 0 {
		retention = config.DefaultRetentionDays
	}
	sweeper, err := store.StartRetentionSchedule(retention)
	if err != nil {
		logger.Warn("retention schedule not started", "error", err)
	} else {
		defer sweeper.Stop()
	}

	allow, err := allowlist.Load(config.DefaultAllowlistPath())
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	translator := translate.NewTranslator(cfg.LLM, cfg.Tool, logger)
	translator.SetVerbs(verbCatalog(cfg.Risk))
	classifier := safety.NewClassifier(cfg.Risk)
	runner := executor.New("", cfg.Storage.OutputCapBytes, logger)

	sess := session.New(env, translator, classifier, allow, runner, store,
		cfg.ConfidenceThreshold, logger)

	app := ui.New(sess, store, resolver, logger)
	if err := app.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	logger.Info("session ended", "session_id", sess.ID)
	return nil
}

// verbCatalog flattens the configured risk catalogs into the closed verb
// set offered to the translation backend.
func verbCatalog(cfg config.RiskConfig) []string {
	var verbs []string
	verbs = append(verbs, cfg.ReadVerbs...)
	verbs = append(verbs, cfg.MutatingVerbs...)
	verbs = append(verbs, cfg.DestructiveVerbs...)
	if len(verbs) == 0 {
		return nil // translator falls back to its default catalog
	}
	return verbs
}
