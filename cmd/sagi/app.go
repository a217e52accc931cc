package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joss/sagi/internal/agent"
	"github.com/joss/sagi/internal/config"
	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/logging"
	"github.com/joss/sagi/internal/permission"
	"github.com/joss/sagi/internal/provider"
	"github.com/joss/sagi/internal/retry"
	"github.com/joss/sagi/internal/storage"
	"github.com/joss/sagi/internal/tool"
)

// app holds the components shared by serve and chat.
type app struct {
	cfg        *config.Config
	store      *storage.Store
	perms      *permission.Store
	classifier *permission.Classifier
	orch       *agent.Orchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))

	var (
		store *storage.Store
		err   error
	)
	if cfg.Storage.DataDir == storage.MemoryPath {
		store, err = storage.Open(storage.MemoryPath)
	} else {
		store, err = storage.New(cfg.Storage.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	mode, _ := domain.ParseMode(cfg.Permissions.DefaultMode)
	perms := permission.NewStore(
		permission.WithDefaultMode(mode),
		permission.WithIdleTTL(cfg.Permissions.SessionIdleTTL.Duration),
	)
	var classifierOpts []permission.ClassifierOption
	if len(cfg.Permissions.SafeTools) > 0 {
		classifierOpts = append(classifierOpts, permission.WithSafeTools(cfg.Permissions.SafeTools...))
	}
	if len(cfg.Permissions.BlockedCommands) > 0 {
		blocked, err := permission.BlockPatterns(cfg.Permissions.BlockedCommands...)
		if err != nil {
			perms.Close()
			store.Close()
			return nil, err
		}
		classifierOpts = append(classifierOpts, permission.WithSafety(permission.NewSafety(blocked...)))
	}
	classifier := permission.NewClassifier(perms, classifierOpts...)

	workDir := cfg.Agent.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	loggerOpts := []agent.LoggerOption{agent.WithLogLevel(agent.ParseLogLevel(cfg.Log.Level))}
	if cfg.Agent.LogFile != "" {
		if err := config.EnsureDir(filepath.Dir(cfg.Agent.LogFile)); err == nil {
			loggerOpts = append(loggerOpts, agent.WithLogFile(cfg.Agent.LogFile))
		}
	}

	orch := agent.New(
		provider.NewRegistry(providerSettings(cfg), provider.WithRetry(retry.Options{MaxAttempts: cfg.Agent.RetryAttempts})),
		tool.Default(workDir, store),
		classifier,
		agent.WithHistory(store),
		agent.WithMaxRounds(cfg.Agent.MaxRounds),
		agent.WithMaxTokens(cfg.Agent.MaxTokens),
		agent.WithContextBudget(cfg.Agent.ContextTokens),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithAgentLogger(agent.NewAgentLogger(loggerOpts...)),
	)

	return &app{cfg: cfg, store: store, perms: perms, classifier: classifier, orch: orch}, nil
}

func (a *app) Close() error {
	a.perms.Close()
	return a.store.Close()
}

func providerSettings(cfg *config.Config) map[domain.ProviderID]provider.Settings {
	out := make(map[domain.ProviderID]provider.Settings, len(cfg.Providers))
	for name, p := range cfg.Providers {
		id, err := provider.ParseID(name)
		if err != nil {
			continue
		}
		out[id] = provider.Settings{
			BaseURL:           p.BaseURL,
			Model:             p.Model,
			RequestsPerSecond: p.RequestsPerSecond,
			Burst:             p.Burst,
		}
	}
	return out
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl := strings.TrimSpace(logLevelFlag); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}
