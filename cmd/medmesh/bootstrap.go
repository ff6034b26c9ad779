package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/medmesh"
	"github.com/hupe1980/medmesh/checkpoint"
	"github.com/hupe1980/medmesh/config"
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/logging"
	"github.com/hupe1980/medmesh/memory"
	"github.com/hupe1980/medmesh/memory/mem0"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/model/anthropic"
	"github.com/hupe1980/medmesh/model/openai"
	"github.com/hupe1980/medmesh/prompts"
	"github.com/hupe1980/medmesh/pubmed"
	"github.com/hupe1980/medmesh/tool"
)

// scriptedGreeting is the only answer of the scripted provider, which
// smoke-tests the wiring without credentials.
const scriptedGreeting = "Hello! I'm the research assistant. What condition do you have?"

// app holds the service and the resources to release on exit.
type app struct {
	svc     *medmesh.Service
	logger  logging.Logger
	closers []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Format,
		Output:    out,
		Component: "medmesh",
	}), nil
}

func newModel(cfg *config.Config) model.Model {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.Anthropic.APIKey
			if cfg.Anthropic.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Anthropic.Model)
			}
		})
	case config.ProviderScripted:
		return model.NewScriptedModel("scripted", core.NewAssistantContent(scriptedGreeting))
	default:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = cfg.OpenAI.APIKey
			o.BaseURL = cfg.OpenAI.BaseURL
			if cfg.OpenAI.Model != "" {
				o.Model = cfg.OpenAI.Model
			}
		})
	}
}

func newMemory(ctx context.Context, cfg *config.Config, a *app) (core.MemoryStore, error) {
	switch cfg.Memory.Backend {
	case config.BackendMemory:
		return memory.NewInMemoryStore(), nil
	case config.BackendMem0:
		m := cfg.Memory.Mem0
		client := mem0.NewClient(m.URL, func(o *mem0.Options) {
			o.APIKey = m.APIKey
		})
		err := client.Configure(ctx, mem0.NewServerConfig(mem0.Backends{
			OpenAIAPIKey:   cfg.OpenAI.APIKey,
			QdrantURL:      m.QdrantURL,
			QdrantAPIKey:   m.QdrantAPIKey,
			CollectionName: m.CollectionName,
			Neo4jURI:       m.Neo4jURI,
			Neo4jUsername:  m.Neo4jUsername,
			Neo4jPassword:  m.Neo4jPassword,
			Neo4jDatabase:  m.Neo4jDatabase,
		}))
		if err != nil {
			return nil, fmt.Errorf("configure mem0: %w", err)
		}
		return client, nil
	default:
		store, err := memory.NewSQLiteStore(memory.SQLiteConfig{DataDir: cfg.Memory.DataDir})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	}
}

// newCheckpoints opens the checkpoint store and drops the runs that expired
// while no process was serving them.
func newCheckpoints(ctx context.Context, cfg *config.Config, a *app, optFns ...func(o *checkpoint.Options)) (checkpoint.Store, error) {
	optFns = append([]func(o *checkpoint.Options){func(o *checkpoint.Options) { o.TTL = cfg.Approval.TTL }}, optFns...)
	if cfg.Approval.Backend == config.BackendMemory {
		return checkpoint.NewInMemoryStore(optFns...), nil
	}
	store, err := checkpoint.NewSQLiteStore(cfg.Memory.DataDir, optFns...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)

	n, err := store.Prune(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		a.logger.Info("checkpoint.pruned", "count", n)
	}
	return store, nil
}

// bootstrap builds the service from a validated configuration. Logs go to
// logOut so the conversation owns stdout.
func bootstrap(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}

	set, err := prompts.Load(cfg.Runner.PromptVersion)
	if err != nil {
		return nil, err
	}

	mem, err := newMemory(ctx, cfg, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	checkpoints, err := newCheckpoints(ctx, cfg, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	searcher := pubmed.NewClient(func(o *pubmed.Options) {
		if cfg.PubMed.BaseURL != "" {
			o.BaseURL = cfg.PubMed.BaseURL
		}
		o.APIKey = cfg.PubMed.APIKey
		o.Email = cfg.PubMed.Email
		o.RequestsPerSecond = cfg.PubMed.RequestsPerSecond
	})

	retry := tool.DefaultRetryConfig()
	retry.MaxRetries = cfg.Runner.ToolRetries

	svc, err := medmesh.New(newModel(cfg), searcher, func(o *medmesh.Options) {
		o.Memory = mem
		o.Checkpoints = checkpoints
		o.Prompts = set
		o.Retry = &retry
		o.MaxModelCalls = cfg.Runner.MaxModelCalls
		o.MaxParallelTools = cfg.Runner.MaxParallelTools
		o.Logger = logger
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.svc = svc

	logger.Info("medmesh.ready",
		"provider", cfg.Provider,
		"memory", cfg.Memory.Backend,
		"checkpoints", cfg.Approval.Backend,
		"prompts", set.Version,
	)
	return a, nil
}
