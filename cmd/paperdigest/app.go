package main

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/PaperDigest/internal/analyze"
	"github.com/TobiSchelling/PaperDigest/internal/archive"
	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/llm"
	"github.com/TobiSchelling/PaperDigest/internal/metrics"
	"github.com/TobiSchelling/PaperDigest/internal/notify"
	"github.com/TobiSchelling/PaperDigest/internal/pipeline"
	"github.com/TobiSchelling/PaperDigest/internal/search"
)

// app holds the components built from the loaded configuration.
type app struct {
	db       *database.DB
	search   *search.Client
	provider llm.Provider
	slack    *notify.Slack
	metrics  *metrics.Manager
	pipeline *pipeline.Pipeline
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newMetrics() *metrics.Manager {
	opts := []metrics.Option{metrics.WithLogger(logger)}
	if cfg.Metrics.PushgatewayURL != "" {
		opts = append(opts, metrics.WithPushgateway(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job))
	}
	return metrics.NewManager(opts...)
}

func newProvider() llm.Provider {
	return llm.CreateProvider(llm.Options{
		Provider:     cfg.Analysis.Provider,
		Model:        cfg.Analysis.Model,
		BaseURL:      cfg.Analysis.OpenAIBaseURL,
		OllamaURL:    cfg.Analysis.OllamaURL,
		APIKey:       cfg.Analysis.APIKey,
		SystemPrompt: analyze.SystemPrompt,
		Temperature:  cfg.Analysis.Temperature,
		Timeout:      seconds(cfg.Analysis.TimeoutSeconds),
		MaxRetries:   cfg.Analysis.MaxRetries,
		Logger:       logger.With("component", "llm"),
	})
}

func newSearch() *search.Client {
	return search.NewClient(search.Options{
		Timeout:         seconds(cfg.Search.TimeoutSeconds),
		MaxRetries:      cfg.Search.MaxRetries,
		UserAgent:       cfg.Search.UserAgent,
		EnrichAbstracts: cfg.Search.EnrichAbstracts,
		Logger:          logger.With("component", "search"),
	})
}

func newSlack() *notify.Slack {
	return notify.NewSlack(notify.SlackOptions{
		Token:      cfg.Slack.Token,
		Channel:    cfg.Slack.Channel,
		APIURL:     cfg.Slack.APIURL,
		Timeout:    seconds(cfg.Slack.TimeoutSeconds),
		MaxRetries: cfg.Slack.MaxRetries,
		Logger:     logger.With("component", "slack"),
	})
}

// newApp opens the database and wires every pipeline component.
func newApp() (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}

	a := &app{
		db:       db,
		search:   newSearch(),
		provider: newProvider(),
		slack:    newSlack(),
		metrics:  newMetrics(),
	}

	deps := pipeline.Deps{
		DB:       db,
		Searcher: a.search,
		Analyzer: analyze.New(a.provider, analyze.Options{
			MaxTokens:   cfg.Analysis.MaxTokens,
			MaxAttempts: cfg.Analysis.MaxAttempts,
			Logger:      logger.With("component", "analyze"),
		}),
		Notifier: a.slack,
		Metrics:  a.metrics,
		Logger:   logger,
	}
	if cfg.Archive.Bucket != "" {
		s3, err := archive.NewS3(cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("setting up archive: %w", err)
		}
		deps.Archiver = s3
	}

	a.pipeline = pipeline.New(deps, pipeline.Settings{
		Query: search.Query{
			Terms:      cfg.Search.Terms,
			MaxResults: cfg.Search.MaxResults,
			Days:       cfg.Search.Days,
		},
		MinScore:    cfg.Digest.MinScore,
		MaxPapers:   cfg.Digest.MaxPapers,
		TopKeywords: cfg.Digest.TopKeywords,
		RollupDays:  cfg.Digest.RollupDays,
		Workers:     cfg.Analysis.Workers,
	})
	return a, nil
}

// withApp builds the app, runs fn and closes the database.
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.db.Close()
	return fn(a)
}
