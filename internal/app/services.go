package app

import (
	"context"
	"fmt"

	"insightpipe/internal/config"
	"insightpipe/internal/decision"
	"insightpipe/internal/httpx"
	"insightpipe/internal/integrations/events"
	"insightpipe/internal/integrations/llm"
	slackbot "insightpipe/internal/integrations/slack"
	"insightpipe/internal/logger"
	"insightpipe/internal/pipeline"
	"insightpipe/internal/recommend"
	"insightpipe/internal/storage/redisstore"
	"insightpipe/internal/storage/sqlstore"
	"insightpipe/internal/trigger"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

const serviceName = "insightpipe"

type services struct {
	cfg     config.Config
	log     *logger.Logger
	store   *sqlstore.Store
	runner  *pipeline.Runner
	sched   *trigger.Scheduler
	closers []func() error
}

// buildServices wires the store, run guard, reasoning client, notifiers,
// runner and scheduler from configuration. forceAsync overrides async_runs.
func buildServices(ctx context.Context, forceAsync bool) (*services, error) {
	cfg := config.LoadConfig()
	async := forceAsync || cfg.AsyncRuns
	log := logger.New(cfg.Environment, cfg.LogLevel)
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSec)
	log.WithFields(logrus.Fields{
		"environment":             cfg.Environment,
		"db_driver":               cfg.DBDriver,
		"llm_provider":            cfg.LLMProvider,
		"llm_model":               cfg.LLMModel,
		"llm_timeout":             cfg.LLMTimeout().String(),
		"max_concurrent_clusters": cfg.MaxConcurrentClusters,
		"duplicate_window":        cfg.DuplicateWindow().String(),
		"redis":                   cfg.RedisURL != "",
		"slack":                   cfg.SlackConfigured(),
		"kafka":                   cfg.KafkaConfigured(),
		"external_http_timeout":   appliedHTTPTimeout.String(),
		"async_runs":              async,
		"run_lock_ttl":            cfg.RunLockTTL().String(),
	}).Info("config loaded")

	s := &services{cfg: cfg, log: log}

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.DBDriver, err)
	}
	s.store = store
	s.closers = append(s.closers, store.Close)

	opts := trigger.Options{Async: async, Log: log.Entry}
	if cfg.RedisURL != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		opts.Guard = redisstore.NewRunLock(client, cfg.RunLockTTL())
		opts.Watermarks = redisstore.NewWatermarks(client)
		log.Info("using redis run guard")
	}

	completer, err := llm.New(llm.Options{
		Provider:           cfg.LLMProvider,
		Model:              cfg.LLMModel,
		APIKey:             apiKeyFor(cfg),
		BaseURL:            cfg.LLMBaseURL,
		HTTPClient:         httpx.ExternalHTTPClient(),
		MaxRetry:           cfg.LLMMaxRetry(),
		RequestsPerSecond:  cfg.LLMRequestsPerSecond,
		MaxConcurrentCalls: cfg.LLMMaxConcurrentCalls,
		Log:                log.Entry,
	})
	if err != nil {
		s.close()
		return nil, err
	}

	var notifiers []pipeline.Notifier
	if cfg.SlackConfigured() {
		api := slack.New(cfg.SlackBotToken, slack.OptionHTTPClient(httpx.ExternalHTTPClient()))
		notifiers = append(notifiers, slackbot.NewNotifier(api, cfg.SlackChannelID, log.Entry))
	}
	if cfg.KafkaConfigured() {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, pub.Close)
		notifiers = append(notifiers, events.NewTicketEvents(pub, serviceName))
	}

	s.runner = pipeline.NewRunner(pipeline.Deps{
		Insights:    store,
		Recommender: recommend.NewRequester(completer, cfg.LLMTimeout(), log.Entry),
		Decider:     decision.NewEngine(store, cfg.DuplicateWindow()),
		Tickets:     store,
		Runs:        store,
		Notifiers:   notifiers,
	}, pipeline.Options{
		MaxConcurrentClusters: cfg.MaxConcurrentClusters,
		Lookback:              cfg.ClusterLookback(),
		Log:                   log.Entry,
	})
	s.sched = trigger.NewScheduler(s.runner, opts)
	return s, nil
}

func apiKeyFor(cfg config.Config) string {
	if cfg.LLMProvider == "openai" {
		return cfg.OpenAIAPIKey
	}
	return cfg.AnthropicAPIKey
}

// close releases resources in reverse order of acquisition.
func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Warn("close failed")
		}
	}
	s.closers = nil
}
