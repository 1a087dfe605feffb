// Triggerflow Core - event-driven automation rules for chat agents.
//
// This is the main entry point. The process ingests trigger events over
// MQTT and HTTP, matches them against users' rules with a language-model
// classifier, runs the matching rule through a tool-calling agent, and
// records, notifies and dispatches the result. A ticker runs scheduled
// rules.
//
// Usage:
//
//	triggerflow                 run the service
//	triggerflow token <user>    print a signed API token for <user>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/triggerflow-core/internal/agent"
	"github.com/nerrad567/triggerflow-core/internal/api"
	"github.com/nerrad567/triggerflow-core/internal/automation"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/config"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/database"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/metrics"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/triggerflow-core/internal/ingest"
	"github.com/nerrad567/triggerflow-core/internal/notification"
	"github.com/nerrad567/triggerflow-core/migrations"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// tokenTTL is the lifetime of tokens printed by the token command.
	tokenTTL = 24 * time.Hour

	startupCheckTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printToken writes a signed token for the user named in args.
func printToken(w io.Writer, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: triggerflow token <user-id>")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	tok, err := api.IssueToken(cfg.Security.JWT, args[0], tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

// run is the application logic, separated from main for testability.
// Deferred cleanups run in reverse order of construction, so producers of
// work (API, ingest, ticker) stop before the stores they write to close.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Triggerflow Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, cfg.Service, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// Storage

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	ruleStore := automation.NewSQLiteRuleStore(db.DB)
	logStore := automation.NewSQLiteLogStore(db.DB)
	notificationRepo := notification.NewSQLiteRepository(db.DB)

	if cfg.Rules.SeedFile != "" {
		if seedErr := seedRules(ctx, ruleStore, cfg.Rules.SeedFile, log); seedErr != nil {
			return seedErr
		}
	}

	// Telemetry

	recorder := metrics.NewRecorder()
	observers := automation.Observers{recorder}
	health := map[string]api.HealthChecker{"database": db}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxdb.NewExecutionRecorder(influxClient))
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Messaging

	var mqttClient *mqtt.Client
	var pusher notification.Pusher
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		pusher = notification.NewMQTTPublisher(mqttClient, mqttClient.Topics().Notify)
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, trigger ingest available over HTTP only")
	}

	// Agent

	chat := agent.NewChatClient(agent.ChatConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}, &http.Client{Timeout: cfg.LLM.Timeout}, log)
	if cfg.LLM.APIKey == "" {
		log.Warn("llm.api_key is not set; classification and agent runs will fail")
	}

	var toolHeaders map[string]string
	if cfg.Tools.APIKey != "" {
		toolHeaders = map[string]string{"Authorization": "Bearer " + cfg.Tools.APIKey}
	}
	connector := agent.NewMCPConnector(cfg.Tools.MCPURL, toolHeaders, version)
	connector.SetTimeout(cfg.Tools.Timeout)

	provider := agent.NewProvider(connector, chat, agent.ProviderConfig{
		Model:    cfg.LLM.Model,
		MaxTurns: cfg.LLM.MaxAgentTurns,
	}, log)
	defer func() {
		if closeErr := provider.Close(); closeErr != nil {
			log.Warn("error closing tool connections", "error", closeErr)
		}
	}()

	// Engine

	sessions := automation.NewSessionCache(provider, cfg.Engine.SessionTTL)
	orchestrator, err := automation.NewOrchestrator(automation.Deps{
		Rules:     ruleStore,
		Logs:      logStore,
		Notifier:  notification.NewFanout(notificationRepo, pusher, log),
		Matcher:   automation.NewMatcher(agent.NewClassifier(chat, cfg.LLM.ClassifierModel), log),
		Executor:  automation.NewExecutor(sessions, log),
		Scheduler: automation.NewScheduler(ruleStore),
		Dispatcher: automation.NewDispatcher(sessions, &http.Client{Timeout: cfg.Webhook.Timeout}, automation.DispatcherConfig{
			WebhookSecret:  cfg.Webhook.Secret,
			WebhookTimeout: cfg.Webhook.Timeout,
		}, log),
		Observers:    observers,
		Logger:       log,
		PreviewChars: cfg.Engine.PreviewChars,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	ticker := automation.NewTicker(orchestrator, cfg.Engine.SweepInterval, log)
	ticker.Start(ctx)
	defer func() {
		log.Info("stopping schedule ticker")
		ticker.Stop()
	}()
	log.Info("schedule ticker started", "interval", cfg.Engine.SweepInterval)

	if mqttClient != nil {
		subscriber, subErr := ingest.NewSubscriber(ingest.Options{
			Broker:    mqttClient,
			Processor: orchestrator,
			Topics:    mqttClient.Topics(),
			Workers:   cfg.Engine.IngestWorkers,
			Observer:  recorder,
			Logger:    log,
		})
		if subErr != nil {
			return fmt.Errorf("creating trigger ingest: %w", subErr)
		}
		if startErr := subscriber.Start(ctx); startErr != nil {
			return fmt.Errorf("starting trigger ingest: %w", startErr)
		}
		defer func() {
			log.Info("stopping trigger ingest")
			subscriber.Stop()
		}()
	}

	// API

	apiDeps := api.Deps{
		Config:        cfg.API,
		Security:      cfg.Security,
		Logger:        log,
		Engine:        orchestrator,
		Rules:         ruleStore,
		Logs:          logStore,
		Notifications: notificationRepo,
		Metrics:       recorder.Handler(),
		Health:        health,
		DB:            db.DB,
		Version:       version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, health)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// seedRules upserts the rules in path into the store.
func seedRules(ctx context.Context, store *automation.SQLiteRuleStore, path string, log *logging.Logger) error {
	seeds, err := automation.LoadRuleSeeds(path)
	if err != nil {
		return fmt.Errorf("loading rule seeds: %w", err)
	}
	created, updated, err := automation.SeedRules(ctx, store, seeds, log)
	if err != nil {
		return fmt.Errorf("seeding rules: %w", err)
	}
	log.Info("rules seeded", "path", path, "created", created, "updated", updated)
	return nil
}

// getConfigPath returns TRIGGERFLOW_CONFIG, or the default path.
func getConfigPath() string {
	if path := os.Getenv("TRIGGERFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every registered dependency, reporting the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		c, ok := checks[name]
		if !ok {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
