// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/pollenhive/pollen/pkg/config"
	"github.com/pollenhive/pollen/pkg/logging"
	"github.com/pollenhive/pollen/services/agent/datatypes"
	"github.com/pollenhive/pollen/services/agent/handlers"
	"github.com/pollenhive/pollen/services/agent/observability"
	"github.com/pollenhive/pollen/services/agent/routes"
	"github.com/pollenhive/pollen/services/biometrics"
	"github.com/pollenhive/pollen/services/consensus"
	"github.com/pollenhive/pollen/services/creator"
	"github.com/pollenhive/pollen/services/hive"
	"github.com/pollenhive/pollen/services/ledger"
	"github.com/pollenhive/pollen/services/llm"
	"github.com/pollenhive/pollen/services/social"
	"github.com/pollenhive/pollen/services/vault"
	"github.com/pollenhive/pollen/services/wellness"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("pollen-agent")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newLLMClient(settings config.Settings) (llm.LLMClient, error) {
	switch settings.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI LLM backend", "model", settings.LLMModel)
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: settings.OpenAIAPIKey,
			Model:  settings.LLMModel,
		})
	case "ollama":
		slog.Info("Using Ollama LLM backend", "model", settings.LLMModel)
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: settings.LLMBaseURL,
			Model:   settings.LLMModel,
			Timeout: settings.LLMTimeout,
		})
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to ollama")
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: settings.LLMBaseURL,
			Model:   settings.LLMModel,
			Timeout: settings.LLMTimeout,
		})
	}
}

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	rootLogger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("POLLEN_LOG_DIR"),
		Service: "pollen-agent",
		JSON:    settings.Env == "production",
	})
	defer rootLogger.Close()
	logger := rootLogger.Slog()
	slog.SetDefault(logger)

	if settings.OTLPEndpoint != "" {
		cleanup, err := initTracer(settings.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing export disabled")
	}

	metrics := observability.InitMetrics()
	datatypes.RegisterValidators()

	llmClient, err := newLLMClient(settings)
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}

	validator, err := wellness.NewValidator(wellness.Config{
		MaxCognitiveLoad: settings.MaxCognitiveLoad,
		HRVThreshold:     settings.HRVThreshold,
		HistoryLimit:     settings.HistoryLimit,
	})
	if err != nil {
		log.Fatalf("failed to initialize wellness validator: %v", err)
	}

	accumulator, err := ledger.Open(ledger.Config{
		DBPath:       settings.ShadowDBPath,
		Threshold:    settings.HoneyThreshold,
		AutoGraduate: settings.AutoGraduate,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to open shadow ledger: %v", err)
	}
	defer accumulator.Close()

	encryptor, err := vault.NewEncryptor(settings.MasterKey, logger)
	if err != nil {
		log.Fatalf("failed to initialize vault encryptor: %v", err)
	}
	defer encryptor.Destroy()

	engine, err := creator.NewEngine(creator.Config{
		VaultPath: settings.VaultPath,
		SDAPIURL:  settings.SDAPIURL,
		Logger:    logger,
	}, encryptor, llmClient)
	if err != nil {
		log.Fatalf("failed to initialize creator engine: %v", err)
	}

	socialMgr := social.NewManager(social.Config{
		Enabled:        settings.EnableSocialAgent,
		RequireConsent: settings.RequireConsentPublish,
		Logger:         logger,
	})

	spawner, err := hive.NewSpawner(hive.Config{
		HiveURL:   settings.HiveURL,
		HiveWSURL: settings.HiveWSURL,
		APIKey:    settings.HiveAPIKey,
		AgentName: settings.AgentName,
		Capabilities: hive.Capabilities{
			Wellness:  settings.EnableWellnessAgent,
			Creative:  settings.EnableCreativeAgent,
			Social:    settings.EnableSocialAgent,
			Technical: settings.EnableTechnicalAgent,
			Admin:     settings.EnableAdminAgent,
		},
		ReconnectInterval:    settings.HiveReconnectEvery,
		MaxReconnectAttempts: settings.HiveMaxReconnects,
		Logger:               logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize hive spawner: %v", err)
	}

	consensusClient, err := consensus.NewClient(consensus.Config{
		HiveURL:   settings.HiveURL,
		HiveWSURL: settings.HiveWSURL,
		APIKey:    settings.HiveAPIKey,
		AgentID:   settings.AgentName,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize consensus client: %v", err)
	}

	bus := handlers.NewEventBus()

	accumulator.OnGraduationReady(func(balance ledger.Balance) error {
		bus.Publish("graduation_ready", map[string]any{
			"total_honey": balance.TotalHoney,
			"threshold":   balance.Threshold,
			"level":       balance.Level,
		})
		return nil
	})

	consensusClient.OnValidation(func(proof consensus.Proof) {
		bus.Publish("consensus_result", map[string]any{
			"proof_id": proof.ProofID,
			"status":   proof.Status,
		})
	})
	consensusClient.OnReward(func(proof consensus.Proof, txHash string) {
		bus.Publish("reward_confirmed", map[string]any{
			"proof_id": proof.ProofID,
			"tx_hash":  txHash,
		})
	})

	spawner.OnGraduation(func(newLevel int) {
		bus.Publish("hive_graduation", map[string]any{"new_level": newLevel})
	})
	spawner.OnTask(func(ctx context.Context, task hive.Task) error {
		bus.Publish("task", map[string]any{"task_id": task.ID, "task_type": task.Type})
		if !settings.AutoExecuteTasks {
			return nil
		}
		switch task.Type {
		case "wellness_check":
			fragment, _ := task.Payload["code_fragment"].(string)
			if fragment == "" {
				return nil
			}
			result := validator.Validate(ctx, fragment, wellness.DefaultBiometricContext())
			_, err := spawner.SubmitProof(ctx, task.ID, map[string]any{
				"is_valid":        result.IsValid,
				"violations":      len(result.Violations),
				"validation_hash": result.Metadata.ValidationHash,
			})
			return err
		case "proof_request":
			bundle, err := accumulator.ExportForWalletCreation(ctx)
			if err != nil {
				return err
			}
			_, err = spawner.SubmitProof(ctx, task.ID, map[string]any{
				"merkle_root": bundle.MerkleRoot,
				"total_honey": bundle.TotalHoney,
				"entry_count": bundle.EntryCount,
			})
			return err
		default:
			return nil
		}
	})

	var bridge *biometrics.Bridge
	if settings.HeartwareURL != "" {
		bridge, err = biometrics.NewBridge(biometrics.Config{
			LedgerURL: settings.HeartwareURL,
			Logger:    logger,
		})
		if err != nil {
			log.Fatalf("failed to initialize biometric bridge: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("pollen-agent"))

	deps := routes.Deps{
		Validator:   validator,
		Accumulator: accumulator,
		Engine:      engine,
		Social:      socialMgr,
		Metrics:     metrics,
		Bus:         bus,
		APIToken:    settings.APIToken,
	}
	if bridge != nil {
		deps.Biometrics = bridge
	}
	routes.SetupRoutes(router, deps)

	server := &http.Server{
		Addr:    settings.Host + ":" + settings.Port,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("Starting the Pollen agent server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		// A lost Hive link degrades the agent but does not kill it.
		if _, err := spawner.Spawn(groupCtx); err != nil {
			slog.Warn("hive registration failed, running standalone", "error", err)
			return nil
		}
		if err := spawner.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hive connection lost", "error", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := consensusClient.RunListener(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("consensus stream closed", "error", err)
		}
		return nil
	})

	if bridge != nil {
		group.Go(func() error {
			err := bridge.Poll(groupCtx, settings.HeartwarePollEvery)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if settings.EnableSocialAgent {
		group.Go(func() error {
			err := socialMgr.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agent terminated: %v", err)
	}
	slog.Info("Pollen agent stopped")
}
