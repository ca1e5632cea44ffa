// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config centralizes environment-driven configuration for the
// Pollen agent.
//
// Settings are loaded once in main via Load() and passed explicitly to
// component constructors. Components never read the environment themselves;
// this keeps configuration testable and avoids hidden process-global state.
//
// Every field has a working default so a bare `pollen-agent` starts up in
// development without any environment at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds the full configuration surface of the Pollen agent.
//
// Field groups mirror the external collaborators: the Hive coordination
// backend, the Sofie/Ollama LLM endpoint, the Heartware biometric source,
// the shadow ledger, and the wellness validator thresholds.
type Settings struct {
	// Service identity.
	AgentName string
	Host      string
	Port      string
	Env       string

	// Hive coordination backend.
	HiveURL            string
	HiveWSURL          string
	HiveAPIKey         string
	HiveReconnectEvery time.Duration
	HiveMaxReconnects  int

	// LLM backend. Backend selects the client implementation
	// ("ollama" or "openai"); Model is the default model name.
	LLMBackend   string
	LLMBaseURL   string
	LLMModel     string
	LLMTimeout   time.Duration
	OpenAIAPIKey string

	// Creator engine. SDAPIURL is optional; empty disables image
	// generation through Stable Diffusion.
	VaultPath string
	SDAPIURL  string

	// Heartware biometric source.
	HeartwareURL       string
	HeartwareAPIKey    string
	HeartwarePollEvery time.Duration

	// Shadow accumulator.
	ShadowDBPath   string
	HoneyThreshold float64
	AutoGraduate   bool

	// Wellness validator.
	MaxCognitiveLoad float64
	HRVThreshold     float64
	HistoryLimit     int

	// Encryption master key (hex or raw passphrase). Empty disables the
	// vault's encrypt/decrypt surface; hashing still works.
	MasterKey string

	// API bearer token. Empty leaves the local API open.
	APIToken string

	// OTLP trace collector endpoint. Empty disables export.
	OTLPEndpoint string

	// Agent capabilities announced at spawn.
	EnableWellnessAgent  bool
	EnableCreativeAgent  bool
	EnableSocialAgent    bool
	EnableTechnicalAgent bool
	EnableAdminAgent     bool

	// Behavior flags.
	AutoExecuteTasks      bool
	RequireConsentPublish bool
}

// Load builds Settings from the process environment.
//
// Unset variables fall back to development defaults. Malformed numeric or
// duration values are an error rather than a silent fallback, since a typo
// in a threshold should not quietly change graduation behavior.
func Load() (Settings, error) {
	s := Settings{
		AgentName:             envOr("POLLEN_AGENT_NAME", "pollen-agent-001"),
		Host:                  envOr("POLLEN_HOST", "0.0.0.0"),
		Port:                  envOr("POLLEN_PORT", "9000"),
		Env:                   envOr("POLLEN_ENV", "development"),
		HiveURL:               envOr("HIVE_URL", "http://localhost:3000"),
		HiveWSURL:             envOr("HIVE_WS_URL", "ws://localhost:3000/ws/pollen"),
		HiveAPIKey:            os.Getenv("HIVE_API_KEY"),
		LLMBackend:            envOr("LLM_BACKEND_TYPE", "ollama"),
		LLMBaseURL:            envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		LLMModel:              envOr("OLLAMA_MODEL", "llama3.1:8b"),
		HeartwareURL:          envOr("HEARTWARE_URL", "http://localhost:3001"),
		HeartwareAPIKey:       os.Getenv("HEARTWARE_API_KEY"),
		ShadowDBPath:          envOr("SHADOW_DB_PATH", "./data/shadow.db"),
		MasterKey:             os.Getenv("POLLEN_MASTER_KEY"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		VaultPath:             envOr("POLLEN_VAULT_PATH", "./data/vault"),
		SDAPIURL:              os.Getenv("SD_API_URL"),
		APIToken:              os.Getenv("POLLEN_API_TOKEN"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableWellnessAgent:   envBool("ENABLE_WELLNESS_AGENT", true),
		EnableCreativeAgent:   envBool("ENABLE_CREATIVE_AGENT", true),
		EnableSocialAgent:     envBool("ENABLE_SOCIAL_AGENT", false),
		EnableTechnicalAgent:  envBool("ENABLE_TECHNICAL_AGENT", true),
		EnableAdminAgent:      envBool("ENABLE_ADMIN_AGENT", false),
		AutoGraduate:          envBool("GRADUATION_AUTO_ENABLED", false),
		AutoExecuteTasks:      envBool("AUTO_EXECUTE_TASKS", false),
		RequireConsentPublish: envBool("REQUIRE_CONSENT_FOR_PUBLISH", true),
	}

	var err error
	if s.HiveReconnectEvery, err = envDuration("HIVE_RECONNECT_INTERVAL", 5*time.Second); err != nil {
		return Settings{}, err
	}
	if s.HiveMaxReconnects, err = envInt("HIVE_MAX_RECONNECT_ATTEMPTS", 10); err != nil {
		return Settings{}, err
	}
	if s.LLMTimeout, err = envDuration("OLLAMA_TIMEOUT", 60*time.Second); err != nil {
		return Settings{}, err
	}
	if s.HeartwarePollEvery, err = envDuration("HEARTWARE_POLL_INTERVAL", 60*time.Second); err != nil {
		return Settings{}, err
	}
	if s.HoneyThreshold, err = envFloat("SHADOW_HONEY_THRESHOLD", 1000); err != nil {
		return Settings{}, err
	}
	if s.MaxCognitiveLoad, err = envFloat("WELLNESS_MAX_COGNITIVE_LOAD", 7.0); err != nil {
		return Settings{}, err
	}
	if s.HRVThreshold, err = envFloat("WELLNESS_HRV_THRESHOLD", 45.0); err != nil {
		return Settings{}, err
	}
	if s.HistoryLimit, err = envInt("WELLNESS_HISTORY_LIMIT", 500); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %q", key, v)
	}
	return f, nil
}

// envDuration reads a duration that may be given either as a Go duration
// string ("5s", "1m") or, for compatibility with the legacy deployment
// scripts, as a bare number of seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, v)
	}
	return d, nil
}
