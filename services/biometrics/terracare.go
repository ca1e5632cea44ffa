// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package biometrics bridges to the Terracare ledger: code proof
// submission, WELL token validation, and physiological impact logging.
// Biometric reads degrade to permissive defaults so a missing wearable
// never blocks the developer.
package biometrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pollenhive/pollen/services/wellness"
)

// Config holds the Terracare bridge settings.
type Config struct {
	// LedgerURL is the Terracare API base, e.g. http://localhost:3000.
	LedgerURL string
	Logger    *slog.Logger
}

// Bridge talks to the Terracare ledger.
type Bridge struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu           sync.RWMutex
	sessionToken string
	latest       *wellness.BiometricContext
}

// NewBridge builds a Terracare bridge.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.LedgerURL == "" {
		return nil, fmt.Errorf("ledger url not configured")
	}
	cfg.LedgerURL = strings.TrimSuffix(cfg.LedgerURL, "/")
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}, nil
}

// Connect authenticates with the ledger using a DID and a signed
// challenge. Returns false on rejection without erroring.
func (b *Bridge) Connect(ctx context.Context, did, signature string) (bool, error) {
	var result struct {
		SessionToken string `json:"session_token"`
	}
	status, err := b.post(ctx, "/api/auth/verify", map[string]any{
		"did":       did,
		"signature": signature,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}, &result)
	if err != nil {
		return false, fmt.Errorf("terracare connection failed: %w", err)
	}
	if status != http.StatusOK {
		b.log.Error("terracare auth rejected", "status", status)
		return false, nil
	}

	b.mu.Lock()
	b.sessionToken = result.SessionToken
	b.mu.Unlock()
	b.log.Info("connected to terracare", "did", did)
	return true, nil
}

// Authenticated reports whether a session token is held.
func (b *Bridge) Authenticated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionToken != ""
}

// =============================================================================
// Code proofs
// =============================================================================

// ProofReceipt is the ledger's acknowledgment of a code proof.
type ProofReceipt struct {
	TxID string         `json:"tx_id"`
	Data map[string]any `json:"-"`
}

// SubmitCodeProof records a code creation on the ledger with its
// wellness metrics. Requires an authenticated session.
func (b *Bridge) SubmitCodeProof(ctx context.Context, codeHash string, metrics map[string]any, authorDID string, metadata map[string]any) (*ProofReceipt, error) {
	if !b.Authenticated() {
		return nil, fmt.Errorf("not authenticated with terracare")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	payload := map[string]any{
		"type":             "CODE_PROOF",
		"code_hash":        codeHash,
		"wellness_metrics": metrics,
		"author_did":       authorDID,
		"timestamp":        time.Now().UTC().Format(time.RFC3339Nano),
		"wellness_score":   WellnessScore(metrics),
		"metadata":         metadata,
	}

	var raw map[string]any
	status, err := b.post(ctx, "/api/consensus/submit-proof", payload, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to submit code proof: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("proof submission failed with status %d", status)
	}

	txID, _ := raw["tx_id"].(string)
	b.log.Info("code proof submitted", "tx_id", txID)
	return &ProofReceipt{TxID: txID, Data: raw}, nil
}

// =============================================================================
// Token validation
// =============================================================================

// TokenCost is the WELL/MINE price of a generation.
type TokenCost struct {
	WELL float64 `json:"WELL"`
	MINE float64 `json:"MINE"`
}

var tokenCosts = map[string]TokenCost{
	"minimal":  {WELL: 0.5},
	"balanced": {WELL: 1.0},
	"full":     {WELL: 2.0},
}

// ValidateBuildToken checks that the user holds enough WELL for a
// generation of the given complexity. Unknown complexities price as
// balanced. The required cost is always returned.
func (b *Bridge) ValidateBuildToken(ctx context.Context, intentComplexity, userDID string) (bool, TokenCost, error) {
	required, ok := tokenCosts[intentComplexity]
	if !ok {
		required = tokenCosts["balanced"]
	}
	if userDID == "" {
		userDID = "self"
	}

	var balance struct {
		WELL float64 `json:"WELL"`
	}
	status, err := b.get(ctx, "/api/economics/balance", url.Values{"did": {userDID}}, &balance)
	if err != nil {
		return false, required, fmt.Errorf("token validation failed: %w", err)
	}
	if status != http.StatusOK {
		return false, required, fmt.Errorf("failed to query balance: status %d", status)
	}

	if balance.WELL < required.WELL {
		return false, required, fmt.Errorf("insufficient WELL: required %.1f, available %.1f", required.WELL, balance.WELL)
	}
	return true, required, nil
}

// =============================================================================
// Biometric impact
// =============================================================================

// ImpactAssessment buckets an HRV delta.
type ImpactAssessment string

const (
	ImpactPositive ImpactAssessment = "positive"
	ImpactNeutral  ImpactAssessment = "neutral"
	ImpactNegative ImpactAssessment = "negative"
)

// AssessImpact classifies a coding session by HRV change: more than
// +5ms is positive, worse than -5ms is negative.
func AssessImpact(preHRV, postHRV float64) ImpactAssessment {
	switch change := postHRV - preHRV; {
	case change > 5:
		return ImpactPositive
	case change > -5:
		return ImpactNeutral
	default:
		return ImpactNegative
	}
}

// ImpactLog describes the physiological cost of a coding session.
type ImpactLog struct {
	CodeID          string  `json:"code_id"`
	PreHRV          float64 `json:"pre_hrv"`
	PostHRV         float64 `json:"post_hrv"`
	PreStress       string  `json:"pre_stress"`
	PostStress      string  `json:"post_stress"`
	DurationMinutes int     `json:"duration_minutes"`
}

// LogImpact records a session's biometric impact on the ledger.
// Positive impact triggers a MINE reward request. Requires an
// authenticated session.
func (b *Bridge) LogImpact(ctx context.Context, log ImpactLog) (string, error) {
	if !b.Authenticated() {
		return "", fmt.Errorf("not authenticated with terracare")
	}
	if log.PreStress == "" {
		log.PreStress = "unknown"
	}
	if log.PostStress == "" {
		log.PostStress = "unknown"
	}

	change := log.PostHRV - log.PreHRV
	impact := AssessImpact(log.PreHRV, log.PostHRV)

	payload := map[string]any{
		"type":              "BIOMETRIC_IMPACT",
		"code_id":           log.CodeID,
		"pre_hrv":           log.PreHRV,
		"post_hrv":          log.PostHRV,
		"hrv_change":        change,
		"pre_stress":        log.PreStress,
		"post_stress":       log.PostStress,
		"duration_minutes":  log.DurationMinutes,
		"impact_assessment": impact,
		"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
	}

	var result struct {
		TxID string `json:"tx_id"`
	}
	status, err := b.post(ctx, "/api/wellness/log-impact", payload, &result)
	if err != nil {
		return "", fmt.Errorf("failed to log biometric impact: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("impact logging failed with status %d", status)
	}

	if impact == ImpactPositive {
		b.rewardPositiveImpact(ctx, log.CodeID, change)
	}

	b.log.Info("biometric impact logged", "tx_id", result.TxID, "impact", impact)
	return result.TxID, nil
}

// rewardPositiveImpact requests MINE for an HRV improvement, capped at
// 50. Best effort.
func (b *Bridge) rewardPositiveImpact(ctx context.Context, codeID string, hrvImprovement float64) {
	amount := hrvImprovement * 2
	if amount > 50 {
		amount = 50
	}
	_, err := b.post(ctx, "/api/economics/reward", map[string]any{
		"type":    "POSITIVE_BIOMETRIC_IMPACT",
		"code_id": codeID,
		"amount":  amount,
		"reason":  fmt.Sprintf("HRV improved by %.1fms", hrvImprovement),
	}, nil)
	if err != nil {
		b.log.Error("failed to reward positive impact", "error", err)
		return
	}
	b.log.Info("rewarded positive impact", "amount", amount)
}

// =============================================================================
// Wellness queries
// =============================================================================

// CodeWellnessHistory fetches the wellness record of a code id or
// author. Empty filters are omitted.
func (b *Bridge) CodeWellnessHistory(ctx context.Context, codeID, authorDID string) (map[string]any, error) {
	params := url.Values{}
	if codeID != "" {
		params.Set("code_id", codeID)
	}
	if authorDID != "" {
		params.Set("author_did", authorDID)
	}

	var history map[string]any
	status, err := b.get(ctx, "/api/wellness/code-history", params, &history)
	if err != nil {
		return nil, fmt.Errorf("failed to get wellness history: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("wellness history returned status %d", status)
	}
	return history, nil
}

// Leaderboard lists the most wellness-positive developers for the
// timeframe (day, week, month). Failures yield an empty list.
func (b *Bridge) Leaderboard(ctx context.Context, timeframe string) []map[string]any {
	if timeframe == "" {
		timeframe = "week"
	}
	var result struct {
		Leaders []map[string]any `json:"leaders"`
	}
	status, err := b.get(ctx, "/api/wellness/leaderboard", url.Values{"timeframe": {timeframe}}, &result)
	if err != nil || status != http.StatusOK {
		b.log.Error("failed to get leaderboard", "status", status, "error", err)
		return []map[string]any{}
	}
	return result.Leaders
}

// Current returns the latest biometric reading from the ledger. An
// unreachable ledger falls back to the last cached reading, or the
// permissive defaults, so validation never blocks on a wearable.
func (b *Bridge) Current(ctx context.Context) wellness.BiometricContext {
	var reading struct {
		HRV         float64 `json:"hrv"`
		SleepScore  float64 `json:"sleep_score"`
		StressLevel string  `json:"stress_level"`
	}
	status, err := b.get(ctx, "/api/biometrics/current", nil, &reading)
	if err != nil || status != http.StatusOK {
		b.mu.RLock()
		cached := b.latest
		b.mu.RUnlock()
		if cached != nil {
			return *cached
		}
		return wellness.DefaultBiometricContext()
	}

	bio := wellness.DefaultBiometricContext()
	if reading.HRV > 0 {
		bio.HRV = reading.HRV
	}
	if reading.SleepScore > 0 {
		bio.SleepScore = reading.SleepScore
	}
	if level, err := wellness.ParseStressLevel(reading.StressLevel); err == nil {
		bio.StressLevel = level
	}

	b.mu.Lock()
	b.latest = &bio
	b.mu.Unlock()
	return bio
}

// Poll refreshes the cached biometric reading on an interval until the
// context is canceled.
func (b *Bridge) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Current(ctx)
		}
	}
}

// WellnessScore folds raw metrics into a 0-100 score: HRV up to 40
// points, sleep up to 30, stress the remaining 30.
func WellnessScore(metrics map[string]any) float64 {
	hrv := floatOr(metrics, "hrv", 50)
	sleepScore := floatOr(metrics, "sleep_score", 7)
	stressLevel, _ := metrics["stress_level"].(string)

	hrvScore := hrv / 100 * 40
	if hrvScore > 40 {
		hrvScore = 40
	}
	if hrvScore < 0 {
		hrvScore = 0
	}

	sleepComponent := sleepScore / 10 * 30
	if sleepComponent > 30 {
		sleepComponent = 30
	}

	stressComponent := 15.0
	switch stressLevel {
	case "low":
		stressComponent = 30
	case "medium":
		stressComponent = 20
	case "high":
		stressComponent = 10
	}

	total := hrvScore + sleepComponent + stressComponent
	return math.Round(total*100) / 100
}

func floatOr(m map[string]any, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// =============================================================================
// HTTP plumbing
// =============================================================================

func (b *Bridge) post(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.LedgerURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (b *Bridge) get(ctx context.Context, path string, params url.Values, out any) (int, error) {
	target := b.cfg.LedgerURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	b.authorize(req)

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (b *Bridge) authorize(req *http.Request) {
	b.mu.RLock()
	token := b.sessionToken
	b.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
