// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consensus submits proof-of-activity hashes to the Hive for
// validation and tracks them through reward confirmation. Validation
// results arrive over a websocket stream; rewards are requested over
// HTTP once consensus approves a proof.
package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("pollen.consensus")

// ProofStatus tracks a proof through the consensus pipeline.
type ProofStatus string

const (
	ProofPending    ProofStatus = "pending"
	ProofValidating ProofStatus = "validating"
	ProofApproved   ProofStatus = "approved"
	ProofRejected   ProofStatus = "rejected"
	ProofRewarded   ProofStatus = "rewarded"
)

// Proof is one submission to the Hive.
type Proof struct {
	ProofID         string         `json:"proof_id"`
	AgentID         string         `json:"agent_id"`
	ActivityType    string         `json:"activity_type"`
	ProofHash       string         `json:"proof_hash"`
	ValueScore      float64        `json:"value_score"`
	Metadata        map[string]any `json:"metadata"`
	SubmittedAt     string         `json:"submitted_at"`
	Status          ProofStatus    `json:"status"`
	ConsensusResult map[string]any `json:"consensus_result,omitempty"`
	RewardTxHash    string         `json:"reward_tx_hash,omitempty"`
}

// ValidationCallback fires when consensus approves a proof.
type ValidationCallback func(proof Proof)

// RewardCallback fires when a reward transaction is confirmed.
type RewardCallback func(proof Proof, txHash string)

// Config holds the consensus client settings.
type Config struct {
	// HiveURL is the Hive HTTP API base, e.g. http://hive:9000.
	HiveURL string
	// HiveWSURL is the websocket base for the consensus stream,
	// e.g. ws://hive:9000.
	HiveWSURL string
	// APIKey is sent as X-Hive-API-Key on every HTTP call.
	APIKey string
	// AgentID identifies this agent in submissions.
	AgentID string
	Logger  *slog.Logger
}

// Client submits proofs and listens for consensus results.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu     sync.RWMutex
	proofs map[string]*Proof

	cbMu         sync.RWMutex
	onValidation []ValidationCallback
	onReward     []RewardCallback
}

// NewClient builds a consensus client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.HiveURL == "" {
		return nil, fmt.Errorf("hive url not configured")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log,
		proofs: make(map[string]*Proof),
	}, nil
}

// OnValidation registers a callback for approved proofs.
func (c *Client) OnValidation(cb ValidationCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onValidation = append(c.onValidation, cb)
}

// OnReward registers a callback for confirmed rewards.
func (c *Client) OnReward(cb RewardCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onReward = append(c.onReward, cb)
}

// =============================================================================
// Submission
// =============================================================================

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// SubmitProof sends one proof to the Hive. An accepted proof moves to
// validating; a declined proof is recorded as rejected with no error.
func (c *Client) SubmitProof(ctx context.Context, activityType, proofHash string, valueScore float64, metadata map[string]any) (*Proof, error) {
	ctx, span := tracer.Start(ctx, "consensus.submit_proof")
	defer span.End()

	if metadata == nil {
		metadata = map[string]any{}
	}
	proof := &Proof{
		ProofID:      "proof_" + uuid.NewString(),
		AgentID:      c.cfg.AgentID,
		ActivityType: activityType,
		ProofHash:    proofHash,
		ValueScore:   valueScore,
		Metadata:     metadata,
		SubmittedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Status:       ProofPending,
	}

	payload := map[string]any{
		"type":          "proof_submission",
		"proof_id":      proof.ProofID,
		"agent_id":      proof.AgentID,
		"activity_type": activityType,
		"proof_hash":    proofHash,
		"value_score":   valueScore,
		"metadata":      metadata,
		"timestamp":     proof.SubmittedAt,
	}

	var result submitResponse
	if err := c.post(ctx, "/consensus/submit", payload, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "proof submission failed")
		return nil, fmt.Errorf("proof submission failed: %w", err)
	}

	if result.Accepted {
		proof.Status = ProofValidating
		c.log.Info("proof submitted",
			"proof_id", proof.ProofID,
			"activity_type", activityType,
			"value_score", valueScore,
		)
	} else {
		proof.Status = ProofRejected
		c.log.Warn("proof declined", "proof_id", proof.ProofID, "reason", result.Reason)
	}

	c.mu.Lock()
	c.proofs[proof.ProofID] = proof
	c.mu.Unlock()
	return proof, nil
}

// BatchSubmit submits several proofs, skipping failures. Every proof
// that reached the Hive is returned.
func (c *Client) BatchSubmit(ctx context.Context, submissions []struct {
	ActivityType string
	ProofHash    string
	ValueScore   float64
	Metadata     map[string]any
}) []*Proof {
	var results []*Proof
	for _, s := range submissions {
		proof, err := c.SubmitProof(ctx, s.ActivityType, s.ProofHash, s.ValueScore, s.Metadata)
		if err != nil {
			c.log.Error("batch submission entry failed", "error", err)
			continue
		}
		results = append(results, proof)
	}
	return results
}

// =============================================================================
// Validation stream
// =============================================================================

const (
	reconnectDelay     = 5 * time.Second
	listenerErrorDelay = 10 * time.Second
)

type streamMessage struct {
	Type           string         `json:"type"`
	ProofID        string         `json:"proof_id"`
	Result         string         `json:"result"`
	Reason         string         `json:"reason"`
	Confidence     float64        `json:"confidence"`
	ValidatorCount int            `json:"validator_count"`
	TxHash         string         `json:"tx_hash"`
	HoneyAmount    float64        `json:"honey_amount"`
	Raw            map[string]any `json:"-"`
}

// RunListener consumes the Hive consensus stream until the context is
// canceled, reconnecting on disconnects.
func (c *Client) RunListener(ctx context.Context) error {
	if c.cfg.HiveWSURL == "" {
		return fmt.Errorf("hive websocket url not configured")
	}
	wsURL := strings.TrimSuffix(c.cfg.HiveWSURL, "/") + "/consensus"

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.listenOnce(ctx, wsURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("consensus stream disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) listenOnce(ctx context.Context, wsURL string) error {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-Hive-API-Key", c.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial consensus stream: %w", err)
	}
	defer conn.Close()
	c.log.Info("connected to hive consensus stream")

	// Unblock ReadMessage when the context dies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("invalid json in consensus stream")
			continue
		}
		var rawMap map[string]any
		_ = json.Unmarshal(raw, &rawMap)
		msg.Raw = rawMap

		switch msg.Type {
		case "consensus_result":
			c.handleConsensusResult(ctx, msg)
		case "reward_confirmed":
			c.handleRewardConfirmation(msg)
		}
	}
}

func (c *Client) handleConsensusResult(ctx context.Context, msg streamMessage) {
	c.mu.Lock()
	proof, ok := c.proofs[msg.ProofID]
	if !ok {
		c.mu.Unlock()
		c.log.Warn("consensus result for unknown proof", "proof_id", msg.ProofID)
		return
	}
	proof.ConsensusResult = msg.Raw

	if msg.Result != "approved" {
		proof.Status = ProofRejected
		c.mu.Unlock()
		c.log.Warn("proof rejected by consensus",
			"proof_id", msg.ProofID,
			"reason", msg.Reason,
		)
		return
	}

	proof.Status = ProofApproved
	snapshot := *proof
	c.mu.Unlock()

	c.log.Info("proof approved by consensus",
		"proof_id", msg.ProofID,
		"confidence", msg.Confidence,
		"validator_count", msg.ValidatorCount,
	)

	c.cbMu.RLock()
	callbacks := make([]ValidationCallback, len(c.onValidation))
	copy(callbacks, c.onValidation)
	c.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(snapshot)
	}

	if err := c.requestReward(ctx, msg.ProofID); err != nil {
		c.log.Error("reward request failed", "proof_id", msg.ProofID, "error", err)
	}
}

type rewardResponse struct {
	TxHash string `json:"tx_hash"`
}

// requestReward asks the ledger for the Honey payout of an approved
// proof.
func (c *Client) requestReward(ctx context.Context, proofID string) error {
	c.mu.RLock()
	proof, ok := c.proofs[proofID]
	if !ok {
		c.mu.RUnlock()
		return fmt.Errorf("unknown proof: %s", proofID)
	}
	payload := map[string]any{
		"type":            "reward_request",
		"proof_id":        proof.ProofID,
		"agent_id":        proof.AgentID,
		"activity_type":   proof.ActivityType,
		"value_score":     proof.ValueScore,
		"consensus_proof": proof.ConsensusResult,
	}
	c.mu.RUnlock()

	var result rewardResponse
	if err := c.post(ctx, "/ledger/reward", payload, &result); err != nil {
		return err
	}
	if result.TxHash == "" {
		return nil
	}

	c.mu.Lock()
	proof.RewardTxHash = result.TxHash
	proof.Status = ProofRewarded
	snapshot := *proof
	c.mu.Unlock()

	c.log.Info("reward confirmed", "proof_id", proofID, "tx_hash", truncateHash(result.TxHash))

	c.cbMu.RLock()
	callbacks := make([]RewardCallback, len(c.onReward))
	copy(callbacks, c.onReward)
	c.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(snapshot, result.TxHash)
	}
	return nil
}

func (c *Client) handleRewardConfirmation(msg streamMessage) {
	c.mu.Lock()
	proof, ok := c.proofs[msg.ProofID]
	if !ok {
		c.mu.Unlock()
		return
	}
	proof.RewardTxHash = msg.TxHash
	proof.Status = ProofRewarded
	c.mu.Unlock()

	c.log.Info("on-chain reward confirmed",
		"proof_id", msg.ProofID,
		"tx_hash", msg.TxHash,
		"honey_amount", msg.HoneyAmount,
	)
}

// =============================================================================
// Queries
// =============================================================================

// Status returns the local view of a proof, falling back to the Hive
// for proofs this client never submitted. Unknown proofs yield
// (nil, nil).
func (c *Client) Status(ctx context.Context, proofID string) (*Proof, error) {
	c.mu.RLock()
	proof, ok := c.proofs[proofID]
	if ok {
		snapshot := *proof
		c.mu.RUnlock()
		return &snapshot, nil
	}
	c.mu.RUnlock()

	var remote Proof
	status, err := c.get(ctx, "/consensus/status/"+proofID, &remote)
	if err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &remote, nil
}

// TxVerification is the on-chain view of a reward transaction.
type TxVerification struct {
	Verified      bool    `json:"verified"`
	TxHash        string  `json:"tx_hash"`
	BlockNumber   int64   `json:"block_number,omitempty"`
	Confirmations int     `json:"confirmations,omitempty"`
	HoneyAmount   float64 `json:"honey_amount,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// VerifyOnChain checks a reward transaction against the ledger. A
// failed lookup reports unverified rather than erroring.
func (c *Client) VerifyOnChain(ctx context.Context, txHash string) TxVerification {
	var tx struct {
		BlockNumber   int64   `json:"block_number"`
		Confirmations int     `json:"confirmations"`
		Value         float64 `json:"value"`
		Timestamp     string  `json:"timestamp"`
	}
	status, err := c.get(ctx, "/ledger/tx/"+txHash, &tx)
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("ledger returned status %d", status)
	}
	if err != nil {
		c.log.Error("on-chain verification failed", "tx_hash", txHash, "error", err)
		return TxVerification{Verified: false, TxHash: txHash, Error: err.Error()}
	}
	return TxVerification{
		Verified:      true,
		TxHash:        txHash,
		BlockNumber:   tx.BlockNumber,
		Confirmations: tx.Confirmations,
		HoneyAmount:   tx.Value,
		Timestamp:     tx.Timestamp,
	}
}

// Stats summarizes consensus participation.
type Stats struct {
	TotalProofsSubmitted  int            `json:"total_proofs_submitted"`
	ByStatus              map[string]int `json:"by_status"`
	TotalRewardsConfirmed int            `json:"total_rewards_confirmed"`
	SuccessRate           float64        `json:"success_rate"`
}

// GetStats reports submission totals and the reward success rate.
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		TotalProofsSubmitted: len(c.proofs),
		ByStatus:             make(map[string]int),
	}
	for _, proof := range c.proofs {
		stats.ByStatus[string(proof.Status)]++
		if proof.RewardTxHash != "" {
			stats.TotalRewardsConfirmed++
		}
	}
	divisor := stats.TotalProofsSubmitted
	if divisor == 0 {
		divisor = 1
	}
	rate := float64(stats.TotalRewardsConfirmed) / float64(divisor) * 100
	stats.SuccessRate = math.Round(rate*10) / 10
	return stats
}

// PendingProofs lists proofs still moving through the pipeline, oldest
// first.
func (c *Client) PendingProofs() []Proof {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pending []Proof
	for _, proof := range c.proofs {
		if proof.Status == ProofPending || proof.Status == ProofValidating || proof.Status == ProofApproved {
			pending = append(pending, *proof)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SubmittedAt < pending[j].SubmittedAt })
	return pending
}

// =============================================================================
// HTTP plumbing
// =============================================================================

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.cfg.HiveURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Hive-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hive returned status %d: %s", resp.StatusCode, truncateHash(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(c.cfg.HiveURL, "/")+path, nil)
	if err != nil {
		return 0, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Hive-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func truncateHash(s string) string {
	if len(s) <= 20 {
		return s
	}
	return s[:20] + "..."
}
