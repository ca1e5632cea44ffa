// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hive manages the agent's lifecycle inside the Hive: spawn
// registration, the persistent websocket to Hive HQ, heartbeats, and
// task receipt.
package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// agentVersion is reported at spawn time.
const agentVersion = "v1.0.0"

// Capabilities declares which agent roles this node serves.
type Capabilities struct {
	Wellness  bool `json:"wellness"`
	Creative  bool `json:"creative"`
	Social    bool `json:"social"`
	Technical bool `json:"technical"`
	Admin     bool `json:"admin"`
}

// Task is one unit of work handed down by the Hive.
type Task struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Priority string         `json:"priority"`
	Source   string         `json:"source"`
}

// TaskHandler processes a Hive task. Handler errors are logged, never
// propagated to the Hive.
type TaskHandler func(ctx context.Context, task Task) error

// GraduationHandler fires on a graduation signal from the Hive.
type GraduationHandler func(newLevel int)

// SpawnResult is the Hive's registration response.
type SpawnResult struct {
	AgentID string `json:"agent_id"`
	BeeRole string `json:"bee_role"`
}

// Config holds the spawner settings.
type Config struct {
	// HiveURL is the Hive HTTP API base.
	HiveURL string
	// HiveWSURL is the websocket base; the agent id is appended.
	HiveWSURL string
	// APIKey is sent as X-Hive-API-Key.
	APIKey string
	// AgentName is the name registered at spawn.
	AgentName    string
	Capabilities Capabilities
	// ReconnectInterval is the base backoff between websocket
	// attempts. Defaults to 5s; backoff grows linearly, capped at
	// one minute.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds consecutive failed connections
	// before Run gives up. Defaults to 10.
	MaxReconnectAttempts int
	Logger               *slog.Logger
}

// Spawner registers the agent with the Hive and keeps its websocket
// alive.
type Spawner struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu        sync.RWMutex
	agentID   string
	beeRole   string
	connected bool

	handlerMu    sync.RWMutex
	taskHandlers []TaskHandler
	onGraduation []GraduationHandler
}

// NewSpawner builds a spawner.
func NewSpawner(cfg Config) (*Spawner, error) {
	if cfg.HiveURL == "" {
		return nil, fmt.Errorf("hive url not configured")
	}
	if cfg.AgentName == "" {
		return nil, fmt.Errorf("agent name not configured")
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Spawner{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}, nil
}

// OnTask registers a handler for incoming Hive tasks.
func (s *Spawner) OnTask(handler TaskHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.taskHandlers = append(s.taskHandlers, handler)
}

// OnGraduation registers a handler for graduation signals.
func (s *Spawner) OnGraduation(handler GraduationHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onGraduation = append(s.onGraduation, handler)
}

// AgentID returns the Hive-assigned agent id, empty before spawn.
func (s *Spawner) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

// Connected reports whether the websocket is currently up.
func (s *Spawner) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// =============================================================================
// Spawn
// =============================================================================

// Spawn registers this agent with the Hive and stores the assigned
// credentials.
func (s *Spawner) Spawn(ctx context.Context) (*SpawnResult, error) {
	s.log.Info("spawning pollen agent", "agent_name", s.cfg.AgentName)

	payload := map[string]any{
		"agent_type":   "pollen",
		"agent_name":   s.cfg.AgentName,
		"capabilities": s.cfg.Capabilities,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"version":      agentVersion,
	}

	var result SpawnResult
	if err := s.post(ctx, "/spawn", payload, &result); err != nil {
		return nil, fmt.Errorf("spawn failed: %w", err)
	}
	if result.BeeRole == "" {
		result.BeeRole = "worker"
	}

	s.mu.Lock()
	s.agentID = result.AgentID
	s.beeRole = result.BeeRole
	s.mu.Unlock()

	s.log.Info("spawned successfully",
		"agent_id", result.AgentID,
		"bee_role", result.BeeRole,
	)
	return &result, nil
}

// =============================================================================
// Websocket lifecycle
// =============================================================================

// Run keeps the Hive websocket alive until the context is canceled or
// the reconnect budget is exhausted. Spawn must have succeeded first.
func (s *Spawner) Run(ctx context.Context) error {
	agentID := s.AgentID()
	if agentID == "" {
		return fmt.Errorf("must spawn before connecting websocket")
	}
	if s.cfg.HiveWSURL == "" {
		return fmt.Errorf("hive websocket url not configured")
	}
	wsURL := strings.TrimSuffix(s.cfg.HiveWSURL, "/") + "/" + agentID

	attempts := 0
	for attempts < s.cfg.MaxReconnectAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		dialed, err := s.connectOnce(ctx, wsURL, agentID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if dialed {
			// A session that got as far as a live connection restores
			// the full budget; only consecutive failed dials count
			// against it.
			attempts = 0
		}
		if err != nil {
			s.log.Warn("hive connection lost", "error", err)
		}

		attempts++
		wait := time.Duration(attempts) * s.cfg.ReconnectInterval
		if wait > time.Minute {
			wait = time.Minute
		}
		s.log.Info("reconnecting to hive", "wait", wait, "attempt", attempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to maintain hive connection after %d attempts", attempts)
}

// connectOnce dials the Hive and pumps messages until the session
// ends. The bool reports whether the dial itself succeeded, so the
// caller can distinguish a dropped session from a refused one.
func (s *Spawner) connectOnce(ctx context.Context, wsURL, agentID string) (bool, error) {
	header := http.Header{}
	header.Set("X-Agent-ID", agentID)
	if s.cfg.APIKey != "" {
		header.Set("X-Hive-API-Key", s.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return false, fmt.Errorf("dial hive: %w", err)
	}
	defer conn.Close()

	s.setConnected(true)
	defer s.setConnected(false)
	s.log.Info("connected to hive consciousness")

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

	return true, s.handleMessages(ctx, conn, agentID)
}

func (s *Spawner) setConnected(up bool) {
	s.mu.Lock()
	s.connected = up
	s.mu.Unlock()
}

type hiveMessage struct {
	Type     string         `json:"type"`
	TaskID   string         `json:"task_id"`
	TaskType string         `json:"task_type"`
	Payload  map[string]any `json:"payload"`
	Priority string         `json:"priority"`
	Result   string         `json:"result"`
	NewLevel int            `json:"new_level"`
}

func (s *Spawner) handleMessages(ctx context.Context, conn *websocket.Conn, agentID string) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg hiveMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn("invalid json from hive")
			continue
		}

		switch msg.Type {
		case "task":
			s.log.Info("task received from hive", "task_type", msg.TaskType)
			s.handleTask(ctx, conn, agentID, msg)
		case "heartbeat":
			s.sendJSON(conn, map[string]any{
				"type":      "heartbeat_ack",
				"agent_id":  agentID,
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
				"status":    "healthy",
			})
		case "consensus":
			s.log.Info("consensus received", "task_id", msg.TaskID, "result", msg.Result)
		case "graduation":
			s.log.Info("graduation signal received", "new_level", msg.NewLevel)
			s.handlerMu.RLock()
			handlers := make([]GraduationHandler, len(s.onGraduation))
			copy(handlers, s.onGraduation)
			s.handlerMu.RUnlock()
			for _, handler := range handlers {
				handler(msg.NewLevel)
			}
		default:
			s.log.Debug("hive message", "type", msg.Type)
		}
	}
}

func (s *Spawner) handleTask(ctx context.Context, conn *websocket.Conn, agentID string, msg hiveMessage) {
	priority := msg.Priority
	if priority == "" {
		priority = "normal"
	}
	task := Task{
		ID:       msg.TaskID,
		Type:     msg.TaskType,
		Payload:  msg.Payload,
		Priority: priority,
		Source:   "hive",
	}

	s.handlerMu.RLock()
	handlers := make([]TaskHandler, len(s.taskHandlers))
	copy(handlers, s.taskHandlers)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, task); err != nil {
			s.log.Error("task handler error", "task_id", task.ID, "error", err)
		}
	}

	s.sendJSON(conn, map[string]any{
		"type":      "task_ack",
		"agent_id":  agentID,
		"task_id":   task.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Spawner) sendJSON(conn *websocket.Conn, payload map[string]any) {
	if err := conn.WriteJSON(payload); err != nil {
		s.log.Error("failed to send to hive", "error", err)
	}
}

// =============================================================================
// Proofs
// =============================================================================

// SubmitProof sends a task proof to the Hive over HTTP.
func (s *Spawner) SubmitProof(ctx context.Context, taskID string, proof map[string]any) (map[string]any, error) {
	agentID := s.AgentID()
	if agentID == "" {
		return nil, fmt.Errorf("must spawn before submitting proofs")
	}

	payload := map[string]any{
		"type":      "proof",
		"agent_id":  agentID,
		"task_id":   taskID,
		"proof":     proof,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}

	var result map[string]any
	if err := s.post(ctx, "/consensus/proof", payload, &result); err != nil {
		return nil, fmt.Errorf("proof submission failed: %w", err)
	}
	s.log.Info("proof submitted", "consensus_status", result["consensus_status"])
	return result, nil
}

func (s *Spawner) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(s.cfg.HiveURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Hive-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hive returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
