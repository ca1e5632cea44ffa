// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package hive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSpawn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/spawn" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Hive-API-Key"); got != "hive-key" {
			t.Errorf("api key = %q", got)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["agent_type"] != "pollen" {
			t.Errorf("agent_type = %v", payload["agent_type"])
		}
		if payload["agent_name"] != "pollen-test" {
			t.Errorf("agent_name = %v", payload["agent_name"])
		}
		json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_7", "bee_role": "forager"})
	}))
	defer srv.Close()

	s, err := NewSpawner(Config{HiveURL: srv.URL, APIKey: "hive-key", AgentName: "pollen-test"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if result.AgentID != "agent_7" || result.BeeRole != "forager" {
		t.Errorf("result = %+v", result)
	}
	if s.AgentID() != "agent_7" {
		t.Errorf("AgentID = %q", s.AgentID())
	}
}

func TestSpawnDefaultsBeeRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_1"})
	}))
	defer srv.Close()

	s, err := NewSpawner(Config{HiveURL: srv.URL, AgentName: "pollen-test"})
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.Spawn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.BeeRole != "worker" {
		t.Errorf("bee_role = %q, want worker", result.BeeRole)
	}
}

func TestRunRequiresSpawn(t *testing.T) {
	s, err := NewSpawner(Config{HiveURL: "http://localhost:9", AgentName: "pollen-test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected error before spawn")
	}
}

func TestTaskHandling(t *testing.T) {
	upgrader := websocket.Upgrader{}
	acks := make(chan map[string]any, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/spawn":
			json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_ws"})
		case strings.HasPrefix(r.URL.Path, "/ws/"):
			if got := r.Header.Get("X-Agent-ID"); got != "agent_ws" {
				t.Errorf("agent id header = %q", got)
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("upgrade: %v", err)
				return
			}
			defer conn.Close()

			conn.WriteJSON(map[string]any{
				"type": "task", "task_id": "t1", "task_type": "wellness_check",
				"payload": map[string]any{"hrv": 55.0},
			})
			conn.WriteJSON(map[string]any{"type": "heartbeat"})

			for i := 0; i < 2; i++ {
				var reply map[string]any
				if err := conn.ReadJSON(&reply); err != nil {
					return
				}
				acks <- reply
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	s, err := NewSpawner(Config{
		HiveURL:              srv.URL,
		HiveWSURL:            wsURL,
		AgentName:            "pollen-test",
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	var tasks atomic.Int32
	s.OnTask(func(ctx context.Context, task Task) error {
		if task.ID != "t1" || task.Type != "wellness_check" || task.Priority != "normal" || task.Source != "hive" {
			t.Errorf("task = %+v", task)
		}
		tasks.Add(1)
		return nil
	})

	if _, err := s.Spawn(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	var got []map[string]any
	for len(got) < 2 {
		select {
		case reply := <-acks:
			got = append(got, reply)
		case <-ctx.Done():
			t.Fatal("timed out waiting for acks")
		}
	}
	cancel()
	<-runErr

	if tasks.Load() != 1 {
		t.Errorf("task handler ran %d times, want 1", tasks.Load())
	}

	types := map[string]bool{}
	for _, reply := range got {
		typ, _ := reply["type"].(string)
		types[typ] = true
		if reply["agent_id"] != "agent_ws" {
			t.Errorf("ack agent_id = %v", reply["agent_id"])
		}
	}
	if !types["task_ack"] || !types["heartbeat_ack"] {
		t.Errorf("ack types = %v, want task_ack and heartbeat_ack", types)
	}
}

func TestReconnectBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/spawn" {
			json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_x"})
			return
		}
		// Refuse the websocket upgrade every time.
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	s, err := NewSpawner(Config{
		HiveURL:              srv.URL,
		HiveWSURL:            wsURL,
		AgentName:            "pollen-test",
		ReconnectInterval:    time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Spawn(context.Background()); err != nil {
		t.Fatal(err)
	}

	err = s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("Run error = %v, want exhaustion after 3 attempts", err)
	}
}

func TestReconnectBudgetResetsAfterSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/spawn" {
			json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_r"})
			return
		}
		// Accept every dial, then drop the session immediately.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sessions.Add(1)
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	s, err := NewSpawner(Config{
		HiveURL:              srv.URL,
		HiveWSURL:            wsURL,
		AgentName:            "pollen-test",
		ReconnectInterval:    time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Spawn(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	// Far more drops than the budget; every dial succeeds, so the
	// budget must keep restoring instead of exhausting.
	deadline := time.After(2 * time.Second)
	for sessions.Load() < 6 {
		select {
		case err := <-runErr:
			t.Fatalf("Run gave up after %d sessions: %v", sessions.Load(), err)
		case <-deadline:
			t.Fatalf("timed out after %d sessions", sessions.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	if err := <-runErr; err != nil && strings.Contains(err.Error(), "attempts") {
		t.Errorf("Run error = %v, want cancellation, not budget exhaustion", err)
	}
}

func TestSubmitProof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/spawn":
			json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_p"})
		case "/consensus/proof":
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["agent_id"] != "agent_p" || payload["task_id"] != "t9" {
				t.Errorf("payload = %v", payload)
			}
			json.NewEncoder(w).Encode(map[string]any{"consensus_status": "validating"})
		}
	}))
	defer srv.Close()

	s, err := NewSpawner(Config{HiveURL: srv.URL, AgentName: "pollen-test"})
	if err != nil {
		t.Fatal(err)
	}

	// Proofs require spawn first.
	if _, err := s.SubmitProof(context.Background(), "t9", nil); err == nil {
		t.Error("expected error before spawn")
	}

	if _, err := s.Spawn(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := s.SubmitProof(context.Background(), "t9", map[string]any{"hash": "abc"})
	if err != nil {
		t.Fatalf("SubmitProof failed: %v", err)
	}
	if result["consensus_status"] != "validating" {
		t.Errorf("result = %v", result)
	}
}
