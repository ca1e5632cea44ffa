// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package biometrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pollenhive/pollen/services/wellness"
)

func newBridge(t *testing.T, handler http.HandlerFunc) *Bridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := NewBridge(Config{LedgerURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func authenticate(t *testing.T, b *Bridge) {
	t.Helper()
	ok, err := b.Connect(context.Background(), "did:pollen:test", "sig")
	if err != nil || !ok {
		t.Fatalf("Connect: ok=%v err=%v", ok, err)
	}
}

func TestConnect(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/verify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["did"] != "did:pollen:test" {
			t.Errorf("did = %v", payload["did"])
		}
		json.NewEncoder(w).Encode(map[string]any{"session_token": "tok123"})
	})

	if b.Authenticated() {
		t.Error("authenticated before connect")
	}
	authenticate(t, b)
	if !b.Authenticated() {
		t.Error("not authenticated after connect")
	}
}

func TestConnectRejected(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	})
	ok, err := b.Connect(context.Background(), "did:pollen:test", "bad")
	if err != nil {
		t.Fatalf("Connect errored: %v", err)
	}
	if ok {
		t.Error("expected rejection")
	}
}

func TestSubmitCodeProof(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/verify":
			json.NewEncoder(w).Encode(map[string]any{"session_token": "tok"})
		case "/api/consensus/submit-proof":
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("authorization = %q", got)
			}
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["type"] != "CODE_PROOF" {
				t.Errorf("type = %v", payload["type"])
			}
			if payload["wellness_score"] == nil {
				t.Error("wellness_score missing")
			}
			json.NewEncoder(w).Encode(map[string]any{"tx_id": "tx_42"})
		}
	})

	// Unauthenticated submission must fail.
	if _, err := b.SubmitCodeProof(context.Background(), "hash", nil, "did:a", nil); err == nil {
		t.Error("expected error before authentication")
	}

	authenticate(t, b)
	receipt, err := b.SubmitCodeProof(context.Background(), "hash",
		map[string]any{"hrv": 60.0, "sleep_score": 8.0, "stress_level": "low"}, "did:a", nil)
	if err != nil {
		t.Fatalf("SubmitCodeProof failed: %v", err)
	}
	if receipt.TxID != "tx_42" {
		t.Errorf("tx id = %q", receipt.TxID)
	}
}

func TestValidateBuildToken(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("did") != "self" {
			t.Errorf("did = %q", r.URL.Query().Get("did"))
		}
		json.NewEncoder(w).Encode(map[string]any{"WELL": 1.2})
	})

	t.Run("sufficient balance", func(t *testing.T) {
		ok, required, err := b.ValidateBuildToken(context.Background(), "balanced", "")
		if err != nil {
			t.Fatal(err)
		}
		if !ok || required.WELL != 1.0 {
			t.Errorf("ok=%v required=%+v", ok, required)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		ok, required, err := b.ValidateBuildToken(context.Background(), "full", "")
		if ok || err == nil {
			t.Errorf("ok=%v err=%v", ok, err)
		}
		if required.WELL != 2.0 {
			t.Errorf("required = %+v", required)
		}
	})

	t.Run("unknown complexity prices as balanced", func(t *testing.T) {
		_, required, _ := b.ValidateBuildToken(context.Background(), "extreme", "")
		if required.WELL != 1.0 {
			t.Errorf("required = %+v", required)
		}
	})
}

func TestLogImpact(t *testing.T) {
	var rewardCalled bool
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/verify":
			json.NewEncoder(w).Encode(map[string]any{"session_token": "tok"})
		case "/api/wellness/log-impact":
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["impact_assessment"] != "positive" {
				t.Errorf("impact = %v", payload["impact_assessment"])
			}
			if payload["hrv_change"] != 8.0 {
				t.Errorf("hrv_change = %v", payload["hrv_change"])
			}
			json.NewEncoder(w).Encode(map[string]any{"tx_id": "tx_imp"})
		case "/api/economics/reward":
			rewardCalled = true
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["amount"] != 16.0 {
				t.Errorf("reward amount = %v", payload["amount"])
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
		}
	})
	authenticate(t, b)

	txID, err := b.LogImpact(context.Background(), ImpactLog{
		CodeID: "code_1", PreHRV: 50, PostHRV: 58, DurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("LogImpact failed: %v", err)
	}
	if txID != "tx_imp" {
		t.Errorf("tx id = %q", txID)
	}
	if !rewardCalled {
		t.Error("positive impact did not trigger reward")
	}
}

func TestAssessImpact(t *testing.T) {
	tests := []struct {
		pre, post float64
		want      ImpactAssessment
	}{
		{50, 58, ImpactPositive},
		{50, 52, ImpactNeutral},
		{50, 46, ImpactNeutral},
		{50, 40, ImpactNegative},
	}
	for _, tt := range tests {
		if got := AssessImpact(tt.pre, tt.post); got != tt.want {
			t.Errorf("AssessImpact(%v, %v) = %s, want %s", tt.pre, tt.post, got, tt.want)
		}
	}
}

func TestWellnessScore(t *testing.T) {
	tests := []struct {
		name    string
		metrics map[string]any
		want    float64
	}{
		{"optimal", map[string]any{"hrv": 100.0, "sleep_score": 10.0, "stress_level": "low"}, 100.0},
		{"defaults", map[string]any{}, 56.0},
		{"high stress", map[string]any{"hrv": 50.0, "sleep_score": 7.0, "stress_level": "high"}, 51.0},
		{"hrv capped at 40 points", map[string]any{"hrv": 200.0, "sleep_score": 10.0, "stress_level": "low"}, 100.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WellnessScore(tt.metrics); got != tt.want {
				t.Errorf("WellnessScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCurrentFallsBackToDefaults(t *testing.T) {
	b, err := NewBridge(Config{LedgerURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	got := b.Current(context.Background())
	want := wellness.DefaultBiometricContext()
	if got != want {
		t.Errorf("Current = %+v, want defaults %+v", got, want)
	}
}

func TestCurrentCachesReading(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"hrv": 62.0, "sleep_score": 8.5, "stress_level": "medium",
		})
	})

	got := b.Current(context.Background())
	if got.HRV != 62.0 || got.SleepScore != 8.5 || got.StressLevel != wellness.StressMedium {
		t.Errorf("Current = %+v", got)
	}
}

func TestLeaderboard(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("timeframe") != "week" {
			t.Errorf("timeframe = %q", r.URL.Query().Get("timeframe"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"leaders": []map[string]any{{"did": "did:a", "score": 98.0}},
		})
	})

	leaders := b.Leaderboard(context.Background(), "")
	if len(leaders) != 1 || leaders[0]["did"] != "did:a" {
		t.Errorf("leaders = %+v", leaders)
	}
}
