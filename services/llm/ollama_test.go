// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "sofie" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    req.Model,
			Response: "a gentle morning reflection",
			Done:     true,
		})
	}))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "sofie"})
	if err != nil {
		t.Fatalf("NewOllamaClient failed: %v", err)
	}

	out, err := client.Generate(context.Background(), "write a reflection", GenerationParams{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "a gentle morning reflection" {
		t.Errorf("output = %q", out)
	}
}

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: "hello back"},
			Done:    true,
		})
	}))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "sofie"})
	if err != nil {
		t.Fatalf("NewOllamaClient failed: %v", err)
	}

	out, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hello"},
	}, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out != "hello back" {
		t.Errorf("output = %q", out)
	}
}

func TestOllamaModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model 'sofie' not found"})
	}))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "sofie"})
	if err != nil {
		t.Fatalf("NewOllamaClient failed: %v", err)
	}
	if _, err := client.Generate(context.Background(), "hi", GenerationParams{}); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestNewOllamaClientRequiresBaseURL(t *testing.T) {
	if _, err := NewOllamaClient(OllamaConfig{}); err == nil {
		t.Error("expected error without base URL")
	}
}
