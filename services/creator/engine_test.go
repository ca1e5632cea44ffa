// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package creator

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/pollenhive/pollen/services/llm"
	"github.com/pollenhive/pollen/services/vault"
	"github.com/pollenhive/pollen/services/wellness"
)

// fakeLLM returns a canned completion.
type fakeLLM struct {
	output string
	err    error
	prompt string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.prompt = prompt
	return f.output, f.err
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return f.output, f.err
}

func newTestEngine(t *testing.T, model llm.LLMClient) (*Engine, *vault.Encryptor) {
	t.Helper()
	enc, err := vault.NewEncryptor("", nil)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	t.Cleanup(enc.Destroy)

	eng, err := NewEngine(Config{VaultPath: t.TempDir()}, enc, model)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng, enc
}

func TestGenerateDocument(t *testing.T) {
	ctx := context.Background()
	eng, enc := newTestEngine(t, &fakeLLM{})

	c, err := eng.GenerateDocument(ctx, "Morning Pages", "wrote three pages by hand", "markdown")
	if err != nil {
		t.Fatalf("GenerateDocument failed: %v", err)
	}

	body, _ := c.Content["body"].(string)
	if !strings.HasPrefix(body, "# Morning Pages") {
		t.Errorf("markdown frame missing: %q", body[:40])
	}
	if len(c.ProofHash) != 64 {
		t.Errorf("proof hash length = %d, want 64", len(c.ProofHash))
	}
	if c.Metadata["word_count"] != 5 {
		t.Errorf("word_count = %v, want 5", c.Metadata["word_count"])
	}

	// The vault file must be ciphertext, decryptable back to the
	// creation.
	raw, err := os.ReadFile(c.EncryptedPath)
	if err != nil {
		t.Fatalf("reading vault file: %v", err)
	}
	if strings.Contains(string(raw), "Morning Pages") {
		t.Error("vault file contains plaintext")
	}
	plaintext, err := enc.Decrypt(string(raw))
	if err != nil {
		t.Fatalf("decrypting vault file: %v", err)
	}
	if !strings.Contains(string(plaintext), "Morning Pages") {
		t.Error("decrypted creation missing title")
	}
}

func TestGetCreationLoadsFromDisk(t *testing.T) {
	ctx := context.Background()
	eng, enc := newTestEngine(t, &fakeLLM{})

	c, err := eng.GenerateDocument(ctx, "Note", "remember the garden", "markdown")
	if err != nil {
		t.Fatalf("GenerateDocument failed: %v", err)
	}

	// A fresh engine over the same vault must decrypt it from disk.
	fresh, err := NewEngine(Config{VaultPath: eng.cfg.VaultPath}, enc, &fakeLLM{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	loaded, err := fresh.GetCreation(c.CreationID)
	if err != nil {
		t.Fatalf("GetCreation failed: %v", err)
	}
	if loaded == nil || loaded.Title != "Note" {
		t.Errorf("loaded = %+v", loaded)
	}

	missing, err := fresh.GetCreation("doc_missing")
	if err != nil {
		t.Fatalf("GetCreation for missing id: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing creation")
	}
}

func TestGenerateCode(t *testing.T) {
	ctx := context.Background()
	model := &fakeLLM{output: "def breathe():\n    return 'in and out'\n"}
	eng, _ := newTestEngine(t, model)

	c, err := eng.GenerateCode(ctx, "a breathing helper", "python", "")
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if code, _ := c.Content["code"].(string); !strings.Contains(code, "def breathe") {
		t.Errorf("code = %q", code)
	}
	if !strings.Contains(model.prompt, "a breathing helper") {
		t.Errorf("prompt missing description: %q", model.prompt)
	}
}

func TestGenerateWebsite(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &fakeLLM{})

	c, err := eng.GenerateWebsite(ctx, "Quiet Garden", "a space to rest", "no_such_template")
	if err != nil {
		t.Fatalf("GenerateWebsite failed: %v", err)
	}
	if c.Metadata["template"] != "portfolio" {
		t.Errorf("template = %v, want portfolio fallback", c.Metadata["template"])
	}
	if html, _ := c.Content["html"].(string); !strings.Contains(html, "<h1>Quiet Garden</h1>") {
		t.Errorf("rendered html missing title")
	}
}

func TestListCreations(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &fakeLLM{})

	if _, err := eng.GenerateDocument(ctx, "first", "a", "markdown"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GenerateImage(ctx, "a calm lake", "watercolor"); err != nil {
		t.Fatal(err)
	}

	all := eng.ListCreations("")
	if len(all) != 2 {
		t.Fatalf("got %d creations, want 2", len(all))
	}
	docs := eng.ListCreations(ContentDocument)
	if len(docs) != 1 || docs[0].Title != "first" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestGenerateImagePlaceholder(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &fakeLLM{})

	c, err := eng.GenerateImage(ctx, "a calm lake", "watercolor")
	if err != nil {
		t.Fatalf("GenerateImage failed: %v", err)
	}
	if c.Content["source"] != "placeholder" {
		t.Errorf("source = %v, want placeholder without SD backend", c.Content["source"])
	}
}

func TestPrepareForPublish(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &fakeLLM{})

	c, err := eng.GenerateDocument(ctx, "Essay", strings.Repeat("calm ", 200), "markdown")
	if err != nil {
		t.Fatal(err)
	}

	p, err := eng.PrepareForPublish(c.CreationID)
	if err != nil {
		t.Fatalf("PrepareForPublish failed: %v", err)
	}
	if !p.ReadyForPublish {
		t.Error("ready_for_publish = false")
	}
	if !strings.HasSuffix(p.Preview, "...") {
		t.Errorf("preview not truncated: %q", p.Preview)
	}

	if _, err := eng.PrepareForPublish("doc_missing"); err == nil {
		t.Error("expected error for missing creation")
	}
}

func TestGenerateWithWellnessConstraints(t *testing.T) {
	ctx := context.Background()
	validator, err := wellness.NewValidator(wellness.Config{})
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}

	t.Run("clean code at high HRV earns bonus rewards", func(t *testing.T) {
		eng, _ := newTestEngine(t, &fakeLLM{output: "def rest():\n    return True\n"})
		bio := wellness.BiometricContext{HRV: 65, SleepScore: 8, StressLevel: wellness.StressLow}

		wc, err := eng.GenerateWithWellnessConstraints(ctx, "a rest helper", bio, validator, ComplexityAuto)
		if err != nil {
			t.Fatalf("GenerateWithWellnessConstraints failed: %v", err)
		}
		if len(wc.Violations) != 0 {
			t.Errorf("violations = %v", wc.Violations)
		}
		// 20 * 1.5 (clean) * 1.2 (hrv > 60)
		if wc.TokenEstimate.MINE != 36.0 {
			t.Errorf("MINE = %v, want 36.0", wc.TokenEstimate.MINE)
		}
		if wc.TokenEstimate.WELL != 0.3 {
			t.Errorf("WELL = %v, want 0.3", wc.TokenEstimate.WELL)
		}
		if len(wc.ProofHash) != 32 {
			t.Errorf("proof hash length = %d, want 32", len(wc.ProofHash))
		}
		if wc.Complexity != ComplexityAuto {
			t.Errorf("complexity = %q, want auto", wc.Complexity)
		}
	})

	t.Run("violations reduce rewards", func(t *testing.T) {
		eng, _ := newTestEngine(t, &fakeLLM{output: "def feed():\n    loadMore()\n"})
		bio := wellness.BiometricContext{HRV: 50, SleepScore: 7, StressLevel: wellness.StressLow}

		wc, err := eng.GenerateWithWellnessConstraints(ctx, "a feed", bio, validator, ComplexityAuto)
		if err != nil {
			t.Fatal(err)
		}
		if len(wc.Violations) != 1 {
			t.Fatalf("violations = %v", wc.Violations)
		}
		if wc.TokenEstimate.MINE != 15.0 {
			t.Errorf("MINE = %v, want 15.0", wc.TokenEstimate.MINE)
		}
		if wc.TokenEstimate.WELL != 0.15 {
			t.Errorf("WELL = %v, want 0.15", wc.TokenEstimate.WELL)
		}
	})

	t.Run("low HRV downgrades complexity", func(t *testing.T) {
		eng, _ := newTestEngine(t, &fakeLLM{output: "x = 1\n"})
		bio := wellness.BiometricContext{HRV: 40, SleepScore: 8, StressLevel: wellness.StressHigh}

		wc, err := eng.GenerateWithWellnessConstraints(ctx, "anything", bio, validator, ComplexityFull)
		if err != nil {
			t.Fatal(err)
		}
		if wc.Complexity != ComplexityMinimal {
			t.Errorf("complexity = %q, want minimal", wc.Complexity)
		}
	})
}

func TestGenerationCost(t *testing.T) {
	if GenerationCost(ComplexityMinimal).WELL != 0.5 {
		t.Error("minimal cost wrong")
	}
	if GenerationCost(ComplexityFull).WELL != 2.0 {
		t.Error("full cost wrong")
	}
	if GenerationCost(ComplexityAuto).WELL != 1.0 {
		t.Error("auto cost wrong")
	}
}
