// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package creator generates creative content across mediums and stores
// every creation encrypted in the local vault. Only proof hashes are
// shareable; publishing requires an explicit consent step elsewhere.
package creator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/pollenhive/pollen/services/llm"
	"github.com/pollenhive/pollen/services/vault"
)

// ContentType tags the medium of a creation.
type ContentType string

const (
	ContentWebsite   ContentType = "website"
	ContentMobileApp ContentType = "mobile_app"
	ContentDocument  ContentType = "document"
	ContentImage     ContentType = "image"
	ContentVideo     ContentType = "video"
	ContentAudio     ContentType = "audio"
	ContentCode      ContentType = "code"
)

// ParseContentType converts a string tag, rejecting unknown values.
func ParseContentType(s string) (ContentType, error) {
	switch c := ContentType(s); c {
	case ContentWebsite, ContentMobileApp, ContentDocument, ContentImage,
		ContentVideo, ContentAudio, ContentCode:
		return c, nil
	}
	return "", fmt.Errorf("unrecognized content type %q", s)
}

// Creation is one creative work. Content is medium-specific.
type Creation struct {
	CreationID    string         `json:"creation_id"`
	ContentType   ContentType    `json:"content_type"`
	Title         string         `json:"title"`
	Content       map[string]any `json:"content"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     string         `json:"created_at"`
	EncryptedPath string         `json:"encrypted_path,omitempty"`
	ProofHash     string         `json:"proof_hash,omitempty"`
}

// Summary is the listing view of a creation.
type Summary struct {
	CreationID  string         `json:"creation_id"`
	ContentType ContentType    `json:"content_type"`
	Title       string         `json:"title"`
	CreatedAt   string         `json:"created_at"`
	Metadata    map[string]any `json:"metadata"`
	ProofHash   string         `json:"proof_hash"`
}

// Stats summarizes the vault contents.
type Stats struct {
	TotalCreations int                 `json:"total_creations"`
	ByType         map[ContentType]int `json:"by_type"`
	VaultSizeMB    float64             `json:"vault_size_mb"`
}

// webTemplates are the built-in site scaffolds.
var webTemplates = map[string]struct{ html, css string }{
	"portfolio": {
		html: `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>{{.Style}}</style>
</head>
<body>
    <header><h1>{{.Title}}</h1></header>
    <main>{{.Content}}</main>
    <footer>Created with Pollen</footer>
</body>
</html>`,
		css: `body { font-family: system-ui; max-width: 800px; margin: 0 auto; padding: 20px; }
header { border-bottom: 2px solid #333; margin-bottom: 20px; }
footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #ccc; color: #666; }`,
	},
	"landing": {
		html: `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>{{.Style}}</style>
</head>
<body>
    <section class="hero">
        <h1>{{.Title}}</h1>
        <p>{{.Subtitle}}</p>
    </section>
    <section class="content">{{.Content}}</section>
</body>
</html>`,
		css: `.hero { text-align: center; padding: 80px 20px; background: #5B8C85; color: white; }
.content { max-width: 800px; margin: 40px auto; padding: 0 20px; }`,
	},
}

// Config holds the creator engine settings.
type Config struct {
	// VaultPath is the directory for encrypted creations.
	VaultPath string
	// SDAPIURL is an optional Stable Diffusion endpoint for image
	// generation. Unreachable or empty falls back to a placeholder.
	SDAPIURL string
	Logger   *slog.Logger
}

// Engine generates and stores creations.
type Engine struct {
	cfg       Config
	encryptor *vault.Encryptor
	model     llm.LLMClient
	log       *slog.Logger

	mu        sync.RWMutex
	creations map[string]*Creation
}

// NewEngine builds a creator engine. The vault directory is created if
// missing.
func NewEngine(cfg Config, encryptor *vault.Encryptor, model llm.LLMClient) (*Engine, error) {
	if cfg.VaultPath == "" {
		return nil, fmt.Errorf("vault path not configured")
	}
	if err := os.MkdirAll(cfg.VaultPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		encryptor: encryptor,
		model:     model,
		log:       log,
		creations: make(map[string]*Creation),
	}, nil
}

// =============================================================================
// Generation
// =============================================================================

// GenerateWebsite renders a site from a built-in template. Unknown
// template names fall back to portfolio.
func (e *Engine) GenerateWebsite(ctx context.Context, title, content, templateName string) (*Creation, error) {
	tmplDef, ok := webTemplates[templateName]
	if !ok {
		templateName = "portfolio"
		tmplDef = webTemplates["portfolio"]
	}

	tmpl, err := template.New("site").Parse(tmplDef.html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse site template: %w", err)
	}
	var html bytes.Buffer
	err = tmpl.Execute(&html, struct {
		Title, Style, Subtitle, Content string
	}{Title: title, Style: tmplDef.css, Subtitle: content, Content: content})
	if err != nil {
		return nil, fmt.Errorf("failed to render site template: %w", err)
	}

	creation := e.newCreation(ContentWebsite, "web", title,
		map[string]any{
			"html":     html.String(),
			"css":      tmplDef.css,
			"template": templateName,
		},
		map[string]any{"template": templateName},
	)
	if err := e.store(creation); err != nil {
		return nil, err
	}
	return creation, nil
}

// GenerateDocument produces a markdown or html document. Markdown gets
// the standard frame; anything else passes content through.
func (e *Engine) GenerateDocument(ctx context.Context, title, content, format string) (*Creation, error) {
	var body string
	switch format {
	case "markdown":
		body = fmt.Sprintf("# %s\n\nGenerated by Pollen on %s\n\n---\n\n%s\n\n---\n*Created with Pollen - Sovereign AI Agent*\n",
			title, time.Now().UTC().Format("2006-01-02 15:04 UTC"), content)
	case "html":
		body = fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><title>%s</title></head>\n<body>\n<h1>%s</h1>\n%s\n</body>\n</html>", title, title, content)
	default:
		body = content
	}

	creation := e.newCreation(ContentDocument, "doc", title,
		map[string]any{"body": body, "format": format},
		map[string]any{"format": format, "word_count": len(strings.Fields(content))},
	)
	if err := e.store(creation); err != nil {
		return nil, err
	}
	e.log.Info("document created", "title", title, "format", format)
	return creation, nil
}

// GenerateCode asks the model for a module in the given language.
func (e *Engine) GenerateCode(ctx context.Context, description, language, extraContext string) (*Creation, error) {
	prompt := fmt.Sprintf(
		"Write a %s module: %s.\nKeep it calm and readable: small functions, no dark patterns, no engagement hooks.\nReturn only code.",
		language, description)
	if extraContext != "" {
		prompt += "\nContext:\n" + extraContext
	}

	code, err := e.model.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("code generation failed: %w", err)
	}

	creation := e.newCreation(ContentCode, "code",
		fmt.Sprintf("%s: %s", strings.ToUpper(language), truncate(description, 40)),
		map[string]any{
			"description": description,
			"language":    language,
			"code":        code,
		},
		map[string]any{
			"language":      language,
			"lines_of_code": strings.Count(code, "\n") + 1,
		},
	)
	if err := e.store(creation); err != nil {
		return nil, err
	}
	e.log.Info("code module created", "language", language, "description", truncate(description, 40))
	return creation, nil
}

type sdRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// GenerateImage calls the local Stable Diffusion API when configured.
// An unreachable backend degrades to a placeholder creation rather than
// failing; image generation is best-effort.
func (e *Engine) GenerateImage(ctx context.Context, prompt, style string) (*Creation, error) {
	var imageData string
	source := "placeholder"

	if e.cfg.SDAPIURL != "" {
		if data, err := e.callStableDiffusion(ctx, prompt, style); err != nil {
			e.log.Warn("stable diffusion unavailable", "error", err)
		} else {
			imageData = data
			source = "stable_diffusion"
		}
	}

	creation := e.newCreation(ContentImage, "img",
		"Image: "+truncate(prompt, 50),
		map[string]any{
			"prompt":     prompt,
			"style":      style,
			"image_data": imageData,
			"source":     source,
		},
		map[string]any{"prompt": prompt, "style": style},
	)
	if err := e.store(creation); err != nil {
		return nil, err
	}
	return creation, nil
}

func (e *Engine) callStableDiffusion(ctx context.Context, prompt, style string) (string, error) {
	payload, err := json.Marshal(sdRequest{
		Prompt: prompt + ", " + style,
		Steps:  30,
		Width:  1024,
		Height: 1024,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(e.cfg.SDAPIURL, "/")+"/sdapi/v1/txt2img", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sd api returned status %d", resp.StatusCode)
	}

	var result struct {
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Images) == 0 {
		return "", fmt.Errorf("sd api returned no images")
	}
	return result.Images[0], nil
}

// =============================================================================
// Storage
// =============================================================================

func (e *Engine) newCreation(ct ContentType, prefix, title string, content, metadata map[string]any) *Creation {
	return &Creation{
		CreationID:  fmt.Sprintf("%s_%s", prefix, uuid.NewString()),
		ContentType: ct,
		Title:       title,
		Content:     content,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// store encrypts the creation into the vault, records its proof hash,
// and indexes it in memory.
func (e *Engine) store(c *Creation) error {
	serialized, err := json.Marshal(map[string]any{
		"creation_id":  c.CreationID,
		"content_type": c.ContentType,
		"title":        c.Title,
		"content":      c.Content,
		"metadata":     c.Metadata,
		"created_at":   c.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize creation: %w", err)
	}

	token, err := e.encryptor.Encrypt(serialized)
	if err != nil {
		return fmt.Errorf("failed to encrypt creation: %w", err)
	}
	path := filepath.Join(e.cfg.VaultPath, c.CreationID+".enc")
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to write creation: %w", err)
	}

	c.EncryptedPath = path
	c.ProofHash = vault.HashData(serialized)

	e.mu.Lock()
	e.creations[c.CreationID] = c
	e.mu.Unlock()
	return nil
}

// GetCreation returns a creation from memory, falling back to the
// encrypted vault on disk. Missing creations yield (nil, nil).
func (e *Engine) GetCreation(creationID string) (*Creation, error) {
	e.mu.RLock()
	c, ok := e.creations[creationID]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	path := filepath.Join(e.cfg.VaultPath, creationID+".enc")
	token, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read creation: %w", err)
	}
	plaintext, err := e.encryptor.Decrypt(string(token))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt creation: %w", err)
	}

	var loaded Creation
	if err := json.Unmarshal(plaintext, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse creation: %w", err)
	}
	loaded.EncryptedPath = path
	loaded.ProofHash = vault.HashData(plaintext)

	e.mu.Lock()
	e.creations[creationID] = &loaded
	e.mu.Unlock()
	return &loaded, nil
}

// ListCreations returns summaries, newest first. An empty content type
// lists everything.
func (e *Engine) ListCreations(ct ContentType) []Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Summary, 0, len(e.creations))
	for _, c := range e.creations {
		if ct != "" && c.ContentType != ct {
			continue
		}
		results = append(results, Summary{
			CreationID:  c.CreationID,
			ContentType: c.ContentType,
			Title:       c.Title,
			CreatedAt:   c.CreatedAt,
			Metadata:    c.Metadata,
			ProofHash:   c.ProofHash,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt > results[j].CreatedAt })
	return results
}

// PublishPreview is the consent-screen view of a creation.
type PublishPreview struct {
	CreationID      string         `json:"creation_id"`
	ContentType     ContentType    `json:"content_type"`
	Title           string         `json:"title"`
	Preview         string         `json:"preview"`
	Metadata        map[string]any `json:"metadata"`
	ProofHash       string         `json:"proof_hash"`
	ReadyForPublish bool           `json:"ready_for_publish"`
}

// PrepareForPublish builds the preview shown to the user before any
// publish consent is given.
func (e *Engine) PrepareForPublish(creationID string) (*PublishPreview, error) {
	c, err := e.GetCreation(creationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("creation not found: %s", creationID)
	}
	return &PublishPreview{
		CreationID:      c.CreationID,
		ContentType:     c.ContentType,
		Title:           c.Title,
		Preview:         preview(c),
		Metadata:        c.Metadata,
		ProofHash:       c.ProofHash,
		ReadyForPublish: true,
	}, nil
}

func preview(c *Creation) string {
	switch c.ContentType {
	case ContentWebsite:
		if html, ok := c.Content["html"].(string); ok {
			return truncate(html, 500) + "..."
		}
	case ContentDocument:
		if body, ok := c.Content["body"].(string); ok {
			return truncate(body, 500) + "..."
		}
	case ContentImage:
		if prompt, ok := c.Metadata["prompt"].(string); ok {
			return "Image: " + prompt
		}
	}
	meta, _ := json.MarshalIndent(c.Metadata, "", "  ")
	return string(meta)
}

// GetStats reports vault totals.
func (e *Engine) GetStats() (Stats, error) {
	e.mu.RLock()
	stats := Stats{
		TotalCreations: len(e.creations),
		ByType:         make(map[ContentType]int),
	}
	for _, c := range e.creations {
		stats.ByType[c.ContentType]++
	}
	e.mu.RUnlock()

	entries, err := os.ReadDir(e.cfg.VaultPath)
	if err != nil {
		return stats, fmt.Errorf("failed to read vault: %w", err)
	}
	var bytesTotal int64
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".enc") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			bytesTotal += info.Size()
		}
	}
	stats.VaultSizeMB = float64(bytesTotal) / (1024 * 1024)
	return stats, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
