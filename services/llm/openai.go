// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible backend. BaseURL may
// point at any compatible local server (llama.cpp, vLLM, LM Studio).
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// SystemPrompt is prepended to Generate calls.
	SystemPrompt string
}

// OpenAIClient adapts an OpenAI-compatible chat endpoint to LLMClient.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIClient builds the client. The API key is required; local
// compatible servers usually accept any value.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		slog.Warn("openai model not configured, defaulting to gpt-4o-mini")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are Sofie, a calm creative companion. You write with warmth and never manufacture urgency."
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	slog.Info("initializing openai-compatible client", "model", cfg.Model, "base_url", cfg.BaseURL)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Generate implements LLMClient.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []Message{
		{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	return o.Chat(ctx, messages, params)
}

// Chat implements LLMClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{Model: o.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("openai API call failed", "error", err)
		return "", fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
