// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	agentURL    string
	hrv         float64
	sleepScore  float64
	stressLevel string
	contentType string
	title       string
	format      string
	language    string
	complexity  string
	wellness    bool
	historyType string
	historyN    int

	rootCmd = &cobra.Command{
		Use:   "pollen",
		Short: "A cli to interact with a local Pollen wellness agent",
		Long: `Pollen is a wellness-first creative agent. This cli talks to the
local agent API to validate code, track Honey accrual in the shadow
ledger, and drive creations.`,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the local agent is up",
		Run:   runHealth,
	}

	validateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Run the wellness validator over a source file",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate,
	}

	balanceCmd = &cobra.Command{
		Use:   "balance",
		Short: "Show the shadow ledger Honey balance",
		Run:   runBalance,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List shadow ledger entries",
		Run:   runHistory,
	}

	graduateCmd = &cobra.Command{
		Use:   "graduate",
		Short: "Trigger the level graduation ceremony",
		Run:   runGraduate,
	}

	createCmd = &cobra.Command{
		Use:   "create [description]",
		Short: "Generate a creation through the agent",
		Args:  cobra.MinimumNArgs(1),
		Run:   runCreate,
	}

	postsCmd = &cobra.Command{
		Use:   "posts",
		Short: "Manage pending social posts",
	}
	postsPendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List posts waiting for consent",
		Run:   runPostsPending,
	}
	postsApproveCmd = &cobra.Command{
		Use:   "approve [post_id]",
		Short: "Approve a pending post for publishing",
		Args:  cobra.ExactArgs(1),
		Run:   runPostsApprove,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&agentURL, "url", "",
		"Agent base URL (default POLLEN_AGENT_URL or http://localhost:9000)")

	validateCmd.Flags().Float64Var(&hrv, "hrv", 0, "Current HRV reading in ms")
	validateCmd.Flags().Float64Var(&sleepScore, "sleep", 0, "Last sleep score (0-10)")
	validateCmd.Flags().StringVar(&stressLevel, "stress", "", "Stress level (low/medium/high)")

	createCmd.Flags().StringVarP(&contentType, "type", "t", "code",
		"Content type (website/document/code/image)")
	createCmd.Flags().StringVar(&title, "title", "", "Title for websites and documents")
	createCmd.Flags().StringVar(&format, "format", "markdown", "Document format")
	createCmd.Flags().StringVar(&language, "language", "python", "Code language")
	createCmd.Flags().StringVar(&complexity, "complexity", "auto",
		"Generation complexity (auto/minimal/full)")
	createCmd.Flags().BoolVar(&wellness, "wellness", true,
		"Gate code generation through the wellness validator")

	historyCmd.Flags().StringVar(&historyType, "type", "", "Filter by activity type")
	historyCmd.Flags().IntVarP(&historyN, "limit", "n", 20, "Maximum entries to show")

	postsCmd.AddCommand(postsPendingCmd, postsApproveCmd)
	rootCmd.AddCommand(healthCmd, validateCmd, balanceCmd, historyCmd,
		graduateCmd, createCmd, postsCmd)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func runHealth(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var out map[string]any
	if err := newAgentClient().do(ctx, "GET", "/health", nil, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}

func runValidate(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	fragment, err := os.ReadFile(args[0])
	if err != nil {
		exitErr(err)
	}

	payload := map[string]any{"code_fragment": string(fragment)}
	if hrv > 0 {
		payload["hrv"] = hrv
	}
	if sleepScore > 0 {
		payload["sleep_score"] = sleepScore
	}
	if stressLevel != "" {
		payload["stress_level"] = stressLevel
	}

	var out map[string]any
	if err := newAgentClient().do(ctx, "POST", "/v1/wellness/validate", payload, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
	if valid, ok := out["is_valid"].(bool); ok && !valid {
		os.Exit(1)
	}
}

func runBalance(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var out map[string]any
	if err := newAgentClient().do(ctx, "GET", "/v1/proofs/balance", nil, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}

func runHistory(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	path := fmt.Sprintf("/v1/proofs/history?limit=%d", historyN)
	if historyType != "" {
		path += "&type=" + historyType
	}

	var out map[string]any
	if err := newAgentClient().do(ctx, "GET", path, nil, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}

func runGraduate(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var out map[string]any
	if err := newAgentClient().do(ctx, "POST", "/v1/proofs/graduate", nil, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}

func runCreate(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	description := args[0]
	payload := map[string]any{
		"content_type": contentType,
		"title":        title,
		"description":  description,
		"format":       format,
		"language":     language,
		"complexity":   complexity,
		"wellness":     wellness,
	}
	switch contentType {
	case "document", "website":
		payload["content"] = description
		if title == "" {
			payload["title"] = "Untitled"
		}
	case "image":
		payload["prompt"] = description
	}

	var out map[string]any
	if err := newAgentClient().do(ctx, "POST", "/v1/create", payload, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}

func runPostsPending(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var out map[string]any
	if err := newAgentClient().do(ctx, "GET", "/v1/social/pending", nil, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}

func runPostsApprove(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var out map[string]any
	payload := map[string]any{"post_id": args[0]}
	if err := newAgentClient().do(ctx, "POST", "/v1/social/approve", payload, &out); err != nil {
		exitErr(err)
	}
	if err := printJSON(out); err != nil {
		exitErr(err)
	}
}
