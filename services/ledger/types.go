// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger tracks honey accumulation before wallet creation.
//
// The shadow accumulator is the level-1 ledger: validated activity earns
// honey into an append-only sqlite store until the balance crosses the
// graduation threshold, at which point a one-way graduation ceremony
// derives a wallet address and latches the account at level 2. Entries
// are never updated or deleted except for the validation flag.
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// Activity Types
// =============================================================================

// ActivityType categorizes how honey was earned.
type ActivityType string

const (
	ActivityWellness  ActivityType = "wellness"
	ActivityCreative  ActivityType = "creative"
	ActivitySocial    ActivityType = "social"
	ActivityTechnical ActivityType = "technical"
	ActivityCommunity ActivityType = "community"
)

// ParseActivityType converts a string tag to an ActivityType. Unknown
// input is a typed error, never a silent default.
func ParseActivityType(s string) (ActivityType, error) {
	switch a := ActivityType(s); a {
	case ActivityWellness, ActivityCreative, ActivitySocial,
		ActivityTechnical, ActivityCommunity:
		return a, nil
	}
	return "", fmt.Errorf("unrecognized activity type %q", s)
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrThresholdNotReached is returned by TriggerGraduation when the
	// accumulated honey is below the configured threshold.
	ErrThresholdNotReached = errors.New("graduation threshold not reached")

	// ErrAlreadyGraduated is returned by TriggerGraduation after the
	// one-way latch has fired. Graduation never repeats or reverses.
	ErrAlreadyGraduated = errors.New("already graduated")
)

// =============================================================================
// Records
// =============================================================================

// ShadowEntry is a single honey accrual.
type ShadowEntry struct {
	EntryID      string       `json:"entry_id"`
	ActivityType ActivityType `json:"activity_type"`
	Description  string       `json:"description"`
	HoneyValue   float64      `json:"honey_value"`
	ProofHash    string       `json:"proof_hash"`
	Timestamp    string       `json:"timestamp"`
	Validated    bool         `json:"validated"`
}

// TypeBreakdown sums validated honey for one activity type.
type TypeBreakdown struct {
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// Balance is the full state of the shadow account.
type Balance struct {
	Level           int                            `json:"level"`
	TotalHoney      float64                        `json:"total_honey"`
	ValidatedHoney  float64                        `json:"validated_honey"`
	PendingHoney    float64                        `json:"pending_honey"`
	PendingCount    int                            `json:"pending_count"`
	Threshold       float64                        `json:"threshold"`
	ProgressPercent float64                        `json:"progress_percent"`
	Graduated       bool                           `json:"graduated"`
	BreakdownByType map[ActivityType]TypeBreakdown `json:"breakdown_by_type"`
	CanGraduate     bool                           `json:"can_graduate"`
}

// GraduationRecord documents one level-1-to-2 ceremony.
type GraduationRecord struct {
	CeremonyType       string  `json:"ceremony_type"`
	Timestamp          string  `json:"timestamp"`
	PreviousLevel      int     `json:"previous_level"`
	NewLevel           int     `json:"new_level"`
	HoneyTransferred   float64 `json:"honey_transferred"`
	WalletAddress      string  `json:"wallet_address"`
	ShadowEntriesCount int     `json:"shadow_entries_count"`
}

// HistoryEntry is a display-oriented view of a ShadowEntry. The proof
// hash is truncated; use ExportForWalletCreation for the full hashes.
type HistoryEntry struct {
	EntryID      string       `json:"entry_id"`
	ActivityType ActivityType `json:"activity_type"`
	Description  string       `json:"description"`
	HoneyValue   float64      `json:"honey_value"`
	ProofHash    string       `json:"proof_hash"`
	Timestamp    string       `json:"timestamp"`
	Validated    bool         `json:"validated"`
}

// ExportEntry is one validated entry in a wallet-creation bundle.
type ExportEntry struct {
	EntryID      string       `json:"entry_id"`
	ActivityType ActivityType `json:"activity_type"`
	HoneyValue   float64      `json:"honey_value"`
	ProofHash    string       `json:"proof_hash"`
	Timestamp    string       `json:"timestamp"`
}

// ExportBundle carries every validated entry plus an integrity root for
// the wallet creation ceremony.
type ExportBundle struct {
	Entries         []ExportEntry `json:"entries"`
	TotalHoney      float64       `json:"total_honey"`
	EntryCount      int           `json:"entry_count"`
	ExportTimestamp string        `json:"export_timestamp"`
	// MerkleRoot is sha256 over the concatenated proof hashes in
	// timestamp order, or 64 zeros for an empty bundle. It is a flat
	// hash chain, not a real merkle tree; downstream ceremony tooling
	// expects exactly this construction.
	MerkleRoot string `json:"merkle_root"`
}
