// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// timestampLayout is fixed-width so that lexicographic ordering on the
// stored strings matches chronological ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// GraduationCallback is invoked when the honey balance crosses the
// graduation threshold. The balance passed is the pre-ceremony state.
type GraduationCallback func(Balance) error

// Config holds the accumulator settings.
type Config struct {
	// DBPath is the sqlite file path. Parent directories are created.
	// ":memory:" is accepted for tests.
	DBPath string
	// Threshold is the honey total that enables graduation.
	Threshold float64
	// AutoGraduate triggers the ceremony immediately when the
	// threshold is crossed. When false, crossing only notifies
	// callbacks and a manual TriggerGraduation is required.
	AutoGraduate bool
	Logger       *slog.Logger
}

// Accumulator is the level-1 shadow ledger backed by sqlite.
//
// All writes are serialized through a single mutex on top of a
// single-connection pool. Reads share the same connection; sqlite with
// WAL handles the interleaving.
type Accumulator struct {
	db  *sql.DB
	cfg Config
	log *slog.Logger

	// mu serializes every statement that mutates the ledger.
	mu sync.Mutex

	cbMu      sync.Mutex
	callbacks []GraduationCallback
}

// Open opens (creating if needed) the shadow ledger at cfg.DBPath.
func Open(cfg Config) (*Accumulator, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1000
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	dsn := cfg.DBPath
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open shadow ledger: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	acc := &Accumulator{db: db, cfg: cfg, log: log}
	if err := acc.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("shadow accumulator initialized", "path", cfg.DBPath, "threshold", cfg.Threshold)
	return acc, nil
}

func (a *Accumulator) createTables() error {
	const schema = `
CREATE TABLE IF NOT EXISTS shadow_entries (
    entry_id      TEXT PRIMARY KEY,
    activity_type TEXT NOT NULL,
    description   TEXT,
    honey_value   REAL NOT NULL,
    proof_hash    TEXT NOT NULL,
    timestamp     TEXT NOT NULL,
    validated     BOOLEAN DEFAULT 0
);
CREATE TABLE IF NOT EXISTS graduation_status (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    level           INTEGER DEFAULT 1,
    total_honey     REAL DEFAULT 0,
    threshold       REAL DEFAULT 1000,
    graduated       BOOLEAN DEFAULT 0,
    graduation_time TEXT,
    wallet_address  TEXT
);`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	if _, err := a.db.Exec(
		`INSERT OR IGNORE INTO graduation_status (id, level, threshold) VALUES (1, 1, ?)`,
		a.cfg.Threshold,
	); err != nil {
		return fmt.Errorf("failed to seed graduation status: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (a *Accumulator) Close() error {
	a.log.Info("shadow accumulator shut down")
	return a.db.Close()
}

// OnGraduationReady registers a callback run whenever the threshold is
// crossed. Callback errors are logged, never propagated.
func (a *Accumulator) OnGraduationReady(cb GraduationCallback) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.callbacks = append(a.callbacks, cb)
}

// =============================================================================
// Writes
// =============================================================================

// AddEntry appends a honey accrual. The entry starts unvalidated; hive
// consensus flips the flag later via ValidateEntry. The insert and the
// running-total update commit in one transaction, then the graduation
// threshold is checked.
//
// Entries are accepted after graduation too. The latch only prevents a
// second ceremony, not further accrual.
func (a *Accumulator) AddEntry(ctx context.Context, activity ActivityType, description string, honeyValue float64, proofHash string) (ShadowEntry, error) {
	entry := ShadowEntry{
		EntryID:      "shadow_" + uuid.NewString(),
		ActivityType: activity,
		Description:  description,
		HoneyValue:   honeyValue,
		ProofHash:    proofHash,
		Timestamp:    time.Now().UTC().Format(timestampLayout),
	}

	a.mu.Lock()
	err := func() error {
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shadow_entries
			 (entry_id, activity_type, description, honey_value, proof_hash, timestamp, validated)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			entry.EntryID, string(entry.ActivityType), entry.Description,
			entry.HoneyValue, entry.ProofHash, entry.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert shadow entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE graduation_status SET total_honey = total_honey + ? WHERE id = 1`,
			entry.HoneyValue,
		); err != nil {
			return fmt.Errorf("failed to update honey total: %w", err)
		}
		return tx.Commit()
	}()
	a.mu.Unlock()
	if err != nil {
		return ShadowEntry{}, err
	}

	a.log.Info("shadow entry added", "activity", activity, "honey", honeyValue)

	if err := a.checkGraduation(ctx); err != nil {
		a.log.Error("graduation check failed", "error", err)
	}
	return entry, nil
}

// ValidateEntry marks an entry as validated by hive consensus. A
// missing entry is not an error; the bool reports whether anything
// changed.
func (a *Accumulator) ValidateEntry(ctx context.Context, entryID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx,
		`UPDATE shadow_entries SET validated = 1 WHERE entry_id = ?`, entryID)
	if err != nil {
		return false, fmt.Errorf("failed to validate entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TriggerGraduation runs the level-1-to-2 ceremony: verifies the
// threshold, derives a wallet address, and latches the graduated flag.
// The latch is one-way; a second call returns ErrAlreadyGraduated.
func (a *Accumulator) TriggerGraduation(ctx context.Context) (GraduationRecord, error) {
	balance, err := a.Balance(ctx)
	if err != nil {
		return GraduationRecord{}, err
	}
	if balance.Graduated {
		return GraduationRecord{}, ErrAlreadyGraduated
	}
	if balance.TotalHoney < balance.Threshold {
		return GraduationRecord{}, fmt.Errorf("%w: %.2f of %.2f honey",
			ErrThresholdNotReached, balance.TotalHoney, balance.Threshold)
	}

	now := time.Now().UTC()
	wallet := walletAddress(now)

	a.mu.Lock()
	res, err := a.db.ExecContext(ctx,
		`UPDATE graduation_status
		 SET graduated = 1, graduation_time = ?, wallet_address = ?, level = 2
		 WHERE id = 1 AND graduated = 0`,
		now.Format(timestampLayout), wallet)
	a.mu.Unlock()
	if err != nil {
		return GraduationRecord{}, fmt.Errorf("failed to record graduation: %w", err)
	}
	// Guard against a concurrent ceremony winning the race.
	if n, _ := res.RowsAffected(); n == 0 {
		return GraduationRecord{}, ErrAlreadyGraduated
	}

	var entryCount int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shadow_entries`).Scan(&entryCount); err != nil {
		return GraduationRecord{}, fmt.Errorf("failed to count entries: %w", err)
	}

	record := GraduationRecord{
		CeremonyType:       "level_1_to_2",
		Timestamp:          now.Format(timestampLayout),
		PreviousLevel:      1,
		NewLevel:           2,
		HoneyTransferred:   balance.TotalHoney,
		WalletAddress:      wallet,
		ShadowEntriesCount: entryCount,
	}
	a.log.Info("graduation complete", "wallet", wallet, "honey", balance.TotalHoney)
	return record, nil
}

// walletAddress derives the placeholder wallet identifier handed to the
// external ledger: 0x plus the first 40 hex characters of a sha256 over
// the ceremony timestamp.
func walletAddress(at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d", at.UnixNano())))
	return "0x" + hex.EncodeToString(sum[:])[:40]
}

// checkGraduation notifies callbacks, and optionally auto-graduates,
// when the threshold has been crossed.
func (a *Accumulator) checkGraduation(ctx context.Context) error {
	balance, err := a.Balance(ctx)
	if err != nil {
		return err
	}
	if !balance.CanGraduate {
		return nil
	}

	a.log.Info("graduation threshold reached",
		"total_honey", balance.TotalHoney, "threshold", balance.Threshold)

	if a.cfg.AutoGraduate {
		if _, err := a.TriggerGraduation(ctx); err != nil {
			a.log.Error("auto-graduation failed", "error", err)
		}
	} else {
		a.log.Info("auto-graduation disabled, manual ceremony required")
	}

	a.cbMu.Lock()
	callbacks := make([]GraduationCallback, len(a.callbacks))
	copy(callbacks, a.callbacks)
	a.cbMu.Unlock()
	for _, cb := range callbacks {
		if err := cb(balance); err != nil {
			a.log.Error("graduation callback error", "error", err)
		}
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Balance reports the current shadow account state.
func (a *Accumulator) Balance(ctx context.Context) (Balance, error) {
	var (
		bal       Balance
		graduated int
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT total_honey, threshold, graduated, level FROM graduation_status WHERE id = 1`,
	).Scan(&bal.TotalHoney, &bal.Threshold, &graduated, &bal.Level)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to read graduation status: %w", err)
	}
	bal.Graduated = graduated != 0

	rows, err := a.db.QueryContext(ctx,
		`SELECT activity_type, SUM(honey_value), COUNT(*)
		 FROM shadow_entries WHERE validated = 1 GROUP BY activity_type`)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to read breakdown: %w", err)
	}
	defer rows.Close()

	bal.BreakdownByType = make(map[ActivityType]TypeBreakdown)
	for rows.Next() {
		var (
			activity string
			bd       TypeBreakdown
		)
		if err := rows.Scan(&activity, &bd.Total, &bd.Count); err != nil {
			return Balance{}, err
		}
		bd.Total = round2(bd.Total)
		bal.BreakdownByType[ActivityType(activity)] = bd
	}
	if err := rows.Err(); err != nil {
		return Balance{}, err
	}

	var (
		pendingValue sql.NullFloat64
		pendingCount int
	)
	if err := a.db.QueryRowContext(ctx,
		`SELECT SUM(honey_value), COUNT(*) FROM shadow_entries WHERE validated = 0`,
	).Scan(&pendingValue, &pendingCount); err != nil {
		return Balance{}, fmt.Errorf("failed to read pending honey: %w", err)
	}

	bal.TotalHoney = round2(bal.TotalHoney)
	bal.PendingHoney = round2(pendingValue.Float64)
	bal.PendingCount = pendingCount
	bal.ValidatedHoney = round2(bal.TotalHoney - bal.PendingHoney)
	bal.ProgressPercent = round1(bal.TotalHoney / bal.Threshold * 100)
	bal.CanGraduate = bal.TotalHoney >= bal.Threshold && !bal.Graduated
	return bal, nil
}

// History returns recent entries, newest first. An empty activity
// filter returns all types. Proof hashes are truncated for display.
func (a *Accumulator) History(ctx context.Context, activity ActivityType, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT entry_id, activity_type, description, honey_value, proof_hash, timestamp, validated
	          FROM shadow_entries`
	args := []any{}
	if activity != "" {
		query += ` WHERE activity_type = ?`
		args = append(args, string(activity))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e         HistoryEntry
			activity  string
			validated int
		)
		if err := rows.Scan(&e.EntryID, &activity, &e.Description, &e.HoneyValue,
			&e.ProofHash, &e.Timestamp, &validated); err != nil {
			return nil, err
		}
		e.ActivityType = ActivityType(activity)
		e.Validated = validated != 0
		e.ProofHash = truncateHash(e.ProofHash)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExportForWalletCreation bundles every validated entry, oldest first,
// with the integrity root over their proof hashes.
func (a *Accumulator) ExportForWalletCreation(ctx context.Context) (ExportBundle, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT entry_id, activity_type, honey_value, proof_hash, timestamp
		 FROM shadow_entries WHERE validated = 1 ORDER BY timestamp`)
	if err != nil {
		return ExportBundle{}, fmt.Errorf("failed to export entries: %w", err)
	}
	defer rows.Close()

	bundle := ExportBundle{Entries: []ExportEntry{}}
	var (
		total  float64
		hashes strings.Builder
	)
	for rows.Next() {
		var (
			e        ExportEntry
			activity string
		)
		if err := rows.Scan(&e.EntryID, &activity, &e.HoneyValue, &e.ProofHash, &e.Timestamp); err != nil {
			return ExportBundle{}, err
		}
		e.ActivityType = ActivityType(activity)
		bundle.Entries = append(bundle.Entries, e)
		total += e.HoneyValue
		hashes.WriteString(e.ProofHash)
	}
	if err := rows.Err(); err != nil {
		return ExportBundle{}, err
	}

	bundle.TotalHoney = round2(total)
	bundle.EntryCount = len(bundle.Entries)
	bundle.ExportTimestamp = time.Now().UTC().Format(timestampLayout)
	bundle.MerkleRoot = merkleRoot(hashes.String(), bundle.EntryCount)
	return bundle, nil
}

// merkleRoot is sha256 over the concatenated proof hashes, or 64 zeros
// when there is nothing to hash.
func merkleRoot(concatenated string, count int) string {
	if count == 0 {
		return strings.Repeat("0", 64)
	}
	sum := sha256.Sum256([]byte(concatenated))
	return hex.EncodeToString(sum[:])
}

func truncateHash(h string) string {
	if len(h) <= 16 {
		return h + "..."
	}
	return h[:16] + "..."
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
