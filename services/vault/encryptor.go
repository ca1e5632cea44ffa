// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vault holds the sovereign-privacy primitives: local AES-GCM
// encryption with the key pinned in mlocked memory, sha256 hashing for
// zero-knowledge proofs, and secure file deletion. Only hashes ever
// leave the device; plaintext and key material stay local.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sys/unix"
)

const (
	// keySize is the AES-256 key length.
	keySize = 32

	// kdfIterations is the PBKDF2 round count for master-key
	// derivation.
	kdfIterations = 480_000

	// kdfSalt is fixed per installation generation. A per-user salt is
	// tracked for the multi-tenant deployment.
	kdfSalt = "pollen_salt_v1"

	// MinMlockLimitKB is the minimum mlock limit required to pin the
	// key (guard pages included).
	MinMlockLimitKB = 64

	encryptionVersion = "aesgcm_v1"
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("secure memory initialized", "mlock_limit_kb", mlockLimitKB)
		} else {
			slog.Warn("mlock limit insufficient, key held in regular memory",
				"current_limit_kb", mlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit queries the kernel mlock resource limit. A query
// failure is treated as sufficient; the allocation itself will surface
// any real problem.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// keyHolder abstracts where the key lives: mlocked memory when the
// system allows it, regular memory otherwise.
type keyHolder interface {
	Bytes() []byte
	Destroy()
}

type plainKey struct{ key []byte }

func (p *plainKey) Bytes() []byte { return p.key }
func (p *plainKey) Destroy() {
	for i := range p.key {
		p.key[i] = 0
	}
}

// =============================================================================
// Encryptor
// =============================================================================

// Proof is the zero-knowledge proof structure derived from local data.
// It carries the hash and shape of the data, never the data itself.
type Proof struct {
	DataHash      string         `json:"data_hash"`
	SizeBytes     int            `json:"size_bytes"`
	Timestamp     string         `json:"timestamp"`
	Metadata      map[string]any `json:"metadata"`
	EncryptionVer string         `json:"encryption_ver"`
}

// Encryptor encrypts and decrypts local user data with AES-256-GCM.
// Safe for concurrent use. Call Destroy when done to wipe the key.
type Encryptor struct {
	key keyHolder
	log *slog.Logger
}

// NewEncryptor derives the data key. A non-empty master key is
// stretched with PBKDF2-SHA256; otherwise a fresh random key is
// generated and its encoding logged once so the operator can persist
// it.
func NewEncryptor(masterKey string, log *slog.Logger) (*Encryptor, error) {
	initMemguard()
	if log == nil {
		log = slog.Default()
	}

	var raw []byte
	if masterKey != "" {
		raw = pbkdf2.Key([]byte(masterKey), []byte(kdfSalt), kdfIterations, keySize, sha256.New)
	} else {
		raw = make([]byte, keySize)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		log.Warn("new encryption key generated, set POLLEN_MASTER_KEY to keep data recoverable",
			"key", base64.StdEncoding.EncodeToString(raw))
	}

	var key keyHolder
	if mlockSufficient {
		// NewBufferFromBytes wipes raw after copying it into the
		// locked region.
		key = memguard.NewBufferFromBytes(raw)
	} else {
		key = &plainKey{key: raw}
	}
	return &Encryptor{key: key, log: log}, nil
}

// Destroy wipes the key material. The encryptor is unusable afterwards.
func (e *Encryptor) Destroy() { e.key.Destroy() }

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals data and returns a base64 token of nonce plus
// ciphertext.
func (e *Encryptor) Encrypt(data []byte) (string, error) {
	aead, err := e.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign tokens fail
// authentication.
func (e *Encryptor) Decrypt(token string) ([]byte, error) {
	sealed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext token: %w", err)
	}
	aead, err := e.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptFile encrypts a file in place of outputPath. An empty
// outputPath appends ".enc" to the source path.
func (e *Encryptor) EncryptFile(path, outputPath string) (string, error) {
	if outputPath == "" {
		outputPath = path + ".enc"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	token, err := e.Encrypt(data)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outputPath, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	e.log.Info("file encrypted", "source", path, "output", outputPath)
	return outputPath, nil
}

// DecryptFile decrypts an encrypted file to outputPath.
func (e *Encryptor) DecryptFile(encryptedPath, outputPath string) error {
	token, err := os.ReadFile(encryptedPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", encryptedPath, err)
	}
	plaintext, err := e.Decrypt(string(token))
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, plaintext, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	e.log.Info("file decrypted", "source", encryptedPath, "output", outputPath)
	return nil
}

// =============================================================================
// Proofs
// =============================================================================

// HashData returns the hex sha256 of data. This is the proof primitive:
// everything the hive sees about local activity is this hash.
func HashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CreateProof builds the proof structure for a piece of local data.
func (e *Encryptor) CreateProof(data []byte, metadata map[string]any) Proof {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Proof{
		DataHash:      HashData(data),
		SizeBytes:     len(data),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Metadata:      metadata,
		EncryptionVer: encryptionVersion,
	}
}

// VerifyProof reports whether data matches a previously issued proof
// hash.
func (e *Encryptor) VerifyProof(data []byte, proofHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashData(data)), []byte(proofHash)) == 1
}

// =============================================================================
// Secure Delete
// =============================================================================

// SecureDelete overwrites a file with random bytes for the given number
// of passes, then removes it. A missing file is a no-op.
func (e *Encryptor) SecureDelete(path string, passes int) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if passes <= 0 {
		passes = 3
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	noise := make([]byte, info.Size())
	for i := 0; i < passes; i++ {
		if _, err := rand.Read(noise); err != nil {
			f.Close()
			return err
		}
		if _, err := f.WriteAt(noise, 0); err != nil {
			f.Close()
			return fmt.Errorf("failed overwrite pass %d: %w", i+1, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	e.log.Info("securely deleted", "path", path, "passes", passes)
	return nil
}
