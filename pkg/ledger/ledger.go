// Package ledger keeps the facilitator's private accounting book: an
// append-only activity log of settlement outcomes, persisted as a JSON
// snapshot. The book is advisory bookkeeping; the on-chain state stays
// authoritative.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vaultpay-hq/facilitator/pkg/logger"
)

// ErrHashMismatch indicates the snapshot on disk does not match its own
// content hash and must not be trusted.
var ErrHashMismatch = errors.New("snapshot content hash mismatch")

// Entry is one recorded settlement outcome.
type Entry struct {
	Seq        int       `json:"seq"`
	RecordedAt time.Time `json:"recordedAt"`
	ChainID    int       `json:"chainId"`
	Scheme     string    `json:"scheme"`
	Buyer      string    `json:"buyer"`
	Seller     string    `json:"seller"`
	Amount     string    `json:"amount"`
	Token      string    `json:"token"`
	Nonce      string    `json:"nonce"`
	Status     string    `json:"status"` // settled | failed
	TxRef      string    `json:"txRef,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// snapshot is the on-disk form: the full entry log plus a sha256 hash of
// the marshaled entries, verified on load.
type snapshot struct {
	Version int     `json:"version"`
	Hash    string  `json:"hash"`
	Entries []Entry `json:"entries"`
}

// Book is a single-writer accounting book backed by one snapshot file.
// Every append rewrites the snapshot through a temp file and rename, so
// a crash mid-write leaves the previous snapshot intact.
type Book struct {
	path    string
	mu      sync.Mutex
	entries []Entry
	log     logger.Logger
}

// Open loads the book at path, creating an empty one if no snapshot
// exists yet. A snapshot whose content hash does not verify is rejected.
func Open(path string, log logger.Logger) (*Book, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	book := &Book{path: path, log: log}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return book, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read accounting book: %v", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode accounting book: %v", err)
	}
	hash, err := hashEntries(snap.Entries)
	if err != nil {
		return nil, err
	}
	if hash != snap.Hash {
		return nil, ErrHashMismatch
	}

	book.entries = snap.Entries
	log.Info("Loaded accounting book with %d entries from %s", len(snap.Entries), path)
	return book, nil
}

// Append records one settlement outcome and persists the snapshot. The
// sequence number and timestamp are assigned here.
func (b *Book) Append(entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry.Seq = len(b.entries) + 1
	entry.RecordedAt = time.Now().UTC()
	b.entries = append(b.entries, entry)

	if err := b.persist(); err != nil {
		// roll back so the in-memory log never runs ahead of disk
		b.entries = b.entries[:len(b.entries)-1]
		return err
	}
	return nil
}

// Entries returns a copy of the activity log in append order.
func (b *Book) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return entries
}

// Len returns the number of recorded entries.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// persist writes the snapshot via temp file, fsync and rename.
func (b *Book) persist() error {
	hash, err := hashEntries(b.entries)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(snapshot{Version: 1, Hash: hash, Entries: b.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode accounting book: %v", err)
	}

	tmpPath := b.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %v", err)
	}
	if _, err := file.Write(raw); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write snapshot: %v", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync snapshot: %v", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %v", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("failed to commit snapshot: %v", err)
	}
	return nil
}

func hashEntries(entries []Entry) (string, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to hash entries: %v", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
