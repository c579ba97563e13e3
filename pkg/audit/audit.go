// Package audit keeps an append-only log of vault lifecycle events with an
// HMAC chain for tamper detection.
//
// The HMAC key is derived with HKDF from the vault's derived master key and
// exists only for the duration of an Append or Verify call. Events never hold
// secret material.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/keylight/pkg/secure"
)

// Operation types for audit logging
const (
	OpVaultCreate       = "vault.create"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	genesis  = "genesis"
	metaFile = "audit.meta"
	hkdfInfo = "keylight-audit-v1"
)

// ErrNoKey indicates an Append or Verify without key material.
var ErrNoKey = errors.New("audit: missing key")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`

	Operation string `json:"op"`
	Session   string `json:"session"`
	Result    string `json:"result"`
	Code      string `json:"code,omitempty"`

	Context map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// ChainState holds the persistent chain state
type ChainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Logger appends events below a directory, one JSONL file per month.
type Logger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewLogger returns a logger writing below path.
func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// Append signs and writes events in order.
func (l *Logger) Append(masterKey []byte, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	mac, err := deriveKey(masterKey)
	if err != nil {
		return err
	}
	defer secure.Wipe(mac)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	state := l.loadChainState()
	ts := l.now().UTC()

	for i := range events {
		ev := events[i]
		ev.Version = 1
		ev.ID = uuid.NewString()
		ev.Timestamp = ts.Format(time.RFC3339Nano)

		state.Sequence++
		ev.Chain.Sequence = state.Sequence
		ev.Chain.PrevHash = state.PrevHash
		ev.Chain.HMAC = sign(mac, &ev)
		state.PrevHash = ev.Chain.HMAC

		if err := l.writeEvent(ts, &ev); err != nil {
			return err
		}
	}

	return l.saveChainState(state)
}

// Verify walks every log file and checks sequence, linkage and HMACs.
func (l *Logger) Verify(masterKey []byte) (*VerifyResult, error) {
	mac, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	defer secure.Wipe(mac)

	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	prev := genesis
	var seq int64 = 1

	for i := range events {
		ev := &events[i]
		result.RecordsTotal++

		if ev.Chain.Sequence != seq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", ev.ID, seq, ev.Chain.Sequence))
		}
		if ev.Chain.PrevHash != prev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", ev.ID))
		}
		if !hmac.Equal([]byte(ev.Chain.HMAC), []byte(sign(mac, ev))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", ev.ID))
		}

		prev = ev.Chain.HMAC
		seq++
	}
	return result, nil
}

// ListEvents returns the most recent events, oldest first. limit 0 returns all.
func (l *Logger) ListEvents(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func deriveKey(masterKey []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, ErrNoKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	return key, nil
}

// sign computes the record HMAC over every field except the HMAC itself.
func sign(key []byte, ev *Event) string {
	var ctx strings.Builder
	keys := make([]string, 0, len(ev.Context))
	for k := range ev.Context {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&ctx, "%s=%v|", k, ev.Context[k])
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		ev.Version, ev.ID, ev.Timestamp, ev.Operation, ev.Session,
		ev.Result, ev.Code, ctx.String(), ev.Chain.Sequence, ev.Chain.PrevHash)

	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

func (l *Logger) writeEvent(ts time.Time, ev *Event) error {
	name := filepath.Join(l.path, ts.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically
	slices.Sort(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line == "" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				return nil, fmt.Errorf("audit: failed to parse %s: %w", filepath.Base(file), err)
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// loadChainState returns the stored state, or the genesis state if none is
// readable.
func (l *Logger) loadChainState() ChainState {
	data, err := os.ReadFile(filepath.Join(l.path, metaFile))
	if err != nil {
		return ChainState{PrevHash: genesis}
	}
	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil || state.PrevHash == "" {
		return ChainState{PrevHash: genesis}
	}
	return state
}

func (l *Logger) saveChainState(state ChainState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, metaFile), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}
