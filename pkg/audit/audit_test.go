package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestAppendVerify(t *testing.T) {
	l := NewLogger(t.TempDir())

	require.NoError(t, l.Append(testKey, Event{Operation: OpVaultCreate, Session: "s1", Result: ResultSuccess}))
	require.NoError(t, l.Append(testKey,
		Event{Operation: OpVaultUnlockFailed, Session: "s2", Result: ResultError, Code: "authentication_failed",
			Context: map[string]any{"failed_attempts": 2}},
		Event{Operation: OpVaultUnlock, Session: "s2", Result: ResultSuccess},
	))

	res, err := l.Verify(testKey)
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, 3, res.RecordsTotal)

	events, err := l.ListEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, OpVaultCreate, events[0].Operation)
	assert.Equal(t, int64(3), events[2].Chain.Sequence)
	assert.NotEmpty(t, events[0].ID)

	last, err := l.ListEvents(1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, OpVaultUnlock, last[0].Operation)
}

func TestVerify_WrongKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	require.NoError(t, l.Append(testKey, Event{Operation: OpVaultCreate, Result: ResultSuccess}))

	res, err := l.Verify([]byte("another-key-another-key-another!!"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerify_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)
	fixed := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.Append(testKey,
		Event{Operation: OpVaultUnlockFailed, Result: ResultError, Code: "authentication_failed"},
		Event{Operation: OpVaultUnlock, Result: ResultSuccess},
	))

	path := filepath.Join(dir, "2026-10.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"result":"error"`, `"result":"success"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	res, err := l.Verify(testKey)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "HMAC mismatch")
}

func TestVerify_DetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)
	fixed := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(testKey, Event{Operation: OpVaultUnlock, Result: ResultSuccess}))
	}

	path := filepath.Join(dir, "2026-10.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(data), "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines[0]+lines[2]), 0600))

	res, err := l.Verify(testKey)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestAppend_RequiresKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	assert.ErrorIs(t, l.Append(nil, Event{Operation: OpVaultCreate}), ErrNoKey)

	_, err := l.Verify(nil)
	assert.ErrorIs(t, err, ErrNoKey)

	// nothing to write is not an error
	assert.NoError(t, l.Append(nil))
}

func TestEventsHoldNoKeyMaterial(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)
	require.NoError(t, l.Append(testKey, Event{Operation: OpVaultCreate, Result: ResultSuccess}))

	files, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.NotContains(t, string(data), string(testKey))
	}
}
