package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Unlock attempt limits: 5 attempts -> 30s, 10 attempts -> 5min, 20 attempts -> 30min
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute
)

// LockState tracks failed unlock attempts for cooldown enforcement
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	CooldownUntil  time.Time `json:"cooldown_until"`
}

func (m *Manager) loadLockState() (*LockState, error) {
	data, err := os.ReadFile(m.path(AttemptsFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LockState{}, nil
		}
		return nil, fmt.Errorf("vault: failed to read lock state: %w", err)
	}

	var state LockState
	if err := json.Unmarshal(data, &state); err != nil {
		// a damaged counter must not lock the owner out
		return &LockState{}, nil
	}
	return &state, nil
}

func (m *Manager) saveLockState(state *LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal lock state: %w", err)
	}
	if err := os.WriteFile(m.path(AttemptsFileName), data, FileMode); err != nil {
		return fmt.Errorf("vault: failed to save lock state: %w", err)
	}
	return nil
}

func (m *Manager) clearLockState() error {
	err := os.Remove(m.path(AttemptsFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault: failed to clear lock state: %w", err)
	}
	return nil
}

// checkCooldown returns ErrCooldownActive with the remaining time while a
// cooldown is in force.
func (m *Manager) checkCooldown() (time.Duration, error) {
	state, err := m.loadLockState()
	if err != nil {
		return 0, err
	}
	now := m.now()
	if !state.CooldownUntil.IsZero() && now.Before(state.CooldownUntil) {
		return state.CooldownUntil.Sub(now), ErrCooldownActive
	}
	return 0, nil
}

// recordFailedAttempt counts a wrong password and starts a cooldown at each
// threshold.
func (m *Manager) recordFailedAttempt() (time.Duration, error) {
	state, err := m.loadLockState()
	if err != nil {
		return 0, err
	}

	now := m.now()
	state.FailedAttempts++
	state.LastAttempt = now

	var cooldown time.Duration
	switch {
	case state.FailedAttempts >= CooldownThreshold3:
		cooldown = CooldownDuration3
	case state.FailedAttempts >= CooldownThreshold2:
		cooldown = CooldownDuration2
	case state.FailedAttempts >= CooldownThreshold1:
		cooldown = CooldownDuration1
	}
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
	}

	return cooldown, m.saveLockState(state)
}

// RemainingCooldown returns the remaining cooldown time, or 0 if not in cooldown
func (m *Manager) RemainingCooldown() time.Duration {
	remaining, err := m.checkCooldown()
	if errors.Is(err, ErrCooldownActive) {
		return remaining
	}
	return 0
}

// FailedAttempts returns the number of wrong passwords since the last unlock.
func (m *Manager) FailedAttempts() int {
	state, err := m.loadLockState()
	if err != nil {
		return 0
	}
	return state.FailedAttempts
}
