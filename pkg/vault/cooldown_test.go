package vault

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailedAttempt_Thresholds(t *testing.T) {
	m, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	want := map[int]time.Duration{
		CooldownThreshold1: CooldownDuration1,
		CooldownThreshold2: CooldownDuration2,
		CooldownThreshold3: CooldownDuration3,
	}
	for i := 1; i <= CooldownThreshold3; i++ {
		d, err := m.recordFailedAttempt()
		require.NoError(t, err)
		switch {
		case i >= CooldownThreshold3:
			assert.Equal(t, want[CooldownThreshold3], d)
		case i >= CooldownThreshold2:
			assert.Equal(t, want[CooldownThreshold2], d)
		case i >= CooldownThreshold1:
			assert.Equal(t, want[CooldownThreshold1], d)
		default:
			assert.Zero(t, d)
		}
	}
	assert.Equal(t, CooldownDuration3, m.RemainingCooldown())

	require.NoError(t, m.clearLockState())
	assert.Zero(t, m.RemainingCooldown())
	assert.Zero(t, m.FailedAttempts())
}

func TestLoadLockState_Damaged(t *testing.T) {
	m, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(m.path(AttemptsFileName), []byte("{not json"), FileMode))

	state, err := m.loadLockState()
	require.NoError(t, err)
	assert.Zero(t, state.FailedAttempts)
}
