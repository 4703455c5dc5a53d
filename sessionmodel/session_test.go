package sessionmodel_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/internal/utils"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/stretchr/testify/require"
)

func TestLockDeadlineIsAnchoredAtLockedAt(t *testing.T) {
	lockedAt := int64(1_700_000_000_000)
	lock := sessionmodel.LockState{Locked: true, LockedAt: utils.Ptr(lockedAt)}
	window := 600 * time.Second

	require.Equal(t, time.UnixMilli(lockedAt+600_000), lock.Deadline(window))

	// Observed from a tab that only opened 9 minutes after the lock.
	openedLate := time.UnixMilli(lockedAt).Add(9 * time.Minute)
	require.Equal(t, time.Minute, lock.Remaining(openedLate, window))

	require.Zero(t, lock.Remaining(time.UnixMilli(lockedAt+600_000), window))
	require.Zero(t, lock.Remaining(time.UnixMilli(lockedAt+700_000), window))
	require.Zero(t, sessionmodel.Unlocked.Remaining(openedLate, window))
}

func TestTerminalCodes(t *testing.T) {
	require.True(t, sessionmodel.CodeLockTimeout.IsTerminal())
	require.True(t, sessionmodel.CodeSessionExpired.IsTerminal())
	require.True(t, sessionmodel.CodeSessionNotFound.IsTerminal())
	require.False(t, sessionmodel.CodeSessionLocked.IsTerminal())
	require.False(t, sessionmodel.CodeInvalidCredentials.IsTerminal())
}

func TestLockStateEqual(t *testing.T) {
	a := sessionmodel.LockState{Locked: true, LockedAt: utils.Ptr(int64(5))}
	b := sessionmodel.LockState{Locked: true, LockedAt: utils.Ptr(int64(5))}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(sessionmodel.Unlocked))
	require.True(t, sessionmodel.Unlocked.Equal(sessionmodel.LockState{}))
}
