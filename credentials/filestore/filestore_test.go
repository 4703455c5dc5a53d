package filestore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/credentials/filestore"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func openPair(t *testing.T) (*filestore.Store, *filestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "origin", "credentials.json")
	a, err := filestore.Open(path)
	require.NoError(t, err)
	b, err := filestore.Open(path)
	require.NoError(t, err)
	return a, b, path
}

func TestPersistsAcrossHandles(t *testing.T) {
	a, b, path := openPair(t)

	require.NoError(t, a.Set(sessionmodel.KeyAccessToken, "token"))
	value, ok, err := b.Get(sessionmodel.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "token", value)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestClearRemovesKeysInOneWrite(t *testing.T) {
	a, b, _ := openPair(t)
	for _, key := range sessionmodel.AllKeys {
		require.NoError(t, a.Set(key, "v"))
	}
	require.NoError(t, a.Clear(sessionmodel.AllKeys...))
	for _, key := range sessionmodel.AllKeys {
		_, ok, err := b.Get(key)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestWatchReportsOtherHandlesWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b, _ := openPair(t)
	changes, err := b.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(sessionmodel.KeyLocked, sessionmodel.LockedValue))

	select {
	case c := <-changes:
		require.Equal(t, credentials.Change{Key: sessionmodel.KeyLocked, NewValue: "true"}, c)
	case <-time.After(3 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestWriteSurfacesUnseenForeignChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b, _ := openPair(t)
	changes, err := b.Watch(ctx)
	require.NoError(t, err)

	// b writes straight after a; a's write must still be reported to b exactly once.
	require.NoError(t, a.Set(sessionmodel.KeyUser, `{"userId":"1","username":"u"}`))
	require.NoError(t, b.Set(sessionmodel.KeyAccessToken, "mine"))

	select {
	case c := <-changes:
		require.Equal(t, sessionmodel.KeyUser, c.Key)
	case <-time.After(3 * time.Second):
		t.Fatal("foreign change lost")
	}
	select {
	case c := <-changes:
		t.Fatalf("unexpected extra change %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConcurrentWritersKeepEveryKey(t *testing.T) {
	a, b, path := openPair(t)
	const perHandle = 50

	var g errgroup.Group
	for i := 0; i < perHandle; i++ {
		g.Go(func() error { return a.Set(sessionmodel.Key(fmt.Sprintf("a-%d", i)), "v") })
		g.Go(func() error { return b.Set(sessionmodel.Key(fmt.Sprintf("b-%d", i)), "v") })
	}
	require.NoError(t, g.Wait())

	fresh, err := filestore.Open(path)
	require.NoError(t, err)
	for i := 0; i < perHandle; i++ {
		for _, prefix := range []string{"a", "b"} {
			_, ok, err := fresh.Get(sessionmodel.Key(fmt.Sprintf("%s-%d", prefix, i)))
			require.NoError(t, err)
			require.True(t, ok, "%s-%d lost", prefix, i)
		}
	}
}

func TestClearIsNotUndoneByConcurrentWrite(t *testing.T) {
	for round := 0; round < 50; round++ {
		a, b, _ := openPair(t)
		require.NoError(t, b.Set(sessionmodel.KeyRefreshToken, "refresh"))
		require.NoError(t, b.Set(sessionmodel.KeyAccessToken, "old"))

		var g errgroup.Group
		g.Go(func() error { return a.Clear(sessionmodel.AllKeys...) })
		g.Go(func() error { return b.Set(sessionmodel.KeyAccessToken, "new") })
		require.NoError(t, g.Wait())

		_, ok, err := a.Get(sessionmodel.KeyRefreshToken)
		require.NoError(t, err)
		require.False(t, ok, "refresh token survived a completed clear in round %d", round)
	}
}
