package fastexport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPoolEvictsLeastRecentlyUsed(t *testing.T) {
	chdir(t, t.TempDir())
	pool := NewProcessPool(2)

	a := newTestRepo(t, "A", []string{"master"}, Options{Pool: pool})
	b := newTestRepo(t, "B", []string{"master"}, Options{Pool: pool})
	c := newTestRepo(t, "C", []string{"master"}, Options{Pool: pool})

	commitOn(t, a, "master", 1)
	commitOn(t, b, "master", 1)
	assert.Equal(t, 2, pool.Len())
	assert.True(t, a.fi.processHasStarted)
	assert.True(t, b.fi.processHasStarted)

	// Third importer: A is the coldest and gets closed cleanly.
	commitOn(t, c, "master", 1)
	assert.Equal(t, 2, pool.Len())
	assert.False(t, a.fi.processHasStarted)
	assert.True(t, b.fi.processHasStarted)
	assert.True(t, c.fi.processHasStarted)

	// An evicted repository restarts transparently when driven again,
	// pushing out the new coldest entry (B).
	commitOn(t, a, "master", 2)
	assert.True(t, a.fi.processHasStarted)
	assert.False(t, b.fi.processHasStarted)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, pool.Len())
}

func TestProcessPoolTouchBumpsRecency(t *testing.T) {
	chdir(t, t.TempDir())
	pool := NewProcessPool(2)

	a := newTestRepo(t, "A", []string{"master"}, Options{Pool: pool})
	b := newTestRepo(t, "B", []string{"master"}, Options{Pool: pool})
	c := newTestRepo(t, "C", []string{"master"}, Options{Pool: pool})

	commitOn(t, a, "master", 1)
	commitOn(t, b, "master", 1)
	// Re-touch A so B becomes the eviction candidate.
	commitOn(t, a, "master", 2)

	commitOn(t, c, "master", 1)
	assert.True(t, a.fi.processHasStarted)
	assert.False(t, b.fi.processHasStarted)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, c.Close())
}

func TestProcessPoolDefaultSize(t *testing.T) {
	pool := NewProcessPool(0)
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.Len())
}
