package contentstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/testutil"
	"github.com/trly/msirepo/internal/unit"
)

func newUnit(t *testing.T, content string) (*unit.Unit, string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "download.tmp")
	require.NoError(t, os.WriteFile(src, []byte(content), 0600))

	sum, size, err := checksum.ComputeFile(src, "sha256")
	require.NoError(t, err)

	u := &unit.Unit{Type: unit.TypeMSI, Name: "a", Version: "1.0", Checksum: sum, ChecksumType: "sha256", Size: size}
	u.DeriveFilename()
	return u, src
}

func TestPathFor(t *testing.T) {
	store := New("/srv/content", testutil.NewTestLogger(t))
	u := &unit.Unit{Type: unit.TypeMSM, Name: "vc", Version: "14", Checksum: "ABCDEF0123", ChecksumType: "sha256", Filename: "vc-14.msm"}

	assert.Equal(t, "/srv/content/units/msm/ab/cdef0123/vc/14/vc-14.msm", store.PathFor(u))

	other := *u
	other.Size = 99
	assert.Equal(t, store.PathFor(u), store.PathFor(&other), "path depends only on identity")
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	store := New(t.TempDir(), testutil.NewTestLogger(t))
	u, src := newUnit(t, "installer bytes")

	changed, err := store.Import(ctx, u, src)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, store.Exists(u))

	data, err := os.ReadFile(store.PathFor(u))
	require.NoError(t, err)
	assert.Equal(t, "installer bytes", string(data))

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(store.PathFor(u)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	t.Run("existing correct content is untouched", func(t *testing.T) {
		before, err := os.Stat(store.PathFor(u))
		require.NoError(t, err)

		changed, err := store.Import(ctx, u, src)
		require.NoError(t, err)
		assert.False(t, changed)

		after, err := os.Stat(store.PathFor(u))
		require.NoError(t, err)
		assert.True(t, os.SameFile(before, after))
	})

	t.Run("mismatched content is replaced", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.PathFor(u), []byte("corrupted"), 0600))

		changed, err := store.Import(ctx, u, src)
		require.NoError(t, err)
		assert.True(t, changed)

		data, err := os.ReadFile(store.PathFor(u))
		require.NoError(t, err)
		assert.Equal(t, "installer bytes", string(data))
	})
}

func TestImportRefusesWrongSource(t *testing.T) {
	store := New(t.TempDir(), testutil.NewTestLogger(t))
	u, _ := newUnit(t, "the real thing")
	_, impostor := newUnit(t, "something else")

	_, err := store.Import(context.Background(), u, impostor)
	require.Error(t, err)
	assert.True(t, IsCorruptContent(err))
	assert.ErrorIs(t, err, checksum.ErrMismatch)
	assert.False(t, store.Exists(u))
}

func TestImportConcurrentSameUnit(t *testing.T) {
	store := New(t.TempDir(), testutil.NewTestLogger(t))
	u, src := newUnit(t, "shared bytes")

	var wg sync.WaitGroup
	var mu sync.Mutex
	writes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := store.Import(context.Background(), u, src)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				writes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, writes)
}

func TestImportCancelled(t *testing.T) {
	store := New(t.TempDir(), testutil.NewTestLogger(t))
	u, src := newUnit(t, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Import(ctx, u, src)
	assert.ErrorIs(t, err, context.Canceled)
}
