package importer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/db/memstore"
	"github.com/trly/msirepo/internal/unit"
)

func candidate(name string, n int) *unit.Unit {
	u := &unit.Unit{Type: unit.TypeMSI, Name: name, Version: fmt.Sprint(n), Checksum: fmt.Sprintf("%064x", n), ChecksumType: "sha256"}
	u.DeriveFilename()
	return u
}

func TestDiffPartitionsCandidates(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		store := memstore.New()
		var candidates []*unit.Unit
		stored := make(map[unit.Key]bool)

		for i := 0; i < 50; i++ {
			u := candidate("pkg", round*100+i)
			candidates = append(candidates, u)
			if rng.Intn(2) == 0 {
				_, _, err := store.Save(ctx, u)
				require.NoError(t, err)
				stored[u.Key()] = true
			}
		}
		// units stored but absent from the feed never show up
		_, _, err := store.Save(ctx, candidate("unrelated", round))
		require.NoError(t, err)

		missing, existing, err := Diff(ctx, store, unit.TypeMSI, candidates)
		require.NoError(t, err)

		assert.Len(t, append(append([]*unit.Unit{}, missing...), existing...), len(candidates))
		seen := make(map[unit.Key]bool)
		for _, u := range missing {
			assert.False(t, stored[u.Key()], "missing unit %s is stored", u)
			seen[u.Key()] = true
		}
		for _, u := range existing {
			assert.True(t, stored[u.Key()], "existing unit %s is not stored", u)
			assert.False(t, seen[u.Key()], "unit %s in both results", u)
			seen[u.Key()] = true
		}
		assert.Len(t, seen, len(candidates))
	}
}

func TestDiffMatchesChecksumCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	u := candidate("a", 1)
	_, _, err := store.Save(ctx, u)
	require.NoError(t, err)

	upper := *u
	upper.Checksum = fmt.Sprintf("%064X", 1)
	missing, existing, err := Diff(ctx, store, unit.TypeMSI, []*unit.Unit{&upper})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Len(t, existing, 1)
}

func TestDiffSeparatesTypes(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	u := candidate("a", 1)
	_, _, err := store.Save(ctx, u)
	require.NoError(t, err)

	msm := *u
	msm.Type = unit.TypeMSM
	missing, existing, err := Diff(ctx, store, unit.TypeMSM, []*unit.Unit{&msm})
	require.NoError(t, err)
	assert.Len(t, missing, 1)
	assert.Empty(t, existing)
}

func TestCandidatesLastEntryWins(t *testing.T) {
	c := make(Candidates)
	first := candidate("a", 1)
	first.RelativePath = "old/a.msi"
	second := candidate("a", 1)
	second.RelativePath = "new/a.msi"

	c.Add(first)
	c.Add(second)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "new/a.msi", c.Sorted(unit.TypeMSI)[0].RelativePath)
}
