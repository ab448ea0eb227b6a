package distributor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/db/memstore"
	"github.com/trly/msirepo/internal/feed"
	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/repodata"
	"github.com/trly/msirepo/internal/state"
	"github.com/trly/msirepo/internal/testutil"
	"github.com/trly/msirepo/internal/unit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// failingStore fails EachAssociated after the given number of units.
type failingStore struct {
	*memstore.Store
	after int
}

var errStoreCrashed = errors.New("store crashed")

func (s *failingStore) ReadAssociated(ctx context.Context, fn func(db.AssociatedReader) error) error {
	return s.Store.ReadAssociated(ctx, func(r db.AssociatedReader) error {
		return fn(&failingReader{AssociatedReader: r, store: s})
	})
}

type failingReader struct {
	db.AssociatedReader
	store *failingStore
}

func (r *failingReader) EachAssociated(ctx context.Context, repoID string, t unit.Type, fn func(*unit.Unit) error) error {
	return r.AssociatedReader.EachAssociated(ctx, repoID, t, func(u *unit.Unit) error {
		if r.store.after == 0 {
			return errStoreCrashed
		}
		r.store.after--
		return fn(u)
	})
}

// racingStore calls during once, right after the publisher first counts
// the units it is about to stream.
type racingStore struct {
	*memstore.Store
	during func()
}

func (s *racingStore) ReadAssociated(ctx context.Context, fn func(db.AssociatedReader) error) error {
	return s.Store.ReadAssociated(ctx, func(r db.AssociatedReader) error {
		return fn(&racingReader{AssociatedReader: r, store: s})
	})
}

type racingReader struct {
	db.AssociatedReader
	store *racingStore
}

func (r *racingReader) CountAssociated(ctx context.Context, repoID string, t unit.Type) (int, error) {
	n, err := r.AssociatedReader.CountAssociated(ctx, repoID, t)
	if r.store.during != nil {
		r.store.during()
		r.store.during = nil
	}
	return n, err
}

type publishHarness struct {
	store     *memstore.Store
	publisher *Publisher
	repo      *db.Repository
	dirs      struct{ content, work, master, http, https, state string }
	clock     *clock.Mock
	gens      int
}

func newPublishHarness(t *testing.T) *publishHarness {
	t.Helper()
	root := t.TempDir()

	h := &publishHarness{store: memstore.New(), clock: clock.NewMock()}
	h.clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	h.dirs.content = filepath.Join(root, "content")
	h.dirs.work = filepath.Join(root, "work")
	h.dirs.master = filepath.Join(root, "published", "master")
	h.dirs.http = filepath.Join(root, "published", "http", "repos")
	h.dirs.https = filepath.Join(root, "published", "https", "repos")
	h.dirs.state = filepath.Join(root, "state.json")

	h.repo = &db.Repository{ID: "win", Distributor: db.DistributorConfig{RelativeURL: "/windows/stable", HTTPS: true}}
	require.NoError(t, h.store.CreateRepository(context.Background(), h.repo))

	h.publisher = h.newPublisher(t, h.store)
	return h
}

func (h *publishHarness) newPublisher(t *testing.T, store db.UnitStore) *Publisher {
	p := NewPublisher(store, Options{
		WorkingDir: h.dirs.work,
		MasterDir:  h.dirs.master,
		HTTPDir:    h.dirs.http,
		HTTPSDir:   h.dirs.https,
		StateFile:  h.dirs.state,
		Clock:      h.clock,
	}, testutil.NewTestLogger(t))
	p.newGeneration = func() string {
		h.gens++
		return fmt.Sprintf("gen-%d", h.gens)
	}
	return p
}

func (h *publishHarness) add(t *testing.T, u *unit.Unit) *unit.Unit {
	t.Helper()
	u.ChecksumType = "sha256"
	u.DeriveFilename()
	u.StoragePath = filepath.Join(h.dirs.content, u.Checksum, u.Filename)
	require.NoError(t, os.MkdirAll(filepath.Dir(u.StoragePath), 0750))
	require.NoError(t, os.WriteFile(u.StoragePath, []byte("content of "+u.Filename), 0600))

	saved, _, err := h.store.Save(context.Background(), u)
	require.NoError(t, err)
	require.NoError(t, h.store.Associate(context.Background(), h.repo.ID, saved))
	return saved
}

func (h *publishHarness) seedDefault(t *testing.T) {
	h.add(t, &unit.Unit{Type: unit.TypeMSM, Name: "crt", Version: "14", Checksum: "c3", GUID: "{G1}"})
	h.add(t, &unit.Unit{Type: unit.TypeMSI, Name: "b", Version: "2", Checksum: "c2", ProductCode: "{P2}"})
	h.add(t, &unit.Unit{Type: unit.TypeMSI, Name: "a", Version: "1", Checksum: "c1", ProductCode: "{P1}"})
}

func (h *publishHarness) httpsTarget() string {
	return filepath.Join(h.dirs.https, "windows", "stable")
}

func (h *publishHarness) httpTarget() string {
	return filepath.Join(h.dirs.http, "windows", "stable")
}

func (h *publishHarness) generations(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.dirs.master, h.repo.ID))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readPublished(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPublish(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)

	r := h.publisher.Publish(context.Background(), h.repo)
	require.True(t, r.Success, r.Details.Errors)
	assert.Equal(t, report.StateFinished, r.Summary[StepPublishModules])
	assert.Equal(t, 3, r.Summary[KeyUnitsProcessed])
	assert.Equal(t, "gen-1", r.Summary[KeyGeneration])

	link, err := os.Readlink(h.httpsTarget())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dirs.master, "win", "gen-1"), link)
	assert.NoFileExists(t, h.httpTarget())

	assert.Equal(t, "content of a-1.msi", readPublished(t, filepath.Join(h.httpsTarget(), "a-1.msi")))
	assert.Equal(t, "content of crt-14.msm", readPublished(t, filepath.Join(h.httpsTarget(), "crt-14.msm")))

	rc, err := feed.OpenPrimary(filepath.Join(h.httpsTarget(), repodata.PrimaryLocation))
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	var published []string
	require.NoError(t, feed.EachPackage(rc, func(u *unit.Unit) error {
		published = append(published, u.Type.String()+":"+u.Filename)
		return nil
	}))
	assert.Equal(t, []string{"msi:a-1.msi", "msi:b-2.msi", "msm:crt-14.msm"}, published)

	manifest, err := os.Open(filepath.Join(h.httpsTarget(), repodata.RepomdLocation))
	require.NoError(t, err)
	defer func() { _ = manifest.Close() }()
	md, err := feed.ParseRepomd(manifest)
	require.NoError(t, err)
	assert.Equal(t, "1709294400", md.Revision)

	st, err := state.Load(h.dirs.state)
	require.NoError(t, err)
	assert.Equal(t, "gen-1", st.Generation("win"))

	entries, err := os.ReadDir(h.dirs.work)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory is moved, not left behind")
}

func TestPublishIndexIsIdempotent(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)

	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)
	primary := readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation))
	repomd := readPublished(t, filepath.Join(h.httpsTarget(), repodata.RepomdLocation))

	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)
	assert.Equal(t, primary, readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation)))
	assert.Equal(t, repomd, readPublished(t, filepath.Join(h.httpsTarget(), repodata.RepomdLocation)))

	assert.Equal(t, []string{"gen-2"}, h.generations(t), "older generations are removed after the swap")
}

func TestPublishCrashDuringStagingKeepsPreviousTree(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)

	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)
	before := readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation))

	h.add(t, &unit.Unit{Type: unit.TypeMSI, Name: "c", Version: "3", Checksum: "c4"})
	crashing := h.newPublisher(t, &failingStore{Store: h.store, after: 1})

	r := crashing.Publish(context.Background(), h.repo)
	require.False(t, r.Success)
	assert.Equal(t, report.StateFailed, r.Summary[StepPublishModules])
	assert.Contains(t, r.Details.Errors[0], errStoreCrashed.Error())

	link, err := os.Readlink(h.httpsTarget())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dirs.master, "win", "gen-1"), link)
	assert.Equal(t, before, readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation)))
	assert.Equal(t, []string{"gen-1"}, h.generations(t))

	entries, err := os.ReadDir(h.dirs.work)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed staging directory is removed")
}

func TestPublishIgnoresAssociationsMadeWhileStaging(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)

	late := &unit.Unit{Type: unit.TypeMSI, Name: "late", Version: "1", Checksum: "c9"}
	racing := h.newPublisher(t, &racingStore{Store: h.store, during: func() {
		h.add(t, late)
	}})

	r := racing.Publish(context.Background(), h.repo)
	require.True(t, r.Success, r.Details.Errors)
	assert.Equal(t, 3, r.Summary[KeyUnitsProcessed])

	primary := readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation))
	assert.Contains(t, primary, `packages="3"`)
	assert.NotContains(t, primary, "late-1.msi")
	assert.NoFileExists(t, filepath.Join(h.httpsTarget(), "late-1.msi"))

	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)
	assert.Contains(t, readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation)), `packages="4"`)
}

func TestPublishDisabledProtocolIsUnlinked(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)
	h.repo.Distributor.HTTP = true

	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)
	_, err := os.Readlink(h.httpTarget())
	require.NoError(t, err)

	h.repo.Distributor.HTTP = false
	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)

	_, err = os.Lstat(h.httpTarget())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Readlink(h.httpsTarget())
	assert.NoError(t, err)
}

func TestPublishPerRepositoryPublishDir(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)
	override := t.TempDir()
	h.repo.Distributor.HTTPSPublishDir = override

	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)

	_, err := os.Readlink(filepath.Join(override, "windows", "stable"))
	assert.NoError(t, err)
	assert.NoFileExists(t, h.httpsTarget())
}

func TestPublishEmptyRepository(t *testing.T) {
	h := newPublishHarness(t)

	r := h.publisher.Publish(context.Background(), h.repo)
	require.True(t, r.Success)
	assert.Equal(t, 0, r.Summary[KeyUnitsProcessed])
	assert.Contains(t, readPublished(t, filepath.Join(h.httpsTarget(), repodata.PrimaryLocation)), `packages="0"`)
}

func TestPublishUnitWithoutContent(t *testing.T) {
	h := newPublishHarness(t)
	u := &unit.Unit{Type: unit.TypeMSI, Name: "ghost", Version: "1", Checksum: "c9", ChecksumType: "sha256"}
	u.DeriveFilename()
	saved, _, err := h.store.Save(context.Background(), u)
	require.NoError(t, err)
	require.NoError(t, h.store.Associate(context.Background(), h.repo.ID, saved))

	r := h.publisher.Publish(context.Background(), h.repo)
	require.False(t, r.Success)
	assert.Contains(t, r.Details.Errors[0], "has no stored content")
	assert.NoFileExists(t, h.httpsTarget())
}

func TestPublishSerializedPerRepository(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)

	var mu sync.Mutex
	next := h.publisher.newGeneration
	h.publisher.newGeneration = func() string {
		mu.Lock()
		defer mu.Unlock()
		return next()
	}

	var wg sync.WaitGroup
	results := make([]*report.Report, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.publisher.Publish(context.Background(), h.repo)
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Success, r.Details.Errors)
	}
	gens := h.generations(t)
	require.Len(t, gens, 1)

	link, err := os.Readlink(h.httpsTarget())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dirs.master, "win", gens[0]), link)
}

func TestRemove(t *testing.T) {
	h := newPublishHarness(t)
	h.seedDefault(t)
	h.repo.Distributor.HTTP = true
	require.True(t, h.publisher.Publish(context.Background(), h.repo).Success)

	require.NoError(t, h.publisher.Remove(h.repo))

	assert.NoDirExists(t, filepath.Join(h.dirs.master, "win"))
	for _, target := range []string{h.httpTarget(), h.httpsTarget()} {
		_, err := os.Lstat(target)
		assert.True(t, os.IsNotExist(err), target)
	}

	st, err := state.Load(h.dirs.state)
	require.NoError(t, err)
	assert.Empty(t, st.Generation("win"))

	require.NoError(t, h.publisher.Remove(h.repo), "removing twice is not an error")
}
