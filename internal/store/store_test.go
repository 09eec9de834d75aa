package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/common"
)

// testClock lets tests move the store's notion of now.
type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{cur: time.Unix(1700000000, 0)}
	cfg := common.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "archive.db")}
	s, err := Open(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	s.now = clock.Now
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestEnqueueAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	minChars := 80
	id, err := s.Tasks().Enqueue(ctx, EnqueueParams{
		FilePath: "/data/inbox/report.pdf",
		Theme:    "river-survey",
		JobID:    7,
		TenantID: "acme",
		Intent: &Intent{
			LLMMode:           "sync",
			PrefilterMinChars: &minChars,
			PrefilterKeywords: []string{"easement", "parcel"},
		},
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	task, err := s.Tasks().Get(ctx, id, "acme")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "/data/inbox/report.pdf", task.FilePath)
	assert.Equal(t, "river-survey", task.Theme)
	assert.Equal(t, int64(7), task.JobID)
	assert.Equal(t, constants.TaskStatusPending, task.Status)
	assert.Equal(t, 0, task.Attempts)
	require.NotNil(t, task.Intent)
	assert.Equal(t, "sync", task.Intent.LLMMode)
	require.NotNil(t, task.Intent.PrefilterMinChars)
	assert.Equal(t, 80, *task.Intent.PrefilterMinChars)
	assert.Equal(t, []string{"easement", "parcel"}, task.Intent.PrefilterKeywords)

	// Wrong tenant sees nothing.
	task, err = s.Tasks().Get(ctx, id, "other")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestEnqueueRejectsBadIntent(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Tasks().Enqueue(context.Background(), EnqueueParams{
		FilePath: "/data/a.txt",
		Intent:   &Intent{LLMMode: "quantum"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestLeaseOrderOldestFirst(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/a.txt"})
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	second, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/b.txt"})
	require.NoError(t, err)

	p := LeaseParams{VisibilityTimeout: time.Minute}
	task, err := s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, first, task.ID)
	assert.Equal(t, 1, task.Attempts)

	task, err = s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, second, task.ID)

	// Queue drained.
	task, err = s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestLeaseExclusivity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/doc.txt"})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := s.Tasks().LeaseOne(ctx, LeaseParams{VisibilityTimeout: time.Minute})
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %d leased more than once", id)
	}
}

func TestLeaseRecyclesExpired(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/a.txt"})
	require.NoError(t, err)

	p := LeaseParams{VisibilityTimeout: time.Minute}
	task, err := s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, task)

	// Still held: nothing to lease.
	clock.Advance(30 * time.Second)
	task, err = s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, task)

	// Past the visibility timeout the lease is recycled and re-claimed.
	clock.Advance(45 * time.Second)
	task, err = s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, 2, task.Attempts)
}

func TestFlaggedStaysOffQueue(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/a.txt"})
	require.NoError(t, err)

	p := LeaseParams{VisibilityTimeout: time.Minute}
	task, err := s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, s.Tasks().Flag(ctx, id, "extraction failed: empty content", ""))

	// Flagged tasks never expire back into the queue.
	clock.Advance(time.Hour)
	task, err = s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, task)

	// Only the explicit operator reset requeues them.
	require.NoError(t, s.Tasks().ResetToPending(ctx, id))
	task, err = s.Tasks().LeaseOne(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, 2, task.Attempts)
	assert.Empty(t, task.LastError)
}

func TestFlagTruncatesError(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/a.txt"})
	require.NoError(t, err)

	long := strings.Repeat("x", maxErrorLen+500)
	require.NoError(t, s.Tasks().Flag(ctx, id, long, ""))

	task, err := s.Tasks().Get(ctx, id, "")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Len(t, task.LastError, maxErrorLen)

	// A multibyte rune straddling the cap must not be split.
	id2, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/b.txt"})
	require.NoError(t, err)
	require.NoError(t, s.Tasks().Flag(ctx, id2, strings.Repeat("日", maxErrorLen), ""))

	task, err = s.Tasks().Get(ctx, id2, "")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, utf8.ValidString(task.LastError))
	assert.LessOrEqual(t, len(task.LastError), maxErrorLen)
}

func TestTerminalUpdatesAreTenantScoped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/a.txt", TenantID: "acme"})
	require.NoError(t, err)

	// Wrong tenant: silently no-op.
	require.NoError(t, s.Tasks().Complete(ctx, id, "other"))
	task, err := s.Tasks().Get(ctx, id, "acme")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusPending, task.Status)

	// Unknown id: also a no-op.
	require.NoError(t, s.Tasks().Complete(ctx, 99999, "acme"))

	require.NoError(t, s.Tasks().Complete(ctx, id, "acme"))
	task, err = s.Tasks().Get(ctx, id, "acme")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusDone, task.Status)
}

func TestTenantScopedLease(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	acmeID, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/acme.txt", TenantID: "acme"})
	require.NoError(t, err)
	sharedID, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/shared.txt"})
	require.NoError(t, err)

	// Strict tenant filter sees only its own rows.
	task, err := s.Tasks().LeaseOne(ctx, LeaseParams{VisibilityTimeout: time.Minute, TenantID: "other"})
	require.NoError(t, err)
	assert.Nil(t, task)

	// AllowUnscoped picks up the shared-pool task.
	task, err = s.Tasks().LeaseOne(ctx, LeaseParams{VisibilityTimeout: time.Minute, TenantID: "other", AllowUnscoped: true})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, sharedID, task.ID)

	task, err = s.Tasks().LeaseOne(ctx, LeaseParams{VisibilityTimeout: time.Minute, TenantID: "acme"})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, acmeID, task.ID)
}

func TestCounts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	jobID, err := s.Jobs().Create(ctx, "", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Tasks().Enqueue(ctx, EnqueueParams{FilePath: "/data/a.txt", JobID: jobID})
		require.NoError(t, err)
	}
	task, err := s.Tasks().LeaseOne(ctx, LeaseParams{VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.NoError(t, s.Tasks().Flag(ctx, task.ID, "boom", ""))

	counts, err := s.Tasks().Counts(ctx, "")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, int64(2), counts[string(constants.TaskStatusPending)])
	assert.Equal(t, int64(1), counts[string(constants.TaskStatusFlagged)])

	jobCounts, err := s.Tasks().CountsForJob(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, counts, jobCounts)

	lastErr, err := s.Tasks().LastErrorForJob(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, "boom", lastErr)
}

func TestJobLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Jobs().Create(ctx, "https://hooks.example.com/done", "acme")
	require.NoError(t, err)

	require.NoError(t, s.Jobs().SetStatus(ctx, id, constants.JobStatusProcessing, ""))
	require.NoError(t, s.Jobs().RecordCallbackStatus(ctx, id, "200"))
	require.NoError(t, s.Jobs().SetStatus(ctx, id, constants.JobStatusDone, ""))

	job, err := s.Jobs().Get(ctx, id, "acme")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, constants.JobStatusDone, job.Status)
	assert.Equal(t, "https://hooks.example.com/done", job.CallbackURL)
	assert.Equal(t, 1, job.CallbackAttempts)
	assert.Equal(t, "200", job.LastCallbackStatus)

	jobs, err := s.Jobs().List(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}

func TestManifestDedupe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const hash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	entry, err := s.Manifest().Find(ctx, hash, "acme")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, s.Manifest().Record(ctx, ManifestEntry{
		SHA256:       hash,
		FilePath:     "/data/inbox/report.pdf",
		OriginalName: "report.pdf",
		SizeBytes:    2048,
		Theme:        "river-survey",
		TenantID:     "acme",
	}))

	entry, err = s.Manifest().Find(ctx, hash, "acme")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "/data/inbox/report.pdf", entry.FilePath)

	// Same tenant: scoped lookup from another tenant misses.
	entry, err = s.Manifest().Find(ctx, hash, "other")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Re-recording the same hash updates in place.
	require.NoError(t, s.Manifest().Record(ctx, ManifestEntry{
		SHA256:   hash,
		FilePath: "/data/processed/report.pdf",
		TenantID: "acme",
	}))
	entry, err = s.Manifest().Find(ctx, hash, "acme")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "/data/processed/report.pdf", entry.FilePath)
}
