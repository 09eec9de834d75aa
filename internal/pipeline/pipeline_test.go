package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/enrich"
	"github.com/fieldarchive/ingestor/internal/extract"
	"github.com/fieldarchive/ingestor/internal/geo"
	"github.com/fieldarchive/ingestor/internal/index"
	"github.com/fieldarchive/ingestor/internal/notify"
	"github.com/fieldarchive/ingestor/internal/store"
)

type testEnv struct {
	cfg   *common.Config
	store *store.Store
	index *index.Index
	aois  *geo.AOIStore
	proc  *Processor
}

func newTestEnv(t *testing.T, mutate func(cfg *common.Config)) *testEnv {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)
	workspace := t.TempDir()

	cfg := &common.Config{}
	cfg.Paths.Workspace = workspace
	cfg.Paths.Staging = filepath.Join(workspace, "staging")
	cfg.Paths.RefinedDir = filepath.Join(workspace, "refined")
	cfg.Paths.IndexDir = filepath.Join(workspace, "index")
	cfg.Worker.VisibilityTimeout = time.Minute
	cfg.Worker.AllowUnscoped = true
	cfg.LLM.Offline = true
	cfg.LLM.Mode = "sync"
	cfg.LLM.SummaryEnabled = true
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.Open(context.Background(),
		common.DatabaseConfig{DSN: filepath.Join(workspace, "queue.db")}, discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ix, err := index.Open(context.Background(),
		filepath.Join(cfg.Paths.IndexDir, "index.db"), discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	extractor := extract.NewExtractor(extract.Config{
		StagingDir: cfg.Paths.Staging,
	}, nil, nil, nil, discard)

	llm, err := enrich.NewClient(cfg.LLM, discard)
	require.NoError(t, err)
	scorer, err := enrich.NewScorer(cfg.Relevancy, llm, discard)
	require.NoError(t, err)

	aois := geo.NewAOIStore(cfg.Paths.IndexDir)
	pois := geo.NewPOIStore(cfg.Paths.IndexDir)

	proc := NewProcessor(cfg, ProcessorDeps{
		Store:     st,
		Extractor: extractor,
		Index:     ix,
		LLM:       llm,
		Scorer:    scorer,
		AOIs:      aois,
		POIs:      pois,
		Notifier:  notify.New(cfg.Webhook, st.Jobs(), discard),
	}, discard)

	return &testEnv{cfg: cfg, store: st, index: ix, aois: aois, proc: proc}
}

func enqueueFile(t *testing.T, env *testEnv, name, content, theme string) int64 {
	t.Helper()
	path := filepath.Join(env.cfg.Paths.Workspace, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	id, err := env.store.Tasks().Enqueue(context.Background(), store.EnqueueParams{
		FilePath: path,
		Theme:    theme,
	})
	require.NoError(t, err)
	return id
}

const surveyText = "Survey of the reserve boundary near Kamloops. " +
	"Marker placed at 50.6745, -120.3273 beside the river crossing. " +
	"The line continues north along the fence for two miles."

func TestRunOnceCompletesTextTask(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// An AOI around Kamloops so the coordinate lands inside it.
	_, err := env.aois.Add("Kamloops IR", "ALC_Confirmed", [][]float64{
		{-121, 50}, {-119, 50}, {-119, 51}, {-121, 51}, {-121, 50},
	}, "", map[string]any{"altype": "reserve"})
	require.NoError(t, err)

	taskID := enqueueFile(t, env, "survey_notes_1911-06-15.txt", surveyText, "ALC_Confirmed")

	worked, err := env.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	task, err := env.store.Tasks().Get(ctx, taskID, "")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusDone, task.Status)

	doc, err := env.index.DocByTask(ctx, taskID, "")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "survey_notes_1911-06-15", doc.Title)
	assert.Equal(t, "1911-06-15", doc.InferredDate)

	hits, err := env.index.Search(ctx, "boundary", index.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	points, err := env.index.GeoForDoc(ctx, doc.ID, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 50.6745, points[0].Lat, 1e-6)

	// The JSON artifact carries the AOI-derived tags.
	buf, err := os.ReadFile(filepath.Join(env.cfg.Paths.Staging, "1.json"))
	require.NoError(t, err)
	var a struct {
		GeoTags *geo.Tags `json:"geo_tags"`
	}
	require.NoError(t, json.Unmarshal(buf, &a))
	require.NotNil(t, a.GeoTags)
	assert.True(t, a.GeoTags.InReserve)

	// The theme notebook was appended.
	md, err := os.ReadFile(filepath.Join(env.cfg.Paths.RefinedDir, "Refined_ALC_Confirmed.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "## Task 1")
	assert.Contains(t, string(md), "Coordinates: 1 found")
}

func TestRunOnceFlagsShortContent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var received notify.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	jobID, err := env.store.Jobs().Create(ctx, srv.URL, "")
	require.NoError(t, err)

	path := filepath.Join(env.cfg.Paths.Workspace, "stub.txt")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0o644))
	taskID, err := env.store.Tasks().Enqueue(ctx, store.EnqueueParams{FilePath: path, JobID: jobID})
	require.NoError(t, err)

	worked, err := env.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	task, err := env.store.Tasks().Get(ctx, taskID, "")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusFlagged, task.Status)
	assert.Contains(t, task.LastError, "content too short to index")

	job, err := env.store.Jobs().Get(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFlagged, job.Status)
	assert.Contains(t, job.LastError, "content too short to index")

	assert.Equal(t, "flagged", received.Status)
	assert.Contains(t, received.Error, "content too short to index")
}

func TestRunOnceCompletedJobSendsCallback(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var received notify.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	jobID, err := env.store.Jobs().Create(ctx, srv.URL, "")
	require.NoError(t, err)

	path := filepath.Join(env.cfg.Paths.Workspace, "report_2020-01-02.txt")
	require.NoError(t, os.WriteFile(path, []byte(surveyText), 0o644))
	taskID, err := env.store.Tasks().Enqueue(ctx, store.EnqueueParams{
		FilePath: path, Theme: "BC_SOI", JobID: jobID,
	})
	require.NoError(t, err)

	worked, err := env.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	assert.Equal(t, "done", received.Status)
	assert.Equal(t, taskID, received.TaskID)
	assert.Equal(t, "report", received.DocType)
	assert.Equal(t, "2020-01-02", received.InferredDate)
	assert.NotEmpty(t, received.DocID)

	job, err := env.store.Jobs().Get(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusDone, job.Status)
	assert.Equal(t, "200", job.LastCallbackStatus)
}

func TestRunOnceNoWork(t *testing.T) {
	env := newTestEnv(t, nil)
	worked, err := env.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRunOncePeriodAnnotation(t *testing.T) {
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Project.StartYear = 1900
		cfg.Project.EndYear = 1950
	})
	ctx := context.Background()

	enqueueFile(t, env, "late_report_1999-05-05.txt", surveyText, "")

	worked, err := env.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	buf, err := os.ReadFile(filepath.Join(env.cfg.Paths.Staging, "1.json"))
	require.NoError(t, err)
	var a struct {
		Period *periodInfo `json:"period"`
	}
	require.NoError(t, json.Unmarshal(buf, &a))
	require.NotNil(t, a.Period)
	assert.Equal(t, 1999, a.Period.Year)
	assert.False(t, a.Period.WithinPeriod, "outside the project window, still processed")
}

func TestRunOnceMovesProcessedFile(t *testing.T) {
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Worker.MoveProcessed = true
	})
	ctx := context.Background()

	taskID := enqueueFile(t, env, "keep.txt", surveyText, "")

	worked, err := env.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	moved := filepath.Join(env.cfg.Paths.Workspace, "Processed", "keep_processed.txt")
	_, err = os.Stat(moved)
	require.NoError(t, err, "file moved into Processed/")

	task, err := env.store.Tasks().Get(ctx, taskID, "")
	require.NoError(t, err)
	assert.Equal(t, moved, task.FilePath)

	doc, err := env.index.DocByTask(ctx, taskID, "")
	require.NoError(t, err)
	assert.Equal(t, moved, doc.FilePath)
}

func TestRunnerStopsAtDocumentCap(t *testing.T) {
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Worker.PoolSize = 2
		cfg.Worker.MaxDocsPerRun = 3
		cfg.Worker.PollInterval = 20 * time.Millisecond
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enqueueFile(t, env, "doc"+string(rune('a'+i))+".txt", surveyText+" copy", "")
	}

	runner := NewRunner(env.proc, env.cfg.Worker, slog.New(slog.DiscardHandler))
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop at the document cap")
	}

	counts, err := env.store.Tasks().Counts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[string(constants.TaskStatusDone)])
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Worker.PoolSize = 1
		cfg.Worker.PollInterval = 20 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())

	runner := NewRunner(env.proc, env.cfg.Worker, slog.New(slog.DiscardHandler))
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}
