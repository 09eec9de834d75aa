package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/index"
	"github.com/fieldarchive/ingestor/internal/ingest"
	"github.com/fieldarchive/ingestor/internal/pipeline"
	"github.com/fieldarchive/ingestor/internal/store"
)

// archivectl is the operator tool: enqueue files, watch a drop
// directory, inspect the queue, and reset flagged tasks. Configuration
// comes from the same ARCHIVE_* environment as workerd; flags only
// carry per-invocation arguments.
func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "archivectl",
		Usage: "Administer the document archive queue and index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "tenant",
				Usage: "Tenant scope for all commands (empty means unscoped)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "enqueue",
				Usage:     "Enqueue a file for processing",
				ArgsUsage: "<file>",
				Action:    enqueueCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "theme",
						Usage: "Theme to file the document under",
					},
					&cli.StringFlag{
						Name:  "callback",
						Usage: "Webhook URL notified when the task finishes",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Enqueue even when the content hash is already in the manifest",
					},
					&cli.StringFlag{
						Name:  "llm-mode",
						Usage: "Override LLM mode for this task (sync, batch)",
					},
					&cli.BoolFlag{
						Name:  "no-summary",
						Usage: "Disable summary generation for this task",
					},
				},
			},
			{
				Name:      "watch",
				Usage:     "Watch a drop directory and enqueue files as they arrive",
				ArgsUsage: "<dir>",
				Action:    watchCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Settle time before a written file is enqueued",
						Value: 2 * time.Second,
					},
				},
			},
			{
				Name:   "tasks",
				Usage:  "List tasks",
				Action: tasksCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, leased, done, flagged)",
					},
					&cli.StringFlag{
						Name:  "theme",
						Usage: "Filter by theme",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum rows to show",
						Value: 50,
					},
				},
			},
			{
				Name:   "counts",
				Usage:  "Show task counts by status",
				Action: countsCommand,
			},
			{
				Name:   "flagged",
				Usage:  "List flagged tasks with their last error",
				Action: flaggedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum rows to show",
						Value: 50,
					},
				},
			},
			{
				Name:      "reset",
				Usage:     "Reset a flagged task back to pending",
				ArgsUsage: "<task-id>",
				Action:    resetCommand,
			},
			{
				Name:   "jobs",
				Usage:  "List jobs and their callback state",
				Action: jobsCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "id",
						Usage: "Show a single job with its task counts",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum rows to show",
						Value: 50,
					},
				},
			},
			{
				Name:  "summaries",
				Usage: "Batch summary backfill for docs processed with llm-mode batch",
				Subcommands: []*cli.Command{
					{
						Name:   "prepare",
						Usage:  "Write a Batch API JSONL request file for docs without summaries",
						Action: summariesPrepareCommand,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum docs to include",
								Value: 100,
							},
						},
					},
					{
						Name:      "ingest",
						Usage:     "Ingest a JSONL file of {doc_id, summary} lines into the index",
						ArgsUsage: "<file>",
						Action:    summariesIngestCommand,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Full-text search over indexed documents",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "theme",
						Usage: "Filter by theme",
					},
					&cli.StringFlag{
						Name:  "doc-type",
						Usage: "Filter by document type",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum hits to show",
						Value: 10,
					},
				},
			},
		},
	}
}

func enqueueCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("enqueue: exactly one file argument is required")
	}

	cfg, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	var intent *store.Intent
	if c.String("llm-mode") != "" || c.Bool("no-summary") {
		intent = &store.Intent{LLMMode: c.String("llm-mode")}
		if c.Bool("no-summary") {
			off := false
			intent.SummaryEnabled = &off
		}
	}

	svc := ingest.NewService(st, cfg.Ingest, slog.Default())
	res, err := svc.Submit(c.Context, ingest.SubmitParams{
		FilePath:    c.Args().First(),
		Theme:       c.String("theme"),
		TenantID:    c.String("tenant"),
		CallbackURL: c.String("callback"),
		Intent:      intent,
		Force:       c.Bool("force"),
	})
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	if res.Deduped {
		fmt.Printf("already ingested (sha256 %s), existing path %s\n", res.SHA256, res.ExistingPath)
		return nil
	}
	fmt.Printf("task %d enqueued (sha256 %s)\n", res.TaskID, res.SHA256)
	if res.JobID != 0 {
		fmt.Printf("job %d created for callback delivery\n", res.JobID)
	}
	return nil
}

func watchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("watch: exactly one directory argument is required")
	}

	cfg, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := ingest.NewService(st, cfg.Ingest, slog.Default())
	w := ingest.NewWatcher(svc, c.Args().First(), c.String("tenant"), c.Duration("debounce"), slog.Default())

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", c.Args().First())
	if err := w.Run(c.Context); err != nil && c.Context.Err() == nil {
		return fmt.Errorf("watcher stopped: %w", err)
	}
	return nil
}

func tasksCommand(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.Tasks().List(c.Context, store.ListFilter{
		TenantID: c.String("tenant"),
		Status:   constants.TaskStatus(c.String("status")),
		Theme:    c.String("theme"),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%-6d %-8s attempts=%d job=%d theme=%-20s %s\n",
			t.ID, t.Status, t.Attempts, t.JobID, t.Theme, t.FilePath)
	}
	return nil
}

func countsCommand(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.Tasks().Counts(c.Context, c.String("tenant"))
	if err != nil {
		return err
	}
	for _, status := range []constants.TaskStatus{
		constants.TaskStatusPending,
		constants.TaskStatusLeased,
		constants.TaskStatusDone,
		constants.TaskStatusFlagged,
	} {
		fmt.Printf("%-8s %d\n", status, counts[string(status)])
	}
	return nil
}

func flaggedCommand(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.Tasks().ListFlagged(c.Context, c.String("tenant"), c.Int("limit"))
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%-6d attempts=%d %s\n       %s\n", t.ID, t.Attempts, t.FilePath, t.LastError)
	}
	return nil
}

func resetCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("reset: exactly one task id is required")
	}
	var taskID int64
	if _, err := fmt.Sscanf(c.Args().First(), "%d", &taskID); err != nil {
		return fmt.Errorf("reset: invalid task id %q", c.Args().First())
	}

	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Tasks().ResetToPending(c.Context, taskID); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Printf("task %d reset to pending\n", taskID)
	return nil
}

func jobsCommand(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	tenant := c.String("tenant")
	if id := c.Int64("id"); id != 0 {
		job, err := st.Jobs().Get(c.Context, id, tenant)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %d not found", id)
		}
		printJob(job)
		counts, err := st.Tasks().CountsForJob(c.Context, id, tenant)
		if err != nil {
			return err
		}
		for status, n := range counts {
			fmt.Printf("       %s=%d\n", status, n)
		}
		return nil
	}

	jobs, err := st.Jobs().List(c.Context, tenant, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, job := range jobs {
		printJob(job)
	}
	return nil
}

func printJob(job *store.Job) {
	callback := job.LastCallbackStatus
	if callback == "" {
		callback = "-"
	}
	fmt.Printf("%-6d %-10s callback=%s attempts=%d %s\n",
		job.ID, job.Status, callback, job.CallbackAttempts, job.CallbackURL)
}

func searchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("search: exactly one query argument is required")
	}

	cfg := common.LoadConfig()
	ix, err := index.Open(c.Context, cfg.IndexPath(), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer ix.Close()

	hits, err := ix.Search(c.Context, c.Args().First(), index.SearchOptions{
		TenantID: c.String("tenant"),
		Theme:    c.String("theme"),
		DocType:  c.String("doc-type"),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}
	for _, h := range hits {
		title := h.Title
		if title == "" {
			title = h.FilePath
		}
		fmt.Printf("%-6d %-10s %s\n       %s\n", h.ID, h.DocType, title, h.Snippet)
	}
	return nil
}

func summariesPrepareCommand(c *cli.Context) error {
	cfg := common.LoadConfig()
	ix, err := index.Open(c.Context, cfg.IndexPath(), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer ix.Close()

	path, n, err := pipeline.NewBackfill(cfg, ix, slog.Default()).Prepare(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	if n == 0 {
		fmt.Println("no docs with pending summaries")
		return nil
	}
	fmt.Printf("wrote %d requests to %s\n", n, path)
	return nil
}

func summariesIngestCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("ingest: exactly one file argument is required")
	}

	cfg := common.LoadConfig()
	ix, err := index.Open(c.Context, cfg.IndexPath(), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer ix.Close()

	n, err := pipeline.NewBackfill(cfg, ix, slog.Default()).Ingest(c.Context, c.Args().First())
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	fmt.Printf("ingested summaries for %d documents\n", n)
	return nil
}

func openStore(c *cli.Context) (*common.Config, *store.Store, error) {
	cfg := common.LoadConfig()
	st, err := store.Open(c.Context, cfg.Database, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, st, nil
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	return nil
}
