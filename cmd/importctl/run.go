package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importwizard/internal/core"
	"github.com/JonMunkholm/importwizard/internal/export"
	"github.com/JonMunkholm/importwizard/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Extract records from a document",
	Long:  "Submit a document, follow the job until it finishes and print the extracted records as JSON sorted by order.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var (
	runCommit    bool
	runContainer string
	runXLSX      string
	runQuiet     bool
)

func init() {
	runCmd.Flags().BoolVar(&runCommit, "commit", false, "Save the records to the database (requires DATABASE_URL)")
	runCmd.Flags().StringVarP(&runContainer, "name", "n", "", "Container name for saved records")
	runCmd.Flags().StringVarP(&runXLSX, "xlsx", "x", "", "Also write the records to this XLSX file")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print records to stdout")

	rootCmd.AddCommand(runCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	jobs, err := newExtractClient()
	if err != nil {
		return err
	}

	var committer core.Committer
	if runCommit {
		if cfg.Database.URL == "" {
			return errors.New("--commit requires DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		store.CommitTimeout = cfg.Database.CommitTimeout
		records := store.New(pool, logger)
		if err := records.EnsureSchema(ctx); err != nil {
			return err
		}
		committer = records
	}

	wf := core.NewWorkflow(jobs, committer, core.WorkflowConfig{
		PollInterval:      cfg.Extraction.PollInterval,
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		Logger:            logger,
	})
	defer wf.Close()

	updates, unsubscribe := wf.Subscribe()
	defer unsubscribe()

	if err := wf.Submit(ctx, core.Document{Name: filepath.Base(path), Data: data}); err != nil {
		return describe(err)
	}

	snap, err := waitForResult(ctx, wf, updates)
	if err != nil {
		return describe(err)
	}
	logger.Info("extraction finished", "records", len(snap.Rows), "job_handle", snap.JobHandle)

	if !runQuiet {
		out, err := core.EncodeCommitRows(snap.Rows)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, out, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		buf.WriteTo(cmd.OutOrStdout())
	}

	if runXLSX != "" {
		book, err := export.XLSX(snap.Columns, snap.Rows)
		if err != nil {
			return err
		}
		if err := os.WriteFile(runXLSX, book, 0o644); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", runXLSX)
	}

	if runCommit {
		res, err := wf.Commit(ctx, runContainer)
		if err != nil {
			return describe(err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), wf.Snapshot().Message)
		logger.Info("records saved", "created", res.CreatedCount, "container_id", res.ContainerID)
	}
	return nil
}

// waitForResult follows snapshots until the run completes or fails.
func waitForResult(ctx context.Context, wf *core.Workflow, updates <-chan core.Snapshot) (core.Snapshot, error) {
	last := ""
	for {
		// Dropped snapshots are possible; the workflow is the source of truth.
		snap := wf.Snapshot()
		switch snap.State {
		case core.StateComplete:
			return snap, nil
		case core.StateError:
			return snap, snap.Err
		}
		if snap.Message != "" && snap.Message != last {
			logger.Info(snap.Message, "state", snap.State)
			last = snap.Message
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return snap, errors.New("workflow closed")
			}
		}
	}
}

// describe prefixes err with its user message when one is known.
func describe(err error) error {
	if !core.IsUserFacing(err) {
		return err
	}
	return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
}
