package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/mapping"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/parser"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/store"
	"github.com/sells-group/lead-import/internal/worker"
)

var (
	runOwner       string
	runAssignMode  string
	runAssignUsers []string
	runDupStrategy string
	runDupFields   []string
	runCheckStore  bool
	runCheckFile   bool
)

// localPublisher collects messages in memory so the whole pipeline can be
// driven in one process without Redis.
type localPublisher struct {
	messages []queue.Message
}

func (p *localPublisher) Publish(_ context.Context, m queue.Message) error {
	p.messages = append(p.messages, m)
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Import one file end to end, without Redis",
	Long:  "Creates a job for the given CSV/XLSX file and drives parse and commit in-process. Intended for local runs and smoke tests.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		blobs, err := initBlob()
		if err != nil {
			return err
		}

		job, err := createLocalJob(ctx, st, blobs, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("job created", zap.String("job_id", job.ID), zap.String("file", job.FileName))

		ok, err := st.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusQueued)
		if err != nil {
			return err
		}
		if !ok {
			return eris.Errorf("job %s could not be started", job.ID)
		}

		pub := &localPublisher{messages: []queue.Message{queue.NewParseMessage(job.ID)}}
		parse := worker.NewParseWorker(st, blobs, pub, cfg.Import)
		commit := worker.NewCommitWorker(st, pub, cfg.Import)

		// Drain the in-memory queue; a retryable result re-runs the same
		// message up to the configured attempt budget.
		maxAttempts := cfg.Queue.Redis.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 5
		}
		for len(pub.messages) > 0 {
			m := pub.messages[0]
			pub.messages = pub.messages[1:]

			var res worker.Result
			switch m.Kind {
			case queue.KindParse:
				res = parse.Run(ctx, m)
			case queue.KindCommit:
				res = commit.Run(ctx, m)
			}

			if res.Retry() {
				m.Attempt++
				if m.Attempt >= maxAttempts {
					return eris.Wrapf(res.Err, "job %s gave up after %d attempts", m.JobID, m.Attempt)
				}
				pub.messages = append(pub.messages, m)
				continue
			}
			if res.Code == worker.CodeTerminal {
				return eris.Wrapf(res.Err, "job %s failed", m.JobID)
			}
		}

		final, err := st.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		fmt.Printf("job %s: %s\n", final.ID, final.Status)
		fmt.Printf("  rows:     %d total, %d valid, %d invalid\n",
			final.Counters.TotalRows, final.Counters.ValidRows, final.Counters.InvalidRows)
		fmt.Printf("  leads:    %d imported, %d skipped\n",
			final.Counters.ImportedRows, final.Counters.SkippedRows)
		if final.Counters.FallbackCount > 0 {
			fmt.Printf("  fallback: %d assignments used the default owner\n", final.Counters.FallbackCount)
		}
		return nil
	},
}

// createLocalJob uploads the file, detects the mapping and creates the job
// with the options given on the command line.
func createLocalJob(ctx context.Context, st store.Store, blobs blob.Store, path string) (*model.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}

	var fileType model.FileType
	var src parser.Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		fileType = model.FileTypeXLSX
		src, err = parser.NewXLSX(data, parser.XLSXOptions{})
	case ".csv", ".txt", ".tsv":
		fileType = model.FileTypeCSV
		src, err = parser.NewDelimited(bytes.NewReader(data), parser.DelimitedOptions{})
	default:
		return nil, eris.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	header, err := src.Next()
	if err != nil {
		return nil, eris.Wrap(err, "file has no header row")
	}

	key := blob.ObjectKey(runOwner, filepath.Base(path))
	hash, err := blobs.Upload(ctx, key, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		OwnerID:  runOwner,
		FileName: filepath.Base(path),
		FilePath: key,
		FileHash: hash,
		FileType: fileType,
		Mapping:  mapping.Detect(header),
	}
	if runAssignMode != "" {
		job.Assignment = &model.AssignmentConfig{
			Mode:    model.AssignMode(runAssignMode),
			UserIDs: runAssignUsers,
		}
		if len(runAssignUsers) == 1 {
			job.Assignment.UserID = runAssignUsers[0]
		}
	}
	if runDupStrategy != "" {
		job.Duplicate = &model.DuplicateConfig{
			Strategy:   model.DupStrategy(runDupStrategy),
			Fields:     runDupFields,
			CheckStore: runCheckStore,
			CheckFile:  runCheckFile,
		}
	}

	if err := st.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func init() {
	runCmd.Flags().StringVar(&runOwner, "owner", "local", "owner id for the imported leads")
	runCmd.Flags().StringVar(&runAssignMode, "assign-mode", "", "assignment mode: none, single, round_robin, by_column")
	runCmd.Flags().StringSliceVar(&runAssignUsers, "assign-users", nil, "user ids for single/round_robin assignment")
	runCmd.Flags().StringVar(&runDupStrategy, "dup-strategy", "", "duplicate strategy: skip, update, create")
	runCmd.Flags().StringSliceVar(&runDupFields, "dup-fields", []string{"email"}, "fields to match duplicates on")
	runCmd.Flags().BoolVar(&runCheckStore, "check-store", false, "match duplicates against existing leads")
	runCmd.Flags().BoolVar(&runCheckFile, "check-file", true, "match duplicates within the file")
	rootCmd.AddCommand(runCmd)
}
