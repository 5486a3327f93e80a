package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/store"
)

var (
	jobsOwner  string
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List import jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(cmd.Context(), store.JobFilter{
			OwnerID: jobsOwner,
			Status:  model.JobStatus(jobsStatus),
			Limit:   jobsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOWNER\tFILE\tSTATUS\tTOTAL\tVALID\tINVALID\tIMPORTED\tSKIPPED\tCHECKPOINT")
		for _, j := range jobs {
			checkpoint := "-"
			if j.Checkpoint != nil {
				checkpoint = fmt.Sprintf("chunk %d @ row %d", j.Checkpoint.Chunk, j.Checkpoint.LastRowNumber)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				j.ID, j.OwnerID, j.FileName, j.Status,
				j.Counters.TotalRows, j.Counters.ValidRows, j.Counters.InvalidRows,
				j.Counters.ImportedRows, j.Counters.SkippedRows, checkpoint)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsOwner, "owner", "", "filter by owner id")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
