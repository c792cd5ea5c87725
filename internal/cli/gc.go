package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/clierr"
	"github.com/markwolfe/tracecc/internal/config"
	"github.com/markwolfe/tracecc/internal/gc"
)

func newGCCmd(outRoot *string) *cobra.Command {
	var (
		maxAgeDays    int
		maxTotalBytes int64
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Prune old run directories by age and/or total size, keeping pinned runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.LoadMerged(*outRoot)
			if err != nil {
				return clierr.New(clierr.CodeUsage, "load config: "+err.Error())
			}
			res, err := gc.Run(gc.Opts{
				OutRoot:       m.OutRoot,
				Now:           time.Now(),
				MaxAgeDays:    maxAgeDays,
				MaxTotalBytes: maxTotalBytes,
				DryRun:        dryRun,
			})
			if err != nil {
				return clierr.New(clierr.CodeIO, "gc: "+err.Error())
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return clierr.New(clierr.CodeIO, "encode gc result: "+err.Error())
			}
			if !res.OK {
				hostExitCode = 1
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "delete unpinned runs older than this many days (0: no age limit)")
	cmd.Flags().Int64Var(&maxTotalBytes, "max-total-bytes", 0, "delete oldest unpinned runs until total size is under this (0: no size limit)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting anything")
	return cmd
}
