package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/clierr"
	"github.com/markwolfe/tracecc/internal/update"
)

func newUpdateCmd() *cobra.Command {
	status := &cobra.Command{
		Use:   "status",
		Short: "Check whether a newer tracecc release is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			cacheOnly, _ := cmd.Flags().GetBool("cache-only")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			res, err := update.StatusCheck(Version, time.Now(), update.StatusOptions{
				Refresh:   refresh,
				CacheOnly: cacheOnly,
				Timeout:   timeout,
			})
			if err != nil {
				return clierr.New(clierr.CodeIO, "update status: "+err.Error())
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	status.Flags().Bool("refresh", false, "bypass the cached result and query the release feed now")
	status.Flags().Bool("cache-only", false, "never query the network; report from cache only")
	status.Flags().Duration("timeout", 3*time.Second, "release feed request timeout")

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check tracecc's own release status",
	}
	cmd.AddCommand(status)
	return cmd
}
