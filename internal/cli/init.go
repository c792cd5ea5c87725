package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/clierr"
	"github.com/markwolfe/tracecc/internal/config"
)

func newInitCmd(outRoot *string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project tracecc.config.json and output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := config.InitProject(configPath, *outRoot)
			if err != nil {
				return clierr.New(clierr.CodeIO, "init: "+err.Error())
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", fmt.Sprintf("project config path (default %q)", config.DefaultProjectConfigPath))
	return cmd
}
