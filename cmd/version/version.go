package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tphakala/ridenote/internal/buildinfo"
)

// Command creates a new cobra.Command to print build information.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ridenote %s (built %s, %s/%s)\nsystem id: %s\n",
				info.GetVersion(), info.GetBuildDate(), runtime.GOOS, runtime.GOARCH, info.GetSystemID())
			return err
		},
	}
}
