package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veldtlabs/runq/version"
)

// VersionCmd prints version information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Println(info.String())
		fmt.Printf("  go: %s\n  platform: %s\n", info.GoVersion, info.Platform)
	},
}
