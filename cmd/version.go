package cmd

import (
	"fmt"
	"uprobedeploy/version"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("version: %s\nbuild time: %s\ncommit: %s\n",
			version.GetVersion(), version.GetBuildTime(), version.GetCommitID())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
