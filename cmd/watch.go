package cmd

import (
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live processes and deploy uprobes onto the ones using OpenSSL or Go TLS/HTTP2",
	Long:  `Runs the background scan loop: periodically enumerates live processes, finds which ones link OpenSSL or are Go binaries using crypto/tls or net/http2, and attaches uprobes to them.`,
	Run: func(cmd *cobra.Command, args []string) {
		startAgent()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
