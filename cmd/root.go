package cmd

import (
	"fmt"
	"os"
	"time"

	"uprobedeploy/common"

	"github.com/jefurry/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger = common.AgentLog

var rootCmd = &cobra.Command{
	Use:   "uprobedeploy",
	Short: "uprobedeploy deploys uprobes onto OpenSSL and Go TLS/HTTP2 processes",
	Long:  `Scans live processes for OpenSSL and Go TLS/HTTP2 usage and attaches uprobes tracking their encrypted traffic.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Run: func(cmd *cobra.Command, args []string) {
		startAgent()
	},
}

var (
	Verbose             bool
	Daemon              bool
	LogDir              string
	HTTP2TracingEnabled bool
	SelfProbingDisabled bool
	RescanForDlopen     bool
	ScanInterval        time.Duration
	ASID                uint32
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&Verbose, common.VerboseVarName, "v", false, "print verbose log")
	rootCmd.PersistentFlags().BoolVarP(&Daemon, common.DaemonVarName, "d", false, "run in background")
	rootCmd.PersistentFlags().StringVar(&LogDir, common.LogDirVarName, "", "log file dir")
	rootCmd.PersistentFlags().BoolVar(&HTTP2TracingEnabled, common.Http2TracingEnabledVarName, true, "attach Go HTTP/2 probes in addition to TLS probes")
	rootCmd.PersistentFlags().BoolVar(&SelfProbingDisabled, common.SelfProbingDisabledVarName, true, "exempt this agent's own process from probing")
	rootCmd.PersistentFlags().BoolVar(&RescanForDlopen, common.RescanForDlopenVarName, true, "re-scan a process for OpenSSL after it dlopen()s a shared object")
	rootCmd.PersistentFlags().DurationVar(&ScanInterval, common.ScanIntervalVarName, 2*time.Second, "period between process-enumeration passes")
	rootCmd.PersistentFlags().Uint32Var(&ASID, common.ASIDVarName, 0, "agent-scoped id used as the first coordinate of this agent's process identities")

	viper.BindPFlags(rootCmd.PersistentFlags())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initLog() {
	if viper.GetBool(common.VerboseVarName) {
		for _, l := range common.Loggers {
			l.SetLevel(logrus.DebugLevel)
		}
	} else {
		for _, l := range common.Loggers {
			l.SetLevel(logrus.InfoLevel)
		}
	}

	logdir := viper.GetString(common.LogDirVarName)
	if logdir != "" {
		common.LogDir = logdir
		common.SetLogToFile()
	} else {
		common.SetLogToStdout()
	}
}
