// policy-extract drives credential-rotating batch extraction of structured
// fields from insurance policy documents through the Gemini API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Raos0nu/policy-extract/pkg/logging"
)

var (
	cfgFile  string
	logLevel string
	pretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "policy-extract",
	Short: "Batch extraction of structured fields from policy documents",
	Long: `policy-extract processes an ordered backlog of policy documents through
an external AI inference service, rotating between rate-limited API
credentials and persisting every result so runs can be paused and
resumed without reprocessing.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logging.Config{
			Level:  logging.LogLevel(logLevel),
			Pretty: pretty,
			Output: os.Stderr,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "policy-extract.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-readable console logs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
