package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theMackabu/volt"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run build with caching",
	Long:  "Pull the cache, run the wrap command and push the cache when the build succeeded.",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report, err := c.Run(cmd.Context())
	if report.PullErr != nil {
		fmt.Fprintln(out, "pull:", volt.FailureLine(report.PullErr))
	} else if report.Pull.Fingerprint != "" {
		fmt.Fprintln(out, "pull:", report.Pull)
	}
	if err != nil {
		return err
	}

	if report.PushErr != nil {
		fmt.Fprintln(out, "push:", volt.FailureLine(report.PushErr))
	} else {
		fmt.Fprintln(out, "push:", report.Push)
	}
	fmt.Fprintln(out, "finished successfully in", volt.FormatDuration(report.Duration))
	return nil
}
