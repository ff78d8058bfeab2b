package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare local cache with server",
	Long:  "Report whether the server's entry matches the local fingerprint without downloading it.",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the cache server",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(healthCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	status, err := c.Check(cmd.Context())
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c.Slot(), status)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	if err := c.Health(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is healthy\n", c.Profile().Name, c.Profile().Address)
	return nil
}
