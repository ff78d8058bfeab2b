package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push cache to server",
	Long:  "Archive the cache directories and upload them, replacing the slot's entry.",
	Args:  cobra.NoArgs,
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	res, err := c.Push(cmd.Context())
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res)
	return nil
}
