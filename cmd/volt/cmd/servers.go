package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theMackabu/volt/internal/config"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List server profiles",
	Long:  "List the server profiles in the servers directory. Tokens are not shown.",
	Args:  cobra.NoArgs,
	RunE:  runServers,
}

var serversAddCmd = &cobra.Command{
	Use:   "add <name> <[tls://][token@]address[:port]>",
	Short: "Add or replace a server profile",
	Args:  cobra.ExactArgs(2),
	RunE:  runServersAdd,
}

func init() {
	serversCmd.AddCommand(serversAddCmd)
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	profiles, err := config.LoadProfiles(viper.GetString("servers_dir"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range profiles.Names() {
		p := profiles[name]
		scheme := "http"
		if p.TLS {
			scheme = "https"
		}
		auth := "no token"
		if p.Token != "" {
			auth = "token"
		}
		fmt.Fprintf(out, "%s\t%s://%s\t%s\n", name, scheme, p.Address, auth)
	}
	return nil
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	p, err := config.ParseProfile(args[0], args[1])
	if err != nil {
		return err
	}
	if err := config.SaveProfile(viper.GetString("servers_dir"), p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", p.Name)
	return nil
}
