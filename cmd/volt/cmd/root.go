package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theMackabu/volt"
	"github.com/theMackabu/volt/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "volt",
	Short: "Build cache sync",
	Long: "volt wraps a build command and keeps its output directories in sync with a remote cache server.\n" +
		"Without a subcommand it runs the configured build between a pull and a push.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}

	var exitErr *volt.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "%s failed with exit code %d\n", exitErr.Command, exitErr.Code)
		stop()
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, volt.FailureLine(err))
	stop()
	os.Exit(1)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "settings file (default: ~/.volt/config.yaml)")
	flags.StringP("path", "p", config.DefaultProjectFile, "project file to load")
	flags.String("servers-dir", "", "server profiles directory (default: ~/.volt/servers)")
	flags.Bool("debug", false, "verbose logging")

	viper.BindPFlag("path", flags.Lookup("path"))
	viper.BindPFlag("servers_dir", flags.Lookup("servers-dir"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VOLT")
	viper.AutomaticEnv()
	viper.SetDefault("path", config.DefaultProjectFile)
	viper.SetDefault("attempts", 3)
	viper.SetDefault("level", 3)
	if dir, err := config.DefaultServersDir(); err == nil {
		viper.SetDefault("servers_dir", dir)
	}

	viper.ReadInConfig()
}

func configDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".volt")
	}
	return ".volt"
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("debug") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func newClient() (*volt.Client, error) {
	path := viper.GetString("path")
	project, err := config.LoadProject(path)
	if err != nil {
		return nil, err
	}
	profiles, err := config.LoadProfiles(viper.GetString("servers_dir"))
	if err != nil {
		return nil, err
	}
	return volt.New(project, profiles,
		volt.WithRoot(filepath.Dir(path)),
		volt.WithLogger(newLogger()),
		volt.WithRetry(viper.GetInt("attempts"), 0),
		volt.WithCompression(viper.GetInt("level"), 0),
	)
}
