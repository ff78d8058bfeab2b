package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theMackabu/volt/internal/events"
	"github.com/theMackabu/volt/internal/server"
	"github.com/theMackabu/volt/internal/store"
	"github.com/theMackabu/volt/internal/telemetry"
)

const serviceName = "volt-server"

var rootCmd = &cobra.Command{
	Use:          serviceName,
	Short:        "volt cache server",
	Long:         "Serves build cache archives keyed by project slot to authenticated volt clients.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./config.toml)")
	flags.String("address", "", "listen address")
	flags.String("cache-dir", "", "filesystem backend directory")
	flags.String("backend", "", "storage backend: filesystem, s3 or oci")
	flags.Int("rate-limit", 0, "requests per minute per client IP, 0 disables")
	flags.Bool("debug", false, "verbose logging")

	viper.BindPFlag("address", flags.Lookup("address"))
	viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	viper.BindPFlag("backend", flags.Lookup("backend"))
	viper.BindPFlag("rate_limit", flags.Lookup("rate-limit"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
}

func initConfig() {
	_ = godotenv.Load()

	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("VOLT_SERVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	viper.ReadInConfig()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if viper.GetBool("debug") {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	settings, err := loadSettings(viper.GetViper())
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, settings.OTLPEndpoint)
	if err != nil {
		log.Error().Err(err).Msg("init telemetry")
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	backend, err := openStore(ctx, settings)
	if err != nil {
		log.Error().Err(err).Str("backend", settings.Backend).Msg("open store")
		return err
	}

	cfg := server.Config{
		Token:     settings.AuthToken,
		RateLimit: settings.RateLimit,
		Logger:    log.Logger,
	}
	if settings.NATSURL != "" {
		bus, err := events.New(settings.NATSURL)
		if err != nil {
			log.Error().Err(err).Str("url", settings.NATSURL).Msg("connect nats")
			return err
		}
		defer bus.Close()
		cfg.Events = bus
	}

	s, err := server.New(store.NewSlots(backend), cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", settings.Address).
			Str("backend", settings.Backend).
			Str("location", settings.Location()).
			Bool("events", cfg.Events != nil).
			Msg("started volt server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("http server")
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
		return err
	}
	return nil
}
