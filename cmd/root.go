package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/chrisdamba/venuesim/internal/api"
	"github.com/chrisdamba/venuesim/internal/detection"
	"github.com/chrisdamba/venuesim/internal/logging"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
	"github.com/chrisdamba/venuesim/internal/session"
	"github.com/chrisdamba/venuesim/internal/simulator"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "venuesim",
	Short: "Simulates a live venue security dashboard",
	Long: `venuesim simulates the data behind a venue security dashboard: crowd density per area,
randomly raised alerts, threat detection on uploaded images or camera frames, and a
density heatmap. Events are streamed to the console, files, cloud storage, Kafka, NATS
or Postgres, and an optional HTTP API serves the dashboard.`,
	SilenceUsage: true,
	RunE:         runSimulation,
}

// flagKeys maps command-line flags to their config keys.
var flagKeys = map[string]string{
	"seed":               "seed",
	"log-level":          "log_level",
	"log-format":         "log_format",
	"refresh-interval":   "refresh_interval",
	"tick-resolution":    "tick_resolution",
	"max-ticks":          "max_ticks",
	"alert-probability":  "alert_probability",
	"seed-alerts":        "seed_alerts",
	"output-destination": "output_destination",
	"output-format":      "output_format",
	"output-path":        "output_path",
	"output-gzip":        "output_gzip",
	"kafka-enabled":      "kafka.enabled",
	"kafka-broker-list":  "kafka.broker_list",
	"nats-enabled":       "nats.enabled",
	"nats-url":           "nats.url",
	"database-enabled":   "database.enabled",
	"database-url":       "database.url",
	"api-enabled":        "api.enabled",
	"api-port":           "api.port",
	"session-store":      "session.store_path",
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./venuesim.yaml)")
	rootCmd.PersistentFlags().Int64("seed", 0, "Random seed for simulation (0 seeds from the clock)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console or json)")

	rootCmd.Flags().Duration("refresh-interval", 5*time.Second, "Interval between density refreshes")
	rootCmd.Flags().Duration("tick-resolution", 250*time.Millisecond, "How often the loop checks for due events")
	rootCmd.Flags().Int("max-ticks", 0, "Stop after this many refreshes (0 runs until interrupted)")
	rootCmd.Flags().Float64("alert-probability", 0.10, "Chance of a simulated alert per refresh")
	rootCmd.Flags().Int("seed-alerts", 0, "Historical alerts to backfill at start")
	rootCmd.Flags().String("output-destination", "console", "Output destination (console, file, cloud, kafka, nats, postgres)")
	rootCmd.Flags().String("output-format", "json", "File output format (json, csv, parquet)")
	rootCmd.Flags().String("output-path", "", "Base path for file output")
	rootCmd.Flags().Bool("output-gzip", false, "Gzip JSON file output")
	rootCmd.Flags().Bool("kafka-enabled", false, "Enable Kafka output")
	rootCmd.Flags().String("kafka-broker-list", "localhost:9092", "Kafka broker list")
	rootCmd.Flags().Bool("nats-enabled", false, "Enable NATS output")
	rootCmd.Flags().String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	rootCmd.Flags().Bool("database-enabled", false, "Enable Postgres output")
	rootCmd.Flags().String("database-url", "", "Postgres connection URL")
	rootCmd.Flags().Bool("api-enabled", false, "Serve the dashboard HTTP API")
	rootCmd.Flags().Int("api-port", 8080, "HTTP API port")
	rootCmd.Flags().String("session-store", "", "SQLite file for the operator session (in-memory when empty)")

	bindFlags(rootCmd.PersistentFlags())
	bindFlags(rootCmd.Flags())
}

func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			cobra.CheckErr(viper.BindPFlag(key, f))
		}
	})
}

func initEnv() {
	// a missing .env is fine
	_ = godotenv.Load()
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*models.Config, error) {
	cfg, err := models.LoadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		log.Info().Str("file", used).Msg("using config file")
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := simulator.NewOutputDestination(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error creating output destination: %w", err)
	}

	src := random.New(cfg.Seed)
	sim := simulator.NewSimulator(cfg, simulator.WithSource(src), simulator.WithOutput(out))
	defer func() {
		if err := sim.Close(); err != nil {
			log.Error().Err(err).Msg("error closing output destination")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	// a bounded run stops the API server once the last tick is done
	gctx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()
	if cfg.API.Enabled {
		sessions, err := newSessions(gctx, cfg)
		if err != nil {
			return err
		}
		defer sessions.Close()

		detections := newDetections(cfg, src, func(result models.DetectionResult) {
			if _, err := sim.RecordDetection(result); err != nil {
				log.Error().Err(err).Msg("error recording detection")
			}
		})
		defer detections.Cancel()

		server := api.NewServer(cfg, sim, sessions, detections)
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error {
		defer cancelRun()
		return sim.Run(gctx)
	})

	return g.Wait()
}

func newSessions(ctx context.Context, cfg *models.Config) (*session.Session, error) {
	var store session.Store = session.NewMemoryStore()
	if cfg.Session.StorePath != "" {
		sqliteStore, err := session.NewSQLiteStore(ctx, cfg.Session.StorePath)
		if err != nil {
			return nil, fmt.Errorf("error opening session store: %w", err)
		}
		store = sqliteStore
	}
	if cfg.Session.TokenSecret == "" {
		log.Warn().Msg("no session.token_secret configured, tokens will not survive a restart")
	}
	tokens := session.NewTokenIssuer(cfg.Session.TokenSecret, cfg.Session.TokenIssuer, cfg.Session.TokenTTL)
	return session.New(store, tokens, session.Options{
		DefaultRole:       cfg.Session.DefaultRole,
		DefaultDutyStatus: cfg.Session.DefaultStatus,
	}), nil
}

func newDetections(cfg *models.Config, src random.Source, onResult func(models.DetectionResult)) *detection.Session {
	detector := detection.NewDetector(src, cfg.Detection)
	camera := &detection.SimulatedCamera{Permitted: cfg.Detection.CameraPermitted}
	return detection.NewSession(detector, camera, onResult)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
