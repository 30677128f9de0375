package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type AreaConfig struct {
	ID   string  `mapstructure:"id"`
	Name string  `mapstructure:"name"`
	Lat  float64 `mapstructure:"lat"`
	Lon  float64 `mapstructure:"lon"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BrokerList       string `mapstructure:"broker_list"`
	SessionTimeoutMs int    `mapstructure:"session_timeout_ms"`
}

type NatsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

type CloudStorageConfig struct {
	Provider   string `mapstructure:"provider"`
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type SessionConfig struct {
	StorePath     string        `mapstructure:"store_path"`
	TokenSecret   string        `mapstructure:"token_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	TokenIssuer   string        `mapstructure:"token_issuer"`
	DefaultRole   string        `mapstructure:"default_role"`
	DefaultStatus string        `mapstructure:"default_duty_status"`
}

type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HeatmapPoints   int           `mapstructure:"heatmap_points"`
}

type DetectionConfig struct {
	UploadDelay              time.Duration `mapstructure:"upload_delay"`
	CaptureDelay             time.Duration `mapstructure:"capture_delay"`
	UploadThreatProbability  float64       `mapstructure:"upload_threat_probability"`
	CaptureThreatProbability float64       `mapstructure:"capture_threat_probability"`
	EscalateThreats          bool          `mapstructure:"escalate_threats"`
	CameraPermitted          bool          `mapstructure:"camera_permitted"`
}

type Config struct {
	Seed               int64         `mapstructure:"seed"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	TickResolution     time.Duration `mapstructure:"tick_resolution"`
	MaxTicks           int           `mapstructure:"max_ticks"`
	AlertProbability   float64       `mapstructure:"alert_probability"`
	AlertLogCapacity   int           `mapstructure:"alert_log_capacity"`
	SeedAlerts         int           `mapstructure:"seed_alerts"`
	IncomingAlertDelay time.Duration `mapstructure:"incoming_alert_delay"`
	IncomingAlertRearm bool          `mapstructure:"incoming_alert_rearm"`
	VenueLat           float64       `mapstructure:"venue_latitude"`
	VenueLon           float64       `mapstructure:"venue_longitude"`
	VenueAreas         []AreaConfig  `mapstructure:"venue_areas"`
	HeatmapJitter      float64       `mapstructure:"heatmap_jitter"`
	HeatmapCoreRadius  float64       `mapstructure:"heatmap_core_radius"`
	HotspotProbability float64       `mapstructure:"hotspot_probability"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`

	OutputDestination string `mapstructure:"output_destination"` // console, file, kafka, nats, postgres
	OutputFormat      string `mapstructure:"output_format"`      // json, csv, parquet
	OutputPath        string `mapstructure:"output_path"`
	OutputFolder      string `mapstructure:"output_folder"`
	OutputGzip        bool   `mapstructure:"output_gzip"`

	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Nats         NatsConfig         `mapstructure:"nats"`
	CloudStorage CloudStorageConfig `mapstructure:"cloud_storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Session      SessionConfig      `mapstructure:"session"`
	API          APIConfig          `mapstructure:"api"`
	Detection    DetectionConfig    `mapstructure:"detection"`
}

// SetDefaults registers the reference behaviour of the dashboard as viper defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("seed", 0)
	v.SetDefault("refresh_interval", 5*time.Second)
	v.SetDefault("tick_resolution", 250*time.Millisecond)
	v.SetDefault("max_ticks", 0)
	v.SetDefault("alert_probability", 0.10)
	v.SetDefault("alert_log_capacity", 500)
	v.SetDefault("seed_alerts", 0)
	v.SetDefault("incoming_alert_delay", 45*time.Second)
	v.SetDefault("incoming_alert_rearm", true)
	v.SetDefault("venue_latitude", 34.0522)
	v.SetDefault("venue_longitude", -118.2437)
	v.SetDefault("heatmap_jitter", 0.003)
	v.SetDefault("heatmap_core_radius", 0.001)
	v.SetDefault("hotspot_probability", 0.15)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("output_destination", "console")
	v.SetDefault("output_format", "json")
	v.SetDefault("output_folder", "events")

	v.SetDefault("kafka.broker_list", "localhost:9092")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "venuesim")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("cloud_storage.provider", "s3")

	v.SetDefault("session.token_ttl", 12*time.Hour)
	v.SetDefault("session.token_issuer", "venuesim")
	v.SetDefault("session.default_role", RoleSecurity)
	v.SetDefault("session.default_duty_status", DutyAvailable)

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.shutdown_timeout", 5*time.Second)
	v.SetDefault("api.heatmap_points", 200)

	v.SetDefault("detection.upload_delay", 3000*time.Millisecond)
	v.SetDefault("detection.capture_delay", 1500*time.Millisecond)
	v.SetDefault("detection.upload_threat_probability", 0.3)
	v.SetDefault("detection.capture_threat_probability", 0.2)
	v.SetDefault("detection.escalate_threats", true)
	v.SetDefault("detection.camera_permitted", true)
}

// LoadConfig initializes and reads the configuration using Viper. A missing
// default config file is not an error; a missing explicit one is.
func LoadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("examples")
		v.SetConfigName("venuesim")
	}

	v.SetEnvPrefix("venuesim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return DecodeConfig(v)
}

// DecodeConfig unmarshals whatever v currently holds into a validated Config.
func DecodeConfig(v *viper.Viper) (*Config, error) {
	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := v.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.RefreshInterval <= 0:
		return fmt.Errorf("%w: refresh_interval must be positive", ErrInvalidConfig)
	case cfg.TickResolution <= 0:
		return fmt.Errorf("%w: tick_resolution must be positive", ErrInvalidConfig)
	case cfg.AlertProbability < 0 || cfg.AlertProbability > 1:
		return fmt.Errorf("%w: alert_probability %v outside [0,1]", ErrInvalidConfig, cfg.AlertProbability)
	case cfg.HotspotProbability < 0 || cfg.HotspotProbability > 1:
		return fmt.Errorf("%w: hotspot_probability %v outside [0,1]", ErrInvalidConfig, cfg.HotspotProbability)
	case cfg.AlertLogCapacity <= 0:
		return fmt.Errorf("%w: alert_log_capacity must be positive", ErrInvalidConfig)
	case cfg.MaxTicks < 0:
		return fmt.Errorf("%w: max_ticks must not be negative", ErrInvalidConfig)
	case cfg.Detection.UploadThreatProbability < 0 || cfg.Detection.UploadThreatProbability > 1,
		cfg.Detection.CaptureThreatProbability < 0 || cfg.Detection.CaptureThreatProbability > 1:
		return fmt.Errorf("%w: detection probabilities must be within [0,1]", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(cfg.VenueAreas))
	for _, area := range cfg.VenueAreas {
		if area.ID == "" || area.Name == "" {
			return fmt.Errorf("%w: venue area needs both id and name", ErrInvalidConfig)
		}
		if seen[area.ID] {
			return fmt.Errorf("%w: duplicate venue area id %q", ErrInvalidConfig, area.ID)
		}
		seen[area.ID] = true
	}
	return nil
}

// VenueCenter returns the configured venue centre coordinate.
func (cfg *Config) VenueCenter() Location {
	return Location{Lat: cfg.VenueLat, Lon: cfg.VenueLon}
}

// Areas returns the configured venue areas, falling back to the default
// layout around the venue centre.
func (cfg *Config) Areas() []VenueArea {
	if len(cfg.VenueAreas) == 0 {
		return DefaultVenueAreas(cfg.VenueCenter())
	}
	areas := make([]VenueArea, len(cfg.VenueAreas))
	for i, a := range cfg.VenueAreas {
		areas[i] = VenueArea{ID: a.ID, Name: a.Name, Position: Location{Lat: a.Lat, Lon: a.Lon}}
	}
	return areas
}
