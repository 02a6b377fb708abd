package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP listeners
	GatewayPort   int `mapstructure:"GATEWAY_PORT"`
	GeneratorPort int `mapstructure:"GENERATOR_PORT"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Object storage
	StorageProvider    string `mapstructure:"STORAGE_PROVIDER" validate:"oneof=gcs s3 fs"`
	GCSCredentialsFile string `mapstructure:"GCS_CREDENTIALS_FILE"`
	S3Region           string `mapstructure:"S3_REGION"`
	S3Endpoint         string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey        string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey        string `mapstructure:"S3_SECRET_KEY"`
	FSRoot             string `mapstructure:"FS_ROOT"`

	// Pipeline locations
	IngestBucket    string `mapstructure:"INGEST_BUCKET" validate:"required"`
	ProcessedBucket string `mapstructure:"PROCESSED_BUCKET" validate:"required"`
	ApprovedBucket  string `mapstructure:"APPROVED_BUCKET" validate:"required"`
	IngestPrefix    string `mapstructure:"INGEST_PREFIX"`
	ApprovedPrefix  string `mapstructure:"APPROVED_PREFIX"`

	// Dispatcher
	DispatchInterval    time.Duration `mapstructure:"DISPATCH_INTERVAL"`
	DispatchConcurrency int           `mapstructure:"DISPATCH_CONCURRENCY"`
	DispatchMaxAttempts int           `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	DispatchBackoffBase time.Duration `mapstructure:"DISPATCH_BACKOFF_BASE"`
	DispatchBackoffMax  time.Duration `mapstructure:"DISPATCH_BACKOFF_MAX"`
	WorkerURL           string        `mapstructure:"WORKER_URL"`
	WorkerToken         string        `mapstructure:"WORKER_TOKEN"`
	WorkerTimeout       time.Duration `mapstructure:"WORKER_TIMEOUT"`

	// Generator
	GeneratorWorkers     int    `mapstructure:"GENERATOR_WORKERS"`
	VeoBaseURL           string `mapstructure:"VEO_BASE_URL"`
	VeoAPIKey            string `mapstructure:"VEO_API_KEY"`
	VeoModel             string `mapstructure:"VEO_MODEL"`
	VideoDurationSeconds int    `mapstructure:"VIDEO_DURATION_SECONDS"`
	VideoResolution      string `mapstructure:"VIDEO_RESOLUTION"`
	ReviewRequired       bool   `mapstructure:"REVIEW_REQUIRED"`

	// Converter
	ConvertFormat      string `mapstructure:"CONVERT_FORMAT" validate:"oneof=webm webp"`
	ConvertMaxAttempts int    `mapstructure:"CONVERT_MAX_ATTEMPTS"`
	ConvertTargetFPS   int    `mapstructure:"CONVERT_TARGET_FPS"`
	ConvertMaxPixels   int64  `mapstructure:"CONVERT_MAX_PIXELS"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && tag == "" {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("GATEWAY_PORT", 8080)
	viper.SetDefault("GENERATOR_PORT", 8090)
	viper.SetDefault("STORAGE_PROVIDER", "fs")
	viper.SetDefault("FS_ROOT", "/data/buckets")
	viper.SetDefault("APPROVED_PREFIX", "!production/")
	viper.SetDefault("DISPATCH_INTERVAL", "31s")
	viper.SetDefault("DISPATCH_CONCURRENCY", 2)
	viper.SetDefault("DISPATCH_MAX_ATTEMPTS", 5)
	viper.SetDefault("DISPATCH_BACKOFF_BASE", "10s")
	viper.SetDefault("DISPATCH_BACKOFF_MAX", "5m")
	viper.SetDefault("WORKER_URL", "http://localhost:8090/api/generate")
	viper.SetDefault("WORKER_TIMEOUT", "10m")
	viper.SetDefault("GENERATOR_WORKERS", 2)
	viper.SetDefault("VEO_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("VEO_MODEL", "veo-3.1-generate-preview")
	viper.SetDefault("VIDEO_DURATION_SECONDS", 8)
	viper.SetDefault("VIDEO_RESOLUTION", "1080p")
	viper.SetDefault("CONVERT_FORMAT", "webm")
	viper.SetDefault("CONVERT_MAX_ATTEMPTS", 3)
	viper.SetDefault("CONVERT_TARGET_FPS", 24)
	viper.SetDefault("CONVERT_MAX_PIXELS", 49_999_900)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration",
		"storage_provider", cfg.StorageProvider,
		"ingest_bucket", cfg.IngestBucket,
		"processed_bucket", cfg.ProcessedBucket,
		"approved_bucket", cfg.ApprovedBucket,
		"dispatch_interval", cfg.DispatchInterval,
		"dispatch_concurrency", cfg.DispatchConcurrency,
	)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
