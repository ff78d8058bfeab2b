package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/spf13/viper"

	"github.com/theMackabu/volt/internal/store"
)

const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
	BackendOCI        = "oci"
)

// Settings is the server configuration, read from config.toml, VOLT_SERVER_*
// variables and flags.
type Settings struct {
	Address          string      `mapstructure:"address"`
	AuthToken        string      `mapstructure:"auth_token"`
	CacheDir         string      `mapstructure:"cache_dir"`
	Backend          string      `mapstructure:"backend"`
	FingerprintCache int         `mapstructure:"fingerprint_cache"`
	S3               S3Settings  `mapstructure:"s3"`
	OCI              OCISettings `mapstructure:"oci"`
	NATSURL          string      `mapstructure:"nats_url"`
	RateLimit        int         `mapstructure:"rate_limit"`
	OTLPEndpoint     string      `mapstructure:"otlp_endpoint"`
}

type S3Settings struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type OCISettings struct {
	Repository string `mapstructure:"repository"`
	Insecure   bool   `mapstructure:"insecure"`
	Jobs       int    `mapstructure:"jobs"`
}

// setDefaults registers every key so AutomaticEnv can resolve it on
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("address", "0.0.0.0:3000")
	v.SetDefault("auth_token", "")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("backend", BackendFilesystem)
	v.SetDefault("fingerprint_cache", store.DefaultFingerprintCache)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("oci.repository", "")
	v.SetDefault("oci.insecure", false)
	v.SetDefault("oci.jobs", 0)
	v.SetDefault("nats_url", "")
	v.SetDefault("rate_limit", 0)
	v.SetDefault("otlp_endpoint", "")
}

func loadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))

	if s.AuthToken == "" {
		return s, errors.New("auth_token is required")
	}
	switch s.Backend {
	case BackendFilesystem:
		if s.CacheDir == "" {
			return s, fmt.Errorf("cache_dir is required for the %s backend", s.Backend)
		}
	case BackendS3:
		if s.S3.Bucket == "" {
			return s, fmt.Errorf("s3.bucket is required for the %s backend", s.Backend)
		}
	case BackendOCI:
		if s.OCI.Repository == "" {
			return s, fmt.Errorf("oci.repository is required for the %s backend", s.Backend)
		}
	default:
		return s, fmt.Errorf("unknown backend %q", s.Backend)
	}
	return s, nil
}

// Location describes where entries are kept, for the startup log.
func (s Settings) Location() string {
	switch s.Backend {
	case BackendS3:
		return "s3://" + strings.Trim(s.S3.Bucket+"/"+s.S3.Prefix, "/")
	case BackendOCI:
		return s.OCI.Repository
	}
	return s.CacheDir
}

func openStore(ctx context.Context, s Settings) (store.Store, error) {
	switch s.Backend {
	case BackendS3:
		return store.NewS3Store(ctx, store.S3Config{
			Bucket:         s.S3.Bucket,
			Prefix:         s.S3.Prefix,
			Endpoint:       s.S3.Endpoint,
			Region:         s.S3.Region,
			AccessKey:      s.S3.AccessKey,
			SecretKey:      s.S3.SecretKey,
			ForcePathStyle: s.S3.ForcePathStyle,
		})
	case BackendOCI:
		return store.NewOCIStore(store.OCIConfig{
			Repository: s.OCI.Repository,
			Insecure:   s.OCI.Insecure,
			Jobs:       s.OCI.Jobs,
			Keychain:   authn.DefaultKeychain,
		})
	}
	return store.NewLocalStore(s.CacheDir, s.FingerprintCache)
}
