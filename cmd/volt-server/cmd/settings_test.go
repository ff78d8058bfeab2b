package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theMackabu/volt/internal/store"
)

func newViper(t *testing.T, content string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetEnvPrefix("VOLT_SERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if content != "" {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    func(*testing.T, Settings)
		wantErr string
	}{
		{
			name: "filesystem from file",
			content: `auth_token = "secret"
cache_dir = "/var/cache/volt"
address = "127.0.0.1:4000"
`,
			want: func(t *testing.T, s Settings) {
				assert.Equal(t, "secret", s.AuthToken)
				assert.Equal(t, BackendFilesystem, s.Backend)
				assert.Equal(t, "/var/cache/volt", s.CacheDir)
				assert.Equal(t, "127.0.0.1:4000", s.Address)
				assert.Equal(t, store.DefaultFingerprintCache, s.FingerprintCache)
				assert.Equal(t, "/var/cache/volt", s.Location())
			},
		},
		{
			name: "s3 from env",
			env: map[string]string{
				"VOLT_SERVER_AUTH_TOKEN": "tok",
				"VOLT_SERVER_BACKEND":    "S3",
				"VOLT_SERVER_S3_BUCKET":  "builds",
				"VOLT_SERVER_S3_PREFIX":  "ci",
				"VOLT_SERVER_RATE_LIMIT": "120",
			},
			want: func(t *testing.T, s Settings) {
				assert.Equal(t, BackendS3, s.Backend)
				assert.Equal(t, "builds", s.S3.Bucket)
				assert.Equal(t, 120, s.RateLimit)
				assert.Equal(t, "s3://builds/ci", s.Location())
			},
		},
		{
			name: "oci table",
			content: `auth_token = "secret"
backend = "oci"
nats_url = "nats://localhost:4222"

[oci]
repository = "ghcr.io/acme/volt-cache"
jobs = 2
`,
			want: func(t *testing.T, s Settings) {
				assert.Equal(t, "ghcr.io/acme/volt-cache", s.OCI.Repository)
				assert.Equal(t, 2, s.OCI.Jobs)
				assert.Equal(t, "nats://localhost:4222", s.NATSURL)
			},
		},
		{name: "missing token", content: `cache_dir = "x"`, wantErr: "auth_token"},
		{name: "s3 without bucket", content: "auth_token = \"t\"\nbackend = \"s3\"\n", wantErr: "s3.bucket"},
		{name: "oci without repository", content: "auth_token = \"t\"\nbackend = \"oci\"\n", wantErr: "oci.repository"},
		{name: "unknown backend", content: "auth_token = \"t\"\nbackend = \"ftp\"\n", wantErr: "unknown backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			s, err := loadSettings(newViper(t, tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.want(t, s)
		})
	}
}

func TestOpenStoreFilesystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	backend, err := openStore(context.Background(), Settings{Backend: BackendFilesystem, CacheDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &store.LocalStore{}, backend)
	assert.DirExists(t, dir)
}
