// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads toolkit settings from a dotenv file and the process
// environment. Environment variables use the CLOUDOPS_ prefix and win over
// the file; keys in the file may be written with or without the prefix.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the toolkit reads.
const EnvPrefix = "CLOUDOPS"

// Keys, as written in a dotenv file without the prefix.
const (
	KeyBackend           = "backend"
	KeyLogLevel          = "log_level"
	KeyProject           = "gcp_project"
	KeyLocation          = "gcp_location"
	KeyCluster           = "gke_cluster"
	KeyKubeconfig        = "kubeconfig"
	KeyKubeContext       = "kube_context"
	KeyUseServiceAccount = "use_service_account"
	KeyServiceAccount    = "task_service_account"
	KeyKueueQueue        = "kueue_queue"
	KeyStorageProvider   = "storage_provider"
	KeyStorageRoot       = "storage_root"
	KeyStorageRegion     = "storage_region"
	KeyStorageEndpoint   = "storage_endpoint"
	KeyStorageProfile    = "storage_profile"
	KeyStorageAccessKey  = "storage_access_key_id"
	KeyStorageSecretKey  = "storage_secret_access_key"
	KeyStoragePathStyle  = "storage_force_path_style"
	KeyStorageCreds      = "storage_credentials_file"
	KeyRegistry          = "registry"
	KeyPollInterval      = "poll_interval"
	KeyMonitorTimeout    = "monitor_timeout"
	KeyTeardownTimeout   = "teardown_timeout"
	KeyRetrySteps        = "retry_steps"
	KeyRetryDelay        = "retry_delay"
	KeyRateLimit         = "rate_limit"
	KeyRateBurst         = "rate_burst"
)

// Accepted values of KeyBackend and KeyStorageProvider.
var (
	Backends         = []string{"gke", "memory"}
	StorageProviders = []string{"file", "s3", "gcs"}
)

// Config holds every setting the CLI needs to build clients.
type Config struct {
	Backend  string
	LogLevel string

	ProjectID         string
	Location          string
	Cluster           string
	Kubeconfig        string
	KubeContext       string
	UseServiceAccount bool
	ServiceAccount    string
	KueueQueue        string

	Storage Storage

	Registry string

	PollInterval    time.Duration
	MonitorTimeout  time.Duration
	TeardownTimeout time.Duration
	RetrySteps      int
	RetryDelay      time.Duration
	RateLimit       float64
	RateBurst       int
}

// Storage selects and configures the blob store.
type Storage struct {
	Provider        string
	Root            string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	CredentialsFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, "gke")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStorageProvider, "gcs")
	v.SetDefault(KeyPollInterval, "10s")
	v.SetDefault(KeyMonitorTimeout, "1h")
	v.SetDefault(KeyTeardownTimeout, "5m")
	v.SetDefault(KeyRetrySteps, 5)
	v.SetDefault(KeyRetryDelay, "500ms")
	v.SetDefault(KeyRateLimit, 0)
	v.SetDefault(KeyRateBurst, 1)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads envFile (if non-empty) and the environment.
func Load(envFile string) (*Config, error) {
	v := New()
	if envFile != "" {
		if err := MergeEnvFile(v, envFile); err != nil {
			return nil, err
		}
	}
	return FromViper(v)
}

// fileAliases are accepted spellings in env files.
var fileAliases = map[string]string{
	"use_sp": KeyUseServiceAccount,
}

// MergeEnvFile layers a dotenv file under the environment.
func MergeEnvFile(v *viper.Viper, path string) error {
	f := viper.New()
	f.SetConfigFile(path)
	f.SetConfigType("env")
	if err := f.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %q: %w", path, err)
	}
	prefix := strings.ToLower(EnvPrefix) + "_"
	settings := make(map[string]any, len(f.AllKeys()))
	for _, k := range f.AllKeys() {
		key := strings.TrimPrefix(k, prefix)
		if real, ok := fileAliases[key]; ok {
			key = real
		}
		settings[key] = f.Get(k)
	}
	return v.MergeConfigMap(settings)
}

// FromViper decodes and validates a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Backend:           strings.ToLower(v.GetString(KeyBackend)),
		LogLevel:          v.GetString(KeyLogLevel),
		ProjectID:         v.GetString(KeyProject),
		Location:          v.GetString(KeyLocation),
		Cluster:           v.GetString(KeyCluster),
		Kubeconfig:        v.GetString(KeyKubeconfig),
		KubeContext:       v.GetString(KeyKubeContext),
		UseServiceAccount: v.GetBool(KeyUseServiceAccount),
		ServiceAccount:    v.GetString(KeyServiceAccount),
		KueueQueue:        v.GetString(KeyKueueQueue),
		Storage: Storage{
			Provider:        strings.ToLower(v.GetString(KeyStorageProvider)),
			Root:            v.GetString(KeyStorageRoot),
			Region:          v.GetString(KeyStorageRegion),
			Endpoint:        v.GetString(KeyStorageEndpoint),
			Profile:         v.GetString(KeyStorageProfile),
			AccessKeyID:     v.GetString(KeyStorageAccessKey),
			SecretAccessKey: v.GetString(KeyStorageSecretKey),
			ForcePathStyle:  v.GetBool(KeyStoragePathStyle),
			CredentialsFile: v.GetString(KeyStorageCreds),
		},
		Registry:        v.GetString(KeyRegistry),
		PollInterval:    v.GetDuration(KeyPollInterval),
		MonitorTimeout:  v.GetDuration(KeyMonitorTimeout),
		TeardownTimeout: v.GetDuration(KeyTeardownTimeout),
		RetrySteps:      v.GetInt(KeyRetrySteps),
		RetryDelay:      v.GetDuration(KeyRetryDelay),
		RateLimit:       v.GetFloat64(KeyRateLimit),
		RateBurst:       v.GetInt(KeyRateBurst),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FieldError reports one invalid setting.
type FieldError struct {
	Key     string
	Message string
}

func (e *FieldError) Error() string {
	return "config: " + e.Key + ": " + e.Message
}

// Validate checks value ranges and that the chosen providers are known.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Backends, c.Backend) {
		errs = append(errs, &FieldError{Key: KeyBackend, Message: unknownValue("backend", c.Backend, Backends)})
	}
	if !slices.Contains(StorageProviders, c.Storage.Provider) {
		errs = append(errs, &FieldError{Key: KeyStorageProvider, Message: unknownValue("storage provider", c.Storage.Provider, StorageProviders)})
	}
	if c.Storage.Provider == "file" && c.Storage.Root == "" {
		errs = append(errs, &FieldError{Key: KeyStorageRoot, Message: "required for the file storage provider"})
	}
	if (c.Storage.AccessKeyID != "") != (c.Storage.SecretAccessKey != "") {
		errs = append(errs, &FieldError{Key: KeyStorageAccessKey, Message: "access key ID and secret access key must be set together"})
	}
	if c.Cluster != "" && (c.ProjectID == "" || c.Location == "") {
		errs = append(errs, &FieldError{Key: KeyCluster, Message: "needs gcp_project and gcp_location"})
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{KeyPollInterval, c.PollInterval},
		{KeyMonitorTimeout, c.MonitorTimeout},
		{KeyTeardownTimeout, c.TeardownTimeout},
		{KeyRetryDelay, c.RetryDelay},
	} {
		if d.value <= 0 {
			errs = append(errs, &FieldError{Key: d.key, Message: "must be a positive duration"})
		}
	}
	if c.RetrySteps < 1 {
		errs = append(errs, &FieldError{Key: KeyRetrySteps, Message: "must be at least 1"})
	}
	if c.RateLimit < 0 {
		errs = append(errs, &FieldError{Key: KeyRateLimit, Message: "must not be negative"})
	}
	return errors.Join(errs...)
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.Storage.SecretAccessKey != "" {
		c.Storage.SecretAccessKey = "REDACTED"
	}
	return c
}
