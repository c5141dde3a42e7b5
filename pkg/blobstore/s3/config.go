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

// Package s3 implements blobstore.Store for AWS S3 and S3-compatible storage.
package s3

// Config configures an S3 store. Containers map to buckets.
//
// Credentials come from AccessKeyID/SecretAccessKey when both are set,
// otherwise from the AWS SDK v2 default chain (environment, shared files,
// instance or workload roles).
type Config struct {
	// Region defaults to us-east-1 for AWS when neither the config nor the
	// environment names one. No default applies with a custom Endpoint.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	ForcePathStyle bool

	// PageSize is the ListObjectsV2 page size, clamped to 1000.
	PageSize int
}

// DefaultPageSize is the default page size for List operations.
const DefaultPageSize = 1000

// MaxPageSize is the largest page S3 returns.
const MaxPageSize = 1000

// DefaultAWSRegion is the fallback region for AWS S3.
const DefaultAWSRegion = "us-east-1"

// Validate checks that explicit credentials come in pairs.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if c.PageSize < 0 {
		return &ConfigError{Field: "PageSize", Message: "page size must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
