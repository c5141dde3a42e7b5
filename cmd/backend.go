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

package cmd

import (
	"context"
	"fmt"

	"cloudops-toolkit/pkg/blobstore"
	"cloudops-toolkit/pkg/blobstore/file"
	"cloudops-toolkit/pkg/blobstore/gcs"
	"cloudops-toolkit/pkg/blobstore/s3"
	"cloudops-toolkit/pkg/config"
	"cloudops-toolkit/pkg/logging"
	"cloudops-toolkit/pkg/orchestrator"
	"cloudops-toolkit/pkg/orchestrator/gke"
	"cloudops-toolkit/pkg/orchestrator/memory"

	"k8s.io/apimachinery/pkg/util/wait"
)

// taskOptions maps config onto how tasks are rendered on GKE.
func taskOptions(c *config.Config) gke.Options {
	return gke.Options{
		ServiceAccount: c.ServiceAccount,
		KueueQueueName: c.KueueQueue,
	}
}

// newBatchClient connects to the configured compute backend.
func newBatchClient(ctx context.Context, c *config.Config) (orchestrator.BatchClient, error) {
	switch c.Backend {
	case "memory":
		logging.Warn("Using the in-memory backend: nothing is created remotely.")
		return memory.New(nil), nil
	case "gke":
		client, err := gke.NewClientFromConfig(ctx, gke.AuthConfig{
			Kubeconfig: c.Kubeconfig,
			Context:    c.KubeContext,
			InCluster:  c.UseServiceAccount,
			ProjectID:  c.ProjectID,
			Location:   c.Location,
			Cluster:    c.Cluster,
		}, taskOptions(c))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to GKE: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// orchestratorOptions turns retry and rate settings into orchestrator options.
func orchestratorOptions(c *config.Config) []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithBackoff(wait.Backoff{
			Duration: c.RetryDelay,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    c.RetrySteps,
			Cap:      30 * c.RetryDelay,
		}),
		orchestrator.WithRateLimit(c.RateLimit, c.RateBurst),
	}
}

func newOrchestrator(ctx context.Context, c *config.Config, extra ...orchestrator.Option) (*orchestrator.JobOrchestrator, error) {
	client, err := newBatchClient(ctx, c)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(client, append(orchestratorOptions(c), extra...)...), nil
}

// newBlobStore opens the configured storage provider.
func newBlobStore(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	st := c.Storage
	var (
		store blobstore.Store
		err   error
	)
	switch st.Provider {
	case "file":
		store, err = asStore(file.New(file.Config{Root: st.Root}))
	case "s3":
		store, err = asStore(s3.New(ctx, s3.Config{
			Region:          st.Region,
			Endpoint:        st.Endpoint,
			Profile:         st.Profile,
			AccessKeyID:     st.AccessKeyID,
			SecretAccessKey: st.SecretAccessKey,
			ForcePathStyle:  st.ForcePathStyle,
		}))
	case "gcs":
		store, err = asStore(gcs.New(ctx, gcs.Config{
			ProjectID:       c.ProjectID,
			Endpoint:        st.Endpoint,
			CredentialsFile: st.CredentialsFile,
		}))
	default:
		err = fmt.Errorf("unknown storage provider %q", st.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", st.Provider, err)
	}
	return store, nil
}

// asStore keeps a failed constructor's typed nil out of the interface.
func asStore[S blobstore.Store](s S, err error) (blobstore.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
