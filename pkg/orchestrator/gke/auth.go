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

package gke

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"cloudops-toolkit/pkg/logging"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	container "google.golang.org/api/container/v1"
	"google.golang.org/api/option"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// AuthConfig selects how the client reaches the cluster. When Cluster is
// set the endpoint is looked up through the GKE API with application
// default credentials; InCluster uses the pod's service account; otherwise
// a kubeconfig is loaded.
type AuthConfig struct {
	Kubeconfig string
	Context    string
	InCluster  bool

	ProjectID string
	Location  string
	Cluster   string

	// QPS and Burst bound client-side request rates. Zero keeps the
	// client-go defaults.
	QPS   float32
	Burst int
}

// RESTConfig resolves an AuthConfig to a client-go configuration.
func RESTConfig(ctx context.Context, cfg AuthConfig) (*rest.Config, error) {
	var (
		rc  *rest.Config
		err error
	)
	switch {
	case cfg.Cluster != "":
		rc, err = gkeConfig(ctx, cfg)
	case cfg.InCluster:
		logging.Debug("Using in-cluster service account credentials")
		rc, err = rest.InClusterConfig()
	default:
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if cfg.Kubeconfig != "" {
			rules.ExplicitPath = cfg.Kubeconfig
		}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
		rc, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build Kubernetes client config: %w", err)
	}
	if cfg.QPS > 0 {
		rc.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		rc.Burst = cfg.Burst
	}
	return rc, nil
}

// NewClientFromConfig dials the cluster described by cfg.
func NewClientFromConfig(ctx context.Context, cfg AuthConfig, opts Options) (*Client, error) {
	rc, err := RESTConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	kube, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}
	return NewClient(kube, opts), nil
}

func gkeConfig(ctx context.Context, cfg AuthConfig) (*rest.Config, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, fmt.Errorf("cluster %q needs both a project and a location", cfg.Cluster)
	}
	ts, err := google.DefaultTokenSource(ctx, container.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to find default Google credentials: %w", err)
	}
	svc, err := container.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create GKE API client: %w", err)
	}
	name := fmt.Sprintf("projects/%s/locations/%s/clusters/%s", cfg.ProjectID, cfg.Location, cfg.Cluster)
	logging.Info("Looking up GKE cluster %s", name)
	cluster, err := svc.Projects.Locations.Clusters.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get GKE cluster %s: %w", name, err)
	}
	return clusterRESTConfig(cluster, ts)
}

// clusterRESTConfig points a client at a GKE control plane, authenticating
// every request with tokens from ts.
func clusterRESTConfig(cluster *container.Cluster, ts oauth2.TokenSource) (*rest.Config, error) {
	if cluster.Endpoint == "" {
		return nil, fmt.Errorf("cluster %q has no endpoint", cluster.Name)
	}
	rc := &rest.Config{
		Host: "https://" + cluster.Endpoint,
		WrapTransport: func(rt http.RoundTripper) http.RoundTripper {
			return &oauth2.Transport{Source: ts, Base: rt}
		},
	}
	if cluster.MasterAuth != nil && cluster.MasterAuth.ClusterCaCertificate != "" {
		ca, err := base64.StdEncoding.DecodeString(cluster.MasterAuth.ClusterCaCertificate)
		if err != nil {
			return nil, fmt.Errorf("cluster %q has an invalid CA certificate: %w", cluster.Name, err)
		}
		rc.TLSClientConfig.CAData = ca
	}
	return rc, nil
}
