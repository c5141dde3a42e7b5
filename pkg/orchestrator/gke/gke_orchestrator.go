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

// Package gke runs pools, jobs and tasks on a Kubernetes cluster, typically
// GKE. A pool is a managed namespace with a pod quota, a job is a labeled
// ConfigMap in that namespace and every task is a run-once batch/v1 Job.
package gke

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cloudops-toolkit/pkg/logging"
	"cloudops-toolkit/pkg/orchestrator"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/kubernetes"
)

// Client implements orchestrator.BatchClient against the Kubernetes API.
type Client struct {
	kube kubernetes.Interface
	opts Options
}

var _ orchestrator.BatchClient = (*Client)(nil)

// NewClient wraps a clientset.
func NewClient(kube kubernetes.Interface, opts Options) *Client {
	return &Client{kube: kube, opts: opts.withDefaults()}
}

// classify maps API errors onto the orchestrator's backend sentinels.
func classify(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	what := fmt.Sprintf(format, a...)
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s: %w: %w", what, orchestrator.ErrNotFound, err)
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%s: %w: %w", what, orchestrator.ErrAlreadyExists, err)
	case apierrors.IsTooManyRequests(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err),
		utilnet.IsConnectionReset(err),
		utilnet.IsProbableEOF(err):
		return fmt.Errorf("%s: %w: %w", what, orchestrator.ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func managedSelector(extra map[string]string) string {
	return labels.SelectorFromSet(managedLabels(extra)).String()
}

func (c *Client) CreatePool(ctx context.Context, spec orchestrator.PoolSpec) error {
	ns, quota, err := PoolObjects(spec)
	if err != nil {
		return err
	}
	logging.Debug("Creating namespace %q for pool (%s)", spec.Name, spec.Sizing)
	if _, err := c.kube.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return classify(err, "failed to create namespace %q", spec.Name)
		}
		resume, rerr := c.unfinishedPool(ctx, ns)
		if rerr != nil {
			return rerr
		}
		if !resume {
			return classify(err, "failed to create namespace %q", spec.Name)
		}
		logging.Debug("Namespace %q exists without its quota, finishing pool creation", spec.Name)
	}
	if _, err := c.kube.CoreV1().ResourceQuotas(spec.Name).Create(ctx, quota, metav1.CreateOptions{}); err != nil {
		// A retried create may find the quota already in place.
		if !apierrors.IsAlreadyExists(err) {
			return classify(err, "failed to create quota for pool %q", spec.Name)
		}
	}
	return nil
}

// unfinishedPool reports whether want names a namespace left behind by an
// interrupted CreatePool: managed, live, recording the same pool and still
// without its quota.
func (c *Client) unfinishedPool(ctx context.Context, want *corev1.Namespace) (bool, error) {
	got, err := c.kube.CoreV1().Namespaces().Get(ctx, want.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		return false, nil
	case err != nil:
		return false, classify(err, "failed to get namespace %q", want.Name)
	}
	if got.Labels[ManagedByLabel] != ManagedByValue || got.DeletionTimestamp != nil {
		return false, nil
	}
	for k, v := range want.Annotations {
		if got.Annotations[k] != v {
			return false, nil
		}
	}
	_, err = c.kube.CoreV1().ResourceQuotas(want.Name).Get(ctx, quotaName, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		return true, nil
	case err != nil:
		return false, classify(err, "failed to get quota for pool %q", want.Name)
	}
	return false, nil
}

func (c *Client) namespace(ctx context.Context, name string) (*corev1.Namespace, error) {
	ns, err := c.kube.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classify(err, "failed to get namespace %q", name)
	}
	if ns.Labels[ManagedByLabel] != ManagedByValue {
		return nil, fmt.Errorf("namespace %q is not a %s pool: %w", name, ManagedByValue, orchestrator.ErrNotFound)
	}
	if ns.DeletionTimestamp != nil {
		return nil, fmt.Errorf("namespace %q is terminating: %w", name, orchestrator.ErrNotFound)
	}
	return ns, nil
}

func (c *Client) GetPool(ctx context.Context, name string) (*orchestrator.PoolSpec, error) {
	ns, err := c.namespace(ctx, name)
	if err != nil {
		return nil, err
	}
	return poolFromNamespace(ns)
}

func (c *Client) DeletePool(ctx context.Context, name string) error {
	if _, err := c.namespace(ctx, name); err != nil {
		return err
	}
	policy := metav1.DeletePropagationForeground
	logging.Debug("Deleting namespace %q", name)
	err := c.kube.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if apierrors.IsConflict(err) {
		// The namespace started terminating after the lookup above.
		logging.Debug("Namespace %q is already terminating", name)
		return nil
	}
	return classify(err, "failed to delete namespace %q", name)
}

// findJob locates the ConfigMap recording a job in any pool namespace.
func (c *Client) findJob(ctx context.Context, name string) (*corev1.ConfigMap, error) {
	list, err := c.kube.CoreV1().ConfigMaps(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: managedSelector(map[string]string{JobLabel: name}),
	})
	if err != nil {
		return nil, classify(err, "failed to look up job %q", name)
	}
	switch len(list.Items) {
	case 0:
		return nil, fmt.Errorf("job %q: %w", name, orchestrator.ErrNotFound)
	case 1:
		return &list.Items[0], nil
	default:
		pools := make([]string, 0, len(list.Items))
		for _, cm := range list.Items {
			pools = append(pools, cm.Namespace)
		}
		return nil, fmt.Errorf("job %q is recorded on several pools (%s)", name, strings.Join(pools, ", "))
	}
}

func (c *Client) CreateJob(ctx context.Context, name, pool string) error {
	cm, err := JobObject(name, pool)
	if err != nil {
		return err
	}
	if _, err := c.namespace(ctx, pool); err != nil {
		return err
	}
	switch existing, err := c.findJob(ctx, name); {
	case err == nil:
		return fmt.Errorf("job %q exists on pool %q: %w", name, existing.Namespace, orchestrator.ErrAlreadyExists)
	case !orchestrator.IsNotFound(err):
		return err
	}
	_, err = c.kube.CoreV1().ConfigMaps(pool).Create(ctx, cm, metav1.CreateOptions{})
	return classify(err, "failed to create job %q", name)
}

func (c *Client) tasks(ctx context.Context, job *corev1.ConfigMap) ([]batchv1.Job, error) {
	name := job.Labels[JobLabel]
	list, err := c.kube.BatchV1().Jobs(job.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: managedSelector(map[string]string{JobLabel: name}),
	})
	if err != nil {
		return nil, classify(err, "failed to list tasks of job %q", name)
	}
	items := list.Items
	sort.Slice(items, func(i, j int) bool {
		return taskOrder(items[i].Labels[TaskLabel]) < taskOrder(items[j].Labels[TaskLabel])
	})
	return items, nil
}

// taskOrder sorts "task-10" after "task-9".
func taskOrder(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "task-"))
	if err != nil {
		return -1
	}
	return n
}

func (c *Client) GetJob(ctx context.Context, name string) (*orchestrator.JobInfo, error) {
	cm, err := c.findJob(ctx, name)
	if err != nil {
		return nil, err
	}
	items, err := c.tasks(ctx, cm)
	if err != nil {
		return nil, err
	}
	info := &orchestrator.JobInfo{Name: name, Pool: cm.Namespace}
	for _, j := range items {
		info.Tasks = append(info.Tasks, orchestrator.TaskSpec{
			ID:          j.Labels[TaskLabel],
			CommandLine: j.Annotations[CommandAnnotation],
		})
	}
	return info, nil
}

func (c *Client) DeleteJob(ctx context.Context, name string) error {
	cm, err := c.findJob(ctx, name)
	if err != nil {
		return err
	}
	items, err := c.tasks(ctx, cm)
	if err != nil {
		return err
	}
	policy := metav1.DeletePropagationBackground
	for _, j := range items {
		err := c.kube.BatchV1().Jobs(j.Namespace).Delete(ctx, j.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
		if err != nil && !apierrors.IsNotFound(err) {
			return classify(err, "failed to delete task %q of job %q", j.Labels[TaskLabel], name)
		}
	}
	logging.Debug("Deleting job %q from pool %q (%d tasks)", name, cm.Namespace, len(items))
	err = c.kube.CoreV1().ConfigMaps(cm.Namespace).Delete(ctx, cm.Name, metav1.DeleteOptions{})
	return classify(err, "failed to delete job %q", name)
}

func (c *Client) AddTask(ctx context.Context, job string, task orchestrator.TaskSpec) error {
	cm, err := c.findJob(ctx, job)
	if err != nil {
		return err
	}
	ns, err := c.namespace(ctx, cm.Namespace)
	if err != nil {
		return err
	}
	pool, err := poolFromNamespace(ns)
	if err != nil {
		return err
	}
	obj, err := TaskObject(*pool, job, task, c.opts)
	if err != nil {
		return err
	}
	_, err = c.kube.BatchV1().Jobs(pool.Name).Create(ctx, obj, metav1.CreateOptions{})
	return classify(err, "failed to submit task %q of job %q", task.ID, job)
}

func (c *Client) TaskStates(ctx context.Context, job string) (map[string]orchestrator.TaskState, error) {
	cm, err := c.findJob(ctx, job)
	if err != nil {
		return nil, err
	}
	items, err := c.tasks(ctx, cm)
	if err != nil {
		return nil, err
	}
	states := make(map[string]orchestrator.TaskState, len(items))
	for i := range items {
		states[items[i].Labels[TaskLabel]] = taskState(&items[i])
	}
	return states, nil
}
