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
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"cloudops-toolkit/pkg/orchestrator"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/ptr"
)

// Labels and annotations written on every object the client manages.
const (
	ManagedByLabel = "cloudops.io/managed-by"
	ManagedByValue = "cloudops-toolkit"
	PoolLabel      = "cloudops.io/pool"
	JobLabel       = "cloudops.io/job"
	TaskLabel      = "cloudops.io/task"
	KueueLabel     = "kueue.x-k8s.io/queue-name"

	ImageAnnotation   = "cloudops.io/image"
	VMSizeAnnotation  = "cloudops.io/vm-size"
	SizingAnnotation  = "cloudops.io/sizing"
	MountsAnnotation  = "cloudops.io/mounts"
	CommandAnnotation = "cloudops.io/command"

	// GCSFuseDriver mounts Cloud Storage buckets into pods on GKE.
	GCSFuseDriver = "gcsfuse.csi.storage.gke.io"

	instanceTypeLabel = "node.kubernetes.io/instance-type"
	quotaName         = "pool-quota"
	containerName     = "task"
)

// Options tunes how tasks are rendered as Kubernetes Jobs.
type Options struct {
	// Shell runs the task command as `<Shell> -c <command line>`.
	Shell string

	// MountDriver is the CSI driver used for pool mounts.
	MountDriver string

	// ServiceAccount is the Kubernetes service account tasks run as.
	ServiceAccount string

	// KueueQueueName, if set, submits tasks to that Kueue LocalQueue.
	KueueQueueName string
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = "/bin/bash"
	}
	if o.MountDriver == "" {
		o.MountDriver = GCSFuseDriver
	}
	return o
}

func managedLabels(extra map[string]string) map[string]string {
	labels := map[string]string{ManagedByLabel: ManagedByValue}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func validateName(kind, name string) error {
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return fmt.Errorf("%s name %q: %s: %w", kind, name, strings.Join(errs, "; "), orchestrator.ErrInvalidSpec)
	}
	return nil
}

// sizingRecord is the annotation form of a SizingPolicy.
type sizingRecord struct {
	Autoscale bool `json:"autoscale,omitempty"`
	Fixed     int  `json:"fixed,omitempty"`
	Min       int  `json:"min,omitempty"`
	Max       int  `json:"max,omitempty"`
}

type mountRecord struct {
	Container string `json:"container"`
	Path      string `json:"path"`
}

// PoolObjects renders the namespace and quota that back a pool.
func PoolObjects(spec orchestrator.PoolSpec) (*corev1.Namespace, *corev1.ResourceQuota, error) {
	if err := validateName("pool", spec.Name); err != nil {
		return nil, nil, err
	}
	sizing, err := json.Marshal(sizingRecord{
		Autoscale: spec.Sizing.Autoscale,
		Fixed:     spec.Sizing.FixedNodes,
		Min:       spec.Sizing.MinNodes,
		Max:       spec.Sizing.MaxNodes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode sizing policy: %w", err)
	}
	mounts := make([]mountRecord, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mountRecord{Container: m.Container, Path: m.Path})
	}
	mountsJSON, err := json.Marshal(mounts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode mounts: %w", err)
	}

	ns := &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: managedLabels(map[string]string{PoolLabel: spec.Name}),
			Annotations: map[string]string{
				ImageAnnotation:  spec.Image,
				VMSizeAnnotation: spec.VMSize,
				SizingAnnotation: string(sizing),
				MountsAnnotation: string(mountsJSON),
			},
		},
	}

	// One task per node: the quota caps concurrently scheduled task pods.
	pods := resource.MustParse(strconv.Itoa(spec.Sizing.NodeLimit()))
	quota := &corev1.ResourceQuota{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ResourceQuota"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      quotaName,
			Namespace: spec.Name,
			Labels:    managedLabels(map[string]string{PoolLabel: spec.Name}),
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{corev1.ResourcePods: pods},
		},
	}
	return ns, quota, nil
}

// poolFromNamespace reverses PoolObjects.
func poolFromNamespace(ns *corev1.Namespace) (*orchestrator.PoolSpec, error) {
	ann := ns.Annotations
	spec := &orchestrator.PoolSpec{
		Name:   ns.Name,
		Image:  ann[ImageAnnotation],
		VMSize: ann[VMSizeAnnotation],
	}
	if raw := ann[SizingAnnotation]; raw != "" {
		var s sizingRecord
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("pool %q has a malformed %s annotation: %w", ns.Name, SizingAnnotation, err)
		}
		spec.Sizing = orchestrator.SizingPolicy{Autoscale: s.Autoscale, FixedNodes: s.Fixed, MinNodes: s.Min, MaxNodes: s.Max}
	}
	if raw := ann[MountsAnnotation]; raw != "" {
		var mounts []mountRecord
		if err := json.Unmarshal([]byte(raw), &mounts); err != nil {
			return nil, fmt.Errorf("pool %q has a malformed %s annotation: %w", ns.Name, MountsAnnotation, err)
		}
		for _, m := range mounts {
			spec.Mounts = append(spec.Mounts, orchestrator.Mount{Container: m.Container, Path: m.Path})
		}
	}
	return spec, nil
}

func jobConfigMapName(job string) string {
	return "job-" + job
}

// JobObject renders the ConfigMap that records a job on its pool.
func JobObject(name, pool string) (*corev1.ConfigMap, error) {
	if err := validateName("job", name); err != nil {
		return nil, err
	}
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobConfigMapName(name),
			Namespace: pool,
			Labels:    managedLabels(map[string]string{PoolLabel: pool, JobLabel: name}),
		},
		Data: map[string]string{"job": name, "pool": pool},
	}, nil
}

// TaskObjectName is the Kubernetes Job name of a task.
func TaskObjectName(job, taskID string) string {
	return job + "-" + taskID
}

// TaskObject renders a task as a run-once Kubernetes Job in the pool's
// namespace.
func TaskObject(pool orchestrator.PoolSpec, job string, task orchestrator.TaskSpec, opts Options) (*batchv1.Job, error) {
	opts = opts.withDefaults()
	name := TaskObjectName(job, task.ID)
	if err := validateName("task", name); err != nil {
		return nil, err
	}

	labels := managedLabels(map[string]string{PoolLabel: pool.Name, JobLabel: job, TaskLabel: task.ID})
	podAnnotations := map[string]string{}

	var (
		volumes []corev1.Volume
		mounts  []corev1.VolumeMount
	)
	for i, m := range pool.Mounts {
		vol := fmt.Sprintf("mount-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: vol,
			VolumeSource: corev1.VolumeSource{
				CSI: &corev1.CSIVolumeSource{
					Driver:           opts.MountDriver,
					VolumeAttributes: map[string]string{"bucketName": m.Container},
				},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: vol, MountPath: path.Clean("/" + m.Path)})
	}
	if len(volumes) > 0 && opts.MountDriver == GCSFuseDriver {
		podAnnotations["gke-gcsfuse/volumes"] = "true"
	}

	podSpec := corev1.PodSpec{
		RestartPolicy:      corev1.RestartPolicyNever,
		ServiceAccountName: opts.ServiceAccount,
		Containers: []corev1.Container{{
			Name:         containerName,
			Image:        pool.Image,
			Command:      []string{opts.Shell, "-c", task.CommandLine},
			VolumeMounts: mounts,
		}},
		Volumes: volumes,
	}
	if pool.VMSize != "" {
		podSpec.NodeSelector = map[string]string{instanceTypeLabel: pool.VMSize}
	}

	jobLabels := managedLabels(labels)
	if opts.KueueQueueName != "" {
		jobLabels[KueueLabel] = opts.KueueQueueName
	}

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   pool.Name,
			Labels:      jobLabels,
			Annotations: map[string]string{CommandAnnotation: task.CommandLine},
		},
		Spec: batchv1.JobSpec{
			// When the pod fails, the task has failed.
			BackoffLimit: ptr.To[int32](0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels, Annotations: podAnnotations},
				Spec:       podSpec,
			},
		},
	}, nil
}

// taskState derives a task state from a Kubernetes Job's status.
func taskState(job *batchv1.Job) orchestrator.TaskState {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return orchestrator.TaskSucceeded
		case batchv1.JobFailed:
			return orchestrator.TaskFailed
		}
	}
	switch {
	case job.Status.Succeeded > 0:
		return orchestrator.TaskSucceeded
	case job.Status.Failed > 0:
		return orchestrator.TaskFailed
	case job.Status.Active > 0:
		return orchestrator.TaskRunning
	default:
		return orchestrator.TaskQueued
	}
}
