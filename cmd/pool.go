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
	"fmt"

	"cloudops-toolkit/pkg/blobstore"
	"cloudops-toolkit/pkg/orchestrator"

	"github.com/spf13/cobra"
)

var (
	poolImage    string
	poolVMSize   string
	poolMounts   []string
	poolNodes    int
	poolMinNodes int
	poolMaxNodes int
	poolCascade  bool
)

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolCreateCmd, poolDeleteCmd)

	poolCreateCmd.Flags().StringVarP(&poolImage, "image", "i", "", "Container image tasks on the pool run. Required.")
	poolCreateCmd.Flags().StringVar(&poolVMSize, "vm-size", "", "Machine type of the pool's nodes.")
	poolCreateCmd.Flags().StringSliceVar(&poolMounts, "mount", nil, "Storage mounts as container:path.")
	poolCreateCmd.Flags().IntVar(&poolNodes, "nodes", 1, "Fixed pool size.")
	poolCreateCmd.Flags().IntVar(&poolMinNodes, "min-nodes", 0, "Autoscale minimum, used with --max-nodes.")
	poolCreateCmd.Flags().IntVar(&poolMaxNodes, "max-nodes", 0, "Autoscale maximum. Makes the pool autoscale.")
	_ = poolCreateCmd.MarkFlagRequired("image")

	poolDeleteCmd.Flags().BoolVar(&poolCascade, "cascade", false, "Delete jobs still registered on the pool first.")
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Create and delete compute pools.",
}

var poolCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Creates a pool.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := poolSpecFromFlags(args[0])
		if err != nil {
			return err
		}
		ctx, stop := commandContext(cmd)
		defer stop()
		o, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		pool, err := o.CreatePool(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created pool %s (%s, image %s)\n", pool.Name, pool.Sizing, pool.Image)
		return nil
	},
}

var poolDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Deletes a pool. Deleting a missing pool succeeds.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext(cmd)
		defer stop()
		policy := orchestrator.PoolDeleteReject
		if poolCascade {
			policy = orchestrator.PoolDeleteCascade
		}
		o, err := newOrchestrator(ctx, cfg, orchestrator.WithPoolDeletePolicy(policy))
		if err != nil {
			return err
		}
		if err := o.DeletePool(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted pool %s\n", args[0])
		return nil
	},
}

func poolSpecFromFlags(name string) (orchestrator.PoolSpec, error) {
	mounts, err := blobstore.ParseMounts(poolMounts)
	if err != nil {
		return orchestrator.PoolSpec{}, err
	}
	sizing := orchestrator.FixedSize(poolNodes)
	if poolMaxNodes > 0 {
		sizing = orchestrator.AutoscaleRange(poolMinNodes, poolMaxNodes)
	}
	return orchestrator.PoolSpec{
		Name:   name,
		Image:  poolImage,
		VMSize: poolVMSize,
		Mounts: mounts,
		Sizing: sizing,
	}, nil
}
