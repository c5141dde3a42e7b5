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

	"cloudops-toolkit/pkg/imagebuilder"

	"github.com/spf13/cobra"
)

var imageOpts imagebuilder.Options

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.AddCommand(imageBuildCmd)

	f := imageBuildCmd.Flags()
	f.StringVar(&imageOpts.BaseImage, "base-docker-image", "", "Base image to build upon (e.g., python:3.12-slim). Required.")
	f.StringVarP(&imageOpts.Context, "build-context", "c", ".", "Local directory or remote source to package.")
	f.StringVar(&imageOpts.Repository, "repository", "", "Repository to push to. Defaults to $USER-runner.")
	f.StringVar(&imageOpts.Tag, "tag", "", "Image tag. Generated if empty.")
	f.StringVarP(&imageOpts.Platform, "platform", "f", string(imagebuilder.LinuxAMD64), "Target platform.")
	f.StringVar(&imageOpts.Workdir, "workdir", "", "Directory inside the image that receives the context.")
	f.BoolVar(&imageOpts.Insecure, "insecure", false, "Allow a plain-HTTP registry.")
	_ = imageBuildCmd.MarkFlagRequired("base-docker-image")
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Build container images for pools.",
}

var imageBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Packages a build context onto a base image and pushes it to CLOUDOPS_REGISTRY.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Registry == "" {
			return fmt.Errorf("no registry configured, set CLOUDOPS_REGISTRY")
		}
		ctx, stop := commandContext(cmd)
		defer stop()

		opts := imageOpts
		opts.Registry = cfg.Registry
		ref, err := (&imagebuilder.Builder{}).Build(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ref)
		return nil
	},
}
