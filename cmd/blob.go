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
	"io"
	"time"

	"cloudops-toolkit/pkg/blobstore"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	uploadPrefix      string
	uploadConcurrency int
)

func init() {
	rootCmd.AddCommand(blobCmd)
	blobCmd.AddCommand(blobListCmd, blobUploadCmd)

	blobUploadCmd.Flags().StringVar(&uploadPrefix, "prefix", "", "Key prefix for uploaded files.")
	blobUploadCmd.Flags().IntVar(&uploadConcurrency, "concurrency", blobstore.DefaultUploadConcurrency, "Parallel uploads.")
}

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "List and stage files in the configured storage provider.",
}

var blobListCmd = &cobra.Command{
	Use:   "list CONTAINER [PREFIX]",
	Short: "Lists the objects of a storage container.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 2 {
			prefix = args[1]
		}
		ctx, stop := commandContext(cmd)
		defer stop()
		store, err := newBlobStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		objects, err := store.List(ctx, args[0], prefix)
		if err != nil {
			return err
		}
		printObjects(cmd.OutOrStdout(), objects)
		return nil
	},
}

var blobUploadCmd = &cobra.Command{
	Use:   "upload CONTAINER DIR",
	Short: "Uploads every file under DIR into a storage container.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext(cmd)
		defer stop()
		store, err := newBlobStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := blobstore.UploadDir(ctx, store, afero.NewOsFs(), args[1], args[0], uploadPrefix, uploadConcurrency)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d files to %s\n", n, args[0])
		return nil
	},
}

func printObjects(w io.Writer, objects []blobstore.Object) {
	for _, o := range objects {
		fmt.Fprintf(w, "%10d  %s  %s\n", o.Size, o.LastModified.UTC().Format(time.RFC3339), o.Key)
	}
}
