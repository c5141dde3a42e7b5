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

// Package imagebuilder packages a build context as a layer on top of a base
// image and pushes the result, without a Docker daemon.
package imagebuilder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/sirupsen/logrus"
)

// DockerPlatform represents the target platform for a container image.
type DockerPlatform string

const (
	LinuxAMD64 DockerPlatform = "linux/amd64"
	LinuxARM64 DockerPlatform = "linux/arm64"
)

// DefaultIgnorePatterns are never packaged, whatever .dockerignore says.
var DefaultIgnorePatterns = []string{
	".git",
	".env",
	".venv",
	"node_modules",
	"__pycache__",
	"*.log",
	"tmp/",
	".DS_Store",
}

// Options describes one image build.
type Options struct {
	// BaseImage is pulled and extended with one layer holding the context.
	BaseImage string

	// Context is a local directory or a go-getter source (git, http, s3 or
	// gcs URL) holding the files to package.
	Context string

	// Registry and Repository name the pushed image as
	// <Registry>/<Repository>:<Tag>. A missing Tag is generated.
	Registry   string
	Repository string
	Tag        string

	// Platform selects the base image variant. Defaults to linux/amd64.
	Platform string

	// Workdir is where the context lands inside the image; it also becomes
	// the image's working directory. Empty keeps files at the root.
	Workdir string

	IgnorePatterns []string

	// Insecure allows plain-HTTP registries.
	Insecure bool
}

// Builder builds and pushes images. The zero value is ready to use.
type Builder struct {
	// Now stamps generated tags. Defaults to time.Now.
	Now func() time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// ImageReference is the pushed name for a build. Generated tags look like
// "abcd-2006-01-02-15-04-05".
func (b *Builder) ImageReference(opts Options) (string, error) {
	if opts.Registry == "" {
		return "", fmt.Errorf("an image registry is required")
	}
	repo := opts.Repository
	if repo == "" {
		userName := os.Getenv("USER")
		if userName == "" {
			userName = "unknown"
		}
		repo = userName + "-runner"
	}
	tag := opts.Tag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s", generateRandomString(4), b.now().Format("2006-01-02-15-04-05"))
	}
	ref := fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(opts.Registry, "/"), repo, tag)
	if _, err := name.NewTag(ref, nameOptions(opts)...); err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return ref, nil
}

func nameOptions(opts Options) []name.Option {
	if opts.Insecure {
		return []name.Option{name.Insecure}
	}
	return nil
}

func craneOptions(ctx context.Context, opts Options, platform *v1.Platform) []crane.Option {
	o := []crane.Option{
		crane.WithContext(ctx),
		crane.WithPlatform(platform),
		crane.WithAuthFromKeychain(authn.NewMultiKeychain(authn.DefaultKeychain, google.Keychain)),
	}
	if opts.Insecure {
		o = append(o, crane.Insecure)
	}
	return o
}

// Build appends the build context to the base image, pushes it and returns
// the pushed reference.
func (b *Builder) Build(ctx context.Context, opts Options) (string, error) {
	if opts.BaseImage == "" {
		return "", fmt.Errorf("a base image is required")
	}
	if opts.Context == "" {
		return "", fmt.Errorf("a build context is required")
	}
	if opts.Platform == "" {
		opts.Platform = string(LinuxAMD64)
	}
	platform, err := parsePlatform(opts.Platform)
	if err != nil {
		return "", err
	}
	imageName, err := b.ImageReference(opts)
	if err != nil {
		return "", err
	}

	logrus.Infof("Starting image build process for %s", imageName)
	logrus.Infof("Base image: %s, context: %s, platform: %s/%s", opts.BaseImage, opts.Context, platform.OS, platform.Architecture)

	contextDir, cleanup, err := FetchContext(ctx, opts.Context)
	if err != nil {
		return "", err
	}
	defer cleanup()

	patterns := append(append([]string{}, DefaultIgnorePatterns...), opts.IgnorePatterns...)
	matcher, err := ReadDockerignorePatterns(contextDir, patterns)
	if err != nil {
		return "", err
	}

	tarballPath, err := createFilteredTar(contextDir, opts.Workdir, matcher)
	if err != nil {
		return "", fmt.Errorf("failed to create filtered tarball: %w", err)
	}
	defer func() {
		os.Remove(tarballPath)
		logrus.Debugf("Cleaned up temporary tarball file: %s", tarballPath)
	}()

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(tarballPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return "", fmt.Errorf("failed to create layer from tarball: %w", err)
	}

	craneOpts := craneOptions(ctx, opts, &platform)
	baseImg, err := crane.Pull(opts.BaseImage, craneOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to pull base image %q: %w", opts.BaseImage, err)
	}
	img, err := mutate.AppendLayers(baseImg, layer)
	if err != nil {
		return "", fmt.Errorf("failed to append layer: %w", err)
	}
	if opts.Workdir != "" {
		if img, err = withWorkdir(img, opts.Workdir); err != nil {
			return "", err
		}
	}

	logrus.Infof("Uploading container image to %s", imageName)
	if err := crane.Push(img, imageName, craneOpts...); err != nil {
		return "", fmt.Errorf("failed to push image %q: %w", imageName, err)
	}
	logrus.Infof("Image %s built and uploaded successfully.", imageName)
	return imageName, nil
}

func withWorkdir(img v1.Image, workdir string) (v1.Image, error) {
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to read image config: %w", err)
	}
	cfg := cf.Config
	cfg.WorkingDir = path.Clean("/" + workdir)
	out, err := mutate.Config(img, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set working directory: %w", err)
	}
	return out, nil
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{OS: parts[0], Architecture: parts[1]}, nil
}

func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

// ReadDockerignorePatterns combines defaultPatterns with the .dockerignore
// file in dir, if there is one.
func ReadDockerignorePatterns(dir string, defaultPatterns []string) (*patternmatcher.PatternMatcher, error) {
	dockerignorePath := filepath.Join(dir, ".dockerignore")
	patterns := append([]string{}, defaultPatterns...)

	file, err := os.Open(dockerignorePath)
	switch {
	case err == nil:
		defer file.Close()
		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read .dockerignore file %q: %w", dockerignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
		logrus.Infof("Found %d patterns in .dockerignore at %q", len(filePatterns), dockerignorePath)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to open .dockerignore file %q: %w", dockerignorePath, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// shouldIgnore matches directories with a trailing slash, the way
// patternmatcher expects them.
func shouldIgnore(matcher *patternmatcher.PatternMatcher, relPath string, isDir bool) (bool, error) {
	relPathSlash := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}
	return matcher.MatchesOrParentMatches(relPathSlash)
}

type tarEntryWriter struct {
	tw        *tar.Writer
	sourceDir string
	prefix    string
	matcher   *patternmatcher.PatternMatcher
}

func (w *tarEntryWriter) walk(p string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return errFromWalk
	}
	relPath, err := filepath.Rel(w.sourceDir, p)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", p, err)
	}
	if relPath == "." {
		return nil
	}

	ignored, err := shouldIgnore(w.matcher, relPath, info.IsDir())
	if err != nil {
		return fmt.Errorf("failed to check ignore patterns for %q: %w", p, err)
	}
	if ignored {
		logrus.Debugf("Ignoring %q", relPath)
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", p, err)
	}
	header.Name = path.Join(w.prefix, filepath.ToSlash(relPath))
	if info.IsDir() {
		header.Name += "/"
	}
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	file, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open file %q: %w", p, err)
	}
	defer file.Close()
	if _, err := io.Copy(w.tw, file); err != nil {
		return fmt.Errorf("failed to write file content for %q: %w", p, err)
	}
	return nil
}

// createFilteredTar writes sourceDir, minus ignored paths, to a temporary
// gzipped tarball whose path it returns. Entries are placed under workdir.
func createFilteredTar(sourceDir, workdir string, matcher *patternmatcher.PatternMatcher) (_ string, err error) {
	tmpFile, err := os.CreateTemp("", "cloudops-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for tarball: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmpFile.Name())
		}
	}()
	defer tmpFile.Close()

	gzipWriter := gzip.NewWriter(tmpFile)
	tarWriter := tar.NewWriter(gzipWriter)
	logrus.Infof("Creating filtered tar from %s to temporary file %s", sourceDir, tmpFile.Name())

	w := &tarEntryWriter{
		tw:        tarWriter,
		sourceDir: sourceDir,
		prefix:    strings.Trim(path.Clean("/"+workdir), "/"),
		matcher:   matcher,
	}
	if err := filepath.Walk(sourceDir, w.walk); err != nil {
		return "", err
	}
	if err := tarWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return tmpFile.Name(), nil
}
