//go:build mage

package main

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v53/github"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type Build mg.Namespace

const (
	distFolder      = "dist"
	artifactsFolder = "artifacts"

	programName = "amgctl"

	githubOwner = "grafana"
	githubRepo  = "amgctl"
)

// Go builds the go binary for the specified os and arch into dist/<os>_<arch>/amgctl.
func (Build) Go(goOs, goArch string) error {
	fmt.Println("building for", goOs, goArch)
	return sh.RunWithV(
		map[string]string{
			"CGO_ENABLED": "0",
			"GOOS":        goOs,
			"GOARCH":      goArch,
		},
		"go", "build", "-v", "-o", filepath.Join(distFolder, goOs+"_"+goArch, binaryName(goOs)),
	)
}

func binaryName(goOs string) string {
	if goOs == "windows" {
		return programName + ".exe"
	}
	return programName
}

// Build builds the binary for the current os and arch.
func (b Build) Build() error {
	return b.Go(runtime.GOOS, runtime.GOARCH)
}

// All builds all supported binaries into the dist folder.
func (b Build) All() error {
	oses := []string{"linux", "darwin", "windows"}
	archs := []string{"amd64", "arm64"}
	var deps []interface{}
	for _, os := range oses {
		for _, arch := range archs {
			deps = append(deps, mg.F(b.Go, os, arch))
		}
	}
	mg.Deps(deps...)
	return nil
}

func (b Build) zipFolder(inFolder string, outFileName string) error {
	w, err := os.Create(outFileName)
	if err != nil {
		return fmt.Errorf("%q zip create: %w", outFileName, err)
	}
	defer w.Close()

	zw := zip.NewWriter(w)
	defer zw.Close()
	if err := filepath.WalkDir(inFolder, func(path string, d fs.DirEntry, err error) error {
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%q open: %w", path, err)
		}
		defer f.Close()

		relFn, err := filepath.Rel(inFolder, path)
		if err != nil {
			return fmt.Errorf("filepath rel %q: %w", path, err)
		}
		zfw, err := zw.Create(relFn)
		if err != nil {
			return fmt.Errorf("%q create: %w", relFn, err)
		}

		if _, err := io.Copy(zfw, f); err != nil {
			return fmt.Errorf("io copy: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walkdir: %w", err)
	}
	return nil
}

func (b Build) Package(releaseName string) error {
	mg.Deps(b.All)
	return filepath.WalkDir(distFolder, func(path string, d fs.DirEntry, err error) error {
		// Skip dist folder (first call)
		if path == distFolder {
			return nil
		}
		// Recursively skip artifacts folder (output folder)
		if d.Name() == artifactsFolder {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		outFolder := filepath.Join(distFolder, artifactsFolder, releaseName)
		if err := os.MkdirAll(outFolder, os.ModePerm); err != nil {
			return fmt.Errorf("mkdir %q: %w", outFolder, err)
		}
		zipFn := filepath.Join(outFolder, fmt.Sprintf("%s_%s.zip", d.Name(), releaseName))
		fmt.Println("creating release package", zipFn)
		if err := b.zipFolder(path, zipFn); err != nil {
			return fmt.Errorf("zip folder %q: %w", zipFn, err)
		}
		return nil
	})
}

// Docker builds the docker image with the specified tag.
func (Build) Docker(tag string) error {
	return sh.RunV("docker", "build", "-t", programName+":"+tag, ".")
}

// Test runs the test suite.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	if err := sh.RunV("golangci-lint", "run", "./..."); err != nil {
		return err
	}

	return nil
}

type GitHub mg.Namespace

// Release creates the GitHub release releaseName and uploads the packaged
// artifacts to it. It authenticates as a GitHub App installation configured
// through GITHUB_APP_ID, GITHUB_APP_INSTALLATION_ID and
// GITHUB_APP_PRIVATE_KEY_PATH.
func (g GitHub) Release(releaseName string) error {
	mg.Deps(mg.F(Build{}.Package, releaseName))

	client, err := g.client()
	if err != nil {
		return err
	}
	ctx := context.Background()
	release, _, err := client.Repositories.CreateRelease(ctx, githubOwner, githubRepo, &github.RepositoryRelease{
		TagName:              github.String(releaseName),
		Name:                 github.String(releaseName),
		GenerateReleaseNotes: github.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("create release %q: %w", releaseName, err)
	}
	fmt.Println("created release", release.GetHTMLURL())

	artifacts, err := filepath.Glob(filepath.Join(distFolder, artifactsFolder, releaseName, "*.zip"))
	if err != nil {
		return fmt.Errorf("glob artifacts: %w", err)
	}
	for _, fn := range artifacts {
		if err := g.upload(ctx, client, release.GetID(), fn); err != nil {
			return err
		}
	}
	return nil
}

func (GitHub) client() (*github.Client, error) {
	appID, err := envInt64("GITHUB_APP_ID")
	if err != nil {
		return nil, err
	}
	installationID, err := envInt64("GITHUB_APP_INSTALLATION_ID")
	if err != nil {
		return nil, err
	}
	keyPath := os.Getenv("GITHUB_APP_PRIVATE_KEY_PATH")
	if keyPath == "" {
		return nil, fmt.Errorf("missing env var %q", "GITHUB_APP_PRIVATE_KEY_PATH")
	}
	tr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, keyPath)
	if err != nil {
		return nil, fmt.Errorf("github app transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

func (GitHub) upload(ctx context.Context, client *github.Client, releaseID int64, fn string) error {
	f, err := os.Open(fn)
	if err != nil {
		return fmt.Errorf("%q open: %w", fn, err)
	}
	defer f.Close()
	fmt.Println("uploading", fn)
	if _, _, err := client.Repositories.UploadReleaseAsset(ctx, githubOwner, githubRepo, releaseID, &github.UploadOptions{
		Name: filepath.Base(fn),
	}, f); err != nil {
		return fmt.Errorf("upload %q: %w", fn, err)
	}
	return nil
}

func envInt64(name string) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, fmt.Errorf("missing env var %q", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env var %q: %w", name, err)
	}
	return n, nil
}
