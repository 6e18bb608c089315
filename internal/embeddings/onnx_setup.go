//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultONNXRuntimeVersion is the ONNX Runtime release downloaded by init.
// It must expose the C API version onnxruntime_go was built against.
const DefaultONNXRuntimeVersion = "1.17.1"

// ErrUnsupportedPlatform indicates the current OS/arch has no prebuilt runtime.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

const releaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%[1]s/onnxruntime-%[2]s-%[1]s.tgz"

// runtimeRelease identifies one prebuilt ONNX Runtime archive.
type runtimeRelease struct {
	Version  string
	Platform string // archive platform tag, e.g. linux-x64
	Library  string // shared library file name
}

// releaseFor resolves the archive for goos/goarch.
func releaseFor(goos, goarch, version string) (runtimeRelease, error) {
	if version == "" {
		version = DefaultONNXRuntimeVersion
	}
	var platform, lib string
	switch goos + "/" + goarch {
	case "linux/amd64":
		platform, lib = "linux-x64", "libonnxruntime.so"
	case "linux/arm64":
		platform, lib = "linux-aarch64", "libonnxruntime.so"
	case "darwin/amd64":
		platform, lib = "osx-x86_64", "libonnxruntime.dylib"
	case "darwin/arm64":
		platform, lib = "osx-arm64", "libonnxruntime.dylib"
	default:
		return runtimeRelease{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return runtimeRelease{Version: version, Platform: platform, Library: lib}, nil
}

// URL is the GitHub release download location.
func (r runtimeRelease) URL() string {
	return fmt.Sprintf(releaseURL, r.Version, r.Platform)
}

// libPrefix is the archive directory holding the shared libraries.
func (r runtimeRelease) libPrefix() string {
	return fmt.Sprintf("onnxruntime-%s-%s/lib/", r.Platform, r.Version)
}

// installDir is the managed runtime location, ~/.config/ragfus/lib.
func installDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "ragfus", "lib")
}

func libraryName() string {
	if runtime.GOOS == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// GetONNXLibraryPath returns ONNX_PATH when set, else the managed install
// if present, else "".
func GetONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	p := filepath.Join(installDir(), libraryName())
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// ONNXRuntimeExists reports whether a runtime library can be located.
func ONNXRuntimeExists() bool {
	return GetONNXLibraryPath() != ""
}

// DownloadONNXRuntime installs the runtime for the current platform into
// the managed directory. An empty version means DefaultONNXRuntimeVersion.
func DownloadONNXRuntime(ctx context.Context, version string) error {
	rel, err := releaseFor(runtime.GOOS, runtime.GOARCH, version)
	if err != nil {
		return err
	}
	return installRelease(ctx, http.DefaultClient, rel, rel.URL(), installDir())
}

// installRelease downloads url and unpacks the release's lib/ directory into
// destDir. Files are staged in a sibling temp dir so a failed download never
// leaves a partial library behind.
func installRelease(ctx context.Context, client *http.Client, rel runtimeRelease, url, destDir string) error {
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading ONNX runtime: %s returned status %d", url, resp.StatusCode)
	}

	staging, err := os.MkdirTemp(filepath.Dir(destDir), ".onnx-staging-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	files, err := unpackLibs(resp.Body, staging, rel)
	if err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}
	for _, name := range files {
		dst := filepath.Join(destDir, name)
		_ = os.Remove(dst)
		if err := os.Rename(filepath.Join(staging, name), dst); err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
	}
	return nil
}

// unpackLibs writes the regular files and symlinks under rel.libPrefix()
// into dir and returns their names. It fails when rel.Library is absent.
func unpackLibs(r io.Reader, dir string, rel runtimeRelease) ([]string, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gzr.Close()

	prefix := rel.libPrefix()
	var files []string
	found := false

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		base := filepath.Base(name)
		dst := filepath.Join(dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if strings.Contains(hdr.Linkname, "/") {
				continue
			}
			if err := os.Symlink(hdr.Linkname, dst); err != nil {
				return nil, fmt.Errorf("linking %s: %w", base, err)
			}
		case tar.TypeReg:
			if err := writeFile(dst, tr); err != nil {
				return nil, err
			}
		default:
			continue
		}

		files = append(files, base)
		if base == rel.Library || strings.HasPrefix(base, rel.Library+".") {
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("library %s not found in archive", rel.Library)
	}
	return files, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// setONNXPathEnv exports ONNX_PATH, which fastembed-go reads when it
// initializes the runtime during model download.
var setONNXPathEnv = func(path string) error {
	return os.Setenv("ONNX_PATH", path)
}

// EnsureONNXRuntime returns the runtime library path, downloading the
// default version when it is missing. notify, if set, receives progress lines.
func EnsureONNXRuntime(ctx context.Context, notify func(string)) (string, error) {
	if path := GetONNXLibraryPath(); path != "" {
		return path, nil
	}
	if notify == nil {
		notify = func(string) {}
	}

	notify(fmt.Sprintf("ONNX runtime not found, downloading v%s for %s/%s",
		DefaultONNXRuntimeVersion, runtime.GOOS, runtime.GOARCH))

	if err := DownloadONNXRuntime(ctx, ""); err != nil {
		return "", fmt.Errorf("%w (run 'ragfus init' or set ONNX_PATH)", err)
	}

	path := GetONNXLibraryPath()
	if path == "" {
		return "", errors.New("ONNX runtime download completed but library not found")
	}
	notify("ONNX runtime installed at " + path)
	return path, nil
}
