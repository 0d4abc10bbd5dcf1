package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrLibraryNotFound = errors.New("onnx runtime library not found")

var libCandidates = map[string][]string{
	"linux": {
		filepath.Join("onnxlibs", "libonnxruntime.so"),
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	},
	"darwin": {
		"/usr/local/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	},
	"windows": {
		filepath.Join("onnxlibs", "onnxruntime.dll"),
	},
}

// LibPath picks the shared library to load: the configured path when set,
// otherwise the first platform default that exists.
func LibPath(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrLibraryNotFound, configured, err)
		}
		return configured, nil
	}
	for _, p := range libCandidates[runtime.GOOS] {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrLibraryNotFound, runtime.GOOS)
}

var (
	envOnce sync.Once
	envErr  error
)

// InitEnvironment loads the runtime library and initialises the ONNX
// environment once per process. Later calls return the first outcome.
func InitEnvironment(libPath string) error {
	envOnce.Do(func() {
		path, err := LibPath(libPath)
		if err != nil {
			envErr = err
			return
		}
		slog.Info("Using ONNX Runtime library", slog.String("path", path))
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initialize onnx runtime: %w", err)
		}
	})
	return envErr
}

// DestroyEnvironment releases the runtime if it was initialised.
func DestroyEnvironment() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
		}
	}
}
