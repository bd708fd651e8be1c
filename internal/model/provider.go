package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Loader turns an artifact on disk into a Classifier.
type Loader func(modelPath string, metadata Metadata) (Classifier, error)

// Provider materializes the artifact and holds the one loaded Classifier for the
// process lifetime. Failed loads are not cached, so a later call retries.
type Provider struct {
	modelPath    string
	metadataPath string
	fetcher      Fetcher
	loader       Loader

	// mu serializes fetch and load; readers of current never take it.
	mu      sync.Mutex
	current atomic.Pointer[Classifier]
}

// NewProvider creates a Provider. fetcher may be nil when there is no remote source;
// a nil loader means LoadONNX.
func NewProvider(modelPath, metadataPath string, fetcher Fetcher, loader Loader) *Provider {
	if loader == nil {
		loader = LoadONNX
	}
	return &Provider{
		modelPath:    modelPath,
		metadataPath: metadataPath,
		fetcher:      fetcher,
		loader:       loader,
	}
}

func (p *Provider) ModelPath() string {
	return p.modelPath
}

// EnsureArtifact returns the local artifact path, downloading it first if absent.
// Errors wrap ErrArtifactFetch; the path is returned either way.
func (p *Provider) EnsureArtifact(ctx context.Context) (string, error) {
	_, err := os.Stat(p.modelPath)
	if err == nil {
		return p.modelPath, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return p.modelPath, fmt.Errorf("%w: %w", ErrArtifactFetch, err)
	}
	if p.fetcher == nil {
		return p.modelPath, fmt.Errorf("%w: %s is missing: %w", ErrArtifactFetch, p.modelPath, ErrNoSource)
	}

	slog.Info("fetching model artifact", "source", p.fetcher.Source(), "path", p.modelPath)
	if err := p.download(ctx); err != nil {
		return p.modelPath, fmt.Errorf("%w: %s: %w", ErrArtifactFetch, p.fetcher.Source(), err)
	}
	slog.Info("model artifact cached", "path", p.modelPath)
	return p.modelPath, nil
}

// download writes to a sibling temp file and renames it, so a failure never leaves a partial artifact.
func (p *Provider) download(ctx context.Context) error {
	dir := filepath.Dir(p.modelPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.modelPath)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := p.fetcher.Fetch(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.modelPath)
}

// Load deserializes the artifact at path. Once a load succeeds every later call
// returns the same instance without touching the disk. Errors wrap ErrLoad.
func (p *Provider) Load(path string) (Classifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(path)
}

func (p *Provider) cached() Classifier {
	if c := p.current.Load(); c != nil {
		return *c
	}
	return nil
}

func (p *Provider) loadLocked(path string) (Classifier, error) {
	if c := p.cached(); c != nil {
		return c, nil
	}

	metadata, err := ReadMetadata(p.metadataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	classifier, err := p.loader(path, metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	slog.Info("model loaded", "path", path, "version", metadata.Version,
		"classes", len(metadata.Classes), "image_size", metadata.ImageSize)
	p.current.Store(&classifier)
	return classifier, nil
}

// Classifier lazily ensures and loads the artifact. A failed fetch is logged; the load
// is only attempted if a file is present, otherwise the fetch error is returned inside ErrLoad.
// The download is shared by every waiting caller, so it ignores ctx cancellation and is
// bounded by the fetcher's own timeout instead.
func (p *Provider) Classifier(ctx context.Context) (Classifier, error) {
	if c := p.cached(); c != nil {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.cached(); c != nil {
		return c, nil
	}

	path, fetchErr := p.EnsureArtifact(context.WithoutCancel(ctx))
	if fetchErr != nil {
		slog.Warn("model artifact unavailable", "error", fetchErr)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoad, fetchErr)
		}
	}
	return p.loadLocked(path)
}

// Loaded reports whether a classifier is cached. It never waits on an in-flight download.
func (p *Provider) Loaded() bool {
	return p.current.Load() != nil
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.current.Swap(nil); c != nil {
		(*c).Close()
	}
}
