package model

import "errors"

var (
	// ErrArtifactFetch means the remote download failed. It is reported but does not stop the process.
	ErrArtifactFetch = errors.New("artifact fetch failed")

	// ErrLoad means the artifact or its metadata is missing, corrupt or incompatible with the runtime.
	// It fails the current request only.
	ErrLoad = errors.New("model load failed")

	// ErrNoSource means the artifact is absent and no remote source is configured.
	ErrNoSource = errors.New("no remote source configured")
)
