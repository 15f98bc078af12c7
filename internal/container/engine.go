// Package container provides an abstraction layer for the container
// runtime used to sandbox build scripts.
package container

import (
	"context"
	"io"
)

// Mount is a bind mount from a host path to a container path.
type Mount struct {
	Source string
	Target string
}

// RunOptions contains options for running a script in a container.
type RunOptions struct {
	// Image is the image to run
	Image string
	// Script is the shell script to execute inside the container
	Script string
	// Mounts are bind mounts from the host
	Mounts []Mount
	// Env contains environment variables
	Env map[string]string
	// Stdout is where to write standard output
	Stdout io.Writer
	// Stderr is where to write standard error
	Stderr io.Writer
}

// Engine defines the interface for container operations.
type Engine interface {
	// Name returns the engine name
	Name() string
	// Available checks if the engine is usable on this system
	Available() bool
	// Run executes a script in a transient container and waits for it
	Run(ctx context.Context, opts RunOptions) error
}
