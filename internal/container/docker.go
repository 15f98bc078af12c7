package container

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
)

// DockerEngine implements the Engine interface by shelling out to the
// Docker CLI.
type DockerEngine struct {
	binaryPath string
}

// NewDockerEngine creates a new Docker engine.
func NewDockerEngine() *DockerEngine {
	path, _ := exec.LookPath("docker")
	return &DockerEngine{binaryPath: path}
}

// Name returns the engine name.
func (e *DockerEngine) Name() string {
	return "docker"
}

// Available checks if the Docker daemon can be reached.
func (e *DockerEngine) Available() bool {
	if e.binaryPath == "" {
		return false
	}

	cmd := exec.Command(e.binaryPath, "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// Run executes a script in a transient container and waits for it to
// finish. The container is removed on exit.
func (e *DockerEngine) Run(ctx context.Context, opts RunOptions) error {
	args := []string{"run", "--rm"}

	for _, mount := range opts.Mounts {
		args = append(args, "--volume", mount.Source+":"+mount.Target)
	}

	envNames := make([]string, 0, len(opts.Env))
	for name := range opts.Env {
		envNames = append(envNames, name)
	}
	sort.Strings(envNames)

	for _, name := range envNames {
		args = append(args, "--env", name+"="+opts.Env[name])
	}

	args = append(args, opts.Image, "/usr/bin/env", "bash", "-c", opts.Script)

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("container run failed for image %s: %w", opts.Image, err)
	}

	return nil
}
