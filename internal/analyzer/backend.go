package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/afero"
)

// ExecResult is the outcome of a command run inside an environment.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Environment is a disposable workspace.
type Environment interface {
	// Fs is rooted at the workspace: "/" is the workspace root.
	Fs() afero.Fs
	// Root is the workspace path as seen by commands run with Exec.
	Root() string
	// Exec runs a command with the workspace as working directory. A
	// non-zero exit is reported in ExecResult, not as an error.
	Exec(ctx context.Context, name string, args ...string) (ExecResult, error)
	Close() error
}

// Backend creates environments.
type Backend interface {
	Name() string
	Create(ctx context.Context) (Environment, error)
}

// LocalBackend creates workspaces in temporary host directories. Commands run
// directly on the host.
type LocalBackend struct {
	fs afero.Fs
}

// NewLocalBackend returns a backend on the OS filesystem.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{fs: afero.NewOsFs()}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Create(ctx context.Context) (Environment, error) {
	dir, err := afero.TempDir(b.fs, "", "compliancebot-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &localEnv{host: b.fs, dir: dir, fs: afero.NewBasePathFs(b.fs, dir)}, nil
}

type localEnv struct {
	host afero.Fs
	dir  string
	fs   afero.Fs
}

func (e *localEnv) Fs() afero.Fs { return e.fs }
func (e *localEnv) Root() string { return e.dir }
func (e *localEnv) Close() error { return e.host.RemoveAll(e.dir) }

func (e *localEnv) Exec(ctx context.Context, name string, args ...string) (ExecResult, error) {
	return run(ctx, e.dir, name, args...)
}

// DockerBackend runs commands in a throwaway container that mounts the
// workspace read-only with networking disabled.
type DockerBackend struct {
	Image  string
	Binary string
	fs     afero.Fs
}

// NewDockerBackend returns a backend that runs image with the docker CLI.
func NewDockerBackend(image string) *DockerBackend {
	return &DockerBackend{Image: image, Binary: "docker", fs: afero.NewOsFs()}
}

func (b *DockerBackend) Name() string { return "docker" }

func (b *DockerBackend) Create(ctx context.Context) (Environment, error) {
	if b.Image == "" {
		return nil, errors.New("docker backend needs an image")
	}
	if _, err := exec.LookPath(b.Binary); err != nil {
		return nil, fmt.Errorf("docker not available: %w", err)
	}
	dir, err := afero.TempDir(b.fs, "", "compliancebot-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &dockerEnv{
		localEnv: localEnv{host: b.fs, dir: dir, fs: afero.NewBasePathFs(b.fs, dir)},
		binary:   b.Binary,
		image:    b.Image,
	}, nil
}

type dockerEnv struct {
	localEnv
	binary string
	image  string
}

func (e *dockerEnv) Root() string { return "/workspace" }

func (e *dockerEnv) Exec(ctx context.Context, name string, args ...string) (ExecResult, error) {
	return run(ctx, "", e.binary, dockerArgs(e.dir, e.image, name, args)...)
}

func dockerArgs(hostDir, image, name string, args []string) []string {
	out := []string{
		"run", "--rm",
		"--network", "none",
		"--read-only",
		"--pids-limit", "256",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--tmpfs", "/tmp",
		"-v", hostDir + ":/workspace:ro",
		"-w", "/workspace",
		image, name,
	}
	return append(out, args...)
}

func run(ctx context.Context, dir, name string, args ...string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("running %s: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("running %s: %w", name, err)
	}
	return res, nil
}
