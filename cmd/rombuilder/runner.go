package main

import (
	"fmt"
	"io"

	"rombuilder/internal/job"
	"rombuilder/internal/runner/docker"
	"rombuilder/internal/runner/fake"
	"rombuilder/internal/runner/github"
)

// newRunner builds the runner named by kind. The returned closer is nil for
// runners that hold no resources.
func newRunner(kind string) (job.Runner, io.Closer, error) {
	switch kind {
	case "github":
		r, err := github.NewRunner(github.LoadConfigFromEnv())
		if err != nil {
			return nil, nil, fmt.Errorf("github runner: %w", err)
		}
		return r, nil, nil
	case "docker":
		r, err := docker.NewRunner(docker.LoadConfigFromEnv())
		if err != nil {
			return nil, nil, fmt.Errorf("docker runner: %w", err)
		}
		return r, r, nil
	case "fake":
		return fake.NewRunner(fake.LoadConfigFromEnv()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown runner %q: must be one of github, docker, fake", kind)
	}
}
