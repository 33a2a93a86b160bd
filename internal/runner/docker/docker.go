// Package docker implements job.Runner by running the converter image as a
// container on the host Docker daemon. The container ID is the run ID.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"rombuilder/internal/apperrors"
	"rombuilder/internal/job"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	labelJobID     = "rombuilder.job.id"
	labelManagedBy = "managed-by"
	managedBy      = "rombuilder"
	stopTimeout    = 10
)

// Runner implements job.Runner using Docker.
type Runner struct {
	client *client.Client
	cfg    Config
	logger *slog.Logger

	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
}

// NewRunner connects to the Docker daemon from the environment and starts
// sweeping exited converter containers.
func NewRunner(cfg Config) (*Runner, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	r := &Runner{
		client:          dockerClient,
		cfg:             cfg.withDefaults(),
		logger:          slog.With("component", "runner", "runner", "docker"),
		maintenanceDone: make(chan struct{}),
	}

	maintenanceCtx, cancel := context.WithCancel(context.Background())
	r.cancelMaintenance = cancel
	go r.runMaintenance(maintenanceCtx, r.cfg.MaintenanceInterval)

	return r, nil
}

// Start creates and starts a converter container for the job.
func (r *Runner) Start(ctx context.Context, req job.StartRequest) (string, error) {
	// Pulls can outlive the request; detach so a slow client doesn't abort one halfway.
	if err := r.pullImageIfNeeded(context.WithoutCancel(ctx), r.cfg.Image); err != nil {
		return "", fmt.Errorf("pull %s: %w", r.cfg.Image, err)
	}

	containerConfig, hostConfig := r.containerSpec(req)
	name := "rombuilder-" + req.JobID
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.removeContainer(context.WithoutCancel(ctx), resp.ID)
		return "", fmt.Errorf("start container: %w", err)
	}

	r.logger.Info("Container started", "jobId", req.JobID, "containerId", shortID(resp.ID))
	return resp.ID, nil
}

// containerSpec builds the converter container from a start request.
func (r *Runner) containerSpec(req job.StartRequest) (*container.Config, *container.HostConfig) {
	env := []string{
		"JOB_ID=" + req.JobID,
		"ROM_URL=" + req.Source,
		"ROM_TYPE=" + string(req.Variant),
		"USER_ID=" + req.Requester,
		"CHAT_ID=" + req.Channel,
		"WORKSPACE=" + r.cfg.Workspace,
	}
	if r.cfg.DriveFolder != "" {
		env = append(env, "DRIVE_FOLDER_PATH="+r.cfg.DriveFolder)
	}
	if r.cfg.RcloneRemote != "" {
		env = append(env, "RCLONE_REMOTE_NAME="+r.cfg.RcloneRemote)
	}

	containerConfig := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        r.cfg.Command,
		Env:        env,
		WorkingDir: r.cfg.Workspace,
		Labels: map[string]string{
			labelJobID:     req.JobID,
			labelManagedBy: managedBy,
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeTmpfs,
				Target: r.cfg.Workspace,
			},
		},
		Resources: container.Resources{
			NanoCPUs: int64(r.cfg.CPUs * 1e9),
			Memory:   int64(r.cfg.MemoryMB) * 1024 * 1024,
		},
		ExtraHosts: r.cfg.ExtraHosts,
	}

	return containerConfig, hostConfig
}

// Poll maps the container state onto a run status.
func (r *Runner) Poll(ctx context.Context, runID string) (job.RunStatus, error) {
	inspect, err := r.client.ContainerInspect(ctx, runID)
	if err != nil {
		return job.RunStatus{}, fmt.Errorf("inspect container %s: %w", shortID(runID), err)
	}
	if inspect.State == nil {
		return job.RunStatus{}, fmt.Errorf("inspect container %s: no state", shortID(runID))
	}
	return runStatus(inspect.State), nil
}

func runStatus(state *container.State) job.RunStatus {
	switch {
	case state.Running, state.Restarting, state.Status == "created":
		return job.RunStatus{State: job.RunPending}
	case state.OOMKilled:
		return job.RunStatus{State: job.RunFailed, Conclusion: "oom_killed"}
	case state.ExitCode == 0 && state.Error == "":
		return job.RunStatus{State: job.RunSucceeded, Conclusion: "success"}
	default:
		return job.RunStatus{State: job.RunFailed, Conclusion: fmt.Sprintf("exit_code_%d", state.ExitCode)}
	}
}

// FetchResult reads the download link the converter printed to stdout.
func (r *Runner) FetchResult(ctx context.Context, runID string) (string, error) {
	logs, err := r.client.ContainerLogs(ctx, runID, container.LogsOptions{
		ShowStdout: true,
	})
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", shortID(runID), err)
	}
	defer logs.Close()

	return readResult(logs)
}

// Cancel stops and removes the converter container.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	timeout := stopTimeout
	if err := r.client.ContainerStop(ctx, runID, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return apperrors.NotFound("container", runID)
		}
		return fmt.Errorf("stop container %s: %w", shortID(runID), err)
	}
	r.removeContainer(ctx, runID)
	return nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *Runner) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close stops maintenance and releases the Docker client.
// Running converter containers are left alone.
func (r *Runner) Close() error {
	if r.cancelMaintenance != nil {
		r.cancelMaintenance()
		<-r.maintenanceDone
	}
	return r.client.Close()
}

func (r *Runner) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := r.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	r.logger.Info("Pulling converter image", "image", imageName)
	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runner) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	_ = r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// runMaintenance periodically removes exited converter containers.
func (r *Runner) runMaintenance(ctx context.Context, interval time.Duration) {
	defer close(r.maintenanceDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanupExpired(ctx)
		}
	}
}

// cleanupExpired removes converter containers that exited more than the
// retention period ago. Their result has been read by then.
func (r *Runner) cleanupExpired(ctx context.Context) {
	logger := slog.With("component", "maintenance")

	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
			filters.Arg("status", "exited"),
		),
	})
	if err != nil {
		logger.Warn("Failed to list containers", "error", err)
		return
	}

	now := time.Now()
	var cleaned int
	for _, c := range containers {
		inspect, err := r.client.ContainerInspect(ctx, c.ID)
		if err != nil || inspect.State == nil {
			continue
		}
		finishedAt, err := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)
		if err != nil || now.Sub(finishedAt) <= r.cfg.Retention {
			continue
		}
		r.removeContainer(ctx, c.ID)
		logger.Debug("Removed expired container", "jobId", c.Labels[labelJobID], "containerId", shortID(c.ID))
		cleaned++
	}

	if cleaned > 0 {
		logger.Info("Maintenance complete", "cleaned", cleaned)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var (
	_ job.Runner   = (*Runner)(nil)
	_ job.Canceler = (*Runner)(nil)
)
