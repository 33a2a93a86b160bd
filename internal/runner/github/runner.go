// Package github implements job.Runner on GitHub Actions. A conversion is a
// workflow_dispatch run of the converter workflow; the run ID is the
// Actions run ID.
package github

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rombuilder/internal/job"
	"rombuilder/pkg/backoff"
)

// clockSkew tolerates drift between this host and GitHub when matching
// runs created after a dispatch.
const clockSkew = 30 * time.Second

// ErrRunNotFound is returned when a dispatched run cannot be located.
var ErrRunNotFound = errors.New("dispatched workflow run not found")

// Runner implements job.Runner using the GitHub Actions REST API.
type Runner struct {
	cfg    Config
	client *client
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a GitHub Actions runner.
func NewRunner(cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.With("component", "runner", "runner", "github")
	return &Runner{
		cfg:    cfg,
		client: newClient(cfg, logger),
		logger: logger,
		now:    time.Now,
		sleep:  backoff.Sleep,
	}, nil
}

type workflowRun struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	Event        string    `json:"event"`
	Status       string    `json:"status"`
	Conclusion   *string   `json:"conclusion"`
	HTMLURL      string    `json:"html_url"`
	CreatedAt    time.Time `json:"created_at"`
}

type runList struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

type artifact struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Expired            bool   `json:"expired"`
	ArchiveDownloadURL string `json:"archive_download_url"`
}

type artifactList struct {
	Artifacts []artifact `json:"artifacts"`
}

func (r *Runner) repoPath() string {
	return "/repos/" + url.PathEscape(r.cfg.Owner) + "/" + url.PathEscape(r.cfg.Repo)
}

func (r *Runner) workflowPath() string {
	return r.repoPath() + "/actions/workflows/" + url.PathEscape(r.cfg.WorkflowFile)
}

// Start dispatches the converter workflow and returns the ID of the run it
// created. The dispatch API does not return the run, so the run is looked
// up afterwards: first by a title carrying the job ID, then as the newest
// dispatch run created after the trigger.
func (r *Runner) Start(ctx context.Context, req job.StartRequest) (string, error) {
	triggered := r.now().Add(-clockSkew)

	payload := map[string]any{
		"ref": r.cfg.Ref,
		"inputs": map[string]string{
			"rom_url":  req.Source,
			"rom_type": string(req.Variant),
			"user_id":  req.Requester,
			"chat_id":  req.Channel,
			"job_id":   req.JobID,
		},
	}
	if err := r.client.do(ctx, http.MethodPost, r.workflowPath()+"/dispatches", payload, nil); err != nil {
		return "", fmt.Errorf("dispatch workflow: %w", err)
	}

	runID, err := r.discoverRun(ctx, req.JobID, triggered)
	if err != nil {
		return "", err
	}

	r.logger.Info("Workflow dispatched", "jobId", req.JobID, "runId", runID)
	return strconv.FormatInt(runID, 10), nil
}

func (r *Runner) discoverRun(ctx context.Context, jobID string, triggered time.Time) (int64, error) {
	path := r.workflowPath() + "/runs?event=workflow_dispatch&per_page=20"

	var fallback int64
	for attempt := 1; attempt <= r.cfg.DiscoverTries; attempt++ {
		if err := r.sleep(ctx, r.cfg.SettleDelay); err != nil {
			return 0, err
		}

		var runs runList
		if err := r.client.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
			return 0, fmt.Errorf("list workflow runs: %w", err)
		}

		var newest time.Time
		fallback = 0
		for _, run := range runs.WorkflowRuns {
			if strings.Contains(run.DisplayTitle, jobID) || strings.Contains(run.Name, jobID) {
				return run.ID, nil
			}
			if run.CreatedAt.After(triggered) && run.CreatedAt.After(newest) {
				newest, fallback = run.CreatedAt, run.ID
			}
		}
	}

	if fallback != 0 {
		r.logger.Warn("Run title does not carry the job ID, using newest dispatch run",
			"jobId", jobID, "runId", fallback)
		return fallback, nil
	}
	return 0, ErrRunNotFound
}

// Poll reports the state of a workflow run.
func (r *Runner) Poll(ctx context.Context, runID string) (job.RunStatus, error) {
	run, err := r.getRun(ctx, runID)
	if err != nil {
		return job.RunStatus{}, err
	}
	return runStatus(run), nil
}

func runStatus(run workflowRun) job.RunStatus {
	if run.Status != "completed" {
		return job.RunStatus{State: job.RunPending}
	}
	conclusion := "unknown"
	if run.Conclusion != nil && *run.Conclusion != "" {
		conclusion = *run.Conclusion
	}
	if conclusion == "success" {
		return job.RunStatus{State: job.RunSucceeded, Conclusion: conclusion}
	}
	return job.RunStatus{State: job.RunFailed, Conclusion: conclusion}
}

func (r *Runner) getRun(ctx context.Context, runID string) (workflowRun, error) {
	if _, err := strconv.ParseInt(runID, 10, 64); err != nil {
		return workflowRun{}, fmt.Errorf("invalid run ID %q", runID)
	}
	var run workflowRun
	if err := r.client.do(ctx, http.MethodGet, r.repoPath()+"/actions/runs/"+runID, nil, &run); err != nil {
		return workflowRun{}, err
	}
	return run, nil
}

// FetchResult reads the download link from the run's result artifact,
// a zip holding a text file with the URL. Runs without the artifact
// report their page on GitHub instead.
func (r *Runner) FetchResult(ctx context.Context, runID string) (string, error) {
	if _, err := strconv.ParseInt(runID, 10, 64); err != nil {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}

	var list artifactList
	if err := r.client.do(ctx, http.MethodGet, r.repoPath()+"/actions/runs/"+runID+"/artifacts", nil, &list); err != nil {
		return "", fmt.Errorf("list artifacts: %w", err)
	}

	for _, a := range list.Artifacts {
		if a.Name != r.cfg.ResultArtifact || a.Expired {
			continue
		}
		archive, err := r.client.raw(ctx, http.MethodGet, a.ArchiveDownloadURL, nil)
		if err != nil {
			return "", fmt.Errorf("download artifact %s: %w", a.Name, err)
		}
		link, err := readLink(archive)
		if err != nil {
			return "", fmt.Errorf("artifact %s: %w", a.Name, err)
		}
		return link, nil
	}

	run, err := r.getRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.HTMLURL == "" {
		return "", fmt.Errorf("run %s has no %s artifact", runID, r.cfg.ResultArtifact)
	}
	r.logger.Warn("Result artifact missing, reporting run page", "runId", runID)
	return run.HTMLURL, nil
}

// readLink returns the first non-empty line of the first file in a zip.
func readLink(archive []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(io.LimitReader(rc, 64<<10))
		rc.Close()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				return line, nil
			}
		}
		return "", fmt.Errorf("%s is empty", f.Name)
	}
	return "", errors.New("empty archive")
}

// Cancel asks GitHub to cancel a run. Runs that already finished are not an error.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	if _, err := strconv.ParseInt(runID, 10, 64); err != nil {
		return fmt.Errorf("invalid run ID %q", runID)
	}
	err := r.client.do(ctx, http.MethodPost, r.repoPath()+"/actions/runs/"+runID+"/cancel", nil, nil)
	if IsStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

// Ready checks that the token can see the converter workflow.
func (r *Runner) Ready(ctx context.Context) error {
	return r.client.do(ctx, http.MethodGet, r.workflowPath(), nil, nil)
}

var (
	_ job.Runner   = (*Runner)(nil)
	_ job.Canceler = (*Runner)(nil)
)
