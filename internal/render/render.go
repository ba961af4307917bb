package render

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"concierge/pkg/logging"
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "concierge",
	Subsystem: "render",
	Name:      "jobs_total",
	Help:      "Render jobs processed by kind and status",
}, []string{"kind", "status"})

// JobKind distinguishes single-clip renders from bulk replenish runs.
type JobKind string

const (
	KindPromo     JobKind = "promo"
	KindReplenish JobKind = "replenish"
)

// Job is one unit of video-generation work.
type Job struct {
	ID         string
	Kind       JobKind
	Text       string
	OutputName string
}

// Result reports a finished job. VideoPath is set on success.
type Result struct {
	Job       Job
	VideoPath string
	Err       error
}

// Runner executes one render job to completion. Implementations own
// their own timeouts.
type Runner interface {
	Run(ctx context.Context, job Job) (videoPath string, err error)
}

// ErrQueueFull is returned by Submit when the pending queue is at
// capacity.
var ErrQueueFull = errors.New("render queue is full")

type task struct {
	job  Job
	done chan Result
}

// QueueConfig configures the render queue. Workers and Capacity fall
// back to 1 and 8.
type QueueConfig struct {
	Workers  int
	Capacity int
	Runner   Runner
	Logger   logging.Logger
}

// Queue is a bounded work queue for render jobs. Submitters get a
// result channel so the reply path can stay ahead of the slow render.
type Queue struct {
	tasks   chan task
	workers int
	runner  Runner
	logger  logging.Logger
}

func NewQueue(cfg QueueConfig) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 8
	}
	return &Queue{
		tasks:   make(chan task, capacity),
		workers: workers,
		runner:  cfg.Runner,
		logger:  cfg.Logger,
	}
}

// Start launches the worker goroutines. Workers drain until the
// context is cancelled; in-flight jobs run to completion.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		go q.worker(ctx)
	}
}

// NewJob builds a job with a fresh identifier.
func NewJob(kind JobKind, text, outputName string) Job {
	return Job{ID: uuid.New().String(), Kind: kind, Text: text, OutputName: outputName}
}

// Submit enqueues a job without blocking. The returned channel
// receives exactly one Result.
func (q *Queue) Submit(job Job) (<-chan Result, error) {
	done := make(chan Result, 1)
	select {
	case q.tasks <- task{job: job, done: done}:
		return done, nil
	default:
		jobsTotal.WithLabelValues(string(job.Kind), "rejected").Inc()
		return nil, ErrQueueFull
	}
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.run(ctx, t)
		}
	}
}

func (q *Queue) run(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithField("panic", fmt.Sprint(r)).Error("Render worker panic")
			t.done <- Result{Job: t.job, Err: fmt.Errorf("render panicked: %v", r)}
		}
	}()

	q.logger.WithFields(logging.Fields{
		"job_id": t.job.ID,
		"kind":   string(t.job.Kind),
	}).Info("Render job started")

	videoPath, err := q.runner.Run(ctx, t.job)
	if err != nil {
		jobsTotal.WithLabelValues(string(t.job.Kind), "error").Inc()
		q.logger.WithError(err).WithField("job_id", t.job.ID).Warn("Render job failed")
	} else {
		jobsTotal.WithLabelValues(string(t.job.Kind), "success").Inc()
		q.logger.WithFields(logging.Fields{
			"job_id":     t.job.ID,
			"video_path": videoPath,
		}).Info("Render job complete")
	}
	t.done <- Result{Job: t.job, VideoPath: videoPath, Err: err}
}

// CommandRunnerConfig configures the subprocess-backed runner.
// RenderCommand and ReplenishCommand are full command lines; the job
// text and output name are appended as trailing arguments for promo
// renders.
type CommandRunnerConfig struct {
	RenderCommand    string
	ReplenishCommand string
	OutputDir        string
}

// CommandRunner renders by invoking an external generator process.
type CommandRunner struct {
	renderCmd    []string
	replenishCmd []string
	outputDir    string
}

func NewCommandRunner(cfg CommandRunnerConfig) *CommandRunner {
	return &CommandRunner{
		renderCmd:    strings.Fields(cfg.RenderCommand),
		replenishCmd: strings.Fields(cfg.ReplenishCommand),
		outputDir:    cfg.OutputDir,
	}
}

func (r *CommandRunner) Run(ctx context.Context, job Job) (string, error) {
	var argv []string
	switch job.Kind {
	case KindReplenish:
		argv = r.replenishCmd
	default:
		argv = r.renderCmd
	}
	if len(argv) == 0 {
		return "", fmt.Errorf("no command configured for %s jobs", job.Kind)
	}

	outPath := filepath.Join(r.outputDir, job.OutputName)
	args := append(append([]string{}, argv[1:]...), job.Text, outPath)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("render command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return outPath, nil
}
