package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/pipeline"
)

// RunArchiver uploads a completed run report to durable storage.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, run *pipeline.RunResult) error
}

// PipelineJob re-runs the configured research pipeline on a schedule,
// typically nightly after market close.
type PipelineJob struct {
	service  *pipeline.Service
	archiver RunArchiver
	timeout  time.Duration
	log      zerolog.Logger
}

// NewPipelineJob creates the scheduled pipeline job. archiver may be nil
// when report archiving is not configured.
func NewPipelineJob(service *pipeline.Service, archiver RunArchiver, log zerolog.Logger) *PipelineJob {
	return &PipelineJob{
		service:  service,
		archiver: archiver,
		timeout:  15 * time.Minute,
		log:      log.With().Str("job", "pipeline_run").Logger(),
	}
}

// Name implements Job.
func (j *PipelineJob) Name() string {
	return "pipeline_run"
}

// Run implements Job.
func (j *PipelineJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	run, err := j.service.Run(ctx)
	if err != nil {
		return err
	}

	if j.archiver != nil {
		if err := j.archiver.ArchiveRun(ctx, run); err != nil {
			j.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to archive run report")
		}
	}

	j.log.Info().Str("run_id", run.ID).Msg("Scheduled pipeline run completed")
	return nil
}
