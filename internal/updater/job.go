package updater

import (
	"errors"

	"github.com/rs/zerolog"
)

// Job adapts the coordinator to the scheduler's job interface.
type Job struct {
	coordinator *Coordinator
	log         zerolog.Logger
}

// NewJob creates the scheduled update job.
func NewJob(coordinator *Coordinator, log zerolog.Logger) *Job {
	return &Job{
		coordinator: coordinator,
		log:         log.With().Str("job", "update_run").Logger(),
	}
}

// Name returns the job name for scheduler logging.
func (j *Job) Name() string {
	return "update_run"
}

// Run executes one update cycle. A run skipped because another is active is
// not a job failure.
func (j *Job) Run() error {
	err := j.coordinator.Run()
	if errors.Is(err, ErrAlreadyRunning) {
		j.log.Info().Msg("Update run already active, skipping scheduled trigger")
		return nil
	}
	return err
}
