package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/database"
)

const backupRetentionDays = 30

// BackupJob uploads a nightly database snapshot and rotates old backups.
type BackupJob struct {
	service *BackupService
	log     zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads a backup, then rotates old ones.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if err := j.service.RotateOldBackups(ctx, backupRetentionDays); err != nil {
		// Rotation failure leaves extra backups behind, which is safe.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	return nil
}

// WALCheckpointJob periodically truncates the write-ahead log so it cannot
// grow without bound between backups.
type WALCheckpointJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewWALCheckpointJob creates a new WAL checkpoint job
func NewWALCheckpointJob(db *database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		db:  db,
		log: log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run performs a truncating WAL checkpoint.
func (j *WALCheckpointJob) Run() error {
	return j.db.WALCheckpoint("TRUNCATE")
}
