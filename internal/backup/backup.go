// Package backup implements the backup scheduler: a cron-driven job
// that snapshots the database, optionally compresses it, uploads it to
// object storage, and prunes old backups past the retention window.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	kzgzip "github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Config configures the Scheduler.
type Config struct {
	Enabled         bool
	CronSchedule    string
	RetentionDays   int
	ObjectPrefix    string
	Compress        bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Run is one completed (or failed) backup attempt, persisted to the
// backup_runs table.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Succeeded   bool
	ObjectKey   string
	SizeBytes   int64
	Error       string
}

// Store persists Run rows.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// Record inserts a completed run.
func (s *Store) Record(ctx context.Context, r Run) error {
	status := statusSuccess
	if !r.Succeeded {
		status = statusFailed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_runs (id, started_at, finished_at, status, object_key, size_bytes, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt, r.FinishedAt, status, r.ObjectKey, r.SizeBytes, r.Error)
	return err
}

// Recent returns the most recent n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, object_key, size_bytes, error_message
		FROM backup_runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list backup runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &status, &r.ObjectKey, &r.SizeBytes, &r.Error); err != nil {
			return nil, err
		}
		r.Succeeded = status == statusSuccess
		out = append(out, r)
	}
	return out, rows.Err()
}

// Scheduler owns the cron job, the object store client, and the path
// to the live database file it snapshots via VACUUM INTO.
type Scheduler struct {
	cfg      Config
	dbPath   string
	db       *sql.DB
	store    *Store
	s3Client *s3.Client
	cron     *cron.Cron
	logger   zerolog.Logger

	lastRun   *Run
	lastError error
}

// NewScheduler builds a Scheduler. It does not start the cron job;
// call Start for that.
func NewScheduler(ctx context.Context, cfg Config, dbPath string, db *sql.DB, store *Store, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{cfg: cfg, dbPath: dbPath, db: db, store: store, logger: logger}

	if cfg.Enabled {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("build s3 client: %w", err)
		}
		s.s3Client = client
	}

	return s, nil
}

func newS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = cfg.ForcePathStyle },
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// Start registers the cron schedule and begins running it. A no-op
// when backups are disabled.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("backup scheduler disabled")
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.CronSchedule, func() {
		if _, err := s.RunBackup(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("scheduled backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register cron schedule %q: %w", s.cfg.CronSchedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.cfg.CronSchedule).Msg("backup scheduler started")
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight run.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// RunBackup performs one backup cycle: snapshot, optional compression,
// upload, retention sweep. It doubles as the manual trigger.
func (s *Scheduler) RunBackup(ctx context.Context) (*Run, error) {
	if s.s3Client == nil {
		return nil, fmt.Errorf("backups are not configured")
	}
	started := time.Now().UTC()
	run := Run{ID: snapshotID(started), StartedAt: started}

	objectKey, size, err := s.snapshotAndUpload(ctx, started)
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Succeeded = false
		run.Error = err.Error()
		s.lastError = err
	} else {
		run.Succeeded = true
		run.ObjectKey = objectKey
		run.SizeBytes = size
		s.lastError = nil
	}
	s.lastRun = &run

	if recErr := s.store.Record(ctx, run); recErr != nil {
		s.logger.Error().Err(recErr).Msg("failed to persist backup run")
	}

	if err == nil {
		if sweepErr := s.sweepExpired(ctx); sweepErr != nil {
			s.logger.Warn().Err(sweepErr).Msg("backup retention sweep failed")
		}
	}

	return &run, err
}

func (s *Scheduler) snapshotAndUpload(ctx context.Context, at time.Time) (string, int64, error) {
	snapshotPath := s.dbPath + ".snapshot-" + snapshotID(at)
	defer os.Remove(snapshotPath)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", snapshotPath)); err != nil {
		return "", 0, fmt.Errorf("vacuum into snapshot: %w", err)
	}

	uploadPath := snapshotPath
	ext := "db"
	if s.cfg.Compress {
		compressedPath := snapshotPath + ".gz"
		if err := compressFile(snapshotPath, compressedPath); err != nil {
			return "", 0, fmt.Errorf("compress snapshot: %w", err)
		}
		defer os.Remove(compressedPath)
		uploadPath = compressedPath
		ext = "db.gz"
	}

	key := fmt.Sprintf("backups/%s-%s.%s", s.cfg.ObjectPrefix, at.Format("20060102_150405"), ext)

	file, err := os.Open(uploadPath)
	if err != nil {
		return "", 0, fmt.Errorf("open snapshot for upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat snapshot: %w", err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload snapshot: %w", err)
	}

	return key, info.Size(), nil
}

func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gw, err := kzgzip.NewWriterLevel(dst, kzgzip.BestSpeed)
	if err != nil {
		return err
	}
	defer gw.Close()

	if _, err := io.Copy(gw, src); err != nil {
		return err
	}
	return gw.Close()
}

// sweepExpired lists every object under the backup prefix and deletes
// those older than the retention window.
func (s *Scheduler) sweepExpired(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String("backups/" + s.cfg.ObjectPrefix + "-"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list backup objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(s.cfg.Bucket),
					Key:    obj.Key,
				}); err != nil {
					s.logger.Warn().Err(err).Str("key", aws.ToString(obj.Key)).Msg("failed to delete expired backup")
				}
			}
		}
	}
	return nil
}

// RecentRuns exposes the persisted run history for the admin listing.
func (s *Scheduler) RecentRuns(ctx context.Context, n int) ([]Run, error) {
	return s.store.Recent(ctx, n)
}

// Health is the thin status surfaced at the health endpoint. Backup
// failures are logged and reported here; they never fail the process.
type Health struct {
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastOK    bool       `json:"last_ok"`
	LastError string     `json:"last_error,omitempty"`
}

// Health reports the scheduler's current status.
func (s *Scheduler) Health() Health {
	h := Health{Enabled: s.cfg.Enabled}
	if s.lastRun != nil {
		finishedAt := s.lastRun.FinishedAt
		h.LastRunAt = &finishedAt
		h.LastOK = s.lastRun.Succeeded
	}
	if s.lastError != nil {
		h.LastError = s.lastError.Error()
	}
	return h
}

func snapshotID(at time.Time) string {
	return at.Format("20060102150405")
}
