package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrEmptyTranscript   = errors.New("completed job requires a non-empty transcript")
)

// JobUpdate carries the columns written together with a status change. Nil fields are
// left untouched; Reset clears everything a retry must forget.
type JobUpdate struct {
	Progress          *int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	DiarizationStatus *constant.DiarizationStatus
	DiarizationError  *string
	SpeakerCount      *int
	Language          *string
	Transcript        *entities.Transcript
	LastError         *string
	Reset             bool

	// Fence, when set, restricts the update to the run that claimed the job at that time.
	Fence *time.Time
}

type JobRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB

	CreateAudioFile(ctx context.Context, file *entities.AudioFile) error
	FindAudioFileByID(ctx context.Context, id uuid.UUID) (*entities.AudioFile, error)
	FindAudioFileByFingerprint(ctx context.Context, fingerprint string) (*entities.AudioFile, error)
	SetCurrentJob(ctx context.Context, fileID, jobID uuid.UUID) error
	MarkFileTranscribed(ctx context.Context, fileID uuid.UUID, durationSeconds *float64) error

	CreateJob(ctx context.Context, job *entities.TranscriptionJob) error
	FindJobByID(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error)
	FindMostRecentJobByFile(ctx context.Context, fileID uuid.UUID) (*entities.TranscriptionJob, error)
	ListJobsByStatus(ctx context.Context, status constant.JobStatus, limit int) ([]*entities.TranscriptionJob, error)
	ListDiarizedCompletedJobs(ctx context.Context, limit int) ([]*entities.TranscriptionJob, error)
	Transition(ctx context.Context, jobID uuid.UUID, from *constant.JobStatus, to constant.JobStatus, update JobUpdate) (*entities.TranscriptionJob, error)
	AppendError(ctx context.Context, jobID uuid.UUID, message string) error

	ListSpeakerLabels(ctx context.Context, fileID uuid.UUID) ([]*entities.SpeakerLabel, error)
	UpsertSpeakerLabel(ctx context.Context, label *entities.SpeakerLabel) error
	DeleteSpeakerLabel(ctx context.Context, fileID uuid.UUID, speakerTag string) error
}

type txKey struct{}

type repo struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenPostgres wraps an already opened lib/pq connection pool with gorm.
func OpenPostgres(db *sql.DB, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&entities.AudioFile{}, &entities.TranscriptionJob{}, &entities.SpeakerLabel{})
}

func NewRepo(db *gorm.DB) JobRepository {
	return &repo{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

// conn returns the transaction bound to ctx, if any.
func (r *repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *repo) CreateAudioFile(ctx context.Context, file *entities.AudioFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	r.stamp(&file.CreatedAt, &file.UpdatedAt)
	return r.conn(ctx).Create(file).Error
}

func (r *repo) stamp(createdAt, updatedAt *time.Time) {
	now := r.now()
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = *createdAt
	}
}

func (r *repo) FindAudioFileByID(ctx context.Context, id uuid.UUID) (*entities.AudioFile, error) {
	file := &entities.AudioFile{}
	if err := r.conn(ctx).First(file, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return file, nil
}

func (r *repo) FindAudioFileByFingerprint(ctx context.Context, fingerprint string) (*entities.AudioFile, error) {
	file := &entities.AudioFile{}
	err := r.conn(ctx).Where("fingerprint = ?", fingerprint).Order("created_at ASC").First(file).Error
	if err != nil {
		return nil, notFound(err)
	}
	return file, nil
}

func (r *repo) SetCurrentJob(ctx context.Context, fileID, jobID uuid.UUID) error {
	return r.updateFile(ctx, fileID, map[string]any{"current_job_id": jobID})
}

func (r *repo) MarkFileTranscribed(ctx context.Context, fileID uuid.UUID, durationSeconds *float64) error {
	updates := map[string]any{"is_draft": false}
	if durationSeconds != nil {
		updates["duration_seconds"] = *durationSeconds
	}
	return r.updateFile(ctx, fileID, updates)
}

func (r *repo) updateFile(ctx context.Context, fileID uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = r.now()
	result := r.conn(ctx).Model(&entities.AudioFile{}).Where("id = ?", fileID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) CreateJob(ctx context.Context, job *entities.TranscriptionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = constant.JobStatusPending
	}
	if job.DiarizationStatus == "" {
		job.DiarizationStatus = constant.DiarizationNotAttempted
	}
	r.stamp(&job.CreatedAt, &job.UpdatedAt)
	return r.conn(ctx).Create(job).Error
}

func (r *repo) FindJobByID(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error) {
	job := &entities.TranscriptionJob{}
	if err := r.conn(ctx).First(job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

// FindMostRecentJobByFile follows the file's current-job pointer and falls back to the
// newest job by creation time for files written before the pointer existed.
func (r *repo) FindMostRecentJobByFile(ctx context.Context, fileID uuid.UUID) (*entities.TranscriptionJob, error) {
	file, err := r.FindAudioFileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.CurrentJobID != nil {
		job, err := r.FindJobByID(ctx, *file.CurrentJobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	job := &entities.TranscriptionJob{}
	err = r.conn(ctx).Where("audio_file_id = ?", fileID).Order("created_at DESC").First(job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

func (r *repo) ListJobsByStatus(ctx context.Context, status constant.JobStatus, limit int) ([]*entities.TranscriptionJob, error) {
	var jobs []*entities.TranscriptionJob
	query := r.conn(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ListDiarizedCompletedJobs(ctx context.Context, limit int) ([]*entities.TranscriptionJob, error) {
	var jobs []*entities.TranscriptionJob
	query := r.conn(ctx).
		Where("status = ? AND diarization = ? AND diarization_status <> ?",
			constant.JobStatusCompleted, true, constant.DiarizationNotAttempted).
		Order("completed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Transition applies a status change and its fields in one conditional UPDATE. The WHERE
// clause on the current status is the compare-and-set that makes claims exclusive.
func (r *repo) Transition(ctx context.Context, jobID uuid.UUID, from *constant.JobStatus, to constant.JobStatus, update JobUpdate) (*entities.TranscriptionJob, error) {
	var sources []constant.JobStatus
	if from != nil {
		if !CanTransition(*from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *from, to)
		}
		sources = []constant.JobStatus{*from}
	} else {
		sources = sourcesOf(to)
	}
	if to == constant.JobStatusCompleted && (update.Transcript == nil || len(*update.Transcript) == 0) {
		return nil, ErrEmptyTranscript
	}

	columns := update.columns(r.now())
	columns["status"] = to

	query := r.conn(ctx).Model(&entities.TranscriptionJob{}).Where("id = ? AND status IN ?", jobID, sources)
	if update.DiarizationStatus != nil && !update.Reset {
		query = query.Where("diarization_status IN ?", diarizationSourcesOf(*update.DiarizationStatus))
	}
	if update.Fence != nil {
		query = query.Where("started_at = ?", *update.Fence)
	}
	result := query.Updates(columns)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		job, err := r.FindJobByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s is %s (diarization %s), cannot move to %s",
			ErrInvalidTransition, jobID, job.Status, job.DiarizationStatus, to)
	}

	return r.FindJobByID(ctx, jobID)
}

func (u JobUpdate) columns(now time.Time) map[string]any {
	columns := map[string]any{"updated_at": now}
	if u.Reset {
		columns["progress"] = 0
		columns["started_at"] = nil
		columns["completed_at"] = nil
		columns["diarization_status"] = constant.DiarizationNotAttempted
		columns["diarization_error"] = nil
		columns["speaker_count"] = nil
		columns["language"] = nil
		columns["transcript"] = nil
	}
	if u.Progress != nil {
		columns["progress"] = *u.Progress
	}
	if u.StartedAt != nil {
		columns["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		columns["completed_at"] = *u.CompletedAt
	}
	if u.DiarizationStatus != nil {
		columns["diarization_status"] = *u.DiarizationStatus
	}
	if u.DiarizationError != nil {
		columns["diarization_error"] = nullable(*u.DiarizationError)
	}
	if u.SpeakerCount != nil {
		columns["speaker_count"] = *u.SpeakerCount
	}
	if u.Language != nil {
		columns["language"] = nullable(*u.Language)
	}
	if u.Transcript != nil {
		columns["transcript"] = *u.Transcript
	}
	if u.LastError != nil {
		columns["last_error"] = nullable(*u.LastError)
	}
	return columns
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *repo) AppendError(ctx context.Context, jobID uuid.UUID, message string) error {
	result := r.conn(ctx).Model(&entities.TranscriptionJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"last_error": gorm.Expr("CASE WHEN last_error IS NULL OR last_error = '' THEN ? ELSE last_error || ? || ? END",
			message, "\n", message),
		"updated_at": r.now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) ListSpeakerLabels(ctx context.Context, fileID uuid.UUID) ([]*entities.SpeakerLabel, error) {
	var labels []*entities.SpeakerLabel
	err := r.conn(ctx).Where("audio_file_id = ?", fileID).Order("speaker_tag ASC").Find(&labels).Error
	if err != nil {
		return nil, err
	}
	return labels, nil
}

func (r *repo) UpsertSpeakerLabel(ctx context.Context, label *entities.SpeakerLabel) error {
	now := r.now()
	if label.ID == uuid.Nil {
		label.ID = uuid.New()
	}
	if label.CreatedAt.IsZero() {
		label.CreatedAt = now
	}
	label.UpdatedAt = now
	return r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "audio_file_id"}, {Name: "speaker_tag"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(label).Error
}

func (r *repo) DeleteSpeakerLabel(ctx context.Context, fileID uuid.UUID, speakerTag string) error {
	result := r.conn(ctx).Where("audio_file_id = ? AND speaker_tag = ?", fileID, speakerTag).Delete(&entities.SpeakerLabel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
