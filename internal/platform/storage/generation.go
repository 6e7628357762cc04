package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"koemuse-server/internal/platform/errors"
)

// MusicGeneration is the persisted metadata for one completed
// text-to-music pipeline run. Records are append-only: nothing in the
// server updates or deletes them.
type MusicGeneration struct {
	ID                string    `gorm:"type:varchar(36);primaryKey"   json:"id"`
	OriginalText      string    `gorm:"type:text;not null"            json:"originalText"`
	DetectedEmotion   string    `gorm:"type:varchar(50)"              json:"detectedEmotion"`
	GeneratedMusicURL string    `gorm:"type:varchar(500);not null"    json:"generatedMusicUrl"`
	DurationSeconds   float64   `                                     json:"durationSeconds"`
	CreatedAt         time.Time `                                     json:"createdAt"`
}

func (MusicGeneration) TableName() string {
	return "music_generations"
}

// GenerationRepository persists completed generation runs.
type GenerationRepository interface {
	Create(ctx context.Context, record *MusicGeneration) error
	GetByID(ctx context.Context, id string) (*MusicGeneration, error)
	List(ctx context.Context, limit int) ([]MusicGeneration, error)
}

type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository creates a gorm-backed generation repository.
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

// Create stores one record, assigning a fresh identifier when missing.
func (r *generationRepository) Create(ctx context.Context, record *MusicGeneration) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "generation.create", "failed to save generation record", err)
	}
	return nil
}

func (r *generationRepository) GetByID(ctx context.Context, id string) (*MusicGeneration, error) {
	var model MusicGeneration
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "generation.get_by_id", "failed to find generation record", err)
	}
	return &model, nil
}

// List returns the most recent records, newest first.
func (r *generationRepository) List(ctx context.Context, limit int) ([]MusicGeneration, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []MusicGeneration
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "generation.list", "failed to list generation records", err)
	}
	return models, nil
}
