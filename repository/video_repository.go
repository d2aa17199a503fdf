package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hlsgate/model"

	"gorm.io/gorm"
)

// VideoRepository is the video catalog: the single source of truth for
// whether a video is playable.
type VideoRepository interface {
	Create(ctx context.Context, video *model.Video) error
	// SetStatus performs the one terminal transition allowed from processing.
	SetStatus(ctx context.Context, id string, update model.StatusUpdate) error
	GetByID(ctx context.Context, id string) (*model.Video, error)
	ListReady(ctx context.Context) ([]model.VideoTitle, error)
	// FindReadyByTitle returns the oldest ready video with the given title.
	FindReadyByTitle(ctx context.Context, title string) (*model.Video, error)
	ListByStatus(ctx context.Context, status model.VideoStatus) ([]*model.Video, error)
}

func validateNewVideo(video *model.Video) error {
	if video == nil {
		return fmt.Errorf("video is required")
	}
	if video.ID == "" || video.Title == "" {
		return fmt.Errorf("video id and title are required")
	}
	if video.Status != model.StatusProcessing || video.HLSPath != nil {
		return fmt.Errorf("%w: new videos start as processing without a playlist", ErrInvalidTransition)
	}
	return nil
}

type gormVideoRepository struct {
	db *gorm.DB
}

// NewGormVideoRepository creates a VideoRepository backed by GORM.
func NewGormVideoRepository(db *gorm.DB) VideoRepository {
	return &gormVideoRepository{db: db}
}

func (r *gormVideoRepository) Create(ctx context.Context, video *model.Video) error {
	if err := validateNewVideo(video); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateVideo, video.ID)
		}
		return fmt.Errorf("failed to create video %s: %w", video.ID, err)
	}
	return nil
}

func (r *gormVideoRepository) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	// The status guard in WHERE makes the transition a compare-and-set.
	res := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":     update.Status,
			"hls_path":   update.HLSPath,
			"duration":   update.Duration,
			"error":      update.Error,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update status for video %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: video %s is no longer processing", ErrInvalidTransition, id)
	}
	return nil
}

func (r *gormVideoRepository) GetByID(ctx context.Context, id string) (*model.Video, error) {
	var video model.Video
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get video %s: %w", id, err)
	}
	return &video, nil
}

func (r *gormVideoRepository) ListReady(ctx context.Context) ([]model.VideoTitle, error) {
	titles := make([]model.VideoTitle, 0)
	err := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Select("title").
		Where("status = ?", model.StatusReady).
		Order("created_at, id").
		Find(&titles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ready videos: %w", err)
	}
	return titles, nil
}

func (r *gormVideoRepository) FindReadyByTitle(ctx context.Context, title string) (*model.Video, error) {
	var video model.Video
	err := r.db.WithContext(ctx).
		Where("title = ? AND status = ?", title, model.StatusReady).
		Order("created_at, id").
		First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find ready video %q: %w", title, err)
	}
	return &video, nil
}

func (r *gormVideoRepository) ListByStatus(ctx context.Context, status model.VideoStatus) ([]*model.Video, error) {
	videos := make([]*model.Video, 0)
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at, id").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s videos: %w", status, err)
	}
	return videos, nil
}
