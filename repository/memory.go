package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hlsgate/model"
)

// MemoryVideoRepository keeps the catalog in process memory. It backs
// DB_DRIVER=memory and the tests.
type MemoryVideoRepository struct {
	mu     sync.RWMutex
	videos map[string]*model.Video
	order  map[string]int64
	seq    int64
}

func NewMemoryVideoRepository() *MemoryVideoRepository {
	return &MemoryVideoRepository{
		videos: make(map[string]*model.Video),
		order:  make(map[string]int64),
	}
}

func cloneVideo(v *model.Video) *model.Video {
	out := *v
	if v.HLSPath != nil {
		p := *v.HLSPath
		out.HLSPath = &p
	}
	return &out
}

func (r *MemoryVideoRepository) Create(_ context.Context, video *model.Video) error {
	if err := validateNewVideo(video); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.videos[video.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVideo, video.ID)
	}
	now := time.Now()
	if video.CreatedAt.IsZero() {
		video.CreatedAt = now
	}
	video.UpdatedAt = now
	r.seq++
	r.order[video.ID] = r.seq
	r.videos[video.ID] = cloneVideo(video)
	return nil
}

func (r *MemoryVideoRepository) SetStatus(_ context.Context, id string, update model.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.videos[id]
	if !ok {
		return ErrNotFound
	}
	if video.Status != model.StatusProcessing {
		return fmt.Errorf("%w: video %s is no longer processing", ErrInvalidTransition, id)
	}
	video.Apply(update, time.Now())
	return nil
}

func (r *MemoryVideoRepository) GetByID(_ context.Context, id string) (*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	video, ok := r.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVideo(video), nil
}

// sortedLocked returns videos with the given status, oldest first.
func (r *MemoryVideoRepository) sortedLocked(status model.VideoStatus) []*model.Video {
	out := make([]*model.Video, 0)
	for _, v := range r.videos {
		if v.Status == status {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return r.order[out[i].ID] < r.order[out[j].ID]
	})
	return out
}

func (r *MemoryVideoRepository) ListReady(_ context.Context) ([]model.VideoTitle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ready := r.sortedLocked(model.StatusReady)
	titles := make([]model.VideoTitle, 0, len(ready))
	for _, v := range ready {
		titles = append(titles, model.VideoTitle{Title: v.Title})
	}
	return titles, nil
}

func (r *MemoryVideoRepository) FindReadyByTitle(_ context.Context, title string) (*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.sortedLocked(model.StatusReady) {
		if v.Title == title {
			return cloneVideo(v), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryVideoRepository) ListByStatus(_ context.Context, status model.VideoStatus) ([]*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := r.sortedLocked(status)
	out := make([]*model.Video, 0, len(matched))
	for _, v := range matched {
		out = append(out, cloneVideo(v))
	}
	return out, nil
}

// MemoryUserRepository keeps accounts in process memory.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	users  map[string]*model.User
	nextID int64
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*model.User)}
}

func (r *MemoryUserRepository) CreateUser(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.Username]; exists {
		return ErrDuplicateUser
	}
	if user.Role == "" {
		user.Role = model.RoleStudent
	}
	r.nextID++
	now := time.Now()
	user.ID = r.nextID
	user.CreatedAt, user.UpdatedAt = now, now
	stored := *user
	r.users[user.Username] = &stored
	return nil
}

func (r *MemoryUserRepository) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	return &out, nil
}

func (r *MemoryUserRepository) UpdateCredentials(_ context.Context, username, passwordHash, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.Role = role
	user.UpdatedAt = time.Now()
	return nil
}
