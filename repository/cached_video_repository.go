package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"hlsgate/logger"
	"hlsgate/model"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix   = "hlsgate:videos:"
	generationKey    = cacheKeyPrefix + "gen"
	readyListKey     = cacheKeyPrefix + "ready:"
	readyTitlePrefix = cacheKeyPrefix + "title:"
	defaultCacheTTL  = 5 * time.Minute
	cacheOpTimeout   = 500 * time.Millisecond
)

// CachedVideoRepository serves the read-heavy catalog queries from Redis and
// falls back to the wrapped repository on any cache error. Only ready data is
// cached, and a video never leaves ready, so entries can only go stale by
// missing a newly ready video. Every key embeds a generation number that
// SetStatus bumps on each ready write; readers fetch the generation before
// querying the database, so a fill computed from pre-ready data lands under
// a generation nobody reads any more. Old generations expire with the TTL.
type CachedVideoRepository struct {
	inner VideoRepository
	rdb   redis.Cmdable
	ttl   time.Duration
}

// NewCachedVideoRepository wraps inner with a Redis read-through cache.
func NewCachedVideoRepository(inner VideoRepository, rdb redis.Cmdable, ttl time.Duration) *CachedVideoRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedVideoRepository{inner: inner, rdb: rdb, ttl: ttl}
}

func listKey(gen string) string {
	return readyListKey + gen
}

func titleKey(gen, title string) string {
	return readyTitlePrefix + gen + ":" + title
}

// generation returns the current cache generation. ok is false when Redis
// cannot be read, in which case the cache is bypassed.
func (c *CachedVideoRepository) generation(ctx context.Context) (gen string, ok bool) {
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	gen, err := c.rdb.Get(cctx, generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		logger.Warn("[Cache] read failed", logger.String("key", generationKey), logger.ErrorField(err))
		return "", false
	}
	return gen, true
}

func (c *CachedVideoRepository) Create(ctx context.Context, video *model.Video) error {
	return c.inner.Create(ctx, video)
}

func (c *CachedVideoRepository) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	if err := c.inner.SetStatus(ctx, id, update); err != nil {
		return err
	}
	if update.Status != model.StatusReady {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := c.rdb.Incr(cctx, generationKey).Err(); err != nil {
		logger.Warn("[Cache] invalidation failed", logger.String("videoId", id), logger.ErrorField(err))
	}
	return nil
}

func (c *CachedVideoRepository) GetByID(ctx context.Context, id string) (*model.Video, error) {
	return c.inner.GetByID(ctx, id)
}

func (c *CachedVideoRepository) ListByStatus(ctx context.Context, status model.VideoStatus) ([]*model.Video, error) {
	return c.inner.ListByStatus(ctx, status)
}

func (c *CachedVideoRepository) ListReady(ctx context.Context) ([]model.VideoTitle, error) {
	gen, ok := c.generation(ctx)
	if !ok {
		return c.inner.ListReady(ctx)
	}
	var titles []model.VideoTitle
	if c.load(ctx, listKey(gen), &titles) {
		return titles, nil
	}
	titles, err := c.inner.ListReady(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listKey(gen), titles)
	return titles, nil
}

func (c *CachedVideoRepository) FindReadyByTitle(ctx context.Context, title string) (*model.Video, error) {
	gen, ok := c.generation(ctx)
	if !ok {
		return c.inner.FindReadyByTitle(ctx, title)
	}
	var video model.Video
	if c.load(ctx, titleKey(gen, title), &video) {
		return &video, nil
	}
	found, err := c.inner.FindReadyByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	c.store(ctx, titleKey(gen, title), cachedVideo(found))
	return found, nil
}

// cachedVideoPayload keeps the fields json:"-" would otherwise drop.
type cachedVideoPayload struct {
	model.Video
	OriginalFile string `json:"originalFile"`
	HLSFolder    string `json:"hlsFolder"`
}

func cachedVideo(v *model.Video) cachedVideoPayload {
	return cachedVideoPayload{Video: *v, OriginalFile: v.OriginalFile, HLSFolder: v.HLSFolder}
}

func (c *CachedVideoRepository) load(ctx context.Context, key string, dest interface{}) bool {
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	raw, err := c.rdb.Get(cctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("[Cache] read failed", logger.String("key", key), logger.ErrorField(err))
		}
		return false
	}
	if video, ok := dest.(*model.Video); ok {
		var payload cachedVideoPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return false
		}
		*video = payload.Video
		video.OriginalFile = payload.OriginalFile
		video.HLSFolder = payload.HLSFolder
		return true
	}
	return json.Unmarshal(raw, dest) == nil
}

func (c *CachedVideoRepository) store(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		logger.Warn("[Cache] encode failed", logger.String("key", key), logger.ErrorField(err))
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rdb.Set(cctx, key, raw, c.ttl).Err(); err != nil {
		logger.Warn("[Cache] write failed", logger.String("key", key), logger.ErrorField(err))
	}
}

// Purge removes every catalog key from Redis and reports how many were
// deleted.
func (c *CachedVideoRepository) Purge(ctx context.Context) (int, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	return int(n), err
}
