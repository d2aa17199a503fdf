package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hlsgate/core/transcode"
	"hlsgate/logger"
	"hlsgate/model"
	"hlsgate/repository"
)

var (
	ErrMissingFile  = errors.New("video file is required")
	ErrMissingTitle = errors.New("title is required")
)

// maxClaimAttempts bounds the search for a free output folder.
const maxClaimAttempts = 1000

var nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
var multipleSpaces = regexp.MustCompile(`\s+`)

// Submitter schedules the transcode of a persisted video.
type Submitter interface {
	Submit(video *model.Video) *transcode.Job
}

// Upload is one accepted multipart upload.
type Upload struct {
	Title    string
	Filename string // client-supplied original name
	Body     io.Reader
}

// Result is what the uploader is told immediately.
type Result struct {
	Video *model.Video
	Job   *transcode.Job
}

// Service assigns on-disk identities to uploads, records them as processing
// and hands them to the job runner.
type Service struct {
	videos    repository.VideoRepository
	jobs      Submitter
	uploadDir string
	mediaDir  string
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the clock used for upload timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an intake Service.
func NewService(videos repository.VideoRepository, jobs Submitter, uploadDir, mediaDir string, opts ...Option) *Service {
	s := &Service{
		videos:    videos,
		jobs:      jobs,
		uploadDir: uploadDir,
		mediaDir:  mediaDir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SanitizeName turns a client filename into a safe folder prefix: the
// extension is dropped, whitespace becomes "_" and anything outside
// [A-Za-z0-9_.-] is removed.
func SanitizeName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = multipleSpaces.ReplaceAllString(strings.TrimSpace(base), "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")
	base = strings.Trim(base, ".")

	maxLength := 150
	if len(base) > maxLength {
		base = base[:maxLength]
	}
	if base == "" {
		base = "video"
	}
	return base
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	ext = nonAlphaNumeric.ReplaceAllString(ext, "")
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	return ext
}

// Accept stores the upload, creates its processing record and submits the
// transcode. Nothing is persisted when an error is returned.
func (s *Service) Accept(ctx context.Context, up Upload) (*Result, error) {
	title := strings.TrimSpace(up.Title)
	if up.Body == nil || strings.TrimSpace(up.Filename) == "" {
		return nil, ErrMissingFile
	}
	if title == "" {
		return nil, ErrMissingTitle
	}

	name := SanitizeName(up.Filename)
	id, outputFolder, ts, err := s.claimOutputFolder(name)
	if err != nil {
		return nil, err
	}

	rawPath := filepath.Join(s.uploadDir, strconv.FormatInt(ts, 10)+"-"+name+sanitizeExt(up.Filename))
	if err := s.saveRaw(rawPath, up.Body); err != nil {
		os.RemoveAll(outputFolder)
		return nil, err
	}

	video := &model.Video{
		ID:           id,
		Title:        title,
		OriginalFile: rawPath,
		HLSFolder:    outputFolder,
		Status:       model.StatusProcessing,
		CreatedAt:    time.UnixMilli(ts),
	}
	if err := s.videos.Create(ctx, video); err != nil {
		os.RemoveAll(outputFolder)
		os.Remove(rawPath)
		return nil, fmt.Errorf("failed to record video %s: %w", id, err)
	}

	logger.Info("[Intake] upload accepted",
		logger.String("videoId", id),
		logger.String("title", title),
		logger.String("file", rawPath))

	job := s.jobs.Submit(video)
	return &Result{Video: video, Job: job}, nil
}

// claimOutputFolder creates {mediaDir}/{name}_{ts} exclusively, advancing ts
// by one millisecond per collision.
func (s *Service) claimOutputFolder(name string) (id, dir string, ts int64, err error) {
	if err := os.MkdirAll(s.mediaDir, 0755); err != nil {
		return "", "", 0, fmt.Errorf("failed to create media directory: %w", err)
	}
	ts = s.now().UnixMilli()
	for i := 0; i < maxClaimAttempts; i++ {
		id = name + "_" + strconv.FormatInt(ts, 10)
		dir = filepath.Join(s.mediaDir, id)
		err = os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, ts, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", 0, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
		ts++
	}
	return "", "", 0, fmt.Errorf("no free output directory for %s", name)
}

func (s *Service) saveRaw(path string, body io.Reader) error {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, body); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}
