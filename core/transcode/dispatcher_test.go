package transcode

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"hlsgate/model"
	"hlsgate/repository"
)

type encoderFunc func(ctx context.Context, input, outputFolder string, onProgress ProgressFunc) (string, error)

func (f encoderFunc) Run(ctx context.Context, input, outputFolder string, onProgress ProgressFunc) (string, error) {
	return f(ctx, input, outputFolder, onProgress)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (s *recordingSink) Publish(e model.JobEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakePublisher struct {
	err      error
	prefixes []string
}

func (p *fakePublisher) Publish(_ context.Context, _ string, prefix string) error {
	p.prefixes = append(p.prefixes, prefix)
	return p.err
}

type fixedProber float64

func (p fixedProber) Duration(context.Context, string) (float64, error) { return float64(p), nil }

func newProcessingVideo(t *testing.T, repo repository.VideoRepository, id string) *model.Video {
	t.Helper()
	v := &model.Video{
		ID:           id,
		Title:        id,
		OriginalFile: filepath.Join("uploads", id+".mp4"),
		HLSFolder:    filepath.Join("videos", id),
		Status:       model.StatusProcessing,
	}
	if err := repo.Create(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	return v
}

func waitJob(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", job.VideoID)
	}
}

func TestDispatcherSuccessMarksReady(t *testing.T) {
	repo := repository.NewMemoryVideoRepository()
	sink := &recordingSink{}
	pub := &fakePublisher{}
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(_ context.Context, _, out string, onProgress ProgressFunc) (string, error) {
			onProgress(1)
			return filepath.Join(out, MasterPlaylistName), nil
		}),
		Prober:        fixedProber(61.5),
		Store:         pub,
		Events:        sink,
		MaxConcurrent: 2,
	})
	video := newProcessingVideo(t, repo, "Lecture1_1000")

	job := d.Submit(video)
	waitJob(t, job)

	status, path, err := job.Result()
	if err != nil || status != model.StatusReady || path != filepath.Join("videos", "Lecture1_1000", MasterPlaylistName) {
		t.Fatalf("unexpected result %s %s %v", status, path, err)
	}
	stored, _ := repo.GetByID(context.Background(), video.ID)
	if stored.Status != model.StatusReady || stored.HLSPath == nil || *stored.HLSPath != path || stored.Duration != 61.5 {
		t.Fatalf("unexpected stored video %+v", stored)
	}
	if len(pub.prefixes) != 1 || pub.prefixes[0] != video.ID {
		t.Fatalf("expected output published under the video id, got %v", pub.prefixes)
	}
	want := []string{model.JobQueued, model.JobStarted, model.JobProgress, model.JobReady}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected events %v", got)
		}
	}
}

func TestDispatcherEncoderFailureMarksFailed(t *testing.T) {
	repo := repository.NewMemoryVideoRepository()
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(context.Context, string, string, ProgressFunc) (string, error) {
			return "", &EncodeError{Err: errors.New("exit status 1"), Stderr: "moov atom not found"}
		}),
	})
	video := newProcessingVideo(t, repo, "broken_1")

	job := d.Submit(video)
	waitJob(t, job)

	status, path, err := job.Result()
	if status != model.StatusFailed || path != "" || err == nil {
		t.Fatalf("unexpected result %s %q %v", status, path, err)
	}
	stored, _ := repo.GetByID(context.Background(), video.ID)
	if stored.Status != model.StatusFailed || stored.HLSPath != nil || stored.Error == "" {
		t.Fatalf("unexpected stored video %+v", stored)
	}
	titles, _ := repo.ListReady(context.Background())
	if len(titles) != 0 {
		t.Fatalf("failed video must not be listed, got %v", titles)
	}
}

func TestDispatcherPublishFailureMarksFailed(t *testing.T) {
	repo := repository.NewMemoryVideoRepository()
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(_ context.Context, _, out string, _ ProgressFunc) (string, error) {
			return filepath.Join(out, MasterPlaylistName), nil
		}),
		Store: &fakePublisher{err: errors.New("bucket unavailable")},
	})
	job := d.Submit(newProcessingVideo(t, repo, "remote_1"))
	waitJob(t, job)

	if status, _, _ := job.Result(); status != model.StatusFailed {
		t.Fatalf("expected failed after publish error, got %s", status)
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	repo := repository.NewMemoryVideoRepository()
	var active, peak int32
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(_ context.Context, _, out string, _ ProgressFunc) (string, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&active, -1)
			return filepath.Join(out, MasterPlaylistName), nil
		}),
		MaxConcurrent: 2,
	})

	var jobs []*Job
	for _, id := range []string{"a_1", "b_1", "c_1", "d_1", "e_1"} {
		jobs = append(jobs, d.Submit(newProcessingVideo(t, repo, id)))
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	for _, job := range jobs {
		waitJob(t, job)
		if status, _, err := job.Result(); status != model.StatusReady || err != nil {
			t.Fatalf("job %s: %s %v", job.VideoID, status, err)
		}
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("expected at most 2 concurrent encoders, saw %d", p)
	}
}

func TestDispatcherShutdownFailsRunningJobs(t *testing.T) {
	repo := repository.NewMemoryVideoRepository()
	started := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(ctx context.Context, _, _ string, _ ProgressFunc) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}),
	})
	job := d.Submit(newProcessingVideo(t, repo, "long_1"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	waitJob(t, job)
	if status, _, _ := job.Result(); status != model.StatusFailed {
		t.Fatalf("expected interrupted job to be failed, got %s", status)
	}

	late := d.Submit(newProcessingVideo(t, repo, "late_1"))
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	select {
	case <-late.Done():
	default:
		t.Fatal("shutdown returned before the late job recorded its status")
	}
	if v, _ := repo.GetByID(context.Background(), "late_1"); v.Status != model.StatusFailed {
		t.Fatalf("expected late job failed, got %s", v.Status)
	}
	if _, _, err := late.Result(); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown for late submit, got %v", err)
	}
}

func TestRecoverStale(t *testing.T) {
	repo := repository.NewMemoryVideoRepository()
	newProcessingVideo(t, repo, "stale_1")
	done := newProcessingVideo(t, repo, "done_1")
	path := "videos/done_1/master.m3u8"
	if err := repo.SetStatus(context.Background(), done.ID, model.StatusUpdate{Status: model.StatusReady, HLSPath: &path}); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(DispatcherConfig{Videos: repo})
	n, err := d.RecoverStale(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one recovered video, got %d %v", n, err)
	}
	stale, _ := repo.GetByID(context.Background(), "stale_1")
	if stale.Status != model.StatusFailed {
		t.Fatalf("expected stale video failed, got %s", stale.Status)
	}
	ready, _ := repo.GetByID(context.Background(), "done_1")
	if ready.Status != model.StatusReady {
		t.Fatalf("ready video must be untouched, got %s", ready.Status)
	}
}

// utf8Videos rejects error text that is not valid UTF-8, like a strict
// utf8mb4 column does.
type utf8Videos struct {
	repository.VideoRepository
}

func (r utf8Videos) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	if !utf8.ValidString(update.Error) {
		return errors.New("Error 1366: Incorrect string value for column 'error'")
	}
	return r.VideoRepository.SetStatus(ctx, id, update)
}

// flakyVideos fails the first n status writes.
type flakyVideos struct {
	repository.VideoRepository
	mu    sync.Mutex
	fails int
	calls []model.StatusUpdate
}

func (r *flakyVideos) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	r.mu.Lock()
	r.calls = append(r.calls, update)
	fail := r.fails > 0
	if fail {
		r.fails--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("driver: bad connection")
	}
	return r.VideoRepository.SetStatus(ctx, id, update)
}

func TestKeepTailCutsOnCharacterBoundary(t *testing.T) {
	long := "title : " + strings.Repeat("講", 400) + "\nInvalid data"
	got := keepTail(long, 1000)
	if !utf8.ValidString(got) || len(got) > 1000 || !strings.HasSuffix(got, "Invalid data") {
		t.Fatalf("unexpected tail (valid=%v len=%d) %q", utf8.ValidString(got), len(got), got[:12])
	}
	if got := keepTail("bad \xff byte", 100); !utf8.ValidString(got) {
		t.Fatalf("invalid bytes must be replaced, got %q", got)
	}
	if got := keepTail("short", 100); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestDispatcherNonASCIIStderrMarksFailed(t *testing.T) {
	repo := utf8Videos{repository.NewMemoryVideoRepository()}
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(context.Context, string, string, ProgressFunc) (string, error) {
			return "", &EncodeError{
				Err:    errors.New("exit status 1"),
				Stderr: "title : " + strings.Repeat("講", 400) + "\nInvalid data found when processing input",
			}
		}),
	})
	job := d.Submit(newProcessingVideo(t, repo, "cjk_1"))
	waitJob(t, job)

	v, _ := repo.GetByID(context.Background(), "cjk_1")
	if v.Status != model.StatusFailed || !utf8.ValidString(v.Error) || !strings.Contains(v.Error, "Invalid data") {
		t.Fatalf("expected failed video with readable error, got %s %q", v.Status, v.Error)
	}
}

func TestDispatcherRetriesFailedStatusWrite(t *testing.T) {
	repo := &flakyVideos{VideoRepository: repository.NewMemoryVideoRepository(), fails: 1}
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(context.Context, string, string, ProgressFunc) (string, error) {
			return "", errors.New("boom")
		}),
	})
	job := d.Submit(newProcessingVideo(t, repo, "retry_1"))
	waitJob(t, job)

	if status, _, _ := job.Result(); status != model.StatusFailed {
		t.Fatalf("expected failed after retry, got %s", status)
	}
	v, _ := repo.GetByID(context.Background(), "retry_1")
	if v.Status != model.StatusFailed || v.Error != fallbackJobError {
		t.Fatalf("expected fallback error text, got %s %q", v.Status, v.Error)
	}
	if len(repo.calls) != 2 {
		t.Fatalf("expected one retry, got %d writes", len(repo.calls))
	}
}

func TestDispatcherStatusWriteErrorLeavesJobUnrecorded(t *testing.T) {
	repo := &flakyVideos{VideoRepository: repository.NewMemoryVideoRepository(), fails: 2}
	d := NewDispatcher(DispatcherConfig{
		Videos: repo,
		Encoder: encoderFunc(func(context.Context, string, string, ProgressFunc) (string, error) {
			return "", errors.New("boom")
		}),
	})
	job := d.Submit(newProcessingVideo(t, repo, "down_1"))
	waitJob(t, job)

	status, _, err := job.Result()
	if status != model.StatusProcessing || err == nil || !strings.Contains(err.Error(), "bad connection") {
		t.Fatalf("expected unrecorded job with write error, got %s %v", status, err)
	}
}
