package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hlsgate/core/transcode"
	"hlsgate/model"
	"hlsgate/repository"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	videos []*model.Video
}

func (s *recordingSubmitter) Submit(v *model.Video) *transcode.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos = append(s.videos, v)
	return &transcode.Job{VideoID: v.ID}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func newTestService(t *testing.T, at int64) (*Service, *repository.MemoryVideoRepository, *recordingSubmitter, string) {
	t.Helper()
	root := t.TempDir()
	repo := repository.NewMemoryVideoRepository()
	sub := &recordingSubmitter{}
	svc := NewService(repo, sub, filepath.Join(root, "uploads"), filepath.Join(root, "videos"),
		WithClock(func() time.Time { return time.UnixMilli(at) }))
	return svc, repo, sub, root
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"Lecture1.mp4":              "Lecture1",
		"My  Holiday Video.MOV":     "My_Holiday_Video",
		"../../etc/passwd":          "passwd",
		`C:\Users\me\clip.mkv`:      "clip",
		"讲座.mp4":                    "video",
		".hidden":                   "video",
		"a/b/weird$name(1).mp4":     "weirdname1",
		strings.Repeat("x", 300):    strings.Repeat("x", 150),
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAcceptCreatesProcessingRecord(t *testing.T) {
	svc, repo, sub, root := newTestService(t, 1000)

	res, err := svc.Accept(context.Background(), Upload{Title: "Lecture1", Filename: "Lecture1.mp4", Body: strings.NewReader("data")})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Video.ID != "Lecture1_1000" || res.Job == nil || res.Job.VideoID != "Lecture1_1000" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Video.HLSFolder != filepath.Join(root, "videos", "Lecture1_1000") {
		t.Fatalf("unexpected output folder %s", res.Video.HLSFolder)
	}
	if info, err := os.Stat(res.Video.HLSFolder); err != nil || !info.IsDir() {
		t.Fatalf("output folder not claimed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "uploads", "1000-Lecture1.mp4"))
	if err != nil || string(raw) != "data" {
		t.Fatalf("raw upload not saved: %q %v", raw, err)
	}

	stored, err := repo.GetByID(context.Background(), "Lecture1_1000")
	if err != nil || stored.Status != model.StatusProcessing || stored.HLSPath != nil {
		t.Fatalf("unexpected stored video %+v %v", stored, err)
	}
	if len(sub.videos) != 1 {
		t.Fatalf("expected one submitted job, got %d", len(sub.videos))
	}
}

func TestAcceptCollidingUploadsGetDistinctFolders(t *testing.T) {
	svc, _, sub, _ := newTestService(t, 1000)

	var wg sync.WaitGroup
	ids := make(chan string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Accept(context.Background(), Upload{Title: "Same", Filename: "Lecture1.mp4", Body: strings.NewReader("x")})
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			ids <- res.Video.HLSFolder
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for dir := range ids {
		if seen[dir] {
			t.Fatalf("output folder %s used twice", dir)
		}
		seen[dir] = true
	}
	if len(seen) != 5 || len(sub.videos) != 5 {
		t.Fatalf("expected 5 distinct jobs, got %d folders and %d jobs", len(seen), len(sub.videos))
	}
}

func TestAcceptValidation(t *testing.T) {
	svc, repo, sub, _ := newTestService(t, 1000)
	ctx := context.Background()

	if _, err := svc.Accept(ctx, Upload{Title: "t"}); !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile, got %v", err)
	}
	if _, err := svc.Accept(ctx, Upload{Title: "  ", Filename: "a.mp4", Body: strings.NewReader("x")}); !errors.Is(err, ErrMissingTitle) {
		t.Fatalf("expected ErrMissingTitle, got %v", err)
	}
	if list, _ := repo.ListByStatus(ctx, model.StatusProcessing); len(list) != 0 || len(sub.videos) != 0 {
		t.Fatal("validation failures must not persist anything")
	}
}

func TestAcceptSaveFailureCleansUp(t *testing.T) {
	svc, repo, sub, root := newTestService(t, 2000)

	_, err := svc.Accept(context.Background(), Upload{Title: "t", Filename: "clip.mp4", Body: failingReader{}})
	if err == nil {
		t.Fatal("expected save failure")
	}
	if _, err := os.Stat(filepath.Join(root, "videos", "clip_2000")); !os.IsNotExist(err) {
		t.Fatalf("claimed folder must be removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "uploads", "2000-clip.mp4")); !os.IsNotExist(err) {
		t.Fatalf("partial upload must be removed, stat err=%v", err)
	}
	if _, err := repo.GetByID(context.Background(), "clip_2000"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("no record expected, got %v", err)
	}
	if len(sub.videos) != 0 {
		t.Fatal("no job expected")
	}
}
