package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hlsgate/model"
)

func newProcessingVideo(id, title string, created time.Time) *model.Video {
	return &model.Video{
		ID:           id,
		Title:        title,
		OriginalFile: "uploads/" + id + ".mp4",
		HLSFolder:    "videos/" + id,
		Status:       model.StatusProcessing,
		CreatedAt:    created,
	}
}

func readyUpdate(path string) model.StatusUpdate {
	return model.StatusUpdate{Status: model.StatusReady, HLSPath: &path}
}

func TestMemoryVideoRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryVideoRepository()

	video := newProcessingVideo("Lecture1_1000", "Lecture1", time.UnixMilli(1000))
	if err := repo.Create(ctx, video); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newProcessingVideo("Lecture1_1000", "Other", time.UnixMilli(1000))); !errors.Is(err, ErrDuplicateVideo) {
		t.Fatalf("expected duplicate video error, got %v", err)
	}

	titles, _ := repo.ListReady(ctx)
	if len(titles) != 0 {
		t.Fatalf("processing video must not be listed, got %v", titles)
	}
	if _, err := repo.FindReadyByTitle(ctx, "Lecture1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found before ready, got %v", err)
	}

	if err := repo.SetStatus(ctx, video.ID, readyUpdate("videos/Lecture1_1000/master.m3u8")); err != nil {
		t.Fatalf("set ready: %v", err)
	}
	got, err := repo.FindReadyByTitle(ctx, "Lecture1")
	if err != nil {
		t.Fatalf("find ready: %v", err)
	}
	if got.HLSPath == nil || *got.HLSPath != "videos/Lecture1_1000/master.m3u8" {
		t.Fatalf("unexpected playlist path %v", got.HLSPath)
	}

	// Terminal states never change again.
	if err := repo.SetStatus(ctx, video.ID, model.StatusUpdate{Status: model.StatusFailed}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from ready, got %v", err)
	}
	if err := repo.SetStatus(ctx, "missing", model.StatusUpdate{Status: model.StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryVideoRepositoryRejectsInvalidWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryVideoRepository()

	path := "x/master.m3u8"
	bad := newProcessingVideo("x_1", "x", time.Now())
	bad.HLSPath = &path
	if err := repo.Create(ctx, bad); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected create with playlist path to fail, got %v", err)
	}

	ready := newProcessingVideo("y_1", "y", time.Now())
	ready.Status = model.StatusReady
	if err := repo.Create(ctx, ready); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected create as ready to fail, got %v", err)
	}

	if err := repo.Create(ctx, newProcessingVideo("z_1", "z", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.SetStatus(ctx, "z_1", model.StatusUpdate{Status: model.StatusReady}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ready without path to fail, got %v", err)
	}
	got, _ := repo.GetByID(ctx, "z_1")
	if got.Status != model.StatusProcessing {
		t.Fatalf("rejected write must not change status, got %s", got.Status)
	}
}

func TestMemoryVideoRepositoryDuplicateTitlesOldestWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryVideoRepository()

	newer := newProcessingVideo("Intro_2000", "Intro", time.UnixMilli(2000))
	older := newProcessingVideo("Intro_1000", "Intro", time.UnixMilli(1000))
	failed := newProcessingVideo("Intro_500", "Intro", time.UnixMilli(500))
	for _, v := range []*model.Video{newer, older, failed} {
		if err := repo.Create(ctx, v); err != nil {
			t.Fatalf("create %s: %v", v.ID, err)
		}
	}
	_ = repo.SetStatus(ctx, newer.ID, readyUpdate("videos/Intro_2000/master.m3u8"))
	_ = repo.SetStatus(ctx, older.ID, readyUpdate("videos/Intro_1000/master.m3u8"))
	_ = repo.SetStatus(ctx, failed.ID, model.StatusUpdate{Status: model.StatusFailed, Error: "exit status 1"})

	got, err := repo.FindReadyByTitle(ctx, "Intro")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != older.ID {
		t.Fatalf("expected oldest ready video, got %s", got.ID)
	}

	titles, _ := repo.ListReady(ctx)
	if len(titles) != 2 {
		t.Fatalf("expected two ready titles, got %v", titles)
	}
	failedVideos, _ := repo.ListByStatus(ctx, model.StatusFailed)
	if len(failedVideos) != 1 || failedVideos[0].ID != failed.ID {
		t.Fatalf("unexpected failed list %v", failedVideos)
	}
}

func TestMemoryVideoRepositorySingleTerminalWriteUnderRace(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryVideoRepository()
	if err := repo.Create(ctx, newProcessingVideo("race_1", "race", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- repo.SetStatus(ctx, "race_1", readyUpdate("videos/race_1/master.m3u8"))
	}()
	go func() {
		defer wg.Done()
		results <- repo.SetStatus(ctx, "race_1", model.StatusUpdate{Status: model.StatusFailed})
	}()
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one terminal write, got %d", succeeded)
	}
}

func TestMemoryUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	user := &model.User{Username: "alice", PasswordHash: "hash"}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.ID == 0 || user.Role != model.RoleStudent {
		t.Fatalf("expected id and default role, got %+v", user)
	}
	if err := repo.CreateUser(ctx, &model.User{Username: "alice", PasswordHash: "x"}); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := repo.UpdateCredentials(ctx, "alice", "new", model.RoleAdmin); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.GetUserByUsername(ctx, "alice")
	if err != nil || got.Role != model.RoleAdmin || got.PasswordHash != "new" {
		t.Fatalf("unexpected user %+v err %v", got, err)
	}
	if _, err := repo.GetUserByUsername(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.UpdateCredentials(ctx, "bob", "x", model.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}
