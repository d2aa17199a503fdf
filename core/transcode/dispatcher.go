package transcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hlsgate/logger"
	"hlsgate/model"
	"hlsgate/repository"

	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is reported by jobs submitted after Shutdown.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// statusWriteTimeout bounds the terminal catalog write of a job.
const statusWriteTimeout = 30 * time.Second

// fallbackJobError is stored when the full failure text cannot be.
const fallbackJobError = "transcode failed; see server logs"

// Encoder produces the HLS tree for one input.
type Encoder interface {
	Run(ctx context.Context, input, outputFolder string, onProgress ProgressFunc) (string, error)
}

// Prober reads the duration of a source file.
type Prober interface {
	Duration(ctx context.Context, inputFile string) (float64, error)
}

// Publisher receives a finished output folder, e.g. an object store.
type Publisher interface {
	Publish(ctx context.Context, dir, prefix string) error
}

// EventSink receives job lifecycle events.
type EventSink interface {
	Publish(event model.JobEvent)
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Videos        repository.VideoRepository
	Encoder       Encoder
	Prober        Prober    // optional
	Store         Publisher // optional
	Events        EventSink // optional
	MaxConcurrent int
}

// Dispatcher runs transcode jobs in the background and writes each job's
// terminal status to the catalog.
type Dispatcher struct {
	videos  repository.VideoRepository
	encoder Encoder
	prober  Prober
	store   Publisher
	events  EventSink
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]*Job
	closed  bool
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. At most MaxConcurrent encoders run at
// once; further jobs wait in line.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		videos:  cfg.Videos,
		encoder: cfg.Encoder,
		prober:  cfg.Prober,
		store:   cfg.Store,
		events:  cfg.Events,
		sem:     semaphore.NewWeighted(int64(limit)),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*Job),
		now:     time.Now,
	}
}

// Job is the handle of one submitted transcode.
type Job struct {
	VideoID string

	done   chan struct{}
	status model.VideoStatus
	path   string
	err    error
}

// Done is closed once the terminal status has been written (or the write
// attempted).
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result is valid after Done is closed.
func (j *Job) Result() (model.VideoStatus, string, error) {
	return j.status, j.path, j.err
}

// Submit schedules the transcode of video, which must already be persisted
// as processing.
func (d *Dispatcher) Submit(video *model.Video) *Job {
	job := &Job{VideoID: video.ID, done: make(chan struct{})}

	d.mu.Lock()
	if d.closed {
		d.wg.Add(1)
		d.mu.Unlock()
		go func() {
			defer d.wg.Done()
			d.finish(video, job, "", 0, ErrShuttingDown)
		}()
		return job
	}
	d.running[video.ID] = job
	d.wg.Add(1)
	d.mu.Unlock()

	d.emit(video, model.JobQueued, 0, "")
	go func() {
		defer d.wg.Done()
		d.run(video, job)
	}()
	return job
}

func (d *Dispatcher) run(video *model.Video, job *Job) {
	defer func() {
		d.mu.Lock()
		delete(d.running, video.ID)
		d.mu.Unlock()
	}()

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		d.finish(video, job, "", 0, ErrShuttingDown)
		return
	}
	defer d.sem.Release(1)

	logger.Info("[Transcode] job started", logger.String("videoId", video.ID), logger.String("title", video.Title))
	d.emit(video, model.JobStarted, 0, "")

	master, err := d.encoder.Run(d.ctx, video.OriginalFile, video.HLSFolder, func(segments int) {
		d.emit(video, model.JobProgress, segments, "")
	})
	if err == nil && d.store != nil {
		if perr := d.store.Publish(d.ctx, video.HLSFolder, video.ID); perr != nil {
			err = fmt.Errorf("failed to publish output: %w", perr)
		}
	}

	var duration float64
	if err == nil && d.prober != nil {
		if dur, perr := d.prober.Duration(d.ctx, video.OriginalFile); perr != nil {
			logger.Warn("[Transcode] duration probe failed", logger.String("videoId", video.ID), logger.ErrorField(perr))
		} else {
			duration = dur
		}
	}
	d.finish(video, job, master, duration, err)
}

// finish performs the job's single terminal catalog write.
func (d *Dispatcher) finish(video *model.Video, job *Job, master string, duration float64, jobErr error) {
	defer close(job.done)

	update := model.StatusUpdate{Status: model.StatusReady, HLSPath: &master, Duration: duration}
	if jobErr != nil {
		update = model.StatusUpdate{Status: model.StatusFailed, Error: keepTail(jobErr.Error(), 1000)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	err := d.videos.SetStatus(ctx, video.ID, update)
	if err != nil && jobErr != nil {
		logger.Warn("[Transcode] failed to record job error, retrying with summary",
			logger.String("videoId", video.ID), logger.ErrorField(err))
		update.Error = fallbackJobError
		err = d.videos.SetStatus(ctx, video.ID, update)
	}
	if err != nil {
		logger.Error("[Transcode] failed to record job result",
			logger.String("videoId", video.ID),
			logger.String("status", string(update.Status)),
			logger.ErrorField(err))
		job.status, job.err = model.StatusProcessing, err
		if jobErr != nil {
			job.err = errors.Join(jobErr, err)
		}
		return
	}

	job.status, job.err = update.Status, jobErr
	if jobErr != nil {
		logger.Error("[Transcode] job failed", logger.String("videoId", video.ID), logger.ErrorField(jobErr))
		d.emit(video, model.JobFailed, 0, update.Error)
		return
	}
	job.path = master
	logger.Info("[Transcode] job ready", logger.String("videoId", video.ID), logger.String("master", master))
	d.emit(video, model.JobReady, 0, "")
}

func (d *Dispatcher) emit(video *model.Video, kind string, segments int, errMsg string) {
	if d.events == nil {
		return
	}
	d.events.Publish(model.JobEvent{
		VideoID:  video.ID,
		Title:    video.Title,
		Kind:     kind,
		Segments: segments,
		Error:    errMsg,
		At:       d.now(),
	})
}

// Running returns the IDs of jobs that have not finished yet.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	return ids
}

// RecoverStale fails videos left processing by a previous process. It must
// run before any job is submitted.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int, error) {
	stale, err := d.videos.ListByStatus(ctx, model.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list processing videos: %w", err)
	}
	recovered := 0
	for _, v := range stale {
		update := model.StatusUpdate{Status: model.StatusFailed, Error: "interrupted by server restart"}
		if err := d.videos.SetStatus(ctx, v.ID, update); err != nil {
			if errors.Is(err, repository.ErrInvalidTransition) {
				continue
			}
			return recovered, fmt.Errorf("failed to recover video %s: %w", v.ID, err)
		}
		logger.Warn("[Transcode] stale job marked failed", logger.String("videoId", v.ID))
		recovered++
	}
	return recovered, nil
}

// Shutdown stops accepting jobs, cancels running encoders and waits for every
// job to record its terminal status.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keepTail returns at most the last n bytes of s as valid UTF-8, starting on
// a character boundary.
func keepTail(s string, n int) string {
	if len(s) > n {
		s = s[len(s)-n:]
		for len(s) > 0 && !utf8.RuneStart(s[0]) {
			s = s[1:]
		}
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
