package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hlsgate/config"
	"hlsgate/logger"
)

// ErrEncodeTimeout is returned when the encoder outlives its deadline.
var ErrEncodeTimeout = errors.New("encode timed out")

// stderrTailSize is how much encoder output is kept for error reports.
const stderrTailSize = 4 << 10

// EncodeError is a non-zero encoder exit together with the end of its stderr.
type EncodeError struct {
	Err    error
	Stderr string
}

func (e *EncodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg failed: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg failed: %v: %s", e.Err, e.Stderr)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Options configures a Runner.
type Options struct {
	FFmpegPath     string
	KeyInfoPath    string // empty disables segment encryption
	WatermarkPath  string // empty disables the overlay
	SegmentSeconds int
	Timeout        time.Duration
	Ladder         []Rendition
}

// OptionsFromConfig maps configuration onto runner options.
func OptionsFromConfig(cfg *config.Config, keyInfoPath string) (Options, error) {
	ladder, err := ParseLadder(cfg.Renditions)
	if err != nil {
		return Options{}, err
	}
	return Options{
		FFmpegPath:     cfg.FFmpegPath,
		KeyInfoPath:    keyInfoPath,
		WatermarkPath:  cfg.WatermarkPath,
		SegmentSeconds: cfg.HLSSegmentTime,
		Timeout:        cfg.EncodeTimeout,
		Ladder:         ladder,
	}, nil
}

// Runner turns one source file into a multi-rendition HLS tree with a single
// encoder invocation.
type Runner struct {
	opts Options
}

// NewRunner creates a Runner, filling unset options with defaults.
func NewRunner(opts Options) *Runner {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Hour
	}
	if len(opts.Ladder) == 0 {
		opts.Ladder = DefaultLadder
	}
	opts.Ladder = SortLadder(opts.Ladder)
	return &Runner{opts: opts}
}

// Ladder returns the renditions this runner produces.
func (r *Runner) Ladder() []Rendition {
	return append([]Rendition(nil), r.opts.Ladder...)
}

// BuildArgs assembles the encoder argument list for input into outputFolder.
func (r *Runner) BuildArgs(input, outputFolder string) []string {
	ladder := r.opts.Ladder
	args := []string{"-hide_banner", "-y", "-i", input}

	var graph strings.Builder
	if r.opts.WatermarkPath != "" {
		args = append(args, "-i", r.opts.WatermarkPath)
		graph.WriteString("[1:v]format=rgba[wm];[0:v][wm]overlay=W-w-16:H-h-16,")
	} else {
		graph.WriteString("[0:v]")
	}
	fmt.Fprintf(&graph, "split=%d", len(ladder))
	for i := range ladder {
		fmt.Fprintf(&graph, "[s%d]", i)
	}
	for i, rend := range ladder {
		fmt.Fprintf(&graph, ";[s%d]scale=%d:%d[v%d]", i, rend.Width, rend.Height, i)
	}
	args = append(args, "-filter_complex", graph.String())

	segmentTime := strconv.Itoa(r.opts.SegmentSeconds)
	for i, rend := range ladder {
		args = append(args,
			"-map", fmt.Sprintf("[v%d]", i),
			"-map", "0:a?",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-profile:v", "main",
			"-b:v", fmt.Sprintf("%dk", rend.VideoBitrate),
			"-maxrate", fmt.Sprintf("%dk", rend.VideoBitrate*107/100),
			"-bufsize", fmt.Sprintf("%dk", rend.VideoBitrate*3/2),
			"-g", "48",
			"-sc_threshold", "0",
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%dk", rend.AudioBitrate),
			"-ac", "2",
			"-f", "hls",
			"-hls_time", segmentTime,
			"-hls_playlist_type", "vod",
			"-hls_list_size", "0",
			"-start_number", "0",
		)
		if r.opts.KeyInfoPath != "" {
			args = append(args, "-hls_key_info_file", r.opts.KeyInfoPath)
		}
		args = append(args,
			"-hls_segment_filename", filepath.Join(outputFolder, SegmentPattern(rend)),
			filepath.Join(outputFolder, PlaylistName(rend)),
		)
	}
	return args
}

// Run encodes input into outputFolder and returns the master playlist path.
// Any non-zero exit fails the whole job; no master playlist is written then.
func (r *Runner) Run(ctx context.Context, input, outputFolder string, onProgress ProgressFunc) (string, error) {
	if err := os.MkdirAll(outputFolder, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputFolder, err)
	}

	if onProgress != nil {
		w, err := watchSegments(outputFolder, onProgress)
		if err != nil {
			logger.Warn("[Transcode] progress watch unavailable", logger.String("dir", outputFolder), logger.ErrorField(err))
		} else {
			defer w.Stop()
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	args := r.BuildArgs(input, outputFolder)
	cmd := exec.CommandContext(runCtx, r.opts.FFmpegPath, args...)
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	logger.Debug("[Transcode] executing encoder",
		logger.String("ffmpeg", r.opts.FFmpegPath),
		logger.String("args", strings.Join(args, " ")))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrEncodeTimeout, r.opts.Timeout)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("encode cancelled: %w", ctx.Err())
		}
		return "", &EncodeError{Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}

	master, err := WriteMasterPlaylist(outputFolder, r.opts.Ladder)
	if err != nil {
		return "", err
	}
	logger.Info("[Transcode] encode finished",
		logger.String("input", input),
		logger.String("master", master),
		logger.Duration("elapsed", time.Since(start)))
	return master, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the kept bytes starting at a character boundary.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buf
	for len(b) > 0 && !utf8.RuneStart(b[0]) {
		b = b[1:]
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
