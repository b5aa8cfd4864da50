// Package engine wraps ffmpeg/ffprobe as seven synchronous, subprocess-based
// transformation operations.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"mediapipe/pkg/logging"
)

// Runner executes one subprocess call and returns its combined stdout+stderr.
// The default is exec.CommandContext; tests inject a fake to avoid
// depending on a real ffmpeg/ffprobe binary being on PATH.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Engine drives ffmpeg/ffprobe for the seven supported operations.
type Engine struct {
	ffmpegPath  string
	ffprobePath string
	run         Runner
	breakers    *CircuitBreakerManager
	logger      *logging.Logger
}

// New constructs an Engine using the ffmpeg/ffprobe binaries on PATH.
func New(logger *logging.Logger) *Engine {
	return &Engine{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		run:         execRunner,
		breakers:    NewCircuitBreakerManager(),
		logger:      logger,
	}
}

// NewWithRunner is used by tests to substitute a fake subprocess runner.
func NewWithRunner(logger *logging.Logger, run Runner) *Engine {
	e := New(logger)
	e.run = run
	return e
}

// Breakers exposes the per-operation circuit breakers for /health and
// /jobs/stats-style observability surfaces.
func (e *Engine) Breakers() *CircuitBreakerManager {
	return e.breakers
}

func (e *Engine) call(ctx context.Context, op string, fn func() error) error {
	breaker := e.breakers.GetBreaker(op)
	return breaker.Call(ctx, fn)
}

// GetVideoMetadata runs ffprobe and returns the parsed JSON container and
// stream description.
func (e *Engine) GetVideoMetadata(ctx context.Context, inputPath string) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := e.call(ctx, "get_metadata", func() error {
		out, err := e.run(ctx, e.ffprobePath,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			inputPath,
		)
		if err != nil {
			return fmt.Errorf("ffprobe: %w: %s", err, out)
		}
		return json.Unmarshal(out, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractAudio writes an MP3 from the input's audio stream. quality is a
// lower-is-better libmp3lame VBR setting, 0-9.
func (e *Engine) ExtractAudio(ctx context.Context, inputPath, outputPath string, quality int) error {
	return e.call(ctx, "extract_audio", func() error {
		out, err := e.run(ctx, e.ffmpegPath,
			"-i", inputPath,
			"-vn",
			"-acodec", "libmp3lame",
			"-q:a", strconv.Itoa(quality),
			"-y",
			outputPath,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg extract_audio: %w: %s", err, out)
		}
		return nil
	})
}

// CompressVideo re-encodes the input to H.264/AAC at the given CRF/FPS/
// bitrate. maxThreads == 0 auto-detects the CPU count.
func (e *Engine) CompressVideo(ctx context.Context, inputPath, outputPath string, crf, fps int, audioBitrate string, maxThreads int) error {
	if maxThreads == 0 {
		maxThreads = CPUCount()
		e.logger.ForEngine("compress_video").Info("auto-detected threads", "max_threads", maxThreads)
	}
	return e.call(ctx, "compress_video", func() error {
		out, err := e.run(ctx, e.ffmpegPath,
			"-i", inputPath,
			"-vcodec", "libx264",
			"-crf", strconv.Itoa(crf),
			"-r", strconv.Itoa(fps),
			"-preset", "veryfast",
			"-threads", strconv.Itoa(maxThreads),
			"-acodec", "aac",
			"-b:a", audioBitrate,
			"-y",
			outputPath,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg compress_video: %w: %s", err, out)
		}
		return nil
	})
}

// CutAudio trims [start, end) from the input, preserving the codec.
func (e *Engine) CutAudio(ctx context.Context, inputPath, outputPath, start, end string) error {
	return e.call(ctx, "cut_audio", func() error {
		out, err := e.run(ctx, e.ffmpegPath,
			"-i", inputPath,
			"-ss", start,
			"-to", end,
			"-c", "copy",
			"-y",
			outputPath,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg cut_audio: %w: %s", err, out)
		}
		return nil
	})
}

// ConcatAudios concatenates inputPaths, in order, preserving the codec. The
// concat list file is written into scratchDir and removed in the same
// operation that created it, regardless of outcome.
func (e *Engine) ConcatAudios(ctx context.Context, inputPaths []string, outputPath, scratchDir string) error {
	return e.call(ctx, "concat_audios", func() error {
		listFile := filepath.Join(scratchDir, filepath.Base(outputPath)+".list.txt")
		content := ""
		for _, p := range inputPaths {
			content += fmt.Sprintf("file '%s'\n", p)
		}
		if err := os.WriteFile(listFile, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write concat list: %w", err)
		}
		defer os.Remove(listFile)

		out, err := e.run(ctx, e.ffmpegPath,
			"-f", "concat",
			"-safe", "0",
			"-i", listFile,
			"-c", "copy",
			"-y",
			outputPath,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg concat_audios: %w: %s", err, out)
		}
		return nil
	})
}

// CaptureFrame writes a single WebP frame at timestamp.
func (e *Engine) CaptureFrame(ctx context.Context, inputPath, outputPath, timestamp string, quality int) error {
	return e.call(ctx, "capture_frame", func() error {
		out, err := e.run(ctx, e.ffmpegPath,
			"-ss", timestamp,
			"-i", inputPath,
			"-frames:v", "1",
			"-c:v", "libwebp",
			"-quality", strconv.Itoa(quality),
			"-compression_level", "6",
			"-y",
			outputPath,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg capture_frame: %w: %s", err, out)
		}
		return nil
	})
}

// streamCopyExtensions are the containers convert_to_mp4 always stream-
// copies for, ignoring subtitles, rather than attempting and falling back.
var streamCopyExtensions = map[string]bool{
	".mkv":  true,
	".webm": true,
}

// ConvertToMP4 repackages the input as an MP4. For .mkv/.webm it stream-
// copies directly (subtitles dropped). For any other container it first
// attempts a stream copy and, on non-zero exit, deletes the partial output
// and falls back to H.264/AAC re-encoding at CRF 23.
func (e *Engine) ConvertToMP4(ctx context.Context, inputPath, outputPath string, maxThreads int) error {
	if maxThreads == 0 {
		maxThreads = CPUCount()
		e.logger.ForEngine("convert_mp4").Info("auto-detected threads", "max_threads", maxThreads)
	}

	return e.call(ctx, "convert_mp4", func() error {
		ext := filepath.Ext(inputPath)

		if streamCopyExtensions[ext] {
			out, err := e.run(ctx, e.ffmpegPath,
				"-i", inputPath,
				"-c", "copy",
				"-sn",
				"-movflags", "+faststart",
				"-y",
				outputPath,
			)
			if err != nil {
				return fmt.Errorf("ffmpeg convert_mp4 stream-copy: %w: %s", err, out)
			}
			return nil
		}

		out, copyErr := e.run(ctx, e.ffmpegPath,
			"-i", inputPath,
			"-c", "copy",
			"-movflags", "+faststart",
			"-y",
			outputPath,
		)
		if copyErr == nil {
			return nil
		}
		e.logger.ForEngine("convert_mp4").Warn("stream copy failed, falling back to re-encode",
			"error", copyErr, "output", out)
		if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
			e.logger.ForEngine("convert_mp4").Warn("failed to remove partial stream-copy output", "error", err)
		}

		reout, err := e.run(ctx, e.ffmpegPath,
			"-i", inputPath,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "23",
			"-c:a", "aac",
			"-b:a", "192k",
			"-threads", strconv.Itoa(maxThreads),
			"-movflags", "+faststart",
			"-y",
			outputPath,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg convert_mp4 re-encode: %w: %s", err, reout)
		}
		return nil
	})
}
