package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Static errors for ffmpeg operations.
var (
	// ErrInputNotFound is returned when the file to decode does not exist.
	ErrInputNotFound = errors.New("audio: input file does not exist")
	// ErrEmptyBuffer is returned when asked to encode a buffer with no samples.
	ErrEmptyBuffer = errors.New("audio: buffer is empty")
	// ErrDurationNotFound is returned when ffmpeg output carries no duration line.
	ErrDurationNotFound = errors.New("audio: could not parse duration from ffmpeg output")
)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// Compile-time check that FFmpegCodec implements Codec.
var _ Codec = (*FFmpegCodec)(nil)

// FFmpegCodec implements Codec using the ffmpeg CLI and raw s16le pipes.
type FFmpegCodec struct {
	ffmpegPath string
}

// NewFFmpegCodec creates a new FFmpegCodec.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegCodec(ffmpegPath string) *FFmpegCodec {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegCodec{ffmpegPath: ffmpegPath}
}

// Decode implements Codec.Decode by piping ffmpeg's s16le output.
func (c *FFmpegCodec) Decode(ctx context.Context, path string, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, ErrInvalidSampleRate
	}
	if channels <= 0 {
		return Buffer{}, ErrInvalidChannels
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Buffer{}, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Buffer{}, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, stderr.String())
	}

	samples := FromPCM16(stdout.Bytes())
	// Drop a partial trailing frame so the buffer stays channel-aligned.
	samples = samples[:len(samples)-len(samples)%channels]

	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Encode implements Codec.Encode by feeding s16le samples to ffmpeg on stdin.
func (c *FFmpegCodec) Encode(ctx context.Context, buf Buffer, outPath string) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.IsEmpty() {
		return ErrEmptyBuffer
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.SampleRate),
		"-ac", strconv.Itoa(buf.Channels),
		"-i", "pipe:0",
		outPath,
	)
	cmd.Stdin = bytes.NewReader(PCM16(buf.Samples))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encode %s: %w: %s", outPath, err, stderr.String())
	}
	return nil
}

// DurationOf implements Codec.DurationOf by parsing ffmpeg's stderr banner.
func (c *FFmpegCodec) DurationOf(ctx context.Context, path string) (time.Duration, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-i", path,
		"-hide_banner",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero with a null muxer on some builds; the banner is still printed.
	_ = cmd.Run()

	return parseDuration(stderr.String())
}

// parseDuration extracts "Duration: HH:MM:SS.frac" from ffmpeg output.
func parseDuration(output string) (time.Duration, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, ErrDurationNotFound
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat("0."+matches[4], 64)

	total := hours*3600 + minutes*60 + seconds + frac
	return time.Duration(total * float64(time.Second)), nil
}
