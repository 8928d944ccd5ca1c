package audio

import (
	"context"
	"time"
)

// Codec moves buffers to and from audio files.
type Codec interface {
	// Decode reads an audio file of any format ffmpeg understands and returns
	// its samples resampled to sampleRate and mixed to channels.
	Decode(ctx context.Context, path string, sampleRate, channels int) (Buffer, error)

	// Encode writes the buffer to outPath. The container is chosen from the
	// file extension (e.g. .wav, .flac, .mp3).
	Encode(ctx context.Context, buf Buffer, outPath string) error

	// DurationOf probes the playback length of an audio file.
	DurationOf(ctx context.Context, path string) (time.Duration, error)
}
