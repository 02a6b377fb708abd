package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		opts     []Option
		wantArgs []string
	}{
		{
			name:   "webm delivery preset",
			output: "31000012.webm",
			opts:   PresetApprovedWebM(),
			wantArgs: []string{
				"-hide_banner", "-y",
				"-i", "31000012.mp4",
				"-c:v", "libvpx-vp9",
				"-crf", "24",
				"-b:v", "0",
				"-row-mt", "1",
				"-pix_fmt", "yuv420p",
				"-an",
				"31000012.webm",
			},
		},
		{
			name:   "webp delivery preset",
			output: "31000012.webp",
			opts:   PresetApprovedWebP(),
			wantArgs: []string{
				"-hide_banner", "-y",
				"-i", "31000012.mp4",
				"-c:v", "libwebp",
				"-lossless", "0",
				"-compression_level", "4",
				"-q:v", "75",
				"-loop", "0",
				"-preset", "default",
				"-an",
				"31000012.webp",
			},
		},
		{
			name:   "rate cap and downscale join into one filter chain",
			output: "31000012.webm",
			opts:   append(PresetApprovedWebM(), FPS(24), ScaleWidth(680)),
			wantArgs: []string{
				"-hide_banner", "-y",
				"-i", "31000012.mp4",
				"-c:v", "libvpx-vp9",
				"-crf", "24",
				"-b:v", "0",
				"-row-mt", "1",
				"-pix_fmt", "yuv420p",
				"-an",
				"-vf", "fps=24,scale=680:-2",
				"31000012.webm",
			},
		},
		{
			name:   "raw flags pass through in option order",
			output: "31000012.webm",
			opts:   []Option{VideoCodec("libvpx-vp9"), ExtraArgs("-b:v", "0")},
			wantArgs: []string{
				"-hide_banner", "-y",
				"-i", "31000012.mp4",
				"-c:v", "libvpx-vp9",
				"-b:v", "0",
				"31000012.webm",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand("31000012.mp4", tt.output, tt.opts...)
			assert.Equal(t, tt.wantArgs, cmd.Args())
		})
	}
}

func TestCommandProgressArgs(t *testing.T) {
	cmd := NewCommand("in.mp4", "out.webm", NoAudio)

	args := cmd.progressArgs()
	require.Greater(t, len(args), 5)
	assert.Equal(t, []string{"-hide_banner", "-y", "-progress", "pipe:1", "-nostats"}, args[:5])
	assert.Equal(t, "out.webm", args[len(args)-1])
}

func TestConversionPresetForFormat(t *testing.T) {
	_, ext, contentType := ConversionPresetForFormat("webp")
	assert.Equal(t, ".webp", ext)
	assert.Equal(t, "image/webp", contentType)

	_, ext, contentType = ConversionPresetForFormat("webm")
	assert.Equal(t, ".webm", ext)
	assert.Equal(t, "video/webm", contentType)

	// Anything unrecognized delivers WebM.
	_, ext, _ = ConversionPresetForFormat("avif")
	assert.Equal(t, ".webm", ext)
}

func TestScaleFilters(t *testing.T) {
	cmd := NewCommand("in.mp4", "out.webm", Scale(1280, 720))
	assert.Contains(t, cmd.Args(), "scale=1280:720")

	cmd = NewCommand("in.mp4", "out.webm", ScaleWidth(640))
	assert.Contains(t, cmd.Args(), "scale=640:-2")

	cmd = NewCommand("in.mp4", "out.webm", FPS(23.976))
	assert.Contains(t, cmd.Args(), "fps=23.976")
}

func TestProgressParser(t *testing.T) {
	feed := strings.Join([]string{
		"frame=100",
		"fps=30.5",
		"bitrate=1234.5kbits/s",
		"total_size=12345678",
		"out_time_us=5000000",
		"speed=2.5x",
		"progress=continue",
		"frame=200",
		"out_time_us=10000000",
		"progress=end",
		"",
	}, "\n")

	progress := make(chan Progress, 8)
	ParseProgressOutput(strings.NewReader(feed), progress)
	close(progress)

	var snaps []Progress
	for p := range progress {
		snaps = append(snaps, p)
	}
	require.Len(t, snaps, 2)

	first := snaps[0]
	assert.Equal(t, int64(100), first.Frame)
	assert.Equal(t, 30.5, first.FPS)
	assert.Equal(t, "1234.5kbits/s", first.Bitrate)
	assert.Equal(t, int64(12345678), first.TotalSize)
	assert.Equal(t, 5.0, first.OutTimeSeconds())
	assert.Equal(t, "2.5x", first.Speed)
	assert.Equal(t, "continue", first.Progress)

	last := snaps[1]
	assert.Equal(t, int64(200), last.Frame)
	assert.Equal(t, 10.0, last.OutTimeSeconds())
	assert.Equal(t, "end", last.Progress)
}

func TestProgressParserIgnoresNoise(t *testing.T) {
	parser := NewProgressParser()
	assert.False(t, parser.ParseLine("not a key value line"))
	assert.False(t, parser.ParseLine(""))
	assert.False(t, parser.ParseLine("frame=42"))
	assert.True(t, parser.ParseLine("progress=continue"))
	assert.Equal(t, int64(42), parser.Current().Frame)
}

func TestErrorKeepsStderrTail(t *testing.T) {
	wrapped := errors.New("exit status 1")
	err := &Error{
		Args: []string{"-i", "in.mp4", "out.webm"},
		Stderr: strings.Join([]string{
			"ffmpeg version n7.1",
			"Input #0, mov,mp4",
			"Stream mapping omitted",
			"[libvpx-vp9] Failed to initialize encoder",
			"Error while opening encoder",
			"Conversion failed!",
		}, "\n"),
		Err: wrapped,
	}

	msg := err.Error()
	assert.Contains(t, msg, "Conversion failed!")
	assert.Contains(t, msg, "Failed to initialize encoder")
	assert.NotContains(t, msg, "ffmpeg version")
	assert.True(t, errors.Is(err, wrapped))
}

// makeSourceClip renders a short mp4 with a test pattern and a sine tone,
// the shape of clip the conversion stage receives from generation.
func makeSourceClip(t *testing.T, duration time.Duration) string {
	t.Helper()

	output := filepath.Join(t.TempDir(), "31000012.mp4")
	secs := strconv.FormatFloat(duration.Seconds(), 'f', 3, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	proc, err := Start(ctx, []string{
		"-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc2=duration=" + secs + ":size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=44100:duration=" + secs,
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "28",
		"-c:a", "aac", "-b:a", "64k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		output,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, proc.Wait(), "stderr: %s", proc.Stderr())

	return output
}

func TestIntegrationWebMDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ffmpeg")
	}

	input := makeSourceClip(t, 2*time.Second)
	output := filepath.Join(t.TempDir(), "31000012.webm")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, NewCommand(input, output, PresetApprovedWebM()...).Run(ctx))

	result, err := Probe(ctx, output)
	require.NoError(t, err)
	assert.Contains(t, result.FormatName, "webm")
	assert.Equal(t, "vp9", result.VideoCodec)
	assert.InDelta(t, 2.0, result.Duration, 0.5)
	assert.Equal(t, 0, result.AudioStreams, "delivery output must be silent")
}

func TestIntegrationWebPDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ffmpeg")
	}

	input := makeSourceClip(t, 2*time.Second)
	output := filepath.Join(t.TempDir(), "31000012.webp")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Downscale and drop the rate so the animation stays small.
	opts := append(PresetApprovedWebP(), FPS(12), ScaleWidth(160))
	require.NoError(t, NewCommand(input, output, opts...).Run(ctx))

	// ffprobe duration reporting for animated webp is unreliable; a nonzero
	// file is the check the converter itself applies.
	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestIntegrationProgressFeed(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ffmpeg")
	}

	input := makeSourceClip(t, 3*time.Second)
	output := filepath.Join(t.TempDir(), "31000012.webm")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	progress := make(chan Progress, 100)
	proc, err := NewCommand(input, output, PresetApprovedWebM()...).StartWithProgress(ctx, progress)
	require.NoError(t, err)
	assert.NotZero(t, proc.PID())

	var snaps []Progress
	for p := range progress {
		snaps = append(snaps, p)
	}
	require.NoError(t, proc.Wait())

	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, "end", last.Progress)
	assert.Greater(t, last.Frame, int64(0))
}

func TestIntegrationKillStopsEncode(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ffmpeg")
	}

	output := filepath.Join(t.TempDir(), "never_finished.webm")

	// A long VP9 encode that cannot finish before the kill.
	proc, err := Start(context.Background(), []string{
		"-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc2=duration=60:size=640x480:rate=30",
		"-c:v", "libvpx-vp9", "-crf", "24", "-b:v", "0",
		"-pix_fmt", "yuv420p",
		output,
	}, nil)
	require.NoError(t, err)
	require.NotZero(t, proc.PID())

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, proc.Kill())
	assert.Error(t, proc.Wait())
}

func TestIntegrationProbe(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ffmpeg")
	}

	input := makeSourceClip(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := Probe(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, 320, result.Width)
	assert.Equal(t, 240, result.Height)
	assert.InDelta(t, 2.0, result.Duration, 0.5)
	assert.InDelta(t, 30.0, result.FPS, 1.0)
	assert.Equal(t, "h264", result.VideoCodec)
	assert.Equal(t, 1, result.VideoStreams)
	assert.Equal(t, 1, result.AudioStreams)
	assert.Contains(t, result.FormatName, "mp4")
	assert.Greater(t, result.Size, int64(0))
	assert.NotEmpty(t, result.RawJSON)
}
