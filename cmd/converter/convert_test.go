package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/showreel/pkg/ffmpeg"
)

func TestDownscaleWidth(t *testing.T) {
	t.Parallel()

	const budget = 49_999_900

	tests := []struct {
		name     string
		width    int
		height   int
		duration float64
		fps      float64
		max      int64
		want     int
	}{
		{
			name:  "short clip fits untouched",
			width: 1280, height: 720, duration: 4, fps: 12, max: budget,
			want: 0,
		},
		{
			name:  "hd source scales down",
			width: 1920, height: 1080, duration: 8, fps: 24, max: budget,
			want: 680,
		},
		{
			name:  "smaller source lands on the same width",
			// Per-frame budget only depends on the aspect ratio, so every
			// 16:9 source at this length converges on one output width.
			width: 1280, height: 720, duration: 8, fps: 24, max: budget,
			want: 680,
		},
		{
			name:  "odd width rounds down to even",
			width: 1440, height: 1080, duration: 8, fps: 24, max: budget,
			want: 588,
		},
		{
			name:  "exactly at the budget fits",
			width: 100, height: 100, duration: 1, fps: 10, max: 100_000,
			want: 0,
		},
		{
			name:  "one pixel over scales",
			width: 100, height: 100, duration: 1, fps: 10, max: 99_999,
			want: 98,
		},
		{
			name:  "tiny budget floors at two",
			width: 1000, height: 1000, duration: 10, fps: 30, max: 300,
			want: 2,
		},
		{
			name:  "unknown dimensions skip scaling",
			width: 0, height: 0, duration: 8, fps: 24, max: budget,
			want: 0,
		},
		{
			name:  "unknown duration skips scaling",
			width: 1920, height: 1080, duration: 0, fps: 24, max: budget,
			want: 0,
		},
		{
			name:  "unknown frame rate skips scaling",
			width: 1920, height: 1080, duration: 8, fps: 0, max: budget,
			want: 0,
		},
		{
			name:  "no budget configured skips scaling",
			width: 1920, height: 1080, duration: 8, fps: 24, max: 0,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := downscaleWidth(tt.width, tt.height, tt.duration, tt.fps, tt.max)
			require.Equal(t, tt.want, got)

			if got > 0 {
				require.Zero(t, got%2, "output width must be even for the encoder")
			}
			// The two pixel floor is allowed to overshoot the budget.
			if got > 2 {
				scaledHeight := got * tt.height / tt.width
				frames := tt.duration * tt.fps
				require.LessOrEqual(t, float64(got)*float64(scaledHeight)*frames, float64(tt.max),
					"scaled clip must fit the budget")
			}
		})
	}
}

func TestConversionPresetForFormat(t *testing.T) {
	t.Parallel()

	t.Run("webm", func(t *testing.T) {
		t.Parallel()
		opts, ext, contentType := ffmpeg.ConversionPresetForFormat("webm")
		require.NotEmpty(t, opts)
		require.Equal(t, ".webm", ext)
		require.Equal(t, "video/webm", contentType)
	})

	t.Run("webp", func(t *testing.T) {
		t.Parallel()
		opts, ext, contentType := ffmpeg.ConversionPresetForFormat("webp")
		require.NotEmpty(t, opts)
		require.Equal(t, ".webp", ext)
		require.Equal(t, "image/webp", contentType)
	})

	t.Run("anything else falls back to webm", func(t *testing.T) {
		t.Parallel()
		_, ext, contentType := ffmpeg.ConversionPresetForFormat("gif")
		require.Equal(t, ".webm", ext)
		require.Equal(t, "video/webm", contentType)
	})
}
