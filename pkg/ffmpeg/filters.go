package ffmpeg

import "fmt"

// Scale emits a scale filter. A -2 dimension is computed from the aspect
// ratio and rounded to even, which the delivery encoders require.
func Scale(width, height int) Option {
	return Filter(fmt.Sprintf("scale=%d:%d", width, height))
}

// ScaleWidth scales to a fixed width with a derived even height.
func ScaleWidth(width int) Option {
	return Scale(width, -2)
}

// FPS caps the frame rate with an fps filter.
func FPS(rate float64) Option {
	return Filter(fmt.Sprintf("fps=%g", rate))
}
