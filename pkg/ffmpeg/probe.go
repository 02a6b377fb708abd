package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult is the metadata the pipeline reads off a clip before and after
// a conversion. Stream fields describe the first video stream.
type ProbeResult struct {
	Width       int
	Height      int
	FPS         float64
	VideoCodec  string
	PixelFormat string

	Duration   float64 // container duration in seconds
	Bitrate    int64   // bits per second
	Size       int64   // bytes
	FormatName string  // container format, e.g. "matroska,webm"

	VideoStreams int
	AudioStreams int

	// RawJSON carries the full ffprobe document for anything not mapped above.
	RawJSON map[string]any
}

type ffprobeDoc struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType   string `json:"codec_type"`
		CodecName   string `json:"codec_name"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		RFrameRate  string `json:"r_frame_rate"`
		PixelFormat string `json:"pix_fmt"`
	} `json:"streams"`
}

// Probe runs ffprobe and decodes the parts of its JSON document the
// conversion path reads.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	raw, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var doc ffprobeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("ffprobe: decode output: %w", err)
	}

	result := &ProbeResult{
		FormatName: doc.Format.FormatName,
		Duration:   atof(doc.Format.Duration),
		Bitrate:    atoi64(doc.Format.BitRate),
		Size:       atoi64(doc.Format.Size),
	}
	if err := json.Unmarshal(raw, &result.RawJSON); err != nil {
		return nil, fmt.Errorf("ffprobe: decode raw document: %w", err)
	}

	for _, stream := range doc.Streams {
		switch stream.CodecType {
		case "video":
			result.VideoStreams++
			if result.VideoCodec != "" {
				continue
			}
			result.Width = stream.Width
			result.Height = stream.Height
			result.VideoCodec = stream.CodecName
			result.PixelFormat = stream.PixelFormat
			result.FPS = parseFrameRate(stream.RFrameRate)
		case "audio":
			result.AudioStreams++
		}
	}
	return result, nil
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// parseFrameRate converts ffprobe's rational frame rate ("30000/1001") to a
// float. Malformed or zero-denominator rates come back as 0.
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	if !found {
		f, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
