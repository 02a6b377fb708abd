package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Progress is one status report from ffmpeg's -progress output.
type Progress struct {
	Frame     int64
	FPS       float64
	Bitrate   string
	TotalSize int64
	OutTimeUS int64
	Speed     string
	Progress  string // "continue" while encoding, "end" on the final report
}

// OutTimeSeconds returns the output timestamp in seconds.
func (p Progress) OutTimeSeconds() float64 {
	return float64(p.OutTimeUS) / 1_000_000
}

// ProgressParser folds key=value lines from ffmpeg -progress output into
// Progress snapshots. ffmpeg emits fields one per line and closes each
// report with a progress= line.
type ProgressParser struct {
	current Progress
}

func NewProgressParser() *ProgressParser {
	return &ProgressParser{}
}

// ParseLine consumes one line and reports whether it completed a snapshot.
func (p *ProgressParser) ParseLine(line string) bool {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return false
	}

	switch key {
	case "frame":
		p.current.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.current.FPS, _ = strconv.ParseFloat(value, 64)
	case "bitrate":
		p.current.Bitrate = value
	case "total_size":
		p.current.TotalSize, _ = strconv.ParseInt(value, 10, 64)
	case "out_time_us":
		p.current.OutTimeUS, _ = strconv.ParseInt(value, 10, 64)
	case "speed":
		p.current.Speed = value
	case "progress":
		p.current.Progress = value
		return true
	}
	return false
}

// Current returns the latest snapshot.
func (p *ProgressParser) Current() Progress {
	return p.current
}

// ParseProgressOutput reads -progress output until the stream ends or ffmpeg
// reports "end", sending each completed snapshot to the channel.
func ParseProgressOutput(r io.Reader, progress chan<- Progress) {
	parser := NewProgressParser()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if !parser.ParseLine(scanner.Text()) {
			continue
		}
		snap := parser.Current()
		progress <- snap
		if snap.Progress == "end" {
			return
		}
	}
}
