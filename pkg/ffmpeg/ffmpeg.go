// Package ffmpeg wraps the ffmpeg and ffprobe binaries for the conversion
// stage: probe a generated clip, transcode it to the delivery format with a
// live progress feed, and surface encoder failures with their stderr tail.
package ffmpeg

import (
	"context"
	"strconv"
	"strings"
)

// Command is one ffmpeg invocation under construction.
type Command struct {
	input   string
	output  string
	global  []string // flags before -i
	encode  []string // codec and quality flags after -i
	filters []string // -vf chain entries, joined in order
}

// An Option appends flags to a Command. Options compose in any order; the
// final argument list always comes out in the order ffmpeg needs.
type Option interface {
	Apply(cmd *Command)
}

// OptionFunc adapts a function to the Option interface.
type OptionFunc func(cmd *Command)

// Apply implements Option.
func (f OptionFunc) Apply(cmd *Command) { f(cmd) }

// NewCommand builds a command for one input file and one output file.
func NewCommand(input, output string, opts ...Option) *Command {
	cmd := &Command{input: input, output: output}
	for _, opt := range opts {
		opt.Apply(cmd)
	}
	return cmd
}

// Args assembles the argument list: global flags, input, encode flags, the
// collected filter chain, output. -y because the converter writes into its
// own temp dir and a leftover from a retried attempt must not stall it.
func (c *Command) Args() []string {
	args := []string{"-hide_banner", "-y"}
	args = append(args, c.global...)
	args = append(args, "-i", c.input)
	args = append(args, c.encode...)
	if len(c.filters) > 0 {
		args = append(args, "-vf", strings.Join(c.filters, ","))
	}
	return append(args, c.output)
}

// progressArgs puts the machine readable progress feed on stdout.
func (c *Command) progressArgs() []string {
	args := c.Args()
	feed := []string{args[0], args[1], "-progress", "pipe:1", "-nostats"}
	return append(feed, args[2:]...)
}

// Run executes the command and blocks until it exits.
func (c *Command) Run(ctx context.Context) error {
	return run(ctx, c.Args(), nil)
}

// RunWithProgress executes the command, sending progress reports to the
// channel. The channel is closed when the encode ends.
func (c *Command) RunWithProgress(ctx context.Context, progress chan<- Progress) error {
	return run(ctx, c.progressArgs(), progress)
}

// Start launches the command and returns the running process. The caller
// settles it with Wait or Kill.
func (c *Command) Start(ctx context.Context) (*Process, error) {
	return Start(ctx, c.Args(), nil)
}

// StartWithProgress launches the command with the progress feed attached.
func (c *Command) StartWithProgress(ctx context.Context, progress chan<- Progress) (*Process, error) {
	return Start(ctx, c.progressArgs(), progress)
}

// VideoCodec selects the video encoder (-c:v).
func VideoCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.encode = append(cmd.encode, "-c:v", codec)
	})
}

// CRF sets the constant rate factor.
func CRF(value int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.encode = append(cmd.encode, "-crf", strconv.Itoa(value))
	})
}

// Preset names an encoder speed/quality preset.
func Preset(name string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.encode = append(cmd.encode, "-preset", name)
	})
}

// PixelFormat sets -pix_fmt.
func PixelFormat(format string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.encode = append(cmd.encode, "-pix_fmt", format)
	})
}

// Quality sets the encoder quality scale (-q:v).
func Quality(q int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.encode = append(cmd.encode, "-q:v", strconv.Itoa(q))
	})
}

// NoAudio strips the audio stream (-an).
var NoAudio Option = OptionFunc(func(cmd *Command) {
	cmd.encode = append(cmd.encode, "-an")
})

// Filter appends one entry to the -vf filter chain.
func Filter(f string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.filters = append(cmd.filters, f)
	})
}

// ExtraArgs passes raw encode flags through, for encoder switches the named
// options do not cover.
func ExtraArgs(args ...string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.encode = append(cmd.encode, args...)
	})
}
