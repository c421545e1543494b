// Package transcoder wraps the external FFmpeg-class binary behind a small
// gateway: a fluent argv builder, a runner with timeout and progress parsing,
// and a prober for capability checks and media inspection. All synthesis and
// muxing goes through this package; nothing else in songforge spawns the
// transcoder directly.
package transcoder

import (
	"strconv"
	"strings"
)

// Command is a fully assembled transcoder invocation.
type Command struct {
	Binary string
	Args   []string
}

// String renders the command for logs.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// CommandBuilder builds transcoder commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputs     []input
	filters    []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

type input struct {
	args   []string
	source string
}

// NewCommandBuilder creates a builder for the given binary path.
func NewCommandBuilder(binaryPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   binaryPath,
		logLevel: "error",
	}
}

// LogLevel sets the transcoder log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the startup banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables progress stats on stderr so the runner can parse them.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Input adds a plain input source.
func (b *CommandBuilder) Input(source string) *CommandBuilder {
	b.inputs = append(b.inputs, input{source: source})
	return b
}

// InputWithArgs adds an input source preceded by per-input arguments.
func (b *CommandBuilder) InputWithArgs(source string, args ...string) *CommandBuilder {
	b.inputs = append(b.inputs, input{source: source, args: args})
	return b
}

// LavfiInput adds a synthesized lavfi graph input, used for oscillator and
// noise sources.
func (b *CommandBuilder) LavfiInput(graph string) *CommandBuilder {
	return b.InputWithArgs(graph, "-f", "lavfi")
}

// ConcatInput adds a concat-demuxer input reading a list file. The list is
// trusted local scratch, hence -safe 0.
func (b *CommandBuilder) ConcatInput(listPath string) *CommandBuilder {
	return b.InputWithArgs(listPath, "-f", "concat", "-safe", "0")
}

// StdinInput adds an input read from the child's stdin.
func (b *CommandBuilder) StdinInput(args ...string) *CommandBuilder {
	return b.InputWithArgs("pipe:0", args...)
}

// FilterComplex sets the filtergraph spanning multiple inputs.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-filter_complex", graph)
	return b
}

// AudioFilter appends an audio filter to the -af chain.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.filters = append(b.filters, filter)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// SampleRate sets the output audio sample rate.
func (b *CommandBuilder) SampleRate(hz int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(hz))
	return b
}

// AudioChannels sets the number of audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// Duration caps the output duration in seconds.
func (b *CommandBuilder) Duration(seconds float64) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-t", strconv.FormatFloat(seconds, 'f', -1, 64))
	return b
}

// PixelFormat sets the output pixel format.
func (b *CommandBuilder) PixelFormat(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-pix_fmt", format)
	return b
}

// FrameRate sets the output frame rate.
func (b *CommandBuilder) FrameRate(fps int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-r", strconv.Itoa(fps))
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// Map selects a stream for the output.
func (b *CommandBuilder) Map(specifier string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", specifier)
	return b
}

// Shortest stops the output with the shortest input stream.
func (b *CommandBuilder) Shortest() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-shortest")
	return b
}

// Format forces the output container format.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", format)
	return b
}

// MovFlags sets MP4 muxer flags.
func (b *CommandBuilder) MovFlags(flags string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", flags)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final argv.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	for _, in := range b.inputs {
		args = append(args, in.args...)
		args = append(args, "-i", in.source)
	}

	if len(b.filters) > 0 {
		args = append(args, "-af", strings.Join(b.filters, ","))
	}

	args = append(args, b.outputArgs...)

	if b.output != "" {
		args = append(args, b.output)
	}

	return &Command{
		Binary: b.binary,
		Args:   args,
	}
}
