package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds capability checks and media inspection.
const probeTimeout = 15 * time.Second

// Capabilities reports which external tools are reachable.
type Capabilities struct {
	TranscoderAvailable bool   `json:"transcoder_available"`
	ProberAvailable     bool   `json:"prober_available"`
	TranscoderVersion   string `json:"transcoder_version,omitempty"`
}

// Available reports whether the full pipeline can run.
func (c Capabilities) Available() bool {
	return c.TranscoderAvailable && c.ProberAvailable
}

// ProbeResult contains the parsed metadata tool output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains per-stream information.
type ProbeStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"` // audio, video, subtitle
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	PixFmt        string `json:"pix_fmt,omitempty"`
	RFrameRate    string `json:"r_frame_rate,omitempty"`
	Duration      string `json:"duration,omitempty"`
}

// DurationSeconds returns the container duration, or 0 when unknown.
func (r *ProbeResult) DurationSeconds() float64 {
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// AudioStream returns the first audio stream, or nil.
func (r *ProbeResult) AudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// VideoStream returns the first video stream, or nil.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// SampleRateHz returns the stream sample rate, or 0 when unknown.
func (s *ProbeStream) SampleRateHz() int {
	hz, err := strconv.Atoi(s.SampleRate)
	if err != nil {
		return 0
	}
	return hz
}

// FrameRate returns the stream frame rate parsed from its rational form
// ("30/1"), or 0 when unknown.
func (s *ProbeStream) FrameRate() float64 {
	parts := strings.SplitN(s.RFrameRate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// Prober wraps the metadata tool and the transcoder's version check.
type Prober struct {
	transcoderPath string
	proberPath     string
}

// NewProber creates a Prober for the given binary paths. Empty paths fall back
// to the conventional names resolved via PATH.
func NewProber(transcoderPath, proberPath string) *Prober {
	if transcoderPath == "" {
		transcoderPath = "ffmpeg"
	}
	if proberPath == "" {
		proberPath = "ffprobe"
	}
	return &Prober{transcoderPath: transcoderPath, proberPath: proberPath}
}

// Probe checks that both binaries are present and executable.
func (p *Prober) Probe(ctx context.Context) Capabilities {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	caps := Capabilities{}

	out, err := exec.CommandContext(ctx, p.transcoderPath, "-version").Output()
	if err == nil {
		caps.TranscoderAvailable = true
		caps.TranscoderVersion = firstLine(string(out))
	}

	if err := exec.CommandContext(ctx, p.proberPath, "-version").Run(); err == nil {
		caps.ProberAvailable = true
	}
	return caps
}

// Inspect runs the metadata tool against a local file or storage path and
// parses its JSON output.
func (p *Prober) Inspect(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.proberPath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("parsing probe output for %s: %w", path, err)
	}
	return &result, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
