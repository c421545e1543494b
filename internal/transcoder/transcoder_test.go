package transcoder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songforge/songforge/internal/models"
)

func TestCommandBuilderAssemblesArgs(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Stats().
		Overwrite().
		LavfiInput("sine=frequency=440:duration=0.5").
		AudioCodec("pcm_s16le").
		SampleRate(44100).
		AudioChannels(2).
		Output("/tmp/kick.wav").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-stats",
		"-y",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=0.5",
		"-c:a", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		"/tmp/kick.wav",
	}, cmd.Args)
}

func TestCommandBuilderConcatAndFilters(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		ConcatInput("/scratch/stems.txt").
		AudioFilter("loudnorm=I=-14:LRA=11:TP=-1").
		AudioFilter("alimiter=limit=0.89").
		Format("wav").
		Output("/scratch/mix.wav").
		Build()

	assert.Contains(t, cmd.Args, "concat")
	joined := cmd.String()
	assert.Contains(t, joined, "-af loudnorm=I=-14:LRA=11:TP=-1,alimiter=limit=0.89")
	assert.Contains(t, joined, "-f wav")
}

func TestParseProgressTime(t *testing.T) {
	secs, ok := parseProgressTime("size=    1024kB time=00:01:23.45 bitrate= 128.0kbits/s speed=2.1x")
	require.True(t, ok)
	assert.InDelta(t, 83.45, secs, 0.001)

	secs, ok = parseProgressTime("time=01:00:00.00")
	require.True(t, ok)
	assert.Equal(t, 3600.0, secs)

	_, ok = parseProgressTime("frame= 120 fps= 30")
	assert.False(t, ok)
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tail := newTailBuffer(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		tail.Add(line)
	}
	assert.Equal(t, []string{"c", "d", "e"}, tail.Lines())
}

func TestExitErrorClassification(t *testing.T) {
	r := NewRunner(0, nil)

	retryable := r.exitError(&RunResult{
		ExitCode:   1,
		StderrTail: []string{"scratch/mix.wav: No space left on device"},
	})
	assert.Equal(t, models.ErrClassTranscoderFailed, models.Classify(retryable))
	assert.False(t, models.IsFatal(retryable))

	fatal := r.exitError(&RunResult{
		ExitCode:   1,
		StderrTail: []string{"Unrecognized option 'frobnicate'."},
	})
	assert.Equal(t, models.ErrClassTranscoderFailed, models.Classify(fatal))
	assert.True(t, models.IsFatal(fatal))
}

func TestProbeResultParsing(t *testing.T) {
	payload := `{
		"format": {"filename": "mix.wav", "format_name": "wav", "duration": "60.000000", "size": "10584044"},
		"streams": [
			{"index": 0, "codec_name": "pcm_s16le", "codec_type": "audio", "sample_rate": "44100", "channels": 2, "channel_layout": "stereo"}
		]
	}`

	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(payload), &result))

	assert.Equal(t, 60.0, result.DurationSeconds())

	audio := result.AudioStream()
	require.NotNil(t, audio)
	assert.Equal(t, 44100, audio.SampleRateHz())
	assert.Equal(t, 2, audio.Channels)
	assert.Nil(t, result.VideoStream())
}

func TestProbeStreamFrameRate(t *testing.T) {
	s := ProbeStream{RFrameRate: "30/1"}
	assert.Equal(t, 30.0, s.FrameRate())

	s = ProbeStream{RFrameRate: "30000/1001"}
	assert.InDelta(t, 29.97, s.FrameRate(), 0.01)

	s = ProbeStream{RFrameRate: ""}
	assert.Equal(t, 0.0, s.FrameRate())
}
