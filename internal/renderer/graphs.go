package renderer

import (
	"fmt"
	"strings"

	"github.com/songforge/songforge/internal/sequencer"
)

// Audio output parameters shared by every stage.
const (
	sampleRateHz   = 44100
	videoWidth     = 1280
	videoHeight    = 720
	videoFPS       = 30
	audioBitrate   = "192k"
	limiterFilter  = "alimiter=limit=0.891" // -1 dBTP ceiling
	loudnormMaster = "loudnorm=I=-14:LRA=11:TP=-1"
)

// stemMixWeight is the per-stem gain applied in the mastered mix. Drums sit
// forward, hats and pitched stems tucked under them.
var stemMixWeight = map[sequencer.EventType]float64{
	sequencer.EventKick:  0.9,
	sequencer.EventSnare: 0.9,
	sequencer.EventHat:   0.7,
	sequencer.EventBass:  0.7,
	sequencer.EventLead:  0.7,
}

// oneShotGraph returns the lavfi graph synthesizing a single hit for the stem,
// plus its duration in seconds. Pitched stems are tuned to the key root.
func oneShotGraph(stem sequencer.EventType, rootHz float64) (string, float64) {
	switch stem {
	case sequencer.EventKick:
		return "sine=frequency=55:duration=0.25,afade=t=out:st=0.05:d=0.2", 0.25
	case sequencer.EventSnare:
		return "anoisesrc=duration=0.2:color=white:amplitude=0.5,highpass=f=1500,afade=t=out:st=0:d=0.2", 0.2
	case sequencer.EventHat:
		return "anoisesrc=duration=0.08:color=white:amplitude=0.4,highpass=f=6000,afade=t=out:st=0:d=0.08", 0.08
	case sequencer.EventBass:
		return fmt.Sprintf("sine=frequency=%.2f:duration=0.4,lowpass=f=300,afade=t=out:st=0.1:d=0.3", rootHz/2), 0.4
	case sequencer.EventLead:
		return fmt.Sprintf("sine=frequency=%.2f:duration=0.2,afade=t=out:st=0.05:d=0.15", rootHz), 0.2
	}
	return "anullsrc=r=44100:cl=mono:duration=0.1", 0.1
}

// silenceGraph returns a lavfi graph producing mono silence of the given
// length in milliseconds.
func silenceGraph(ms int64) string {
	return fmt.Sprintf("anullsrc=r=%d:cl=mono:duration=%.3f", sampleRateHz, float64(ms)/1000)
}

// previewMixGraph sums all stems at equal weight and levels the result.
// Inputs are expected in sequencer.StemTypes order.
func previewMixGraph(inputs int) string {
	var sb strings.Builder
	for i := 0; i < inputs; i++ {
		fmt.Fprintf(&sb, "[%d:a]", i)
	}
	fmt.Fprintf(&sb, "amix=inputs=%d:duration=longest:normalize=0,dynaudnorm[out]", inputs)
	return sb.String()
}

// masterMixGraph applies the per-stem weights, sums, limits to -1 dBTP, and
// normalizes to the -14 LUFS / LRA 11 master target.
func masterMixGraph(stems []sequencer.EventType) string {
	var sb strings.Builder
	labels := make([]string, len(stems))
	for i, stem := range stems {
		labels[i] = fmt.Sprintf("[m%d]", i)
		fmt.Fprintf(&sb, "[%d:a]volume=%.2f%s;", i, stemMixWeight[stem], labels[i])
	}
	sb.WriteString(strings.Join(labels, ""))
	fmt.Fprintf(&sb, "amix=inputs=%d:duration=longest:normalize=0,%s,dynaudnorm,%s[out]",
		len(stems), limiterFilter, loudnormMaster)
	return sb.String()
}

// Formant band centers approximating an open vowel, in Hz.
var formantBands = []int{700, 1200, 2600}

// vocalGraph shapes the root-pitched carrier (input 0) through a parallel
// formant bandpass bank with slow vibrato.
func vocalGraph() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[0:a]tremolo=f=5:d=0.3,asplit=%d", len(formantBands))
	for i := range formantBands {
		fmt.Fprintf(&sb, "[s%d]", i)
	}
	sb.WriteString(";")
	labels := make([]string, len(formantBands))
	for i, hz := range formantBands {
		labels[i] = fmt.Sprintf("[f%d]", i)
		fmt.Fprintf(&sb, "[s%d]bandpass=f=%d:width_type=q:w=5%s;", i, hz, labels[i])
	}
	sb.WriteString(strings.Join(labels, ""))
	fmt.Fprintf(&sb, "amix=inputs=%d:normalize=0,dynaudnorm[out]", len(formantBands))
	return sb.String()
}

// vocalCarrierGraph is the lavfi source the formant bank shapes: the key root
// held for the full duration.
func vocalCarrierGraph(rootHz float64, durationSec int) string {
	return fmt.Sprintf("sine=frequency=%.2f:duration=%d", rootHz, durationSec)
}

// remixGraph folds the vocal stem (input 1) into the mastered mix (input 0) at
// reduced weight and re-applies the master chain.
func remixGraph(vocalWeight float64) string {
	return fmt.Sprintf("[1:a]volume=%.2f[v];[0:a][v]amix=inputs=2:duration=first:normalize=0,%s,%s[out]",
		vocalWeight, limiterFilter, loudnormMaster)
}

// Video styles.
const (
	VideoStyleLyric    = "lyric"
	VideoStyleSpectrum = "spectrum"
	VideoStyleWaveform = "waveform"
)

// lyricVideoGraph overlays burned-in subtitles on a flat background. Input 0
// is the background source, input 1 the audio.
func lyricVideoGraph(srtPath string) string {
	return fmt.Sprintf("[0:v]subtitles=%s[vout]", escapeFilterPath(srtPath))
}

// lyricBackgroundGraph is the lavfi color source behind the subtitles.
func lyricBackgroundGraph(durationSec int) string {
	return fmt.Sprintf("color=c=0x101020:s=%dx%d:r=%d:d=%d",
		videoWidth, videoHeight, videoFPS, durationSec)
}

// spectrumVideoGraph renders a scrolling spectrogram of the audio (input 0).
func spectrumVideoGraph() string {
	return fmt.Sprintf("[0:a]showspectrum=s=%dx%d:mode=combined:color=intensity:slide=scroll,format=yuv420p[vout]",
		videoWidth, videoHeight)
}

// waveformVideoGraph renders an oscilloscope trace of the audio (input 0).
func waveformVideoGraph() string {
	return fmt.Sprintf("[0:a]showwaves=s=%dx%d:mode=cline:rate=%d,format=yuv420p[vout]",
		videoWidth, videoHeight, videoFPS)
}

// escapeFilterPath quotes a path for use inside a filtergraph option value.
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, `'`, `\'`)
	p = strings.ReplaceAll(p, `:`, `\:`)
	return "'" + p + "'"
}
