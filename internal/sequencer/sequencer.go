// Package sequencer turns a MusicPlan into a time-ordered event grid. The
// output is pure data; the renderer maps events onto transcoder invocations.
package sequencer

import (
	"math"
	"sort"
	"strings"

	"github.com/songforge/songforge/internal/planner"
)

// EventType identifies which stem an event triggers.
type EventType string

const (
	EventKick  EventType = "kick"
	EventSnare EventType = "snare"
	EventHat   EventType = "hat"
	EventBass  EventType = "bass"
	EventLead  EventType = "lead"
)

// StemTypes lists every stem in render order.
var StemTypes = []EventType{EventKick, EventSnare, EventHat, EventBass, EventLead}

// Event is one scheduled stem hit. Pitch is a MIDI note number for pitched
// stems and zero for drums.
type Event struct {
	TSec  float64   `json:"t_sec"`
	Type  EventType `json:"type"`
	Pitch int       `json:"pitch,omitempty"`
}

// stepsPerBar is the resolution of the drum grid: sixteenth notes in 4/4.
const stepsPerBar = 16

// drumMasks holds the 16-step hit masks for the three drum voices.
type drumMasks struct {
	kick  []int
	snare []int
	hat   []int
}

// fourOnFloor is the default grid: kick on every beat, snare on 2 and 4, hats
// on every eighth.
var fourOnFloor = drumMasks{
	kick:  []int{0, 4, 8, 12},
	snare: []int{4, 12},
	hat:   []int{0, 2, 4, 6, 8, 10, 12, 14},
}

// patternMasks overrides the drum grid for named patterns.
var patternMasks = map[string]drumMasks{
	"dnb-syncop": {
		kick:  []int{0, 10},
		snare: []int{4, 12},
		hat:   []int{0, 2, 4, 6, 8, 10, 12, 14},
	},
	"boom-bap": {
		kick:  []int{0, 8, 10},
		snare: []int{4, 12},
		hat:   []int{0, 2, 4, 6, 8, 10, 12, 14},
	},
	"808-grid": {
		kick:  []int{0, 6, 12},
		snare: []int{8},
		hat:   []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	},
}

// bassSteps puts the bass on beats 1 and 3.
var bassSteps = []int{0, 8}

// leadSteps puts the lead on every eighth.
var leadSteps = []int{0, 2, 4, 6, 8, 10, 12, 14}

// Events expands the plan into a strictly ordered event list covering the
// plan's full duration. Ordering is by time, then by stem order for ties.
func Events(plan *planner.MusicPlan) []Event {
	masks := fourOnFloor
	if m, ok := patternMasks[plan.DrumPattern]; ok {
		masks = m
	}

	beatLen := 60.0 / float64(plan.BPM)
	barLen := 4 * beatLen
	stepLen := barLen / stepsPerBar
	eighthLen := beatLen / 2
	duration := float64(plan.DurationSec)

	rootPitch := keyRootMIDI(plan.Key)

	var events []Event
	emit := func(barStart float64, steps []int, typ EventType, pitch int) {
		for _, step := range steps {
			t := barStart + float64(step)*stepLen
			t = applySwing(t, step, plan.Swing, eighthLen)
			if t >= duration {
				continue
			}
			events = append(events, Event{TSec: t, Type: typ, Pitch: pitch})
		}
	}

	for barStart := 0.0; barStart < duration; barStart += barLen {
		emit(barStart, masks.kick, EventKick, 0)
		emit(barStart, masks.snare, EventSnare, 0)
		emit(barStart, masks.hat, EventHat, 0)
		emit(barStart, bassSteps, EventBass, rootPitch-24)
		emit(barStart, leadSteps, EventLead, rootPitch)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TSec != events[j].TSec {
			return events[i].TSec < events[j].TSec
		}
		return stemRank(events[i].Type) < stemRank(events[j].Type)
	})
	return events
}

// EventsByType splits the full grid into per-stem lists, preserving order.
func EventsByType(events []Event) map[EventType][]Event {
	byType := make(map[EventType][]Event, len(StemTypes))
	for _, ev := range events {
		byType[ev.Type] = append(byType[ev.Type], ev)
	}
	return byType
}

// applySwing delays every odd-index eighth by swing * eighth_length. Steps off
// the eighth grid are left in place.
func applySwing(t float64, step int, swing, eighthLen float64) float64 {
	if swing == 0 || step%2 != 0 {
		return t
	}
	eighthIdx := step / 2
	if eighthIdx%2 == 1 {
		return t + swing*eighthLen
	}
	return t
}

func stemRank(typ EventType) int {
	for i, t := range StemTypes {
		if t == typ {
			return i
		}
	}
	return len(StemTypes)
}

// noteOffsets maps note names to semitone offsets from C.
var noteOffsets = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4,
	"F": 5, "F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9,
	"A#": 10, "Bb": 10, "B": 11,
}

// keyRootMIDI returns the MIDI note of the key's root in the fourth octave.
// Unknown labels fall back to middle C.
func keyRootMIDI(key string) int {
	note, _, _ := strings.Cut(key, " ")
	offset, ok := noteOffsets[note]
	if !ok {
		return 60
	}
	return 60 + offset
}

// RootFrequencyHz returns the root frequency of the key in Hz, used by the
// renderer to tune oscillator sources. A4 = 440 Hz.
func RootFrequencyHz(key string) float64 {
	midi := keyRootMIDI(key)
	return 440.0 * math.Exp2((float64(midi)-69.0)/12.0)
}
