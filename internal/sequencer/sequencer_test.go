package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songforge/songforge/internal/planner"
)

func testPlan(pattern string, swing float64) *planner.MusicPlan {
	return &planner.MusicPlan{
		BPM:         120,
		Key:         "C major",
		Scale:       planner.ScaleMajor,
		DurationSec: 4, // exactly two bars at 120 bpm
		DrumPattern: pattern,
		Swing:       swing,
	}
}

func TestEventsOrderedAndBounded(t *testing.T) {
	events := Events(testPlan("four-on-floor", 0))
	require.NotEmpty(t, events)

	prev := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.TSec, prev, "events must be time-ordered")
		assert.Less(t, ev.TSec, 4.0, "events must stay inside the duration")
		prev = ev.TSec
	}
}

func TestEventsFourOnFloorCounts(t *testing.T) {
	// Two bars at 120 bpm: 8 beats, 16 eighths.
	byType := EventsByType(Events(testPlan("four-on-floor", 0)))

	assert.Len(t, byType[EventKick], 8, "kick on every beat")
	assert.Len(t, byType[EventSnare], 4, "snare on beats 2 and 4")
	assert.Len(t, byType[EventHat], 16, "hat on every eighth")
	assert.Len(t, byType[EventBass], 4, "bass on beats 1 and 3")
	assert.Len(t, byType[EventLead], 16, "lead on every eighth")
}

func TestEventsKnownBeatTimes(t *testing.T) {
	byType := EventsByType(Events(testPlan("four-on-floor", 0)))

	kicks := byType[EventKick]
	require.Len(t, kicks, 8)
	// At 120 bpm a beat is 0.5s.
	for i, k := range kicks {
		assert.InDelta(t, float64(i)*0.5, k.TSec, 1e-9)
	}

	snares := byType[EventSnare]
	require.Len(t, snares, 4)
	assert.InDelta(t, 0.5, snares[0].TSec, 1e-9)
	assert.InDelta(t, 1.5, snares[1].TSec, 1e-9)
}

func TestEventsPatternOverrides(t *testing.T) {
	dnb := EventsByType(Events(testPlan("dnb-syncop", 0)))
	assert.Len(t, dnb[EventKick], 4, "dnb kick mask has two hits per bar")

	grid := EventsByType(Events(testPlan("808-grid", 0)))
	assert.Len(t, grid[EventHat], 32, "808 grid hats run on every sixteenth")
	assert.Len(t, grid[EventSnare], 2, "808 grid snare hits once per bar")
}

func TestEventsSwingShiftsOddEighths(t *testing.T) {
	straight := EventsByType(Events(testPlan("four-on-floor", 0)))
	swung := EventsByType(Events(testPlan("four-on-floor", 0.2)))

	// eighth = 0.25s at 120 bpm; swing shifts odd eighths by 0.2*0.25 = 0.05s.
	sHats := straight[EventHat]
	wHats := swung[EventHat]
	require.Equal(t, len(sHats), len(wHats))

	assert.InDelta(t, sHats[0].TSec, wHats[0].TSec, 1e-9, "even eighths stay put")
	assert.InDelta(t, sHats[1].TSec+0.05, wHats[1].TSec, 1e-9, "odd eighths are delayed")
	assert.InDelta(t, sHats[2].TSec, wHats[2].TSec, 1e-9)
}

func TestEventsPitches(t *testing.T) {
	byType := EventsByType(Events(testPlan("four-on-floor", 0)))

	require.NotEmpty(t, byType[EventLead])
	assert.Equal(t, 60, byType[EventLead][0].Pitch, "lead carries the key root")
	assert.Equal(t, 36, byType[EventBass][0].Pitch, "bass is two octaves down")
	assert.Zero(t, byType[EventKick][0].Pitch)
}

func TestRootFrequencyHz(t *testing.T) {
	assert.InDelta(t, 261.63, RootFrequencyHz("C major"), 0.01)
	assert.InDelta(t, 440.0, RootFrequencyHz("A minor"), 0.01)
	assert.InDelta(t, 261.63, RootFrequencyHz("H weird"), 0.01, "unknown keys fall back to C")
}
