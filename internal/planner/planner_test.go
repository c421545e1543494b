package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songforge/songforge/internal/models"
)

func synthwaveRequest() Request {
	return Request{
		Prompt:      "dreamy synthwave nights",
		Genres:      []string{"synthwave"},
		DurationSec: 60,
	}
}

func TestPlanDeterministic(t *testing.T) {
	first, err := Plan(synthwaveRequest())
	require.NoError(t, err)
	second, err := Plan(synthwaveRequest())
	require.NoError(t, err)

	a, err := MarshalPlan(first)
	require.NoError(t, err)
	b, err := MarshalPlan(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b), "identical requests must produce identical plans")
}

func TestPlanSynthwaveScenario(t *testing.T) {
	plan, err := Plan(synthwaveRequest())
	require.NoError(t, err)

	// Synthwave's table range is (100, 140); the mean is 120 and jitter stays
	// within ±5.
	assert.GreaterOrEqual(t, plan.BPM, 115)
	assert.LessOrEqual(t, plan.BPM, 125)

	assert.Equal(t, MoodDreamy, plan.Mood)
	assert.Contains(t, moodKeys[MoodDreamy], plan.Key)
	assert.Equal(t, ScaleMajor, plan.Scale)

	require.NotEmpty(t, plan.Sections)
	assert.Equal(t, "intro", plan.Sections[0].Name)
	assert.Equal(t, "outro", plan.Sections[len(plan.Sections)-1].Name)

	assert.Equal(t, chordTemplates[MoodDreamy][ScaleMajor], plan.ChordsBySection["intro"])
	assert.Equal(t, 60, plan.DurationSec)
}

func TestPlanExplicitSeedOverrides(t *testing.T) {
	seed := int64(7)
	req := synthwaveRequest()
	req.Seed = &seed

	plan, err := Plan(req)
	require.NoError(t, err)
	assert.Equal(t, seed, plan.Seed)

	again, err := Plan(req)
	require.NoError(t, err)
	assert.Equal(t, plan, again)
}

func TestPlanBPMWeighting(t *testing.T) {
	// dnb (170 mean) first, ambient (70 mean) second: weights 1 and 0.5 give
	// (170 + 35) / 1.5 ≈ 137 before jitter.
	plan, err := Plan(Request{
		Prompt:      "fast breaks over deep pads",
		Genres:      []string{"dnb", "ambient"},
		DurationSec: 60,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, plan.BPM, 131)
	assert.LessOrEqual(t, plan.BPM, 142)
}

func TestPlanUnknownGenreDefaults(t *testing.T) {
	plan, err := Plan(Request{
		Prompt:      "strange sounds",
		Genres:      []string{"vaporgrind"},
		DurationSec: 45,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, plan.BPM, 115)
	assert.LessOrEqual(t, plan.BPM, 125)
	assert.Equal(t, "four-on-floor", plan.DrumPattern)
}

func TestPlanScaleOverrides(t *testing.T) {
	plan, err := Plan(Request{
		Prompt:      "smoky bar at midnight",
		Genres:      []string{"jazz"},
		DurationSec: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, ScaleBlues, plan.Scale)

	plan, err = Plan(Request{
		Prompt:      "study session",
		Genres:      []string{"lofi"},
		DurationSec: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, ScalePentatonic, plan.Scale)
	assert.Equal(t, "boom-bap", plan.DrumPattern)
}

func TestPlanSectionBudget(t *testing.T) {
	short, err := Plan(Request{Prompt: "quick jingle", Genres: []string{"pop"}, DurationSec: 30})
	require.NoError(t, err)
	long, err := Plan(Request{Prompt: "quick jingle", Genres: []string{"pop"}, DurationSec: 120})
	require.NoError(t, err)

	assert.Less(t, len(short.Sections), len(long.Sections))
	assert.Equal(t, "outro", short.Sections[len(short.Sections)-1].Name)
	assert.Equal(t, "outro", long.Sections[len(long.Sections)-1].Name)

	// Total section length never exceeds the requested duration by more than
	// one bar of slack.
	secPerBar := 240.0 / float64(long.BPM)
	var total float64
	for _, s := range long.Sections {
		total += float64(s.Bars) * secPerBar
	}
	assert.LessOrEqual(t, total, float64(long.DurationSec)+secPerBar)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"empty prompt", Request{Prompt: "   ", Genres: []string{"pop"}, DurationSec: 60}},
		{"no genres", Request{Prompt: "x", DurationSec: 60}},
		{"too short", Request{Prompt: "x", Genres: []string{"pop"}, DurationSec: 29}},
		{"too long", Request{Prompt: "x", Genres: []string{"pop"}, DurationSec: 121}},
		{"unknown vocal language", Request{
			Prompt: "x", Genres: []string{"pop"}, DurationSec: 60,
			Lyrics: "la la la", VocalLanguages: []string{"klingon"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.req)
			require.Error(t, err)
			assert.Equal(t, models.ErrClassInvalidRequest, models.Classify(err))
		})
	}

	assert.NoError(t, Validate(Request{Prompt: "x", Genres: []string{"pop"}, DurationSec: 30}))
	assert.NoError(t, Validate(Request{Prompt: "x", Genres: []string{"pop"}, DurationSec: 120}))
}

type failingEnricher struct{}

func (failingEnricher) Enrich(ctx context.Context, req Request) (Request, error) {
	return Request{}, errors.New("suggestion service down")
}

type genreEnricher struct{}

func (genreEnricher) Enrich(ctx context.Context, req Request) (Request, error) {
	req.Genres = append(req.Genres, "ambient")
	return req, nil
}

func TestPlannerEnrichmentBestEffort(t *testing.T) {
	ctx := context.Background()

	// A failing enricher must not fail the request.
	p := NewPlanner(failingEnricher{}, nil)
	plan, err := p.Plan(ctx, synthwaveRequest())
	require.NoError(t, err)
	require.NotNil(t, plan)

	// A working enricher shapes the plan.
	p = NewPlanner(genreEnricher{}, nil)
	enriched, err := p.Plan(ctx, synthwaveRequest())
	require.NoError(t, err)
	assert.Equal(t, ScalePentatonic, enriched.Scale, "ambient enrichment overrides the scale")
}

func TestPlanRoundTrip(t *testing.T) {
	plan, err := Plan(synthwaveRequest())
	require.NoError(t, err)

	encoded, err := MarshalPlan(plan)
	require.NoError(t, err)
	decoded, err := UnmarshalPlan(encoded)
	require.NoError(t, err)
	assert.Equal(t, plan, decoded)
}
