// Package planner derives a deterministic MusicPlan from a generation request.
// All randomness flows through a PRNG seeded from the request itself, so the
// same request always produces the same plan.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/songforge/songforge/internal/models"
)

// Duration bounds accepted for a generation request, in seconds.
const (
	MinDurationSec = 30
	MaxDurationSec = 120
)

// Request is the planner's input, extracted from a generation request.
type Request struct {
	Prompt            string   `json:"prompt"`
	Genres            []string `json:"genres"`
	DurationSec       int      `json:"duration_sec"`
	ArtistInspiration []string `json:"artist_inspiration,omitempty"`
	Lyrics            string   `json:"lyrics,omitempty"`
	VocalLanguages    []string `json:"vocal_languages,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
}

// Section is one structural block of the song.
type Section struct {
	Name string `json:"name"`
	Bars int    `json:"bars"`
}

// MusicPlan is the fully derived blueprint the sequencer and renderer consume.
type MusicPlan struct {
	BPM             int                 `json:"bpm"`
	Key             string              `json:"key"`
	Scale           string              `json:"scale"`
	Mood            string              `json:"mood"`
	Sections        []Section           `json:"sections"`
	ChordsBySection map[string][]string `json:"chords_by_section"`
	DurationSec     int                 `json:"duration_sec"`
	DrumPattern     string              `json:"drum_pattern"`
	BassStyle       string              `json:"bass_style"`
	Energy          float64             `json:"energy"`
	Reverb          float64             `json:"reverb"`
	Distortion      float64             `json:"distortion"`
	Swing           float64             `json:"swing"`
	Seed            int64               `json:"seed"`
}

// Enricher can rewrite a request before planning, e.g. expanding the prompt or
// genre list from an external suggestion source. Enrichment is best-effort:
// errors are logged and the original request is used.
type Enricher interface {
	Enrich(ctx context.Context, req Request) (Request, error)
}

// Planner wraps the pure planning function with optional enrichment.
type Planner struct {
	enricher Enricher
	logger   *slog.Logger
}

// NewPlanner creates a Planner. enricher may be nil.
func NewPlanner(enricher Enricher, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{enricher: enricher, logger: logger}
}

// Plan validates the request, applies optional enrichment, and derives the
// plan. Enrichment failures never fail the request.
func (p *Planner) Plan(ctx context.Context, req Request) (*MusicPlan, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	if p.enricher != nil {
		enriched, err := p.enricher.Enrich(ctx, req)
		if err != nil {
			p.logger.Warn("prompt enrichment failed, planning from original request",
				slog.String("error", err.Error()),
			)
		} else if Validate(enriched) == nil {
			req = enriched
		}
	}

	return Plan(req)
}

// Validate checks the request against the planner's input contract.
func Validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return models.NewClassifiedf(models.ErrClassInvalidRequest, "prompt must not be empty")
	}
	if len(req.Genres) == 0 {
		return models.NewClassifiedf(models.ErrClassInvalidRequest, "at least one genre is required")
	}
	if req.DurationSec < MinDurationSec || req.DurationSec > MaxDurationSec {
		return models.NewClassifiedf(models.ErrClassInvalidRequest,
			"duration_sec must be between %d and %d", MinDurationSec, MaxDurationSec)
	}
	if req.Lyrics != "" {
		for _, lang := range req.VocalLanguages {
			if !knownVocalLanguages[strings.ToLower(lang)] {
				return models.NewClassifiedf(models.ErrClassInvalidRequest,
					"unknown vocal language %q", lang)
			}
		}
	}
	return nil
}

// Plan derives the MusicPlan from a validated request. Pure: no I/O, no
// wall-clock.
func Plan(req Request) (*MusicPlan, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	seed := deriveSeed(req)
	rng := rand.New(rand.NewSource(seed))

	bpm := deriveBPM(req.Genres, rng)
	mood := detectMood(req.Prompt)
	key := selectKey(mood, seed)
	scale := deriveScale(key, req.Genres)

	sections := buildSections(req.DurationSec, bpm)
	chords := chordsFor(sections, mood, key, scale)
	energy, reverb, distortion, swing := productionParams(req.Genres)
	drumPattern, bassStyle := styleFor(req.Genres)

	return &MusicPlan{
		BPM:             bpm,
		Key:             key,
		Scale:           scale,
		Mood:            mood,
		Sections:        sections,
		ChordsBySection: chords,
		DurationSec:     req.DurationSec,
		DrumPattern:     drumPattern,
		BassStyle:       bassStyle,
		Energy:          energy,
		Reverb:          reverb,
		Distortion:      distortion,
		Swing:           swing,
		Seed:            seed,
	}, nil
}

// deriveSeed returns the explicit seed, or the first 32 bits of the SHA-256
// of the canonical request encoding.
func deriveSeed(req Request) int64 {
	if req.Seed != nil {
		return *req.Seed
	}

	// The request struct marshals deterministically field-by-field, and the
	// canonical pass normalizes key order and number forms.
	encoded, err := json.Marshal(req)
	if err != nil {
		return 0
	}
	canonical, err := models.CanonicalJSON(encoded)
	if err != nil {
		canonical = encoded
	}
	sum := sha256.Sum256(canonical)
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

// deriveBPM computes the position-weighted mean of the genre BPM ranges with
// seed-derived jitter of at most ±5, clamped to 60..200.
func deriveBPM(genres []string, rng *rand.Rand) int {
	var weighted, totalWeight float64
	for i, genre := range genres {
		weight := 1.0 / float64(i+1)
		mean := float64(defaultBPM)
		if profile, ok := genreTable[normalizeGenre(genre)]; ok {
			mean = float64(profile.BPMLo+profile.BPMHi) / 2
		}
		weighted += mean * weight
		totalWeight += weight
	}

	bpm := defaultBPM
	if totalWeight > 0 {
		bpm = int(weighted/totalWeight + 0.5)
	}
	bpm += rng.Intn(11) - 5

	if bpm < 60 {
		bpm = 60
	}
	if bpm > 200 {
		bpm = 200
	}
	return bpm
}

// detectMood matches prompt words against the fixed keyword table. The first
// mood in table order with a matching word wins; the default is chill.
func detectMood(prompt string) string {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		words[w] = true
	}

	for _, mood := range moodOrder {
		for _, keyword := range moodKeywords[mood] {
			if words[keyword] {
				return mood
			}
		}
	}
	return MoodChill
}

// selectKey picks from the mood's key list using the raw seed, not the PRNG,
// so key choice is independent of how many PRNG draws preceded it.
func selectKey(mood string, seed int64) string {
	keys := moodKeys[mood]
	if len(keys) == 0 {
		keys = moodKeys[MoodChill]
	}
	idx := int(uint64(seed) % uint64(len(keys)))
	return keys[idx]
}

// deriveScale reads the scale off the key label, then applies genre overrides.
func deriveScale(key string, genres []string) string {
	scale := ScaleMajor
	if strings.HasSuffix(key, "minor") {
		scale = ScaleMinor
	}

	for _, genre := range genres {
		switch normalizeGenre(genre) {
		case "blues", "jazz":
			return ScaleBlues
		case "lofi", "hip-hop", "ambient":
			return ScalePentatonic
		}
	}
	return scale
}

// sectionSpec is one step of the fixed structure walk.
type sectionSpec struct {
	name string
	bars int
}

// structureWalk is the section order consumed greedily against the duration
// budget. The closing outro is appended separately and is always present.
var structureWalk = []sectionSpec{
	{"intro", 4},
	{"verse", 8},
	{"chorus", 8},
	{"verse", 8},
	{"chorus", 8},
	{"bridge", 8},
	{"breakdown", 8},
	{"chorus", 8},
}

const outroBars = 4

// buildSections walks the fixed structure, consuming bars until the remaining
// seconds drop below two bars, then closes with an outro sized from whatever
// is left.
func buildSections(durationSec, bpm int) []Section {
	secPerBar := 240.0 / float64(bpm) // 4 beats per bar
	threshold := 2 * secPerBar

	remaining := float64(durationSec)
	var sections []Section

	for _, spec := range structureWalk {
		cost := float64(spec.bars) * secPerBar
		if remaining-cost < threshold {
			break
		}
		sections = append(sections, Section{Name: spec.name, Bars: spec.bars})
		remaining -= cost
	}

	bars := int(remaining/secPerBar + 0.5)
	if bars < 1 {
		bars = 1
	}
	if bars > outroBars {
		bars = outroBars
	}
	sections = append(sections, Section{Name: "outro", Bars: bars})
	return sections
}

// chordsFor assigns each distinct section name the (mood, scale) template.
// Blues and pentatonic fall back to the key's base voicing.
func chordsFor(sections []Section, mood, key, scale string) map[string][]string {
	templates := chordTemplates[mood]
	if templates == nil {
		templates = chordTemplates[MoodChill]
	}

	template, ok := templates[scale]
	if !ok {
		base := ScaleMajor
		if strings.HasSuffix(key, "minor") {
			base = ScaleMinor
		}
		template = templates[base]
	}

	chords := make(map[string][]string, len(sections))
	for _, section := range sections {
		chords[section.Name] = template
	}
	return chords
}

// productionParams interpolates energy, reverb, distortion, and swing across
// the requested genres using the same position weighting as BPM.
func productionParams(genres []string) (energy, reverb, distortion, swing float64) {
	var e, r, d, s, totalWeight float64
	for i, genre := range genres {
		profile, ok := genreTable[normalizeGenre(genre)]
		if !ok {
			continue
		}
		weight := 1.0 / float64(i+1)
		e += profile.Energy * weight
		r += profile.Reverb * weight
		d += profile.Distortion * weight
		s += profile.Swing * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0.5, 0.4, 0.2, 0
	}
	return e / totalWeight, r / totalWeight, d / totalWeight, s / totalWeight
}

// styleFor picks drum pattern and bass style from the first recognized genre.
func styleFor(genres []string) (drumPattern, bassStyle string) {
	for _, genre := range genres {
		if profile, ok := genreTable[normalizeGenre(genre)]; ok {
			return profile.DrumPattern, profile.BassStyle
		}
	}
	return "four-on-floor", "straight"
}

func normalizeGenre(genre string) string {
	g := strings.ToLower(strings.TrimSpace(genre))
	g = strings.ReplaceAll(g, " ", "-")
	switch g {
	case "hiphop", "hip-hop", "hip_hop":
		return "hip-hop"
	case "drum-&-bass", "drum&bass", "d&b":
		return "dnb"
	case "lo-fi":
		return "lofi"
	}
	return g
}

// MarshalPlan encodes a plan for storage in a job result or child params.
func MarshalPlan(plan *MusicPlan) (models.JSON, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	return models.JSON(data), nil
}

// UnmarshalPlan decodes a plan from a stored job payload.
func UnmarshalPlan(data models.JSON) (*MusicPlan, error) {
	var plan MusicPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return &plan, nil
}
