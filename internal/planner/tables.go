package planner

// genreProfile describes the fixed production characteristics of a genre.
type genreProfile struct {
	BPMLo, BPMHi int
	Energy       float64
	Reverb       float64
	Distortion   float64
	Swing        float64
	DrumPattern  string
	BassStyle    string
}

// genreTable is the fixed genre lookup. Genres not listed fall back to
// defaultBPM and neutral production parameters.
var genreTable = map[string]genreProfile{
	"synthwave":     {BPMLo: 100, BPMHi: 140, Energy: 0.6, Reverb: 0.7, Distortion: 0.3, DrumPattern: "four-on-floor", BassStyle: "arp"},
	"lofi":          {BPMLo: 60, BPMHi: 90, Energy: 0.3, Reverb: 0.5, Swing: 0.15, Distortion: 0.2, DrumPattern: "boom-bap", BassStyle: "walking"},
	"hip-hop":       {BPMLo: 80, BPMHi: 100, Energy: 0.5, Reverb: 0.3, Swing: 0.1, Distortion: 0.2, DrumPattern: "boom-bap", BassStyle: "sub"},
	"trap":          {BPMLo: 130, BPMHi: 170, Energy: 0.7, Reverb: 0.4, Distortion: 0.3, DrumPattern: "808-grid", BassStyle: "sub"},
	"drum-and-bass": {BPMLo: 160, BPMHi: 180, Energy: 0.9, Reverb: 0.4, Distortion: 0.4, DrumPattern: "dnb-syncop", BassStyle: "reese"},
	"dnb":           {BPMLo: 160, BPMHi: 180, Energy: 0.9, Reverb: 0.4, Distortion: 0.4, DrumPattern: "dnb-syncop", BassStyle: "reese"},
	"house":         {BPMLo: 118, BPMHi: 130, Energy: 0.7, Reverb: 0.4, Distortion: 0.2, DrumPattern: "four-on-floor", BassStyle: "straight"},
	"techno":        {BPMLo: 125, BPMHi: 135, Energy: 0.8, Reverb: 0.4, Distortion: 0.4, DrumPattern: "four-on-floor", BassStyle: "straight"},
	"ambient":       {BPMLo: 60, BPMHi: 80, Energy: 0.2, Reverb: 0.9, Distortion: 0.1, DrumPattern: "sparse", BassStyle: "drone"},
	"rock":          {BPMLo: 100, BPMHi: 140, Energy: 0.8, Reverb: 0.3, Distortion: 0.7, DrumPattern: "backbeat", BassStyle: "root"},
	"metal":         {BPMLo: 120, BPMHi: 180, Energy: 1.0, Reverb: 0.2, Distortion: 0.9, DrumPattern: "backbeat", BassStyle: "root"},
	"jazz":          {BPMLo: 90, BPMHi: 140, Energy: 0.5, Reverb: 0.4, Swing: 0.2, Distortion: 0.1, DrumPattern: "swing", BassStyle: "walking"},
	"blues":         {BPMLo: 60, BPMHi: 100, Energy: 0.5, Reverb: 0.3, Swing: 0.25, Distortion: 0.4, DrumPattern: "shuffle", BassStyle: "walking"},
	"pop":           {BPMLo: 100, BPMHi: 130, Energy: 0.7, Reverb: 0.4, Distortion: 0.2, DrumPattern: "four-on-floor", BassStyle: "root"},
	"edm":           {BPMLo: 120, BPMHi: 150, Energy: 0.9, Reverb: 0.5, Distortion: 0.3, DrumPattern: "four-on-floor", BassStyle: "straight"},
	"cinematic":     {BPMLo: 70, BPMHi: 110, Energy: 0.6, Reverb: 0.8, Distortion: 0.1, DrumPattern: "sparse", BassStyle: "drone"},
}

// defaultBPM applies when no requested genre is in the table.
const defaultBPM = 120

// Mood names, in stable table order.
const (
	MoodUplifting   = "uplifting"
	MoodMelancholic = "melancholic"
	MoodAggressive  = "aggressive"
	MoodDreamy      = "dreamy"
	MoodCinematic   = "cinematic"
	MoodDark        = "dark"
	MoodChill       = "chill"
)

// moodOrder fixes the matching precedence: the first mood whose keyword
// appears in the prompt wins.
var moodOrder = []string{
	MoodUplifting, MoodMelancholic, MoodAggressive, MoodDreamy,
	MoodCinematic, MoodDark, MoodChill,
}

// moodKeywords maps a mood to the prompt words that select it.
var moodKeywords = map[string][]string{
	MoodUplifting:   {"happy", "uplifting", "joyful", "bright", "celebrate", "sunny", "hopeful"},
	MoodMelancholic: {"sad", "melancholic", "melancholy", "longing", "nostalgic", "rain", "lonely", "goodbye"},
	MoodAggressive:  {"aggressive", "angry", "rage", "fight", "hard", "brutal", "intense"},
	MoodDreamy:      {"dreamy", "dream", "night", "nights", "stars", "floating", "ethereal", "hazy"},
	MoodCinematic:   {"cinematic", "epic", "trailer", "orchestral", "heroic", "vast"},
	MoodDark:        {"dark", "shadow", "haunted", "sinister", "gloom", "cold"},
	MoodChill:       {"chill", "relax", "calm", "mellow", "smooth", "easy"},
}

// moodKeys maps a mood to its candidate keys, selected by seed mod len.
var moodKeys = map[string][]string{
	MoodUplifting:   {"C major", "G major", "D major", "A major"},
	MoodMelancholic: {"A minor", "D minor", "E minor", "B minor"},
	MoodAggressive:  {"E minor", "F# minor", "C# minor", "G minor"},
	MoodDreamy:      {"F major", "Bb major", "Eb major", "C major"},
	MoodCinematic:   {"D minor", "C major", "Eb major", "G minor"},
	MoodDark:        {"C minor", "F minor", "G# minor", "Bb minor"},
	MoodChill:       {"C major", "A minor", "G major", "E minor"},
}

// Scale names.
const (
	ScaleMajor      = "major"
	ScaleMinor      = "minor"
	ScaleBlues      = "blues"
	ScalePentatonic = "pentatonic"
)

// chordTemplates maps (mood, scale) to the four-chord loop used for every
// section of that mood. Blues and pentatonic scales reuse the minor voicing
// unless listed explicitly.
var chordTemplates = map[string]map[string][]string{
	MoodUplifting: {
		ScaleMajor: {"I", "V", "vi", "IV"},
		ScaleMinor: {"i", "VI", "III", "VII"},
	},
	MoodMelancholic: {
		ScaleMajor: {"I", "vi", "IV", "V"},
		ScaleMinor: {"i", "VI", "iv", "v"},
	},
	MoodAggressive: {
		ScaleMajor: {"I", "bVII", "IV", "I"},
		ScaleMinor: {"i", "bII", "v", "i"},
	},
	MoodDreamy: {
		ScaleMajor: {"Imaj7", "IVmaj7", "vi7", "V"},
		ScaleMinor: {"i7", "VImaj7", "III", "VII"},
	},
	MoodCinematic: {
		ScaleMajor: {"I", "V", "IV", "vi"},
		ScaleMinor: {"i", "VII", "VI", "v"},
	},
	MoodDark: {
		ScaleMajor: {"I", "bVI", "bVII", "I"},
		ScaleMinor: {"i", "bII", "VI", "v"},
	},
	MoodChill: {
		ScaleMajor: {"Imaj7", "V7", "ii7", "IV"},
		ScaleMinor: {"i7", "iv7", "VII", "VI"},
	},
}

// knownVocalLanguages is the set accepted when lyrics are supplied.
var knownVocalLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "ja": true, "ko": true, "zh": true, "nl": true,
	"english": true, "spanish": true, "french": true, "german": true,
	"italian": true, "portuguese": true, "japanese": true, "korean": true,
}
