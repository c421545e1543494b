package renderer

import (
	"fmt"
	"strings"
	"time"
)

// wordsPerCaption is how many lyric words each caption chunk carries.
const wordsPerCaption = 6

// Caption is one timed subtitle entry.
type Caption struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// BuildCaptions splits the lyrics into fixed-size word chunks and distributes
// them evenly across the duration.
func BuildCaptions(lyrics string, durationSec int) []Caption {
	words := strings.Fields(lyrics)
	if len(words) == 0 || durationSec <= 0 {
		return nil
	}

	var chunks []string
	for i := 0; i < len(words); i += wordsPerCaption {
		end := i + wordsPerCaption
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}

	slot := time.Duration(durationSec) * time.Second / time.Duration(len(chunks))
	captions := make([]Caption, len(chunks))
	for i, text := range chunks {
		captions[i] = Caption{
			Index: i + 1,
			Start: time.Duration(i) * slot,
			End:   time.Duration(i+1) * slot,
			Text:  text,
		}
	}
	return captions
}

// FormatSRT renders captions in SubRip format.
func FormatSRT(captions []Caption) string {
	var sb strings.Builder
	for i, c := range captions {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n",
			c.Index, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return sb.String()
}

// srtTimestamp formats a duration as HH:MM:SS,mmm.
func srtTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
