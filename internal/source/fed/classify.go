package fed

import (
	"regexp"
	"strings"
)

// Document buckets. The combined feed mixes every publication kind, so
// titles are keyword-matched in priority order; press_release is the
// catch-all.
const (
	BucketFOMCStatement = "fomc_statement"
	BucketSpeech        = "speech"
	BucketTestimony     = "testimony"
	BucketMinutes       = "minutes"
	BucketPressRelease  = "press_release"
)

var buckets = []struct {
	name     string
	keywords []string
}{
	{BucketFOMCStatement, []string{"fomc", "federal open market committee", "policy statement"}},
	{BucketSpeech, []string{"speech", "remarks", "statement by", "governor", "chair"}},
	{BucketTestimony, []string{"testimony", "testifies", "congress"}},
	{BucketMinutes, []string{"minutes"}},
}

// Classify assigns a document bucket from title and summary text.
func Classify(title, summary string) string {
	text := strings.ToLower(title + " " + summary)
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(text, kw) {
				return b.name
			}
		}
	}
	return BucketPressRelease
}

// Fed headlines lead with the official's role: "Chair Powell remarks at...",
// "Governor Waller speech on...". Vice Chair must be tried before Chair so
// the longer form wins.
var speakerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(vice\s+chair(?:man)?\s+\w+)`),
	regexp.MustCompile(`(?i)(chair(?:man)?\s+\w+)`),
	regexp.MustCompile(`(?i)(governor\s+\w+)`),
}

var spaceRun = regexp.MustCompile(`\s+`)

// ExtractSpeaker pulls the official's role and surname out of a speech
// title. Best effort; returns "" when nothing matches.
func ExtractSpeaker(title string) string {
	for _, p := range speakerPatterns {
		if m := p.FindStringSubmatch(title); m != nil {
			return spaceRun.ReplaceAllString(strings.TrimSpace(m[1]), " ")
		}
	}
	return ""
}
