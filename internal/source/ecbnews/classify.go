package ecbnews

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Document buckets. Everything that matches no pattern falls back to
// press_release.
const (
	BucketPressRelease = "press_release"
	BucketSpeech       = "speech"
	BucketPolicy       = "policy"
	BucketBulletin     = "bulletin"
)

type bucketPatterns struct {
	bucket   string
	patterns []*regexp.Regexp
}

// Checked in priority order: a policy decision titled "Speech by ..." does
// not exist in practice, but policy wins if it did.
var classifiers = []bucketPatterns{
	{BucketPolicy, compileAll(
		`monetary policy decisions?`,
		`governing council`,
		`interest rate`,
		`key ecb interest rates`,
		`policy decision`,
	)},
	{BucketSpeech, compileAll(
		`speech by`,
		`remarks by`,
		`keynote`,
		`interview with`,
		`statement by`,
	)},
	{BucketBulletin, compileAll(
		`economic bulletin`,
		`monthly bulletin`,
		`quarterly bulletin`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Classify assigns a document bucket from title and summary text.
func Classify(title, summary string) string {
	text := strings.ToLower(title + " " + summary)
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if p.MatchString(text) {
				return c.bucket
			}
		}
	}
	return BucketPressRelease
}

var speakerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:speech|remarks|interview|statement)\s+by\s+([A-Z][a-z]+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)(?:\s+at|\s+in|\s+to|\s+for|\s+on|,|$)`),
	regexp.MustCompile(`([A-Z][a-z]+\s+[A-Z][a-z]+)\s*,\s*(?:President|Vice-President|Member|Chief)`),
}

var spaceRun = regexp.MustCompile(`\s+`)

// ExtractSpeaker pulls a speaker name out of a speech title or the leading
// content. Best effort; returns "" when nothing plausible matches.
func ExtractSpeaker(title, content string) string {
	content = truncateRunes(content, 500)
	text := title + " " + content
	for _, p := range speakerPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			name := spaceRun.ReplaceAllString(strings.TrimSpace(m[1]), " ")
			if len(name) > 3 && len(name) < 50 {
				return name
			}
		}
	}
	return ""
}

// truncateRunes cuts s to at most n bytes, backing up so a multi-byte UTF-8
// rune is dropped whole rather than split.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
