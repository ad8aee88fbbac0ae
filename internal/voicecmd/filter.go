// Package voicecmd implements control phrase detection on final transcripts.
// Candidates can steer the interview by voice ("stop the interview", "repeat
// the question", "skip this question"); matching phrases are intercepted
// before the utterance reaches the conversation turn pipeline.
//
// Exact matching uses regex patterns; a Jaro-Winkler fallback tolerates the
// misspellings streaming STT produces for short imperative phrases.
package voicecmd

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Command identifies a recognised interview control phrase.
type Command int

const (
	// CmdNone means the transcript is a regular answer, not a command.
	CmdNone Command = iota

	// CmdStop ends the interview session.
	CmdStop

	// CmdRepeat asks the interviewer to repeat the last question.
	CmdRepeat

	// CmdSkip moves on without answering the current question.
	CmdSkip
)

// String returns the short command label used in logs and metrics.
func (c Command) String() string {
	switch c {
	case CmdStop:
		return "stop"
	case CmdRepeat:
		return "repeat"
	case CmdSkip:
		return "skip"
	default:
		return "none"
	}
}

// pattern pairs a compiled regex with its command and the canonical phrase
// used for fuzzy matching.
type pattern struct {
	cmd       Command
	regex     *regexp.Regexp
	canonical string
}

// fuzzyThreshold is the minimum Jaro-Winkler similarity between the trailing
// words of a transcript and a canonical phrase for a fuzzy match. Tuned so
// that "stop the intervue" matches while ordinary answers do not.
const fuzzyThreshold = 0.92

// Filter checks final transcripts against the interview control phrases.
//
// All methods are safe for concurrent use; the pattern table is fixed at
// construction time.
type Filter struct {
	patterns []pattern
}

// New creates a Filter with the built-in control phrase set.
func New() *Filter {
	return &Filter{patterns: defaultPatterns()}
}

// Match reports which control command, if any, the transcript expresses.
// Matching is case-insensitive and ignores leading and trailing whitespace
// and sentence punctuation. Commands must stand alone: a phrase embedded in
// a longer answer is not treated as a command.
func (f *Filter) Match(text string) Command {
	trimmed := normalize(text)
	if trimmed == "" {
		return CmdNone
	}

	for _, p := range f.patterns {
		if p.regex.MatchString(trimmed) {
			return p.cmd
		}
	}

	// Fuzzy pass: compare against canonical phrases with the same word
	// count so a four-word transcript is scored against four-word phrases.
	words := strings.Fields(trimmed)
	for _, p := range f.patterns {
		canonWords := strings.Fields(p.canonical)
		if len(words) != len(canonWords) {
			continue
		}
		if matchr.JaroWinkler(trimmed, p.canonical, false) >= fuzzyThreshold {
			return p.cmd
		}
	}

	return CmdNone
}

// normalize lowercases text and strips surrounding whitespace and trailing
// sentence punctuation.
func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(s, ".!?,")
}

// defaultPatterns returns the built-in control phrase set.
func defaultPatterns() []pattern {
	return []pattern{
		{
			cmd:       CmdStop,
			regex:     regexp.MustCompile(`^(please\s+)?(stop|end|finish)\s+(the\s+)?interview$`),
			canonical: "stop the interview",
		},
		{
			cmd:       CmdRepeat,
			regex:     regexp.MustCompile(`^(please\s+)?(repeat|say)\s+(the\s+|that\s+)?question(\s+again)?$`),
			canonical: "repeat the question",
		},
		{
			cmd:       CmdSkip,
			regex:     regexp.MustCompile(`^(please\s+)?(skip|pass)(\s+(this|the|that))?\s+question$`),
			canonical: "skip this question",
		},
	}
}
