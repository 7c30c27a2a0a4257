package dialect

import (
	"regexp"
	"strings"
)

// Some models leak private chain-of-thought wrapped in sentinel tags. None of
// it may reach the client, whether the block arrives paired, as stray tags, or
// as lone sentinel tokens.
var (
	pairedThinking = regexp.MustCompile(`(?is)<(think|thinking|thought|antthinking)>.*?</(think|thinking|thought|antthinking)>`)
	strayThinking  = regexp.MustCompile(`(?i)</?(think|thinking|thought|antthinking)>`)

	// Sentinel-wrapped blocks, full-width bar and ASCII variants.
	sentinelBlock = regexp.MustCompile(`(?s)<[｜|]begin[^｜|]*[｜|]>.*?<[｜|]end[^｜|]*[｜|]>`)
	sentinelToken = regexp.MustCompile(`<[｜|][^｜|<>]*[｜|]>`)
)

// StripThinking removes thinking blocks, stray tags, and sentinel tokens from
// model output. Pure.
func StripThinking(s string) string {
	if s == "" {
		return s
	}
	if !strings.Contains(s, "<") {
		return s
	}
	s = pairedThinking.ReplaceAllString(s, "")
	s = sentinelBlock.ReplaceAllString(s, "")
	s = strayThinking.ReplaceAllString(s, "")
	s = sentinelToken.ReplaceAllString(s, "")
	return s
}

// thinkingFilter strips thinking content from a stream of text deltas. Tags
// usually arrive whole inside one delta; when an opening tag arrives without
// its close, everything is swallowed until the closing tag shows up in a later
// delta.
type thinkingFilter struct {
	inBlock  bool
	closeTag *regexp.Regexp
}

var openThinking = regexp.MustCompile(`(?i)<(think|thinking|thought|antthinking)>`)

func (f *thinkingFilter) filter(s string) string {
	if f.inBlock {
		loc := f.closeTag.FindStringIndex(s)
		if loc == nil {
			return ""
		}
		f.inBlock = false
		s = s[loc[1]:]
	}

	s = pairedThinking.ReplaceAllString(s, "")
	s = sentinelBlock.ReplaceAllString(s, "")

	// An opening tag with no close in this delta starts a swallowed block.
	if loc := openThinking.FindStringIndex(s); loc != nil {
		name := strings.Trim(strings.ToLower(s[loc[0]:loc[1]]), "<>")
		f.inBlock = true
		f.closeTag = regexp.MustCompile(`(?i)</` + name + `>`)
		s = s[:loc[0]]
	}

	s = strayThinking.ReplaceAllString(s, "")
	return sentinelToken.ReplaceAllString(s, "")
}
