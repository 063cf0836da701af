// Package text canonicalizes learner-submitted sentences so that cache lookups
// and remote stage calls see the same bytes regardless of how a browser or
// editor encoded the whitespace.
package text

import (
	"regexp"
	"strings"
)

// Whitespace variants folded into an ASCII space.
const (
	noBreakSpace = "\u00a0"
	enSpace      = "\u2002"
	emSpace      = "\u2003"
	thinSpace    = "\u2009"
	tabChar      = "\t"
	asciiSpace   = " "
)

const repeatedSpacePattern = ` {2,}`

// Normalizer folds special whitespace into ASCII spaces, collapses runs and trims.
type Normalizer struct {
	spaceReplacer *strings.Replacer
	repeatedSpace *regexp.Regexp
}

// NewNormalizer creates a Normalizer with its replacer and pattern prepared upfront.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		spaceReplacer: strings.NewReplacer(
			noBreakSpace, asciiSpace,
			enSpace, asciiSpace,
			emSpace, asciiSpace,
			thinSpace, asciiSpace,
			tabChar, asciiSpace,
		),
		repeatedSpace: regexp.MustCompile(repeatedSpacePattern),
	}
}

// Normalize returns s with special whitespace replaced, consecutive spaces
// collapsed to one and surrounding spaces trimmed. It is idempotent.
func (n *Normalizer) Normalize(s string) string {
	if s == "" {
		return s
	}

	out := n.spaceReplacer.Replace(s)
	out = n.repeatedSpace.ReplaceAllString(out, asciiSpace)

	return strings.Trim(out, asciiSpace)
}

var defaultNormalizer = NewNormalizer()

// NormalizeSpaces normalizes s with a shared Normalizer.
func NormalizeSpaces(s string) string {
	return defaultNormalizer.Normalize(s)
}
