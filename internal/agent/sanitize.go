package agent

import (
	"regexp"
	"strings"
)

// Phrases that indicate an attempt to override the persona or smuggle
// instructions into the conversation.
var injectionPatterns = []string{
	"system prompt",
	"system:",
	"[system",
	"<system",
	"assistant:",
	"[assistant",
	"you are now",
	"you are no longer",
	"ignore previous",
	"ignore all previous",
	"ignore your instructions",
	"disregard previous",
	"new instructions",
	"forget everything",
	"forget all",
	"jailbreak",
	"dan mode",
	"developer mode",
	"god mode",
	"admin mode",
	"override",
	"new persona",
	"new character",
	"act as",
	"pretend to be",
	"pretend you are",
	"you're actually",
	"in reality you are",
	"your role is",
	"execute:",
	"eval(",
	"<script",
	"javascript:",
	"base64",
	"rot13",
}

var (
	filterPatterns = compileFilters()
	fenceRe        = regexp.MustCompile("```+|`")
	bracketRe      = regexp.MustCompile(`[\[\]<>]`)
	ruleRe         = regexp.MustCompile(`[#=-]{3,}`)
	spaceRe        = regexp.MustCompile(`\s+`)
)

func compileFilters() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(injectionPatterns))
	for i, p := range injectionPatterns {
		res[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
	}
	return res
}

// detectInjection reports whether the text matches a known override pattern.
func detectInjection(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range injectionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// filterText strips override phrases and formatting tricks from the text.
func filterText(text string) string {
	for _, re := range filterPatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = fenceRe.ReplaceAllString(text, "")
	text = bracketRe.ReplaceAllString(text, "")
	text = ruleRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Sanitize neutralizes prompt-injection attempts in user input. It returns
// the cleaned text and whether the input looked like an injection. Losing
// most of the words to filtering counts as one too.
func Sanitize(text string) (string, bool) {
	injection := detectInjection(text)
	filtered := filterText(text)

	originalWords := len(strings.Fields(text))
	filteredWords := len(strings.Fields(filtered))
	if originalWords > 3 && filteredWords < originalWords/2 {
		injection = true
	}

	return filtered, injection
}
