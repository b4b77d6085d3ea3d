package engine

import (
	"regexp"
	"strings"

	"github.com/bowerhall/bridgemem/internal/store"
)

// queryProfile is the parsed shape of the incoming user text that the
// retrieval pipeline works from.
type queryProfile struct {
	Raw        string
	Tokens     []string
	Entities   []string
	Tags       []string
	Projects   []string
	Predicates []string
	TimeHint   bool
}

var (
	hashTagRe  = regexp.MustCompile(`#([a-zA-Z0-9_-]+)`)
	recallRe   = regexp.MustCompile(`(?i)\b(remember|recall|remind|what did (?:we|i)|did (?:we|i)|last time|previously|earlier|we decided|we agreed)\b`)
	timeHintRe = regexp.MustCompile(`(?i)\b(yesterday|today|last (?:week|month|night)|\d+ (?:days?|weeks?|months?) ago|two weeks ago|january|february|march|april|may|june|july|august|september|october|november|december)\b`)
)

// predicateTriggers maps query keywords to the predicates the extraction
// rules produce, so a question about "timezone" reaches the stored triple
// even without lexical overlap on the object.
var predicateTriggers = map[string]string{
	"timezone":   "timezone",
	"time":       "timezone",
	"prefer":     "answer_style",
	"preference": "answer_style",
	"style":      "answer_style",
	"stack":      "uses_stack",
	"framework":  "uses_stack",
	"frontend":   "uses_stack",
	"backend":    "uses_stack",
	"tool":       "used_for",
	"always":     "constraint",
	"never":      "constraint",
}

func parseQuery(userText string) queryProfile {
	p := queryProfile{
		Raw:    userText,
		Tokens: store.Tokenize(userText),
	}

	seen := make(map[string]bool)
	for _, m := range capitalizedRe.FindAllString(userText, 10) {
		if !seen[m] {
			seen[m] = true
			p.Entities = append(p.Entities, m)
		}
	}

	for _, m := range hashTagRe.FindAllStringSubmatch(userText, 10) {
		p.Tags = append(p.Tags, strings.ToLower(m[1]))
	}

	for _, m := range projectMarkerRe.FindAllStringSubmatch(userText, 10) {
		name := strings.ToLower(m[1])
		p.Projects = append(p.Projects, name)
		p.Tags = append(p.Tags, "project:"+name)
		p.Entities = append(p.Entities, "project:"+name)
	}

	predSeen := make(map[string]bool)
	for _, tok := range p.Tokens {
		if pred, ok := predicateTriggers[tok]; ok && !predSeen[pred] {
			predSeen[pred] = true
			p.Predicates = append(p.Predicates, pred)
		}
	}

	p.TimeHint = timeHintRe.MatchString(userText)
	return p
}

// memorySensitive gates injection: recall language, a time reference, or a
// named project/predicate all indicate the turn wants background memory.
func (p queryProfile) memorySensitive() bool {
	if recallRe.MatchString(p.Raw) {
		return true
	}
	if p.TimeHint {
		return true
	}
	return len(p.Projects) > 0 || len(p.Predicates) > 0
}
