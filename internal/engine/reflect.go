package engine

import (
	"regexp"
	"strings"

	"github.com/bowerhall/bridgemem/internal/store"
)

type factCandidate struct {
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
	Tags       []string
	Excerpt    string
}

type episodeCandidate struct {
	Summary  string
	Entities []string
	Tags     []string
	Salience float64
}

// factRule is one independent extraction heuristic: pure text in,
// zero or more candidates out. Rules run in order and never fail — a
// non-matching rule just yields nothing.
type factRule struct {
	name  string
	apply func(text string) []factCandidate
}

var factRules = []factRule{
	{"timezone", extractTimezone},
	{"answer_style", extractAnswerStyle},
	{"project_stack", extractProjectStack},
	{"constraint", extractConstraint},
	{"tool_usage", extractToolUsage},
}

var timezoneRe = regexp.MustCompile(`(?i)\b(?:my time\s?zone is|i(?:'m| am) (?:in|on))\s+(UTC[+-]\d{1,2}|[A-Z][a-z]+/[A-Za-z_]+)`)

func extractTimezone(text string) []factCandidate {
	m := timezoneRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return []factCandidate{{
		Subject:    "user",
		Predicate:  "timezone",
		Object:     m[1],
		Confidence: 0.9,
		Tags:       []string{"identity"},
		Excerpt:    m[0],
	}}
}

var answerStyleRe = regexp.MustCompile(`(?i)\bprefer\s+(short|concise|brief|detailed|long|thorough)\s+(?:answers|responses|replies)`)

func extractAnswerStyle(text string) []factCandidate {
	m := answerStyleRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return []factCandidate{{
		Subject:    "user",
		Predicate:  "answer_style",
		Object:     strings.ToLower(m[1]),
		Confidence: 0.85,
		Tags:       []string{"preference"},
		Excerpt:    m[0],
	}}
}

var projectStackRe = regexp.MustCompile(`(?i)\bproject[:\s]+([a-z0-9_-]+)[^.!?\n]*?\b(?:uses|using|built (?:on|with)|stack is)\s+([^.!?\n]+)`)

func extractProjectStack(text string) []factCandidate {
	var out []factCandidate
	for _, m := range projectStackRe.FindAllStringSubmatch(text, 3) {
		name := strings.ToLower(m[1])
		out = append(out, factCandidate{
			Subject:    "project:" + name,
			Predicate:  "uses_stack",
			Object:     strings.TrimSpace(m[2]),
			Confidence: 0.82,
			Tags:       []string{"project:" + name, "stack"},
			Excerpt:    m[0],
		})
	}
	return out
}

var constraintRe = regexp.MustCompile(`(?i)\b(always|never|must)\b`)

func extractConstraint(text string) []factCandidate {
	var out []factCandidate
	for _, sentence := range splitSentences(text) {
		if !constraintRe.MatchString(sentence) {
			continue
		}
		obj := strings.TrimSpace(sentence)
		if len(obj) < 12 || len(obj) > 200 {
			continue
		}
		out = append(out, factCandidate{
			Subject:    "user",
			Predicate:  "constraint",
			Object:     obj,
			Confidence: 0.75,
			Tags:       []string{"constraint"},
			Excerpt:    sentence,
		})
		if len(out) >= 2 {
			break
		}
	}
	return out
}

var toolUsageRe = regexp.MustCompile(`(?i)\bwe (?:use|are using)\s+([A-Za-z][A-Za-z0-9._+-]*)\s+for\s+([^.!?\n]+)`)

func extractToolUsage(text string) []factCandidate {
	var out []factCandidate
	for _, m := range toolUsageRe.FindAllStringSubmatch(text, 3) {
		out = append(out, factCandidate{
			Subject:    m[1],
			Predicate:  "used_for",
			Object:     strings.TrimSpace(m[2]),
			Confidence: 0.7,
			Tags:       []string{"tooling"},
			Excerpt:    m[0],
		})
	}
	return out
}

// reflectFacts runs every rule over both sides of the exchange, drops
// sensitive-context candidates, and dedupes by triple within the batch.
func reflectFacts(userText, assistantText string, maxFacts int) []factCandidate {
	var all []factCandidate
	for _, text := range []string{userText, assistantText} {
		for _, rule := range factRules {
			all = append(all, rule.apply(text)...)
		}
	}

	seen := make(map[string]bool)
	var kept []factCandidate
	for _, c := range all {
		if isSensitiveContext(c.Excerpt) || isSensitiveContext(c.Object) {
			continue
		}
		key := store.FactKey(c.Subject, c.Predicate, c.Object)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, c)
		if maxFacts > 0 && len(kept) >= maxFacts {
			break
		}
	}
	return kept
}

var (
	decisionLineRe  = regexp.MustCompile(`(?i)\b(decided?|deciding|plan(?:ned|ning)? to|next step|agreed)\b`)
	projectMarkerRe = regexp.MustCompile(`(?i)\bproject:([a-z0-9_-]+)`)
	capitalizedRe   = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]{2,}\b`)
)

// reflectEpisode produces at most one narrative summary per turn, anchored
// on a detected decision line when one exists.
func reflectEpisode(userText, assistantText string) *episodeCandidate {
	combined := strings.TrimSpace(userText + "\n" + assistantText)

	hasDecision := decisionLineRe.MatchString(combined)
	hasProject := projectMarkerRe.MatchString(combined)
	if !hasDecision && !hasProject && len(combined) < 180 {
		return nil
	}

	summary := ""
	if hasDecision {
		for _, sentence := range splitSentences(combined) {
			if decisionLineRe.MatchString(sentence) {
				summary = strings.TrimSpace(sentence)
				break
			}
		}
	}
	if summary == "" {
		sentences := splitSentences(combined)
		if len(sentences) == 0 {
			return nil
		}
		summary = strings.TrimSpace(sentences[0])
	}
	if len(summary) > 280 {
		summary = summary[:280]
	}

	salience := 0.68
	if hasDecision {
		salience = 0.85
	}

	var entities []string
	entitySeen := make(map[string]bool)
	for _, m := range capitalizedRe.FindAllString(combined, 12) {
		if !entitySeen[m] {
			entitySeen[m] = true
			entities = append(entities, m)
		}
	}

	var tags []string
	for _, m := range projectMarkerRe.FindAllStringSubmatch(combined, 4) {
		tags = append(tags, "project:"+strings.ToLower(m[1]))
	}
	if hasDecision {
		tags = append(tags, "decision")
	}

	return &episodeCandidate{
		Summary:  summary,
		Entities: entities,
		Tags:     tags,
		Salience: salience,
	}
}

var loopMarkerRe = regexp.MustCompile(`(?i)\b(todo|follow[- ]?up|open loop|next step)\b`)

// reflectOpenLoops pulls action-item lines out of the assistant text.
func reflectOpenLoops(assistantText string, maxLoops int) []string {
	var loops []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(assistantText, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• \t"))
		if line == "" || !loopMarkerRe.MatchString(line) {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		loops = append(loops, line)
		if maxLoops > 0 && len(loops) >= maxLoops {
			break
		}
	}
	return loops
}

var resolutionRe = regexp.MustCompile(`(?i)\b(done|resolved|completed|closed)\b`)

func mentionsResolution(userText string) bool {
	return resolutionRe.MatchString(userText)
}

// loopMatchesResolution checks token overlap between an open loop and the
// resolving utterance. Two shared tokens is enough; resolution markers
// themselves don't count.
func loopMatchesResolution(loopText, userText string) bool {
	userTokens := make(map[string]bool)
	for _, t := range store.Tokenize(userText) {
		if !resolutionRe.MatchString(t) {
			userTokens[t] = true
		}
	}

	overlap := 0
	for _, t := range store.Tokenize(loopText) {
		if userTokens[t] {
			overlap++
			if overlap >= 2 {
				return true
			}
		}
	}
	return false
}

var sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitRe.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
