package engine

import (
	"fmt"
	"strings"
)

// estimateTokens approximates the token count of rendered text as word
// count times 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return words * 13 / 10
}

// renderBudgeted renders the sections as labeled bullet lists and trims to
// the token budget: open loops are popped first, then episodes, then facts,
// always keeping at least one fact.
func (e *Engine) renderBudgeted(s Sections) (string, int, Sections) {
	for {
		text := renderSections(s)
		est := estimateTokens(text)
		if est <= e.cfg.MaxInjectionTokens {
			return text, est, s
		}

		switch {
		case len(s.OpenLoops) > 0:
			s.OpenLoops = s.OpenLoops[:len(s.OpenLoops)-1]
		case len(s.Episodes) > 0:
			s.Episodes = s.Episodes[:len(s.Episodes)-1]
		case len(s.StableFacts) > 1:
			s.StableFacts = s.StableFacts[:len(s.StableFacts)-1]
		default:
			return text, est, s
		}
	}
}

func renderSections(s Sections) string {
	var b strings.Builder

	b.WriteString("## Background memory\n\n")

	b.WriteString("Stable facts:\n")
	if len(s.StableFacts) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, f := range s.StableFacts {
		fmt.Fprintf(&b, "- %s %s %s\n", f.Subject, f.Predicate, f.Object)
	}

	b.WriteString("\nEpisodes and documents:\n")
	if len(s.Episodes) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, it := range s.Episodes {
		fmt.Fprintf(&b, "- %s\n", firstLine(it.Text(), 240))
	}

	b.WriteString("\nOpen loops:\n")
	if len(s.OpenLoops) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, l := range s.OpenLoops {
		fmt.Fprintf(&b, "- %s\n", l.Text)
	}

	return b.String()
}
