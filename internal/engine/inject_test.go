package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bowerhall/bridgemem/internal/store"
)

func bigSections(facts, episodes, loops int) Sections {
	var s Sections
	filler := strings.Repeat("rather long descriptive wording ", 6)
	for i := 0; i < facts; i++ {
		s.StableFacts = append(s.StableFacts, store.Fact{
			Subject: fmt.Sprintf("subject%d", i), Predicate: "relates_to", Object: filler,
		})
	}
	for i := 0; i < episodes; i++ {
		ep := &store.Episode{Summary: fmt.Sprintf("episode %d: %s", i, filler)}
		s.Episodes = append(s.Episodes, EpisodeItem{Episode: ep})
	}
	for i := 0; i < loops; i++ {
		s.OpenLoops = append(s.OpenLoops, store.OpenLoop{
			Text: fmt.Sprintf("loop %d: %s", i, filler),
		})
	}
	return s
}

func TestInjectionBudget(t *testing.T) {
	eng := newTestEngine(t)
	eng.cfg.MaxInjectionTokens = 120

	text, est, trimmed := eng.renderBudgeted(bigSections(4, 4, 4))

	if est > eng.cfg.MaxInjectionTokens {
		t.Errorf("estimated tokens %d exceed budget %d", est, eng.cfg.MaxInjectionTokens)
	}
	if text == "" {
		t.Error("expected rendered injection")
	}
	if len(trimmed.StableFacts) == 0 {
		t.Error("expected at least one fact to survive trimming")
	}

	// loops are dropped before episodes, episodes before facts
	if len(trimmed.Episodes) < 4 && len(trimmed.OpenLoops) != 0 {
		t.Errorf("episodes trimmed while %d loops remain", len(trimmed.OpenLoops))
	}
	if len(trimmed.StableFacts) < 4 && len(trimmed.Episodes) != 0 {
		t.Errorf("facts trimmed while %d episodes remain", len(trimmed.Episodes))
	}
}

func TestInjectionBudgetKeepsOneFact(t *testing.T) {
	eng := newTestEngine(t)
	eng.cfg.MaxInjectionTokens = 1

	_, _, trimmed := eng.renderBudgeted(bigSections(3, 3, 3))
	if len(trimmed.StableFacts) != 1 {
		t.Errorf("expected exactly one surviving fact, got %d", len(trimmed.StableFacts))
	}
	if len(trimmed.Episodes) != 0 || len(trimmed.OpenLoops) != 0 {
		t.Error("expected loops and episodes fully popped under a tiny budget")
	}
}

func TestRenderSectionsPlaceholders(t *testing.T) {
	text := renderSections(Sections{})
	for _, section := range []string{"Stable facts:", "Episodes and documents:", "Open loops:"} {
		if !strings.Contains(text, section) {
			t.Errorf("missing section label %q", section)
		}
	}
	if strings.Count(text, "(none)") != 3 {
		t.Errorf("expected three (none) placeholders:\n%s", text)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("one two three four"); got != 5 {
		t.Errorf("expected 4 words * 1.3 = 5, got %d", got)
	}
	if got := estimateTokens(""); got != 0 {
		t.Errorf("expected 0 for empty text, got %d", got)
	}
}
