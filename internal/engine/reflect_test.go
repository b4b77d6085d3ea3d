package engine

import "testing"

func TestExtractTimezone(t *testing.T) {
	got := extractTimezone("My timezone is Europe/Berlin by the way")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Object != "Europe/Berlin" || got[0].Predicate != "timezone" {
		t.Errorf("unexpected candidate: %+v", got[0])
	}

	if got := extractTimezone("nothing about zones here"); got != nil {
		t.Errorf("expected no candidates, got %+v", got)
	}
}

func TestExtractAnswerStyle(t *testing.T) {
	got := extractAnswerStyle("I prefer short answers please")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Object != "short" {
		t.Errorf("expected 'short', got %q", got[0].Object)
	}
}

func TestExtractProjectStack(t *testing.T) {
	got := extractProjectStack("For project:apollo we are using TypeScript + React.")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Subject != "project:apollo" {
		t.Errorf("expected project subject, got %q", got[0].Subject)
	}
	if got[0].Object != "TypeScript + React" {
		t.Errorf("expected stack object, got %q", got[0].Object)
	}
}

func TestExtractConstraint(t *testing.T) {
	got := extractConstraint("Please never deploy on Fridays. Also the sky is blue.")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Predicate != "constraint" {
		t.Errorf("expected constraint predicate, got %q", got[0].Predicate)
	}
}

func TestExtractToolUsage(t *testing.T) {
	got := extractToolUsage("we use Grafana for dashboards")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Subject != "Grafana" || got[0].Predicate != "used_for" {
		t.Errorf("unexpected candidate: %+v", got[0])
	}
}

func TestReflectFactsDropsSensitive(t *testing.T) {
	got := reflectFacts("my password must always stay secret", "", 10)
	for _, c := range got {
		if isSensitiveContext(c.Excerpt) {
			t.Errorf("sensitive candidate leaked: %+v", c)
		}
	}
}

func TestReflectFactsDedupesBatch(t *testing.T) {
	// same triple reachable from both sides of the exchange
	got := reflectFacts("My timezone is Europe/Berlin", "My timezone is Europe/Berlin", 10)
	if len(got) != 1 {
		t.Errorf("expected batch dedupe to 1 candidate, got %d", len(got))
	}
}

func TestReflectEpisodeDecision(t *testing.T) {
	ep := reflectEpisode("short question", "We decided to use Next.js for project:atlas going forward")
	if ep == nil {
		t.Fatal("expected an episode")
	}
	if ep.Salience != 0.85 {
		t.Errorf("expected decision salience 0.85, got %v", ep.Salience)
	}
	found := false
	for _, tag := range ep.Tags {
		if tag == "project:atlas" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected project tag, got %v", ep.Tags)
	}
}

func TestReflectEpisodeSkipsSmallTalk(t *testing.T) {
	if ep := reflectEpisode("hi", "hello there"); ep != nil {
		t.Errorf("expected no episode for small talk, got %+v", ep)
	}
}

func TestReflectEpisodeLongText(t *testing.T) {
	long := "This is a fairly long explanation of the system architecture that keeps going on and on about various components and their responsibilities in considerable detail for quite a while longer."
	ep := reflectEpisode(long, "")
	if ep == nil {
		t.Fatal("expected an episode for long text")
	}
	if ep.Salience != 0.68 {
		t.Errorf("expected generic salience 0.68, got %v", ep.Salience)
	}
}

func TestReflectOpenLoops(t *testing.T) {
	assistant := "Sure.\n- TODO: ship the migration\n- follow-up: check backups\njust chatting here"
	loops := reflectOpenLoops(assistant, 5)
	if len(loops) != 2 {
		t.Fatalf("expected 2 loops, got %d: %v", len(loops), loops)
	}
}

func TestLoopResolutionMatching(t *testing.T) {
	if !loopMatchesResolution("TODO: ship the billing migration", "the billing migration is done") {
		t.Error("expected overlap match")
	}
	if loopMatchesResolution("TODO: ship the billing migration", "dinner is done") {
		t.Error("expected no match on unrelated resolution")
	}
}
