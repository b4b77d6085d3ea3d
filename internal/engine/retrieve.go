package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bowerhall/bridgemem/internal/store"
)

// Score weights. The exact numbers are tunable policy; the shape — additive
// provenance trust + lexical overlap + recency decay + stored confidence +
// topical bias — is the contract.
const (
	sourceExact   = 0.95
	sourceVector  = 0.6
	sourceKeyword = 0.45

	weightOverlap    = 0.8
	weightRecency    = 0.35
	weightConfidence = 0.55

	projectBoost        = 0.22
	projectMissPenalty  = -0.04
	lowConfidencePenal  = -0.35
	gatherLimitPerQuery = 20
)

type candidateKind string

const (
	kindFact     candidateKind = "fact"
	kindEpisode  candidateKind = "episode"
	kindDocument candidateKind = "document"
	kindLoop     candidateKind = "loop"
)

type candidate struct {
	Kind       candidateKind
	ID         int64
	Score      float64
	Confidence float64
	CreatedAt  time.Time
	Text       string
	Tags       []string

	Fact    *store.Fact
	Episode *store.Episode
	Chunk   *store.DocumentChunk
	Loop    *store.OpenLoop
}

// EpisodeItem is one entry of the episodes/documents section.
type EpisodeItem struct {
	Episode  *store.Episode
	Document *store.DocumentChunk
	Score    float64
}

func (it EpisodeItem) Text() string {
	if it.Episode != nil {
		return it.Episode.Summary
	}
	return it.Document.Text
}

type Sections struct {
	StableFacts []store.Fact
	Episodes    []EpisodeItem
	OpenLoops   []store.OpenLoop
}

func (s Sections) empty() bool {
	return len(s.StableFacts) == 0 && len(s.Episodes) == 0 && len(s.OpenLoops) == 0
}

// Retrieval is the ranked, capped, budgeted result of the pre-turn pipeline.
type Retrieval struct {
	Sections  Sections
	Injection string
	EstTokens int
	Gated     bool
}

// Retrieve runs the full pipeline: parse, hybrid gather, merge and score,
// threshold filter, section caps, token-budgeted render, injection gating.
func (e *Engine) Retrieve(ctx context.Context, chatID, userText string) (*Retrieval, error) {
	profile := parseQuery(userText)

	candidates, err := e.gather(ctx, chatID, profile)
	if err != nil {
		return nil, err
	}

	merged := mergeCandidates(candidates)
	e.scoreCandidates(merged, profile)
	filtered := e.thresholdFilter(merged)

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })

	sections := e.capSections(filtered)

	r := &Retrieval{Sections: sections}
	if !profile.memorySensitive() || sections.empty() {
		r.Gated = true
		return r, nil
	}

	r.Injection, r.EstTokens, r.Sections = e.renderBudgeted(sections)
	return r, nil
}

// gather collects candidates from every retrieval primitive independently;
// ranking happens later.
func (e *Engine) gather(ctx context.Context, chatID string, p queryProfile) ([]candidate, error) {
	var out []candidate

	// vector search over recent episodes
	queryEmbedding, err := e.emb.Embed(ctx, p.Raw)
	if err == nil {
		matches, err := e.store.SearchEpisodesVector(chatID, queryEmbedding, gatherLimitPerQuery, e.cfg.VectorCandidates)
		if err != nil {
			return nil, err
		}
		for i := range matches {
			ep := matches[i].Episode
			out = append(out, candidate{
				Kind: kindEpisode, ID: ep.ID,
				Score:      sourceVector + matches[i].Cosine,
				Confidence: ep.Salience,
				CreatedAt:  ep.CreatedAt,
				Text:       ep.Summary,
				Tags:       ep.Tags,
				Episode:    &ep,
			})
		}
	}

	// full-text keyword search: facts, episodes, documents
	factHits, err := e.store.SearchFactsKeyword(chatID, p.Raw, gatherLimitPerQuery)
	if err != nil {
		return nil, err
	}
	for i := range factHits {
		f := factHits[i].Fact
		out = append(out, candidate{
			Kind: kindFact, ID: f.ID,
			Score:      sourceKeyword + 1/float64(1+factHits[i].Rank),
			Confidence: f.Confidence,
			CreatedAt:  f.LastConfirmedAt,
			Text:       f.Subject + " " + f.Predicate + " " + f.Object,
			Tags:       f.Tags,
			Fact:       &f,
		})
	}

	episodeHits, err := e.store.SearchEpisodesKeyword(chatID, p.Raw, gatherLimitPerQuery)
	if err != nil {
		return nil, err
	}
	for i := range episodeHits {
		ep := episodeHits[i].Episode
		out = append(out, candidate{
			Kind: kindEpisode, ID: ep.ID,
			Score:      sourceKeyword + 1/float64(1+episodeHits[i].Rank),
			Confidence: ep.Salience,
			CreatedAt:  ep.CreatedAt,
			Text:       ep.Summary,
			Tags:       ep.Tags,
			Episode:    &ep,
		})
	}

	docHits, err := e.store.SearchDocumentsKeyword(chatID, p.Raw, gatherLimitPerQuery)
	if err != nil {
		return nil, err
	}
	for i := range docHits {
		d := docHits[i].Chunk
		out = append(out, candidate{
			Kind: kindDocument, ID: d.ID,
			Score:     sourceKeyword + 1/float64(1+docHits[i].Rank),
			CreatedAt: d.UpdatedAt,
			Text:      d.Text,
			Tags:      d.Tags,
			Chunk:     &d,
		})
	}

	// exact entity/predicate/tag match: facts and episodes
	exactFacts, err := e.store.SearchFactsExact(chatID, p.Entities, p.Predicates, p.Tags, gatherLimitPerQuery)
	if err != nil {
		return nil, err
	}
	for i := range exactFacts {
		f := exactFacts[i]
		out = append(out, candidate{
			Kind: kindFact, ID: f.ID,
			Score:      sourceExact,
			Confidence: f.Confidence,
			CreatedAt:  f.LastConfirmedAt,
			Text:       f.Subject + " " + f.Predicate + " " + f.Object,
			Tags:       f.Tags,
			Fact:       &f,
		})
	}

	exactEpisodes, err := e.store.SearchEpisodesExact(chatID, p.Entities, p.Tags, gatherLimitPerQuery)
	if err != nil {
		return nil, err
	}
	for i := range exactEpisodes {
		ep := exactEpisodes[i]
		out = append(out, candidate{
			Kind: kindEpisode, ID: ep.ID,
			Score:      sourceExact,
			Confidence: ep.Salience,
			CreatedAt:  ep.CreatedAt,
			Text:       ep.Summary,
			Tags:       ep.Tags,
			Episode:    &ep,
		})
	}

	// open loops, keyword-filtered with recency fallback
	loops, err := e.store.OpenLoops(chatID, p.Raw, gatherLimitPerQuery)
	if err != nil {
		return nil, err
	}
	for i := range loops {
		l := loops[i]
		out = append(out, candidate{
			Kind: kindLoop, ID: l.ID,
			Score:      sourceKeyword,
			Confidence: l.Confidence,
			CreatedAt:  l.UpdatedAt,
			Text:       l.Text,
			Tags:       l.Tags,
			Loop:       &l,
		})
	}

	return out, nil
}

// mergeCandidates dedupes by (kind, id), keeping the best source score when
// several retrieval methods found the same item.
func mergeCandidates(candidates []candidate) []candidate {
	type key struct {
		kind candidateKind
		id   int64
	}
	best := make(map[key]int)
	var merged []candidate
	for _, c := range candidates {
		k := key{c.Kind, c.ID}
		if idx, ok := best[k]; ok {
			if c.Score > merged[idx].Score {
				merged[idx] = c
			}
			continue
		}
		best[k] = len(merged)
		merged = append(merged, c)
	}
	return merged
}

func (e *Engine) scoreCandidates(candidates []candidate, p queryProfile) {
	queryTokens := make(map[string]bool, len(p.Tokens))
	for _, t := range p.Tokens {
		queryTokens[t] = true
	}

	now := time.Now().UTC()
	for i := range candidates {
		c := &candidates[i]

		overlap := tokenOverlap(c.Text, queryTokens)

		ageDays := now.Sub(c.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := 1 / (1 + ageDays/float64(e.cfg.RecencyBiasDays))

		score := c.Score + weightOverlap*overlap + weightRecency*recency + weightConfidence*c.Confidence
		score += projectBias(c.Tags, p.Projects)

		if c.Kind != kindDocument && c.Confidence < e.cfg.ConfidenceThreshold {
			score += lowConfidencePenal
		}

		c.Score = score
	}
}

func tokenOverlap(text string, queryTokens map[string]bool) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	matched := 0
	for _, t := range store.Tokenize(text) {
		if queryTokens[t] {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(queryTokens))
	if overlap > 1 {
		overlap = 1
	}
	return overlap
}

func projectBias(tags []string, projects []string) float64 {
	if len(projects) == 0 {
		return 0
	}
	for _, p := range projects {
		want := "project:" + p
		for _, t := range tags {
			if strings.EqualFold(t, want) {
				return projectBoost
			}
		}
	}
	return projectMissPenalty
}

// thresholdFilter hides sub-threshold candidates only when at least one
// confident one exists; a query that surfaces nothing but low-confidence
// facts still gets them. Documents have no confidence and always pass.
func (e *Engine) thresholdFilter(candidates []candidate) []candidate {
	anyConfident := false
	for _, c := range candidates {
		if c.Kind != kindDocument && c.Confidence >= e.cfg.ConfidenceThreshold {
			anyConfident = true
			break
		}
	}
	if !anyConfident {
		return candidates
	}

	var kept []candidate
	for _, c := range candidates {
		if c.Kind == kindDocument || c.Confidence >= e.cfg.ConfidenceThreshold {
			kept = append(kept, c)
		}
	}
	return kept
}

// capSections splits the ranked candidates into the three sections, each
// capped independently. Episodes and documents share a section.
func (e *Engine) capSections(ranked []candidate) Sections {
	var s Sections
	for _, c := range ranked {
		switch c.Kind {
		case kindFact:
			if len(s.StableFacts) < e.cfg.FactsTopK {
				s.StableFacts = append(s.StableFacts, *c.Fact)
			}
		case kindEpisode:
			if len(s.Episodes) < e.cfg.EpisodesTopK {
				s.Episodes = append(s.Episodes, EpisodeItem{Episode: c.Episode, Score: c.Score})
			}
		case kindDocument:
			if len(s.Episodes) < e.cfg.EpisodesTopK {
				s.Episodes = append(s.Episodes, EpisodeItem{Document: c.Chunk, Score: c.Score})
			}
		case kindLoop:
			if len(s.OpenLoops) < e.cfg.LoopsTopK {
				s.OpenLoops = append(s.OpenLoops, *c.Loop)
			}
		}
	}
	return s
}
