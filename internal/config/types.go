package config

// Config is the full runtime configuration for the bridgemem daemon.
type Config struct {
	DBPath            string
	FilesRoot         string
	Timezone          string
	HeartbeatSchedule string

	Engine Engine
}

// Engine holds the memory-engine tunables. Defaults work for a fresh
// install; the optional bridgemem.yml overlays individual values.
type Engine struct {
	EmbeddingDim        int     `yaml:"embedding_dim"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	CuratedMinConf      float64 `yaml:"curated_min_confidence"`
	CuratedMaxLines     int     `yaml:"curated_max_lines"`

	DecayAfterDays int     `yaml:"decay_after_days"`
	DecayStep      float64 `yaml:"decay_step"`

	RecencyBiasDays    int `yaml:"recency_bias_days"`
	MaxInjectionTokens int `yaml:"max_injection_tokens"`
	FactsTopK          int `yaml:"facts_top_k"`
	EpisodesTopK       int `yaml:"episodes_top_k"`
	LoopsTopK          int `yaml:"loops_top_k"`

	// VectorCandidates bounds the brute-force episode scan. Episodes past
	// this window are invisible to vector recall; raise it for long-running
	// conversations.
	VectorCandidates int `yaml:"vector_candidates"`

	MaxFactsPerTurn int `yaml:"max_facts_per_turn"`
	MaxLoopsPerTurn int `yaml:"max_loops_per_turn"`
	CheckpointEvery int `yaml:"checkpoint_every"`

	CompressAfterDays int `yaml:"compress_after_days"`
}
