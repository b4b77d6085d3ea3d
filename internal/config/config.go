package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func Load() (*Config, error) {
	dbPath := os.Getenv("BRIDGEMEM_DB")
	if dbPath == "" {
		dbPath = "bridgemem.db"
	}

	filesRoot := os.Getenv("BRIDGEMEM_FILES")
	if filesRoot == "" {
		filesRoot = "memory"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	schedule := os.Getenv("BRIDGEMEM_HEARTBEAT")
	if schedule == "" {
		schedule = "30 3 * * *"
	}

	engine := DefaultEngine()
	if path := os.Getenv("BRIDGEMEM_CONFIG"); path != "" {
		if err := overlayYAML(path, &engine); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("bridgemem.yml"); err == nil {
		if err := overlayYAML("bridgemem.yml", &engine); err != nil {
			return nil, err
		}
	}

	return &Config{
		DBPath:            dbPath,
		FilesRoot:         filesRoot,
		Timezone:          timezone,
		HeartbeatSchedule: schedule,
		Engine:            engine,
	}, nil
}

func DefaultEngine() Engine {
	return Engine{
		EmbeddingDim:        256,
		ConfidenceThreshold: 0.55,
		CuratedMinConf:      0.7,
		CuratedMaxLines:     40,
		DecayAfterDays:      14,
		DecayStep:           0.05,
		RecencyBiasDays:     7,
		MaxInjectionTokens:  700,
		FactsTopK:           6,
		EpisodesTopK:        4,
		LoopsTopK:           4,
		VectorCandidates:    200,
		MaxFactsPerTurn:     6,
		MaxLoopsPerTurn:     5,
		CheckpointEvery:     5,
		CompressAfterDays:   7,
	}
}

func overlayYAML(path string, engine *Engine) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, engine); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}
