package engine

import (
	"context"
	"fmt"
	"strings"
)

// RefreshCuratedFiles regenerates the two human-auditable digests from the
// current top facts above the curated confidence floor, then re-indexes
// them. The curated floor is deliberately higher than the retrieval
// threshold: these files are the trusted long-term record.
func (e *Engine) RefreshCuratedFiles(ctx context.Context, chatID string) error {
	facts, err := e.store.TopFacts(chatID, e.cfg.CuratedMaxLines*2, e.cfg.CuratedMinConf)
	if err != nil {
		return err
	}

	var memory, profile strings.Builder
	memory.WriteString("# Long-term memory\n\n")
	profile.WriteString("# User profile\n\n")

	memoryLines, profileLines := 0, 0
	for _, f := range facts {
		line := fmt.Sprintf("- %s %s %s (%.2f)\n", f.Subject, f.Predicate, f.Object, f.Confidence)
		if memoryLines < e.cfg.CuratedMaxLines {
			memory.WriteString(line)
			memoryLines++
		}
		if strings.EqualFold(f.Subject, "user") && profileLines < e.cfg.CuratedMaxLines {
			profile.WriteString(fmt.Sprintf("- %s: %s\n", f.Predicate, f.Object))
			profileLines++
		}
	}
	if memoryLines == 0 {
		memory.WriteString("(nothing retained yet)\n")
	}
	if profileLines == 0 {
		profile.WriteString("(nothing known yet)\n")
	}

	memPath, err := e.files.WriteCuratedMemory(chatID, memory.String())
	if err != nil {
		return err
	}
	profPath, err := e.files.WriteCuratedProfile(chatID, profile.String())
	if err != nil {
		return err
	}

	if err := e.indexFile(ctx, chatID, memPath); err != nil {
		return err
	}
	return e.indexFile(ctx, chatID, profPath)
}
