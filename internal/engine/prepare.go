package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/bowerhall/bridgemem/internal/logger"
)

const workingMemoryTurns = 6

// PrepareTurn is the pre-turn entry point: it resolves session state, pulls
// working memory, runs the retrieval pipeline, and renders the developer
// instructions for the reasoning engine. Retrieval failures degrade to an
// empty injection rather than failing the turn.
func (e *Engine) PrepareTurn(ctx context.Context, chatID, userText string) (*TurnContext, error) {
	chat, err := e.store.EnsureChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("ensure chat: %w", err)
	}

	turns, err := e.store.SessionTurnCount(chatID, chat.SessionNo)
	if err != nil {
		return nil, err
	}

	state := TurnState{
		ChatID:    chatID,
		ThreadID:  chat.ThreadID,
		SessionNo: chat.SessionNo,
		TurnCount: turns,
	}

	working, err := e.store.RecentExchanges(chatID, workingMemoryTurns, &chat.SessionNo)
	if err != nil {
		return nil, err
	}

	retrieval, err := e.Retrieve(ctx, chatID, userText)
	if err != nil {
		logger.Warn("retrieval failed, continuing without memory", "chat", chatID, "error", err)
		retrieval = &Retrieval{Gated: true}
	}

	return &TurnContext{
		State:                 state,
		WorkingMemory:         working,
		Retrieval:             retrieval,
		DeveloperInstructions: developerInstructions(state, retrieval),
	}, nil
}

func developerInstructions(state TurnState, r *Retrieval) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %d, turn %d.\n", state.SessionNo, state.TurnCount+1)
	if r != nil && !r.Gated && r.Injection != "" {
		b.WriteString("\n")
		b.WriteString(r.Injection)
		b.WriteString("\nUse the background memory only where relevant; do not recite it.\n")
	}
	return b.String()
}
