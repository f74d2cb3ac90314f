package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// promptTimeout bounds how long a test waits on the player before giving up.
const promptTimeout = 60 * time.Second

// persistTimeout bounds background result writes.
const persistTimeout = 5 * time.Second

// ErrPromptTimeout reports an unanswered situational prompt.
var ErrPromptTimeout = errors.New("situational prompt timed out")

// wsPrompter collects a situational adjustment over the client's
// WebSocket. A dismissed reply returns nil, nil, which calls the test off.
type wsPrompter struct {
	client *Client
}

func (p *wsPrompter) CollectSituational(ctx context.Context, req rules.PromptRequest) (*rules.PromptResponse, error) {
	promptID := uuid.NewString()
	ch := p.client.addPending(promptID)
	defer p.client.removePending(promptID)

	p.client.sendEnvelope(MsgTestPrompt, PromptPayload{
		PromptID: promptID,
		ActorID:  req.ActorID,
		Label:    req.Label,
		Target:   req.Target,
	})

	timer := time.NewTimer(promptTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Dismissed {
			return nil, nil
		}
		return &rules.PromptResponse{
			Modifier:        reply.Modifier,
			SuccessLevelMod: reply.SuccessLevelMod,
		}, nil
	case <-timer.C:
		return nil, ErrPromptTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
