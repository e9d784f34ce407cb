package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
)

// Publisher pushes realtime events to connected clients. *realtime.Gateway
// satisfies it.
type Publisher interface {
	PushToUsers(userIDs []string, event realtime.Event)
	EvictFromChat(chatID string, userIDs ...string)
}

type noopPublisher struct{}

func (noopPublisher) PushToUsers([]string, realtime.Event) {}
func (noopPublisher) EvictFromChat(string, ...string)      {}

func publisherOrNoop(publisher Publisher) Publisher {
	if publisher == nil {
		return noopPublisher{}
	}
	return publisher
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// timeoutError reports a storage call cut short by the request deadline as
// Unavailable, whatever error the driver surfaced.
func timeoutError(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || errors.Is(err, apperror.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", apperror.ErrUnavailable, ctx.Err())
}

func without(ids []string, excluded string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != excluded {
			out = append(out, id)
		}
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
