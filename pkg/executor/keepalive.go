package executor

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"
)

// DefaultKeepAliveInterval is how long a stream may stay silent before a
// keep-alive update is injected.
const DefaultKeepAliveInterval = 30 * time.Second

// KeepAlive wraps a status update channel and injects synthetic working
// updates whenever the executor produces nothing for interval, so that
// long model calls do not let proxies time the connection out.
func KeepAlive(ctx context.Context, in <-chan protocol.StreamingMessageEvent, interval time.Duration, log logr.Logger) <-chan protocol.StreamingMessageEvent {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	out := make(chan protocol.StreamingMessageEvent)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.V(1).Info("context cancelled, stopping keep-alive")
				return

			case event, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- event:
					ticker.Reset(interval)
				case <-ctx.Done():
					return
				}

			case <-ticker.C:
				log.V(1).Info("injecting keep-alive update")
				message := protocol.Message{
					Kind:      protocol.KindMessage,
					Role:      protocol.MessageRoleAgent,
					MessageID: protocol.GenerateMessageID(),
					Parts:     []protocol.Part{protocol.NewTextPart("Keep-alive from server")},
					Metadata:  map[string]any{"type": "keepalive"},
				}
				select {
				case out <- protocol.StreamingMessageEvent{
					Result: &protocol.TaskStatusUpdateEvent{
						Status: protocol.TaskStatus{
							State:   protocol.TaskStateWorking,
							Message: &message,
						},
					},
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
