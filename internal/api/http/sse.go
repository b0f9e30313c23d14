package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/revealcast/internal/publish/hub"
)

// streamTopics are the four logical channels a client can subscribe to
// for a given session, matching the Publisher Port topics used by the
// vote, chat, broadcast, and lifecycle components.
var streamTopics = []string{"votes", "vote-events", "vote-response", "chat"}

// streamSession opens a Server-Sent Events connection and relays every
// frame the hub publishes on this session's topics until the client
// disconnects. A reconnecting client is expected to first call
// getSessionState for a snapshot; the stream carries only live updates.
func (s *Server) streamSession(c *gin.Context) {
	id := c.Param("sessionId")

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	channels := make([]chan hub.Frame, 0, len(streamTopics))
	topics := make([]string, 0, len(streamTopics))
	for _, t := range streamTopics {
		topic := t + "/" + id
		channels = append(channels, s.hub.Subscribe(topic))
		topics = append(topics, topic)
	}
	defer func() {
		for i, ch := range channels {
			s.hub.Unsubscribe(topics[i], ch)
		}
	}()

	fmt.Fprintf(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	ctx := c.Request.Context()
	merged := mergeFrames(ctx, channels)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-merged:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Topic, frame.Payload)
			flusher.Flush()
		}
	}
}

// mergeFrames fans multiple subscriber channels into one, so the stream
// loop can select over a single case regardless of topic count. The
// per-topic forwarding goroutines exit when ctx is done, matching the
// caller's Unsubscribe on the same signal.
func mergeFrames(ctx context.Context, channels []chan hub.Frame) <-chan hub.Frame {
	out := make(chan hub.Frame, 32)
	for _, ch := range channels {
		go func(c chan hub.Frame) {
			for {
				select {
				case <-ctx.Done():
					return
				case frame, ok := <-c:
					if !ok {
						return
					}
					select {
					case out <- frame:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}
	return out
}
