package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// SignalBus is an in-process domain.SignalBus for dev mode and tests. It
// supports the same trailing-* channel patterns as the Redis bus.
type SignalBus struct {
	mu      sync.Mutex
	nextID  int64
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		nextID:  1,
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers the payload to every matching subscriber. Slow
// subscribers drop messages rather than block the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, chans := range b.subs {
		if !channelMatch(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel receiving every message published to the
// given channel or pattern until ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// StreamAppend appends the payload to the named stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.nextID),
		Payload: payload,
	})
	b.nextID++
	return nil
}

// StreamRead returns up to count entries after lastID ("0" for the start).
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		if streamSeq(msg.ID) <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// streamSeq extracts the numeric sequence from a "seq-0" stream ID; "0" and
// empty IDs read as the start of the stream.
func streamSeq(id string) int64 {
	id, _, _ = strings.Cut(id, "-")
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func channelMatch(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
