package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
)

var _ adapter.StatusBroadcaster = (*Broadcaster)(nil)

const defaultBuffer = 32

// Broadcaster is an in-process fan-out of job events. Each subscriber owns a
// bounded channel; when it falls behind the oldest queued event is evicted so
// the latest state, including the terminal one, always gets through.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[string]chan model.JobEvent
	buffer int
	log    *zerolog.Logger
}

func NewBroadcaster(buffer int, logger *zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "broadcaster").Logger()
	return &Broadcaster{subs: make(map[string]map[string]chan model.JobEvent), buffer: buffer, log: &l}
}

func (b *Broadcaster) Subscribe(jobID string) *adapter.Subscription {
	ch := make(chan model.JobEvent, b.buffer)
	id := uuid.NewString()

	b.mu.Lock()
	perJob, ok := b.subs[jobID]
	if !ok {
		perJob = make(map[string]chan model.JobEvent)
		b.subs[jobID] = perJob
	}
	perJob[id] = ch
	b.mu.Unlock()

	metrics.SubscriberAdded()
	return &adapter.Subscription{ID: id, JobID: jobID, Events: ch}
}

func (b *Broadcaster) Unsubscribe(jobID, subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	perJob := b.subs[jobID]
	ch, ok := perJob[subscriptionID]
	if !ok {
		return
	}
	delete(perJob, subscriptionID)
	if len(perJob) == 0 {
		delete(b.subs, jobID)
	}
	close(ch)
	metrics.SubscriberRemoved()
}

// Publish never blocks the caller.
func (b *Broadcaster) Publish(jobID string, ev model.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	perJob := b.subs[jobID]
	if len(perJob) == 0 {
		metrics.IncEventDropped("no_subscriber")
		return
	}
	for id, ch := range perJob {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest queued event and retry once.
		select {
		case <-ch:
			metrics.IncEventDropped("slow_subscriber")
		default:
		}
		select {
		case ch <- ev:
		default:
			metrics.IncEventDropped("slow_subscriber")
			b.log.Warn().Str("job_id", jobID).Str("subscription", id).Msg("event dropped")
		}
	}
}

// Subscribers reports how many observers a job currently has.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
