package adapter

import "github.com/Lemmeyg/howtube2-sub000/internal/domain/model"

type Subscription struct {
	ID     string
	JobID  string
	Events <-chan model.JobEvent
}

// StatusBroadcaster fans job events out to the observers currently subscribed.
// Publishing with no observer drops the event.
type StatusBroadcaster interface {
	Subscribe(jobID string) *Subscription
	Publish(jobID string, ev model.JobEvent)
	Unsubscribe(jobID, subscriptionID string)
}
