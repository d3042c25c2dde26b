// Package realtime fans analysis lifecycle events out to websocket
// subscribers so dashboards update without polling.
package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediscan/backend/pkg/logger"
)

// Event is one progress notification for an analysis.
type Event struct {
	Type       string      `json:"type"`
	AnalysisID string      `json:"analysis_id,omitempty"`
	PatientID  string      `json:"patient_id,omitempty"`
	Stage      string      `json:"stage,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

const (
	EventStage    = "stage"
	EventComplete = "complete"
	EventArtifact = "artifact"
	EventError    = "error"
)

type Subscriber struct {
	// PatientID filters events to one patient; empty receives all.
	PatientID string
	ch        chan Event
}

// Events is the subscriber's receive channel.
func (s *Subscriber) Events() <-chan Event { return s.ch }

type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new listener. The caller must Unsubscribe when the
// connection closes.
func (h *Hub) Subscribe(patientID string) *Subscriber {
	sub := &Subscriber{
		PatientID: patientID,
		ch:        make(chan Event, 32),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	logger.Debug("Realtime subscriber added", zap.Int("subscribers", n))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Publish delivers an event to every matching subscriber. Slow consumers
// with a full buffer drop the event rather than block the pipeline.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.PatientID != "" && sub.PatientID != ev.PatientID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logger.Warn("Dropping realtime event for slow subscriber",
				zap.String("type", ev.Type),
				zap.String("analysis_id", ev.AnalysisID),
			)
		}
	}
}

// Stage publishes a pipeline stage transition.
func (h *Hub) Stage(analysisID, patientID, stage string) {
	h.Publish(Event{Type: EventStage, AnalysisID: analysisID, PatientID: patientID, Stage: stage})
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
