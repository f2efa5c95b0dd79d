package ui

import "github.com/r3e-network/mergequeue/internal/pipeline"

// Notifier implements pipeline.Ui by broadcasting to every connected
// dashboard over the Hub.
type Notifier struct {
	hub *Hub
}

// NewNotifier builds a Notifier over hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// SendStatus implements pipeline.Ui.
func (n *Notifier) SendStatus(id pipeline.PipelineId, pr pipeline.Pr, status pipeline.Status) error {
	n.hub.BroadcastStatus(id, pr, status)
	return nil
}
