package events

import (
	"github.com/wudi/attachkit/observability"
	"github.com/wudi/attachkit/session"
)

// Notifier implements the session's UI collaborator interfaces by publishing
// events, decoupling the session from any concrete surface. Publish failures
// are logged and dropped; UI notification is auxiliary to the operation.
type Notifier struct {
	bus *Bus
}

var (
	_ session.UINotifier  = (*Notifier)(nil)
	_ session.ListingView = (*Notifier)(nil)
)

// NewNotifier publishes UI collaborator calls on bus.
func NewNotifier(bus *Bus) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) ShowProgress(text string) {
	n.publish(Event{Kind: KindProgress, Text: text})
}

func (n *Notifier) HideProgress() {
	n.publish(Event{Kind: KindProgressDone})
}

func (n *Notifier) ShowAlert(title, message string) {
	n.publish(Event{Kind: KindAlert, Title: title, Message: message})
}

func (n *Notifier) ShowStaged(names []string) {
	n.publish(Event{Kind: KindStaged, Names: append([]string(nil), names...)})
}

func (n *Notifier) ResetStaged() {
	n.publish(Event{Kind: KindCleared})
}

func (n *Notifier) publish(ev Event) {
	if err := n.bus.Publish(ev); err != nil {
		n.bus.logger.Warn("dropping session event", observability.Error("cause", err))
	}
}
