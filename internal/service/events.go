package service

import (
	"github.com/voyagen/stationvault/internal/catalog"
	"github.com/voyagen/stationvault/internal/models"
)

// EventKind classifies progress events.
type EventKind string

const (
	EventState           EventKind = "state"
	EventFetched         EventKind = "fetched"
	EventLinkProgress    EventKind = "link_progress"
	EventPersistStarted  EventKind = "persist_started"
	EventPersistFinished EventKind = "persist_finished"
)

// Event is an advisory progress signal.
type Event struct {
	Kind     EventKind
	State    models.ImportState
	Endpoint catalog.Endpoint
	Count    int
	Done     int
	Total    int
	Err      error
}

// Observer receives events one at a time, in emission order.
type Observer func(Event)

func (im *Importer) emit(ev Event) {
	if im.observer == nil {
		return
	}
	im.observMu.Lock()
	defer im.observMu.Unlock()
	im.observer(ev)
}
