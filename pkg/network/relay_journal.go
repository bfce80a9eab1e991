package network

import (
	"go.uber.org/zap"
)

// journalQueueSize bounds the events waiting for the journal writer
const journalQueueSize = 1024

type journalEvent struct {
	kind       string
	sessionID  string
	name       string
	remoteAddr string
}

// startJournal runs the single writer that drains queued events into the
// journal in arrival order. Relay loops only enqueue, so a slow disk never
// holds up message delivery.
func (rs *RelayServer) startJournal() {
	if rs.config.Journal == nil {
		return
	}

	rs.events = make(chan journalEvent, journalQueueSize)
	rs.journalDone = make(chan struct{})

	go func() {
		defer close(rs.journalDone)
		for ev := range rs.events {
			if err := rs.config.Journal.RecordEvent(ev.kind, ev.sessionID, ev.name, ev.remoteAddr); err != nil {
				rs.logger.Warn("failed to journal event",
					zap.String("kind", ev.kind),
					zap.String("session_id", ev.sessionID),
					zap.Error(err))
			}
		}
	}()
}

// record queues a lifecycle event. When the queue is full the event is
// counted and dropped.
func (rs *RelayServer) record(kind string, s *Session) {
	if rs.events == nil {
		return
	}

	ev := journalEvent{
		kind:       kind,
		sessionID:  s.ID.String(),
		name:       s.Name,
		remoteAddr: s.RemoteAddr,
	}

	select {
	case rs.events <- ev:
	default:
		if rs.journalDropped.Add(1) == 1 {
			rs.logger.Warn("journal queue full, dropping events")
		}
	}
}

// stopJournal flushes queued events. Call only after every connection
// handler has returned.
func (rs *RelayServer) stopJournal() {
	if rs.events == nil {
		return
	}
	close(rs.events)
	<-rs.journalDone
}
