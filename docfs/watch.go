package docfs

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/EHfive/sopsfs"
)

// flushInterval throttles change notification: bursts of rapid mutations
// coalesce into one trailing-edge batch per interval.
const flushInterval = 100 * time.Millisecond

// watchLoop reacts to external edits of the stable document. Any event
// touching it invalidates the cached snapshot and announces a root-level
// change; the next access re-derives the snapshot.
func (f *DocFS) watchLoop() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}

			if ev.Name != f.docPath {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}

			f.invalidate()
			f.enqueue(sopsfs.Event{Path: ".", Kind: sopsfs.EventChanged})

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}

			logrus.WithError(err).WithField("document", f.docPath).
				Warn("document watch error")
		}
	}
}

// enqueue buffers events and arms the single-shot flush timer. While a timer
// is pending, further events join the same batch.
func (f *DocFS) enqueue(events ...sopsfs.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.pending = append(f.pending, events...)

	if f.timer == nil {
		f.timer = time.AfterFunc(flushInterval, f.flush)
	}
}

// flush publishes the buffered batch. Every batch is prefixed with a
// root-level change and a synthetic-entry change so consumers watching only
// the root or only the raw entry still observe mutations.
func (f *DocFS) flush() {
	f.mu.Lock()

	batch := f.pending
	f.pending = nil
	f.timer = nil
	closed := f.closed

	f.mu.Unlock()

	if closed || len(batch) == 0 {
		return
	}

	events := make([]sopsfs.Event, 0, len(batch)+2)
	events = append(events,
		sopsfs.Event{Path: ".", Kind: sopsfs.EventChanged},
		sopsfs.Event{Path: f.rawName, Kind: sopsfs.EventChanged},
	)
	events = append(events, batch...)

	f.hub.Publish(events)
}
