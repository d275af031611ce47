package docfs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EHfive/sopsfs"
)

// Rapid mutations inside one flush interval must coalesce into a single
// batch carrying all of their events, prefixed by the root and
// synthetic-entry changes.
func TestRapidMutationsCoalesce(t *testing.T) {
	f, err := New(filepath.Join(t.TempDir(), "doc.sops.json"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	ch := make(chan []sopsfs.Event, 4)

	cancel := f.Subscribe(func(events []sopsfs.Event) {
		ch <- events
	})
	t.Cleanup(cancel)

	f.enqueue(sopsfs.Event{Path: "a", Kind: sopsfs.EventCreated})
	f.enqueue(sopsfs.Event{Path: "b", Kind: sopsfs.EventDeleted})

	select {
	case batch := <-ch:
		assert.Equal(t, []sopsfs.Event{
			{Path: ".", Kind: sopsfs.EventChanged},
			{Path: "raw_data.json", Kind: sopsfs.EventChanged},
			{Path: "a", Kind: sopsfs.EventCreated},
			{Path: "b", Kind: sopsfs.EventDeleted},
		}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("no event batch arrived")
	}

	// nothing left to flush: the second enqueue joined the pending batch
	// instead of arming another timer
	select {
	case batch := <-ch:
		t.Fatalf("unexpected second batch: %v", batch)
	case <-time.After(3 * flushInterval):
	}
}
