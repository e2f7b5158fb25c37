// Package feed is the read-side projection of the license code collection.
// A single goroutine owns the two display partitions and re-derives them from
// the store on every change notification; everything else talks to that
// goroutine through channels.
package feed

import (
	"context"
	"log/slog"

	"github.com/salesmgr/license-server/internal/models"
	"github.com/salesmgr/license-server/internal/store"
)

// Snapshot holds the two issuance partitions, each ordered newest first.
// Records without a generation method (legacy rows) land in Manual.
type Snapshot struct {
	Manual    []models.LicenseCode `json:"manual"`
	Automatic []models.LicenseCode `json:"automatic"`
}

type snapshotReq struct {
	reply chan Snapshot
}

type watchReq struct {
	ch    chan Snapshot
	reply chan struct{}
}

// Feed mirrors store state into presentation partitions. It never mutates
// records. The projection is a full recompute per notification, which
// tolerates out-of-order and batched changes; the collection is license
// codes, not transactional data, so recomputing it is cheap.
type Feed struct {
	store    store.RecordStore
	notifier store.ChangeNotifier

	snapshots chan snapshotReq
	watches   chan watchReq
	unwatches chan chan Snapshot
}

func New(st store.RecordStore, notifier store.ChangeNotifier) *Feed {
	return &Feed{
		store:     st,
		notifier:  notifier,
		snapshots: make(chan snapshotReq),
		watches:   make(chan watchReq),
		unwatches: make(chan chan Snapshot),
	}
}

// Run subscribes to store changes and serves snapshot and watch requests
// until ctx is cancelled. It must be running before Snapshot or Watch are
// called. The change subscription is torn down before Run returns.
func (f *Feed) Run(ctx context.Context) error {
	changes, stop, err := f.notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()

	current := f.reload(ctx, Snapshot{})
	watchers := make(map[chan Snapshot]struct{})

	for {
		select {
		case <-ctx.Done():
			for w := range watchers {
				close(w)
			}
			return ctx.Err()

		case _, ok := <-changes:
			if !ok {
				for w := range watchers {
					close(w)
				}
				return nil
			}
			drain(changes)
			current = f.reload(ctx, current)
			for w := range watchers {
				select {
				case w <- current:
				default:
					// Watcher is behind; the next snapshot supersedes
					// this one anyway.
				}
			}

		case req := <-f.snapshots:
			req.reply <- current

		case req := <-f.watches:
			watchers[req.ch] = struct{}{}
			req.ch <- current
			req.reply <- struct{}{}

		case ch := <-f.unwatches:
			if _, ok := watchers[ch]; ok {
				delete(watchers, ch)
				close(ch)
			}
		}
	}
}

// Snapshot returns the current partitions.
func (f *Feed) Snapshot(ctx context.Context) (Snapshot, error) {
	req := snapshotReq{reply: make(chan Snapshot, 1)}
	select {
	case f.snapshots <- req:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Watch registers a subscriber that receives the current snapshot immediately
// and a new one after every change. The returned cancel function must be
// called when the subscriber goes away.
func (f *Feed) Watch(ctx context.Context) (<-chan Snapshot, func(), error) {
	req := watchReq{ch: make(chan Snapshot, 4), reply: make(chan struct{})}
	select {
	case f.watches <- req:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	<-req.reply

	cancel := func() {
		select {
		case f.unwatches <- req.ch:
		case <-ctx.Done():
		}
	}
	return req.ch, cancel, nil
}

func (f *Feed) reload(ctx context.Context, previous Snapshot) Snapshot {
	recs, err := f.store.ListAll(ctx)
	if err != nil {
		slog.Error("feed reload failed, keeping previous snapshot", "error", err)
		return previous
	}

	var snap Snapshot
	for _, rec := range recs {
		if rec.GenerationMethod == models.MethodAutomatic {
			snap.Automatic = append(snap.Automatic, rec)
		} else {
			snap.Manual = append(snap.Manual, rec)
		}
	}
	return snap
}

// drain coalesces a burst of notifications into one recompute.
func drain(changes <-chan store.Change) {
	for {
		select {
		case <-changes:
		default:
			return
		}
	}
}
