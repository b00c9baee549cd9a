// Package identity keeps the process-global cache of remote identities:
// remote user id mapped to the screen name and display name last seen for it.
// Every entry arriving on any feed refreshes its author's row here, and
// sessions subscribe to change events to rename IRC nicknames when the remote
// service reports a new screen name.
package identity

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/callbacks"
	"github.com/ehabkost/passerd/internal/db"
)

// Info is the cached view of one remote identity.
type Info struct {
	ScreenName  string
	DisplayName string
}

// ChangeEvent is delivered to subscribers on every Update call. Old is nil
// when the remote id was previously unknown. Events fire before the row is
// overwritten, so a subscriber that reads the cache during dispatch still
// sees the prior state.
type ChangeEvent struct {
	RemoteID int64
	Old      *Info
	New      Info
}

// Cache wraps the identity_cache table with change notification. It is shared
// by every session in the process; the store serializes concurrent writers.
type Cache struct {
	store    *db.Store
	log      *zap.Logger
	onChange *callbacks.List[ChangeEvent]
}

// NewCache builds a cache over the given store.
func NewCache(store *db.Store, log *zap.Logger) *Cache {
	log = log.Named("identity")
	return &Cache{
		store:    store,
		log:      log,
		onChange: callbacks.New[ChangeEvent](log),
	}
}

// OnChange registers a subscriber for change events. Handler failures are
// logged and swallowed so one bad subscriber cannot block the others.
func (c *Cache) OnChange(h callbacks.Handler[ChangeEvent]) {
	c.onChange.Add(h)
}

// Update records the identity seen for a remote id. A change event fires for
// every call, carrying the prior row (nil when unknown) and the new values;
// only afterwards is the row written.
func (c *Cache) Update(remoteID int64, screenName, displayName string) error {
	prev, err := c.store.GetIdentity(remoteID)
	if err != nil {
		return fmt.Errorf("identity: reading %d: %w", remoteID, err)
	}

	ev := ChangeEvent{
		RemoteID: remoteID,
		New:      Info{ScreenName: screenName, DisplayName: displayName},
	}
	if prev != nil {
		ev.Old = &Info{ScreenName: prev.ScreenName, DisplayName: prev.DisplayName}
	}
	c.onChange.Call(ev)

	rec := &db.IdentityRecord{
		RemoteID:    remoteID,
		ScreenName:  screenName,
		DisplayName: displayName,
	}
	if err := c.store.PutIdentity(rec); err != nil {
		return fmt.Errorf("identity: writing %d: %w", remoteID, err)
	}
	return nil
}

// LookupByID returns the cached identity for a remote id, or nil when
// unknown.
func (c *Cache) LookupByID(remoteID int64) (*Info, error) {
	rec, err := c.store.GetIdentity(remoteID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &Info{ScreenName: rec.ScreenName, DisplayName: rec.DisplayName}, nil
}

// LookupByScreenName resolves a screen name to a remote id,
// case-insensitively. When more than one cached row carries the name (the
// remote service recycles screen names), it returns nothing rather than
// guessing.
func (c *Cache) LookupByScreenName(name string) (remoteID int64, info *Info, err error) {
	rec, err := c.store.FindIdentityByScreenName(name)
	if err != nil {
		if errors.Is(err, db.ErrAmbiguousScreenName) {
			c.log.Debug("ambiguous screen name lookup", zap.String("name", name))
			return 0, nil, nil
		}
		return 0, nil, err
	}
	if rec == nil {
		return 0, nil, nil
	}
	return rec.RemoteID, &Info{ScreenName: rec.ScreenName, DisplayName: rec.DisplayName}, nil
}
