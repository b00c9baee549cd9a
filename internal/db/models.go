package db

import (
	"time"
)

// User is a locally known account. RemoteID and ScreenName stay nil until the
// account is paired with the remote service (first successful token setup or
// first basic-auth login). Once RemoteID is recorded it never changes; a
// remote rename only updates ScreenName.
//
// ScreenName carries a unique index but lookups are case-insensitive at the
// query level (see Store.GetUserByScreenName); the stored value preserves the
// case reported by the remote service.
type User struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RemoteID   *int64  `gorm:"uniqueIndex"`
	ScreenName *string `gorm:"uniqueIndex"`

	// PasswordHash is the salted argon2id hash of the optional local
	// password, in "saltHex:hashHex" form. Empty when the user logs in
	// with the remote password only.
	PasswordHash string

	// Token and TokenSecret are the delegated-authorization pair produced
	// by the three-legged handshake. Both empty until the setup dialog
	// completes.
	Token       string
	TokenSecret string
}

// HasToken reports whether the delegated token pair is present.
func (u *User) HasToken() bool {
	return u.Token != "" && u.TokenSecret != ""
}

// UserVar is a per-user named string value. Feed watermarks are stored here
// under kind-specific keys (home_last_status_id, mentions_last_status_id,
// ...) and UI settings under the "config:" prefix. Rows are created lazily
// on first write.
type UserVar struct {
	ID     uint   `gorm:"primaryKey"`
	UserID uint   `gorm:"not null;uniqueIndex:idx_user_var"`
	Name   string `gorm:"not null;uniqueIndex:idx_user_var"`
	Value  string
}

// IdentityRecord caches remote identity info keyed by the remote user id.
// It is process-global and shared by every session: each entry that arrives
// on any feed refreshes its author's row here.
type IdentityRecord struct {
	RemoteID    int64 `gorm:"primaryKey"`
	ScreenName  string
	DisplayName string
}

// TableName keeps the historical table name.
func (IdentityRecord) TableName() string { return "identity_cache" }

// DataMigration records an applied data migration by name, so each entry of
// the registry runs exactly once (see RunDataMigrations).
type DataMigration struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"not null;uniqueIndex"`
}
