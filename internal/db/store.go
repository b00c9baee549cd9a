package db

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store is the persistence adapter the rest of the daemon talks to. It is the
// only writer of the users, user_vars and identity_cache tables; sessions
// call it from their single-threaded event loops, and the underlying
// connection serializes the occasional cross-session overlap.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore wraps an open database connection.
func NewStore(database *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: database, log: log.Named("store")}
}

// GetUserByScreenName looks an account up by screen name, case-insensitively.
// When create is true and no account exists, a fresh row holding only the
// screen name is inserted.
func (s *Store) GetUserByScreenName(name string, create bool) (*User, error) {
	var u User
	err := s.db.Where("LOWER(screen_name) = LOWER(?)", name).First(&u).Error
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !create {
			return nil, ErrUserNotFound
		}
		u = User{ScreenName: &name}
		if err := s.db.Create(&u).Error; err != nil {
			return nil, fmt.Errorf("db: creating user %q: %w", name, err)
		}
		return &u, nil
	default:
		return nil, fmt.Errorf("db: looking up user %q: %w", name, err)
	}
}

// GetUserByRemoteID looks an account up by its remote id, optionally creating
// it with the given screen name. If the account exists but the remote service
// renamed it, the stored screen name is refreshed; the remote id itself is
// immutable.
func (s *Store) GetUserByRemoteID(remoteID int64, screenName string, create bool) (*User, error) {
	var u User
	err := s.db.Where("remote_id = ?", remoteID).First(&u).Error
	switch {
	case err == nil:
		if screenName != "" && (u.ScreenName == nil || *u.ScreenName != screenName) {
			u.ScreenName = &screenName
			if err := s.db.Save(&u).Error; err != nil {
				return nil, fmt.Errorf("db: updating screen name for remote id %d: %w", remoteID, err)
			}
		}
		return &u, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !create {
			return nil, ErrUserNotFound
		}
		u = User{RemoteID: &remoteID}
		if screenName != "" {
			u.ScreenName = &screenName
		}
		if err := s.db.Create(&u).Error; err != nil {
			return nil, fmt.Errorf("db: creating user for remote id %d: %w", remoteID, err)
		}
		return &u, nil
	default:
		return nil, fmt.Errorf("db: looking up remote id %d: %w", remoteID, err)
	}
}

// PairUser records the remote identity on an account that was created before
// pairing. The remote id may be set once; later calls with a different id
// fail.
func (s *Store) PairUser(u *User, remoteID int64, screenName string) error {
	if u.RemoteID != nil && *u.RemoteID != remoteID {
		return fmt.Errorf("db: user %d already paired to remote id %d", u.ID, *u.RemoteID)
	}
	u.RemoteID = &remoteID
	u.ScreenName = &screenName
	if err := s.db.Save(u).Error; err != nil {
		return fmt.Errorf("db: pairing user %d: %w", u.ID, err)
	}
	return nil
}

// SetToken stores the delegated token pair on an account.
func (s *Store) SetToken(u *User, token, secret string) error {
	u.Token = token
	u.TokenSecret = secret
	if err := s.db.Save(u).Error; err != nil {
		return fmt.Errorf("db: storing token for user %d: %w", u.ID, err)
	}
	return nil
}

// SetPasswordHash stores the local password hash on an account.
func (s *Store) SetPasswordHash(u *User, hash string) error {
	u.PasswordHash = hash
	if err := s.db.Save(u).Error; err != nil {
		return fmt.Errorf("db: storing password for user %d: %w", u.ID, err)
	}
	return nil
}

// GetVar returns the value of a per-user variable, or ok=false when the
// variable was never written.
func (s *Store) GetVar(u *User, name string) (value string, ok bool, err error) {
	var v UserVar
	err = s.db.Where("user_id = ? AND name = ?", u.ID, name).First(&v).Error
	switch {
	case err == nil:
		return v.Value, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("db: reading var %q for user %d: %w", name, u.ID, err)
	}
}

// SetVar writes a per-user variable, creating the row on first write.
func (s *Store) SetVar(u *User, name, value string) error {
	var v UserVar
	err := s.db.Where("user_id = ? AND name = ?", u.ID, name).First(&v).Error
	switch {
	case err == nil:
		v.Value = value
		err = s.db.Save(&v).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = s.db.Create(&UserVar{UserID: u.ID, Name: name, Value: value}).Error
	}
	if err != nil {
		return fmt.Errorf("db: writing var %q for user %d: %w", name, u.ID, err)
	}
	return nil
}

// PruneOrphanVars deletes user_vars rows whose owning account is gone.
// Accounts are only removed administratively, so this runs from the periodic
// maintenance job rather than any user-facing path.
func (s *Store) PruneOrphanVars() (int64, error) {
	res := s.db.Exec("DELETE FROM user_vars WHERE user_id NOT IN (SELECT id FROM users)")
	if res.Error != nil {
		return 0, fmt.Errorf("db: pruning orphan vars: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetIdentity returns the cached identity row for a remote id, or nil when
// unknown.
func (s *Store) GetIdentity(remoteID int64) (*IdentityRecord, error) {
	var rec IdentityRecord
	err := s.db.Where("remote_id = ?", remoteID).First(&rec).Error
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("db: reading identity %d: %w", remoteID, err)
	}
}

// PutIdentity inserts or overwrites the identity row for a remote id.
func (s *Store) PutIdentity(rec *IdentityRecord) error {
	if err := s.db.Save(rec).Error; err != nil {
		return fmt.Errorf("db: writing identity %d: %w", rec.RemoteID, err)
	}
	return nil
}

// FindIdentityByScreenName performs a case-insensitive lookup. When more than
// one row matches (screen names can be reused by the remote service), it
// returns ErrAmbiguousScreenName so callers err on the safe side.
func (s *Store) FindIdentityByScreenName(name string) (*IdentityRecord, error) {
	var recs []IdentityRecord
	err := s.db.Where("LOWER(screen_name) = LOWER(?)", name).Limit(2).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("db: looking up screen name %q: %w", name, err)
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return &recs[0], nil
	default:
		return nil, ErrAmbiguousScreenName
	}
}

// CountUsers returns the number of local accounts, for the metrics gauges.
func (s *Store) CountUsers() (int64, error) {
	var n int64
	if err := s.db.Model(&User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("db: counting users: %w", err)
	}
	return n, nil
}
