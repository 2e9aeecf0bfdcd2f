// Package authstore persists transport credentials per session.
//
// Store is the contract the session orchestrator consumes. Deleter and Lister
// are optional capabilities used for logout cleanup and session restore.
package authstore

import (
	"context"
	"errors"
	"regexp"

	"wa-gateway/go-backend/pkg/models"
)

var (
	ErrNotFound         = errors.New("authstore: credentials not found")
	ErrInvalidSessionID = errors.New("authstore: invalid session id")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Store interface {
	Load(ctx context.Context, sessionID string) (models.Credentials, error)
	Save(ctx context.Context, sessionID string, creds models.Credentials) error
}

type Deleter interface {
	Delete(ctx context.Context, sessionID string) error
}

type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ValidSessionID reports whether id is safe to use as a storage key.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func cloneCredentials(c models.Credentials) models.Credentials {
	c.Payload = append([]byte(nil), c.Payload...)
	return c
}
