// Package storage persists consent and session state under a common key namespace so
// that erasing everything the library wrote is a single prefix deletion.
package storage

import (
	"context"
	"errors"
)

// Prefix namespaces every key written by this module.
const Prefix = "signupwatch_"

// Keys used across the module.
const (
	KeyConsent         = Prefix + "consent"
	KeyOptOut          = Prefix + "opt_out"
	KeyConsentDenied   = Prefix + "consent_denied"
	KeyAnonymousID     = Prefix + "anonymous_id"
	KeyActivitySession = Prefix + "activity_session"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a string key/value store. Access is not atomic across processes or tabs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how many were
	// removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Purge removes everything this module wrote to each store.
func Purge(ctx context.Context, stores ...Store) error {
	var errs []error
	for _, s := range stores {
		if s == nil {
			continue
		}
		if _, err := s.DeletePrefix(ctx, Prefix); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
