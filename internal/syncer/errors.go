package syncer

import (
	"errors"

	"github.com/Checker-Finance/marketplace-sync/internal/auth"
	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
)

var (
	// ErrStorage wraps a persistence failure; it aborts the run.
	ErrStorage = errors.New("syncer: storage failure")
	// ErrSyncRunning is returned by operations that need the domain idle.
	ErrSyncRunning = errors.New("syncer: sync is running")
	// ErrAlreadyRunning is returned by Run when another run of the domain is active.
	ErrAlreadyRunning = errors.New("syncer: run already in progress")
)

// Failure classes recorded on FailedItem.Class.
const (
	ClassRateLimited = "rate_limited"
	ClassInvalid     = "invalid"
	ClassNotFound    = "not_found"
	ClassTransient   = "transient"
	ClassFatalAuth   = "fatal_auth"
	ClassStorage     = "storage"
)

// Classify maps a worker error onto a failure class.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrStorage):
		return ClassStorage
	case errors.Is(err, auth.ErrFatalAuth), errors.Is(err, httpclient.ErrFatal):
		return ClassFatalAuth
	case errors.Is(err, httpclient.ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, httpclient.ErrInvalid):
		return ClassInvalid
	case errors.Is(err, httpclient.ErrNotFound):
		return ClassNotFound
	}
	return ClassTransient
}

// Storage marks err as a persistence failure.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorage, err)
}
