package chat

import "errors"

// Error kinds surfaced by the registry and the message service. Stores return
// ErrConflict, ErrNotFound and ErrUnauthorized directly; any other store
// failure is wrapped with ErrStore by the caller.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("participant already registered")
	ErrUnauthorized = errors.New("actor is not the author")
	ErrNotFound     = errors.New("not found")
	ErrStore        = errors.New("store unavailable")
)

// StoreError classifies err: semantic sentinels pass through unchanged,
// everything else is wrapped so that errors.Is(err, ErrStore) holds.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrConflict, ErrNotFound, ErrUnauthorized, ErrValidation, ErrStore} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return errors.Join(ErrStore, err)
}
