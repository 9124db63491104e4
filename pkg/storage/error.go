package storage

// NotFoundError is returned when a conversation doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "conversation not found"
	}

	return "conversation not found: " + e.ID
}

// PersistenceError is returned when a write against the backing store fails.
// A failed append aborts the turn that produced it, so callers treat this as
// fatal rather than retrying silently.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e PersistenceError) Unwrap() error {
	return e.Err
}
