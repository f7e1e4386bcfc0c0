package catalog

import "fmt"

// ValidationError means the upload batch itself is unusable: a required
// identifier is missing or a file disagrees with the batch's reference
// triple. Nothing has been written when this is returned.
type ValidationError struct {
	// FileIndex is the 1-based position of the offending file in the batch.
	FileIndex int
	// Field names the DICOM attribute that is missing or diverged.
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.FileIndex > 0 && e.Field != "" {
		return fmt.Sprintf("file %d has inconsistent %s", e.FileIndex, e.Field)
	}
	return fmt.Sprintf("invalid %s", e.Field)
}

// NotFoundError covers both a genuinely absent record and a record owned by
// a different user; callers cannot tell the two apart.
type NotFoundError struct {
	Resource string // "patient", "study", "instance"
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// StorageError wraps a failed object-store operation.
type StorageError struct {
	Op  string // "put", "delete", "list"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed catalog write or read.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
