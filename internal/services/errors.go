package services

import (
	"errors"
	"fmt"

	"tutorledger/internal/core"
)

// ErrPurgeFailed marks the partial state where the snapshot exists but the
// archived records are still in the live set.
var ErrPurgeFailed = errors.New("month archived but old records were not deleted")

var ErrNoMonthsSelected = errors.New("no months selected")

// PurgeError is returned when the archive was written and the purge failed.
// Archive is the snapshot that now exists; the records are duplicated, not lost.
type PurgeError struct {
	Archive core.Archive
	Err     error
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("archive %s for %s created but purge failed: %v",
		e.Archive.ID, e.Archive.Key(), e.Err)
}

func (e *PurgeError) Unwrap() []error {
	return []error{ErrPurgeFailed, e.Err}
}
