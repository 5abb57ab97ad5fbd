// Package ports declares the persistence interfaces the services depend on.
package ports

import (
	"context"
	"time"

	"tutorledger/internal/core"
)

type (
	RecordStore interface {
		// CreateRecord assigns ID and CreatedAt and returns the stored record.
		CreateRecord(ctx context.Context, r core.Record) (core.Record, error)
		// ListRecords returns the user's records, newest date first.
		ListRecords(ctx context.Context, userID string) ([]core.Record, error)
		// DeleteRecords removes the given records of the user.
		DeleteRecords(ctx context.Context, userID string, ids []string) (int64, error)
		// DeleteAllRecords removes every record of the user.
		DeleteAllRecords(ctx context.Context, userID string) (int64, error)
	}

	ArchiveStore interface {
		// FindArchive reports whether the user already archived the month.
		FindArchive(ctx context.Context, userID string, key core.MonthKey) (core.Archive, bool, error)
		// CreateArchive inserts the snapshot. A second archive for the same
		// (user, year, month) fails with core.ErrAlreadyArchived.
		CreateArchive(ctx context.Context, a core.Archive) (core.Archive, error)
		// ListArchives returns the user's archives, year desc, month desc.
		ListArchives(ctx context.Context, userID string) ([]core.Archive, error)
		// GetArchive fails with core.ErrArchiveNotFound for unknown or foreign ids.
		GetArchive(ctx context.Context, userID, id string) (core.Archive, error)
		DeleteArchive(ctx context.Context, userID, id string) error
		// ListUnexported returns up to limit archives not yet exported. Archives
		// never attempted come first, then the least recently failed, each group
		// oldest first.
		ListUnexported(ctx context.Context, limit int) ([]core.Archive, error)
		MarkExported(ctx context.Context, id string, at time.Time) error
		// MarkExportFailed records a failed attempt so the next sweep moves past it.
		MarkExportFailed(ctx context.Context, id string, at time.Time) error
	}

	UserStore interface {
		// CreateUser fails with core.ErrEmailTaken when the email exists.
		CreateUser(ctx context.Context, u core.User) (core.User, error)
		// FindUserByEmail fails with core.ErrUserNotFound.
		FindUserByEmail(ctx context.Context, email string) (core.User, error)
	}

	// Store is everything a storage backend provides.
	Store interface {
		RecordStore
		ArchiveStore
		UserStore
		Ping(ctx context.Context) error
		Close() error
	}
)
