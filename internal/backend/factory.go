package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tutorledger/internal/amqp"
	"tutorledger/internal/sheets"
	gsheet "tutorledger/internal/sheets/google"
	sheetsmem "tutorledger/internal/sheets/memory"
	"tutorledger/internal/storage"
	"tutorledger/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var result *BackendResult
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		result = &BackendResult{Store: repo}
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		result = &BackendResult{Store: memory.New()}
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	// AMQP is optional; archiving works without it.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(ctx, config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without archive events", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			result.Publisher = client
		}
	}

	store, publisher := result.Store, result.Publisher
	result.Cleanup = func() error {
		var errs []error
		if publisher != nil {
			errs = append(errs, publisher.Close())
		}
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}

	return result, nil
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.ArchiveExporter, error) {
	if !config.ExportEnabled() {
		f.logger.Info("Google Sheets disabled, exporting to memory")
		return sheetsmem.New(), nil
	}
	cli, err := gsheet.New(ctx, config.GoogleSpreadsheetID, gsheet.Credentials{
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets exporter", "spreadsheet_id", config.GoogleSpreadsheetID)
	return cli, nil
}
