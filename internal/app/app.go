// Package app builds a ready-to-run sync engine from a loaded configuration.
package app

import (
	"context"
	"fmt"

	"emails-sync/internal/config"
	"emails-sync/internal/dynamo"
	"emails-sync/internal/events"
	imapclient "emails-sync/internal/imap"
	"emails-sync/internal/logging"
	"emails-sync/internal/mailparse"
	"emails-sync/internal/models"
	"emails-sync/internal/pop3"
	"emails-sync/internal/source"
	"emails-sync/internal/store"
	"emails-sync/internal/syncengine"
)

// App owns the engine and everything it holds open
type App struct {
	Config *models.Config
	Engine *syncengine.Engine
	Store  *store.SQLiteStore

	publisher *events.Publisher
}

// New opens the record store, picks the watermark backend and the message
// source, and optionally decorates the sink with NATS notifications.
func New(ctx context.Context, cfg *models.Config) (*App, error) {
	pol, err := config.PolicyFrom(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: st}

	watermarks, err := a.watermarks(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var sink syncengine.RecordSink = st
	if cfg.Events.NatsURL != "" {
		pub, err := events.NewPublisher(cfg.Events.NatsURL, cfg.Transport.Timeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		if err := pub.EnsureStream(cfg.Events.Stream, cfg.Events.Subject); err != nil {
			a.Close()
			return nil, err
		}
		sink = events.NewPublishingSink(st, pub, cfg.Events.Subject)
	}

	normalizer := mailparse.NewNormalizer(cfg.Normalize, cfg.Sync.BodyMaxLength)
	engine, err := syncengine.NewEngine(NewSource(cfg), sink, watermarks, normalizer, pol)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engine

	logging.Log.Infof("Syncing %s mailbox %s on %s (mode %s, disposition %s, %s)",
		cfg.Mailbox.Protocol, cfg.Mailbox.Mailbox, cfg.Mailbox.Host, pol.Mode, pol.Disposition, pol.Guarantee())

	return a, nil
}

// NewSource returns the message source for the configured protocol
func NewSource(cfg *models.Config) source.MessageSource {
	if cfg.Mailbox.Protocol == config.ProtocolPOP3 {
		return pop3.NewSource(cfg.Mailbox, cfg.Sync.SourceTag, cfg.Transport.Timeout)
	}
	return imapclient.NewSource(cfg.Mailbox, cfg.Sync.SourceTag, cfg.Transport.Timeout)
}

func (a *App) watermarks(ctx context.Context) (syncengine.WatermarkStore, error) {
	wc := a.Config.Watermark
	if wc.Backend != config.BackendDynamoDB {
		return a.Store.Watermarks(wc.Key), nil
	}

	ws, err := dynamo.NewWatermarkStore(ctx, wc.DynamoDBRegion, wc.DynamoDBTable, wc.Key)
	if err != nil {
		return nil, fmt.Errorf("dynamodb watermark store: %w", err)
	}
	return ws, nil
}

// Close releases the store and the NATS connection
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logging.Log.WithError(err).Warn("Error closing record store")
		}
	}
}
