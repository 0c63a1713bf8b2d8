// Package syncengine runs synchronization passes: read the watermark, list what
// arrived after it, store each message exactly once, dispose of what was stored
// and move the watermark forward over what was stored.
package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"emails-sync/internal/logging"
	"emails-sync/internal/mailparse"
	"emails-sync/internal/models"
	"emails-sync/internal/policy"
	"emails-sync/internal/source"
	"emails-sync/internal/syncerr"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecordSink durably stores records. A record that is already stored must be
// reported with store.ErrDuplicate.
type RecordSink interface {
	Insert(ctx context.Context, rec models.EmailRecord) error
}

// WatermarkStore holds the single cursor of one mailbox. Read returns the zero
// Watermark when none was stored; Advance must never move it backwards.
type WatermarkStore interface {
	Read(ctx context.Context) (models.Watermark, error)
	Advance(ctx context.Context, w models.Watermark) error
}

// Engine runs at most one pass at a time against one mailbox
type Engine struct {
	source     source.MessageSource
	sink       RecordSink
	watermarks WatermarkStore
	normalizer *mailparse.Normalizer
	policy     policy.Policy
	now        func() time.Time

	running sync.Mutex
}

// NewEngine wires the pass collaborators. It fails with a ConfigError when the
// source cannot apply the policy.
func NewEngine(src source.MessageSource, sink RecordSink, watermarks WatermarkStore, normalizer *mailparse.Normalizer, pol policy.Policy) (*Engine, error) {
	if err := src.Supports(pol.Mode, pol.Disposition); err != nil {
		return nil, err
	}
	if normalizer == nil {
		normalizer = mailparse.NewNormalizer(models.NormalizeConfig{}, 0)
	}

	return &Engine{
		source:     src,
		sink:       sink,
		watermarks: watermarks,
		normalizer: normalizer,
		policy:     pol,
		now:        time.Now,
	}, nil
}

// Policy returns the policy the engine was built with
func (e *Engine) Policy() policy.Policy {
	return e.policy
}

// RunSyncPass performs one pass. A returned error is pass-fatal; per-message
// failures are reported in the result's Failures and never abort the pass.
// On a fatal error the result still describes what happened before it.
func (e *Engine) RunSyncPass(ctx context.Context) (*models.SyncPassResult, error) {
	if !e.running.TryLock() {
		return nil, syncerr.ErrPassInProgress
	}
	defer e.running.Unlock()

	result := &models.SyncPassResult{
		TraceID:   uuid.New().String(),
		Processed: []models.Detail{},
		Guarantee: e.policy.Guarantee(),
	}
	log := logging.Log.WithFields(logrus.Fields{
		"trace_id": result.TraceID,
		"source":   e.source.Name(),
	})

	w, err := e.watermarks.Read(ctx)
	if err != nil {
		log.WithError(err).Error("Could not read watermark, mailbox left untouched")
		return result, &syncerr.StoreReadError{Err: err}
	}
	result.WatermarkBefore = w
	result.WatermarkAfter = w

	sess, err := e.source.Open(ctx)
	if err != nil {
		log.WithError(err).Error("Could not open mailbox session")
		return result, asTransport("open", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.WithError(err).Warn("Error closing mailbox session")
		}
	}()

	sel := e.policy.Selection(w, e.now())
	refs, err := sess.List(ctx, sel)
	if err != nil {
		log.WithError(err).Error("Could not list messages")
		return result, asTransport("list", err)
	}
	result.Seen = len(refs)

	if len(refs) == 0 {
		log.Debug("No new messages")
		return result, nil
	}
	log.Infof("Found %d message(s) to synchronize (mode %s, disposition %s)", len(refs), e.policy.Mode, e.policy.Disposition)

	var stored []models.MessageRef
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warnf("Pass interrupted after %d of %d messages, watermark not advanced", i, len(refs))
			return result, &syncerr.TransportError{Op: "sync pass", Err: err}
		}

		out, err := e.processMessage(ctx, sess, ref, log)
		for _, failure := range out.failures {
			result.Failures = append(result.Failures, failureFrom(failure))
		}
		if err != nil {
			log.WithError(err).Warnf("Pass interrupted after %d of %d messages, watermark not advanced", i, len(refs))
			return result, err
		}

		if out.inserted {
			result.Processed = append(result.Processed, models.Detail{
				Subject:    out.record.Subject,
				Identifier: out.record.MessageKey,
			})
		}
		if out.stored {
			stored = append(stored, ref)
		}
	}

	next := policy.Advance(w, stored)
	if !next.Equal(w) {
		if err := e.watermarks.Advance(ctx, next); err != nil {
			log.WithError(err).Error("Records stored but watermark could not be advanced")
			return result, &syncerr.StoreWriteError{Err: err}
		}
		result.WatermarkAfter = next
	}

	log.WithFields(logrus.Fields{
		"processed": len(result.Processed),
		"failures":  len(result.Failures),
		"watermark": result.WatermarkAfter.Timestamp,
	}).Infof("Sync pass finished")

	return result, nil
}

func failureFrom(err error) models.Failure {
	var (
		msgErr     *syncerr.MessageError
		disposeErr *syncerr.DisposalError
	)
	switch {
	case errors.As(err, &msgErr):
		return models.Failure{Identifier: msgErr.Identifier, Stage: msgErr.Stage, Reason: errString(msgErr.Err)}
	case errors.As(err, &disposeErr):
		return models.Failure{Identifier: disposeErr.Identifier, Stage: models.StageDispose, Reason: errString(disposeErr.Err)}
	}
	return models.Failure{Reason: err.Error()}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// asTransport keeps the transport classification of err, wrapping it if the source did not
func asTransport(op string, err error) error {
	var trErr *syncerr.TransportError
	if errors.As(err, &trErr) {
		return err
	}
	return &syncerr.TransportError{Op: op, Err: err}
}
