package syncengine

import (
	"context"
	"errors"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
	"emails-sync/internal/source"
	"emails-sync/internal/store"
	"emails-sync/internal/syncerr"

	"github.com/sirupsen/logrus"
)

// messageOutcome is what one message contributed to the pass
type messageOutcome struct {
	record models.EmailRecord
	// inserted: a new record landed in the sink during this pass
	inserted bool
	// stored: the record is durable (new or already there) and the ref is a watermark candidate
	stored   bool
	failures []error
}

// processMessage runs fetch → normalize → persist → dispose for one ref.
// The returned error is pass-fatal; everything else lands in failures.
func (e *Engine) processMessage(ctx context.Context, sess source.Session, ref models.MessageRef, log *logrus.Entry) (messageOutcome, error) {
	var out messageOutcome
	id := identifier(ref)
	mlog := log.WithFields(logrus.Fields{"uid": ref.UID, "key": ref.Key})

	raw, err := sess.Fetch(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, &syncerr.TransportError{Op: "fetch", Err: ctxErr}
		}
		mlog.WithError(err).Errorf("Error fetching message %s", id)
		out.failures = append(out.failures, &syncerr.MessageError{Identifier: id, Stage: models.StageFetch, Err: err})
		return out, nil
	}

	out.record = e.normalizer.Normalize(raw)
	mlog = mlog.WithField("message_key", out.record.MessageKey)

	err = e.sink.Insert(ctx, out.record)
	switch {
	case err == nil:
		out.inserted = true
		out.stored = true
		mlog.Infof("Stored message %q from %s", out.record.Subject, out.record.Sender)
	case errors.Is(err, store.ErrDuplicate):
		// stored by an earlier pass that did not get to dispose of it
		out.stored = true
		mlog.Info("Message already stored, skipping insert")
		out.failures = append(out.failures, &syncerr.MessageError{Identifier: out.record.MessageKey, Stage: models.StageDuplicate, Err: err})
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, &syncerr.TransportError{Op: "persist", Err: ctxErr}
		}
		mlog.WithError(err).Errorf("Error storing message %s, leaving it in the mailbox", id)
		out.failures = append(out.failures, &syncerr.MessageError{Identifier: out.record.MessageKey, Stage: models.StagePersist, Err: err})
		return out, nil
	}

	d := e.policy.Disposition
	if d.Action == policy.ActionNone {
		return out, nil
	}
	if err := sess.Dispose(ctx, ref, d); err != nil {
		mlog.WithError(err).Warnf("Message stored but could not apply %s", d)
		out.failures = append(out.failures, &syncerr.DisposalError{Identifier: out.record.MessageKey, Action: d.String(), Err: err})
	}

	return out, nil
}

func identifier(ref models.MessageRef) string {
	if ref.Key != "" {
		return ref.Key
	}
	return ref.Subject
}
