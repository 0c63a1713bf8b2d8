package imap

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
	"emails-sync/internal/source"
	"emails-sync/internal/syncerr"

	"github.com/emersion/go-imap"
)

// Source is the IMAP MessageSource: one session per pass, one selected mailbox
type Source struct {
	cfg       models.MailboxConfig
	tag       string
	timeout   time.Duration
	newClient func() Client
}

// NewSource creates an IMAP source for the configured mailbox
func NewSource(cfg models.MailboxConfig, tag string, timeout time.Duration) *Source {
	if tag == "" {
		tag = models.SourceIMAP
	}
	return &Source{
		cfg:     cfg,
		tag:     tag,
		timeout: timeout,
		newClient: func() Client {
			return NewStandardClient(timeout)
		},
	}
}

func (s *Source) Name() string { return s.tag }

// Supports accepts every mode and disposition; IMAP can flag, move and delete
func (s *Source) Supports(policy.Mode, policy.Disposition) error {
	return nil
}

// Open connects, logs in and selects the mailbox. Cancelling ctx terminates the
// connection so that a stuck command returns instead of hanging the pass.
func (s *Source) Open(ctx context.Context) (source.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &syncerr.TransportError{Op: "connect", Err: err}
	}

	c := s.newClient()
	server := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := c.Connect(server, s.cfg.TLS, s.cfg.InsecureSkipVerify); err != nil {
		return nil, &syncerr.TransportError{Op: "connect", Err: err}
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		stop()
		_ = c.Close()
		return nil, &syncerr.TransportError{Op: "login", Err: err}
	}

	status, err := c.SelectMailbox(s.cfg.Mailbox)
	if err != nil {
		stop()
		_ = c.Close()
		return nil, &syncerr.TransportError{Op: "select " + s.cfg.Mailbox, Err: err}
	}

	return &session{
		client:      c,
		tag:         s.tag,
		uidValidity: status.UidValidity,
		stop:        stop,
	}, nil
}

type session struct {
	client      Client
	tag         string
	uidValidity uint32
	stop        func() bool
}

func (s *session) List(ctx context.Context, sel policy.Selection) ([]models.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, &syncerr.TransportError{Op: "list", Err: err}
	}

	criteria := imap.NewSearchCriteria()
	byUID := sel.AfterUID > 0 && sel.UIDValidity == s.uidValidity
	switch {
	case byUID:
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(sel.AfterUID+1, 0)
		sel.Since = time.Time{}
	case !sel.Since.IsZero():
		criteria.Since = sel.Since
	}
	if sel.ExcludeFlag != "" {
		criteria.WithoutFlags = []string{sel.ExcludeFlag}
	}

	uids, err := s.client.SearchUIDs(criteria)
	if err != nil {
		return nil, &syncerr.TransportError{Op: "search", Err: err}
	}

	// "n:*" always matches the highest UID, even when it is below n
	if byUID {
		uids = uidsAfter(uids, sel.AfterUID)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// without a date bound the oldest UIDs are the oldest messages; cap before fetching
	if sel.Since.IsZero() && sel.Limit > 0 && len(uids) > sel.Limit {
		uids = lowest(uids, sel.Limit)
	}

	msgs, err := s.client.FetchRefs(uids)
	if err != nil {
		return nil, &syncerr.TransportError{Op: "fetch envelopes", Err: err}
	}

	refs := make([]models.MessageRef, 0, len(msgs))
	for _, msg := range msgs {
		refs = append(refs, s.refFromMessage(msg))
	}

	return source.Apply(refs, sel), nil
}

func (s *session) Fetch(ctx context.Context, ref models.MessageRef) (models.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return models.RawMessage{}, err
	}

	msg, err := s.client.FetchMessage(ref.UID)
	if err != nil {
		return models.RawMessage{}, err
	}

	r := msg.GetBody(&imap.BodySectionName{})
	if r == nil {
		return models.RawMessage{}, fmt.Errorf("message UID %d has no body", ref.UID)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return models.RawMessage{}, fmt.Errorf("reading body of UID %d: %w", ref.UID, err)
	}

	if ref.ArrivedAt.IsZero() {
		ref.ArrivedAt = msg.InternalDate
	}

	return models.RawMessage{
		MessageRef: ref,
		Source:     s.tag,
		Raw:        raw,
	}, nil
}

func (s *session) Dispose(ctx context.Context, ref models.MessageRef, d policy.Disposition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch d.Action {
	case policy.ActionNone:
		return nil
	case policy.ActionFlag:
		return s.client.AddFlag(ref.UID, d.Target)
	case policy.ActionMove:
		return s.client.Move(ref.UID, d.Target)
	case policy.ActionDelete:
		return s.client.Delete(ref.UID)
	}

	return fmt.Errorf("unsupported disposition %q", d)
}

func (s *session) Close() error {
	s.stop()
	return s.client.Close()
}

func (s *session) refFromMessage(msg *imap.Message) models.MessageRef {
	ref := models.MessageRef{
		UID:         msg.Uid,
		Key:         strconv.FormatUint(uint64(s.uidValidity), 10) + ":" + strconv.FormatUint(uint64(msg.Uid), 10),
		ArrivedAt:   msg.InternalDate,
		UIDValidity: s.uidValidity,
	}

	if env := msg.Envelope; env != nil {
		ref.Subject = env.Subject
		if len(env.From) > 0 && env.From[0] != nil {
			ref.Sender = env.From[0].Address()
		}
		if ref.ArrivedAt.IsZero() {
			ref.ArrivedAt = env.Date
		}
	}

	return ref
}

func uidsAfter(uids []uint32, after uint32) []uint32 {
	out := uids[:0]
	for _, uid := range uids {
		if uid > after {
			out = append(out, uid)
		}
	}
	return out
}

func lowest(uids []uint32, n int) []uint32 {
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[:n]
}
