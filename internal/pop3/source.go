package pop3

import (
	"context"
	"fmt"
	"sort"
	"time"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
	"emails-sync/internal/source"
	"emails-sync/internal/syncerr"

	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"
)

// DefaultTimeout bounds every POP3 command when none is configured
const DefaultTimeout = 30 * time.Second

// Source is the POP3 MessageSource. POP3 has no folders and no flags, so it
// can only leave or delete what it processed. With delete the maildrop itself
// is the cursor; with none listing falls back to the Date header.
type Source struct {
	cfg     models.MailboxConfig
	tag     string
	timeout time.Duration
	dial    func(d *deadlineDialer) (Conn, error)
	now     func() time.Time
}

// NewSource creates a POP3 source for the configured maildrop
func NewSource(cfg models.MailboxConfig, tag string, timeout time.Duration) *Source {
	if tag == "" {
		tag = models.SourcePOP3
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Source{
		cfg:     cfg,
		tag:     tag,
		timeout: timeout,
		now:     time.Now,
	}
	s.dial = func(d *deadlineDialer) (Conn, error) {
		return dialPOP3(cfg.Host, cfg.Port, cfg.TLS, cfg.InsecureSkipVerify, d)
	}
	return s
}

func (s *Source) Name() string { return s.tag }

// Supports rejects what POP3 cannot express: there are no stable UIDs to select
// after, and no folders or flags to move or mark with.
func (s *Source) Supports(mode policy.Mode, d policy.Disposition) error {
	if mode == policy.ModeExplicitIDs {
		return &syncerr.ConfigError{Field: "sync.mode", Message: "explicit-ids is not supported over POP3"}
	}
	switch d.Action {
	case policy.ActionNone, policy.ActionDelete:
		return nil
	}
	return &syncerr.ConfigError{Field: "sync.disposition", Message: fmt.Sprintf("%s is not supported over POP3 (use delete or none)", d)}
}

// Open connects and authenticates. Cancelling ctx closes the socket.
func (s *Source) Open(ctx context.Context) (source.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &syncerr.TransportError{Op: "connect", Err: err}
	}

	d := newDeadlineDialer(s.timeout)
	conn, err := s.dial(d)
	if err != nil {
		return nil, &syncerr.TransportError{Op: "connect", Err: err}
	}

	stop := context.AfterFunc(ctx, d.abort)

	d.arm()
	if err := conn.Auth(s.cfg.Username, s.cfg.Password); err != nil {
		stop()
		d.abort()
		return nil, &syncerr.TransportError{Op: "login", Err: err}
	}

	return &session{
		conn:   conn,
		dialer: d,
		tag:    s.tag,
		stop:   stop,
		now:    s.now,
		ids:    make(map[string]int),
	}, nil
}

type session struct {
	conn   Conn
	dialer *deadlineDialer
	tag    string
	stop   func() bool
	now    func() time.Time

	// message numbers are only valid inside this session; refs carry the UIDL
	ids map[string]int
}

func (s *session) List(ctx context.Context, sel policy.Selection) ([]models.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, &syncerr.TransportError{Op: "list", Err: err}
	}

	s.dialer.arm()
	listing, err := s.conn.Uidl(0)
	if err != nil {
		return nil, &syncerr.TransportError{Op: "uidl", Err: err}
	}

	// Date is set by the sender and may predate delivery. When processed mail
	// leaves the maildrop whatever is left is unprocessed, whatever its Date says.
	if sel.Drains {
		sel.Since = time.Time{}
	}

	// message numbers follow arrival order; without a date bound cap before reading headers
	if sel.Since.IsZero() && sel.Limit > 0 && len(listing) > sel.Limit {
		sort.Slice(listing, func(i, j int) bool { return listing[i].ID < listing[j].ID })
		listing = listing[:sel.Limit]
	}

	refs := make([]models.MessageRef, 0, len(listing))
	for _, m := range listing {
		if err := ctx.Err(); err != nil {
			return nil, &syncerr.TransportError{Op: "list", Err: err}
		}

		s.dialer.arm()
		entity, err := s.conn.Top(m.ID, 0)
		if err != nil {
			return nil, &syncerr.TransportError{Op: fmt.Sprintf("top %d", m.ID), Err: err}
		}

		s.ids[m.UID] = m.ID
		refs = append(refs, s.refFromHeader(m, mail.Header{Header: entity.Header}))
	}

	return source.Apply(refs, sel), nil
}

func (s *session) refFromHeader(m pop3.MessageID, h mail.Header) models.MessageRef {
	ref := models.MessageRef{Key: m.UID}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		ref.ArrivedAt = date
	} else {
		// no usable Date: treat it as arriving now so a dated lower bound never hides it
		ref.ArrivedAt = s.now()
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		ref.Sender = from[0].Address
	} else {
		ref.Sender = h.Get("From")
	}
	if subject, err := h.Subject(); err == nil {
		ref.Subject = subject
	} else {
		ref.Subject = h.Get("Subject")
	}

	return ref
}

func (s *session) Fetch(ctx context.Context, ref models.MessageRef) (models.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return models.RawMessage{}, err
	}

	id, ok := s.ids[ref.Key]
	if !ok {
		return models.RawMessage{}, fmt.Errorf("message %q was not listed in this session", ref.Key)
	}

	s.dialer.arm()
	buf, err := s.conn.RetrRaw(id)
	if err != nil {
		return models.RawMessage{}, err
	}

	return models.RawMessage{
		MessageRef: ref,
		Source:     s.tag,
		Raw:        buf.Bytes(),
	}, nil
}

// Dispose marks the message for deletion; the maildrop commits it on QUIT
func (s *session) Dispose(ctx context.Context, ref models.MessageRef, d policy.Disposition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch d.Action {
	case policy.ActionNone:
		return nil
	case policy.ActionDelete:
		id, ok := s.ids[ref.Key]
		if !ok {
			return fmt.Errorf("message %q was not listed in this session", ref.Key)
		}
		s.dialer.arm()
		return s.conn.Dele(id)
	}

	return fmt.Errorf("unsupported disposition %q over POP3", d)
}

func (s *session) Close() error {
	s.stop()
	s.dialer.arm()
	return s.conn.Quit()
}
