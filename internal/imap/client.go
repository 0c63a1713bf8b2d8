package imap

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
)

// DefaultTimeout bounds every IMAP command when none is configured
const DefaultTimeout = 30 * time.Second

type StandardClient struct {
	client  *client.Client
	timeout time.Duration
}

// NewStandardClient creates a new StandardClient; timeout applies to the dial and to every command
func NewStandardClient(timeout time.Duration) *StandardClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &StandardClient{
		timeout: timeout,
	}
}

// Connect establishes a connection to the IMAP server, over TLS unless useTLS is false. It returns an error if the connection fails.
func (c *StandardClient) Connect(server string, useTLS, insecureSkipVerify bool) error {
	dialer := &net.Dialer{Timeout: c.timeout}

	var (
		cl  *client.Client
		err error
	)
	if useTLS {
		host, _, _ := net.SplitHostPort(server)
		cl, err = client.DialWithDialerTLS(dialer, server, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: insecureSkipVerify,
		})
	} else {
		cl, err = client.DialWithDialer(dialer, server)
	}
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}

	cl.Timeout = c.timeout
	c.client = cl
	return nil
}

// Login authenticates the user with the IMAP server using the provided username and password.
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Login(user, password)
}

// SelectMailbox selects the specified mailbox read-write and returns its status (UIDVALIDITY included).
func (c *StandardClient) SelectMailbox(name string) (*imap.MailboxStatus, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.client.Select(name, false)
}

// SearchUIDs runs a UID SEARCH with the given criteria.
func (c *StandardClient) SearchUIDs(criteria *imap.SearchCriteria) ([]uint32, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("error searching messages: %w", err)
	}

	return uids, nil
}

// FetchRefs retrieves UID, INTERNALDATE and ENVELOPE for the given UIDs, without bodies.
func (c *StandardClient) FetchRefs(uids []uint32) ([]*imap.Message, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, imap.FetchEnvelope}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var out []*imap.Message
	for m := range messages {
		out = append(out, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching envelopes: %w", err)
	}

	return out, nil
}

// FetchMessage retrieves the full message for the specified UID without setting \Seen.
func (c *StandardClient) FetchMessage(uid uint32) (*imap.Message, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid, imap.FetchEnvelope}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching message UID %d: %w", uid, err)
	}

	if msg == nil {
		return nil, fmt.Errorf("no message retrieved for UID %d", uid)
	}

	return msg, nil
}

// AddFlag sets flag on the message with the specified UID.
func (c *StandardClient) AddFlag(uid uint32, flag string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{flag}

	return c.client.UidStore(seqSet, item, flags, nil)
}

// Move moves the message with the specified UID to mailbox. Servers without MOVE get COPY + STORE + EXPUNGE.
func (c *StandardClient) Move(uid uint32, mailbox string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	return c.client.UidMove(seqSet, mailbox)
}

// Delete flags the message with the specified UID as \Deleted and expunges it.
// Servers with UIDPLUS get UID EXPUNGE for that single message. Without it a
// plain EXPUNGE runs, which also purges every other \Deleted message in the mailbox.
func (c *StandardClient) Delete(uid uint32) error {
	if err := c.AddFlag(uid, imap.DeletedFlag); err != nil {
		return err
	}

	if ok, err := c.client.Support("UIDPLUS"); err != nil || !ok {
		return c.client.Expunge(nil)
	}

	status, err := c.client.Execute(uidExpunge(uid), nil)
	if err != nil {
		return err
	}
	return status.Err()
}

// uidExpunge builds UID EXPUNGE (RFC 4315), which go-imap v1 has no helper for
func uidExpunge(uid uint32) imap.Commander {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	return &commands.Uid{Cmd: &imap.Command{
		Name:      "EXPUNGE",
		Arguments: []interface{}{seqSet},
	}}
}

// Terminate closes the connection without logging out, unblocking any pending command.
func (c *StandardClient) Terminate() error {
	if c.client == nil {
		return nil
	}
	return c.client.Terminate()
}

// Close logs out from the IMAP server and closes the connection. If there is no active connection, it simply returns nil.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Logout()
}
