package pop3

import (
	"bytes"
	"net"
	"time"

	"github.com/emersion/go-message"
	"github.com/knadh/go-pop3"
)

// Conn is the subset of a POP3 connection the source uses
type Conn interface {
	Auth(user, password string) error
	Uidl(msgID int) ([]pop3.MessageID, error)
	Top(msgID int, numLines int) (*message.Entity, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	Quit() error
}

// deadlineDialer remembers the connection it dialled so that every command
// can be bounded by the transport timeout and a cancelled pass can cut it.
type deadlineDialer struct {
	dialer  net.Dialer
	timeout time.Duration
	conn    net.Conn
}

func newDeadlineDialer(timeout time.Duration) *deadlineDialer {
	return &deadlineDialer{
		dialer:  net.Dialer{Timeout: timeout},
		timeout: timeout,
	}
}

func (d *deadlineDialer) Dial(network, address string) (net.Conn, error) {
	conn, err := d.dialer.Dial(network, address)
	if err != nil {
		return nil, err
	}
	d.conn = conn
	// the greeting is read inside NewConn, before the caller can arm anything
	d.arm()
	return conn, nil
}

func (d *deadlineDialer) arm() {
	if d.conn != nil && d.timeout > 0 {
		_ = d.conn.SetDeadline(time.Now().Add(d.timeout))
	}
}

func (d *deadlineDialer) abort() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

func dialPOP3(host string, port int, useTLS, insecureSkipVerify bool, d *deadlineDialer) (Conn, error) {
	client := pop3.New(pop3.Opt{
		Host:          host,
		Port:          port,
		DialTimeout:   d.timeout,
		Dialer:        d,
		TLSEnabled:    useTLS,
		TLSSkipVerify: insecureSkipVerify,
	})
	return client.NewConn()
}
