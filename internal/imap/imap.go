package imap

import (
	"github.com/emersion/go-imap"
)

type Client interface {
	Connect(server string, useTLS, insecureSkipVerify bool) error
	Login(user, password string) error
	SelectMailbox(name string) (*imap.MailboxStatus, error)
	SearchUIDs(criteria *imap.SearchCriteria) ([]uint32, error)
	FetchRefs(uids []uint32) ([]*imap.Message, error)
	FetchMessage(uid uint32) (*imap.Message, error)
	AddFlag(uid uint32, flag string) error
	Move(uid uint32, mailbox string) error
	Delete(uid uint32) error
	Terminate() error
	Close() error
}
