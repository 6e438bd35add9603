package base

import (
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
)

// Client is an interface to abstract the go-imap client.Client methods used
type Client interface {
	Authenticate(auth sasl.Client) error
	Expunge(ch chan uint32) error
	Login(username string, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	State() imap.ConnState
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidSearch(criteria *imap.SearchCriteria) (uids []uint32, err error)
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
}

// Overview is the lightweight envelope record returned by a single FETCH of
// the envelope. The address and subject fields are raw header values and may
// still contain MIME encoded-words.
type Overview struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// Filter is a search predicate selecting which messages a search returns.
type Filter int

const (
	// FilterAll matches every message that is not soft-deleted.
	FilterAll Filter = iota
	// FilterUnseen matches messages without the \Seen flag.
	FilterUnseen
)

func (f Filter) String() string {
	switch f {
	case FilterUnseen:
		return "unseen"
	default:
		return "all"
	}
}

// Criteria maps the filter to the native search syntax. Soft-deleted
// messages are always excluded so a search never observes a message pending
// expunge.
func (f Filter) Criteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	if f == FilterUnseen {
		criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
	}
	return criteria
}

// Flag is a settable message flag.
type Flag int

const (
	FlagSeen Flag = iota
)

func (f Flag) String() string {
	switch f {
	case FlagSeen:
		return "seen"
	default:
		return "unknown"
	}
}

// IMAPFlag returns the wire form of the flag.
func (f Flag) IMAPFlag() string {
	switch f {
	case FlagSeen:
		return imap.SeenFlag
	default:
		return ""
	}
}
