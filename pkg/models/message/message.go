// Package message represents one server-side message by its session-scoped
// ID. Envelope fields are decoded once at construction; body and flags go
// through the owning connection on every call.
package message

import (
	"time"

	"github.com/pkg/errors"

	"github.com/arowland/mailrounds/pkg/base"
	"github.com/arowland/mailrounds/pkg/utils"
)

// Conn is the slice of the connection a message needs.
type Conn interface {
	FetchOverview(id uint32) (*base.Overview, error)
	RawBody(id uint32) (string, error)
	RawHeader(id uint32) (string, error)
	SetFlag(id uint32, flag base.Flag, on bool) error
	Delete(id uint32) error
}

// Message is valid only within the session that produced its ID; an expunge
// invalidates it.
type Message struct {
	conn Conn
	uid  uint32

	from    string
	to      string
	subject string
	date    time.Time
}

// New fetches the overview for the given ID and decodes its envelope fields.
func New(conn Conn, uid uint32) (*Message, error) {
	if conn == nil {
		return nil, errors.New("requires connection")
	}

	overview, err := conn.FetchOverview(uid)
	if err != nil {
		return nil, errors.Wrapf(err, "building message %d", uid)
	}

	return &Message{
		conn:    conn,
		uid:     uid,
		from:    utils.DecodeMimeField(overview.From),
		to:      utils.DecodeMimeField(overview.To),
		subject: utils.DecodeMimeField(overview.Subject),
		date:    overview.Date,
	}, nil
}

func (m *Message) UID() uint32 {
	return m.uid
}

func (m *Message) From() string {
	return m.from
}

func (m *Message) To() string {
	return m.to
}

func (m *Message) Subject() string {
	return m.subject
}

func (m *Message) Date() time.Time {
	return m.date
}

// RawBody fetches the raw message text. Repeated calls re-fetch.
func (m *Message) RawBody() (string, error) {
	return m.conn.RawBody(m.uid)
}

// RawHeader fetches the raw header block. Repeated calls re-fetch.
func (m *Message) RawHeader() (string, error) {
	return m.conn.RawHeader(m.uid)
}

// SetSeen sets or clears the \Seen flag.
func (m *Message) SetSeen(on bool) error {
	return m.conn.SetFlag(m.uid, base.FlagSeen, on)
}

// Delete marks the message for removal. It disappears on expunge; the
// message does not track its own deleted state.
func (m *Message) Delete() error {
	return m.conn.Delete(m.uid)
}
