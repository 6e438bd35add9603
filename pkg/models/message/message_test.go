package message

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arowland/mailrounds/pkg/base"
)

// stubConn is a function-field fake of the Conn interface.
type stubConn struct {
	overview    *base.Overview
	overviewErr error

	rawBodyCalls   int
	rawHeaderCalls int

	setFlagCalls []flagCall
	deleteCalls  int
}

type flagCall struct {
	id   uint32
	flag base.Flag
	on   bool
}

func (s *stubConn) FetchOverview(id uint32) (*base.Overview, error) {
	if s.overviewErr != nil {
		return nil, s.overviewErr
	}
	return s.overview, nil
}

func (s *stubConn) RawBody(id uint32) (string, error) {
	s.rawBodyCalls++
	return "raw body", nil
}

func (s *stubConn) RawHeader(id uint32) (string, error) {
	s.rawHeaderCalls++
	return "Subject: Hi\r\n", nil
}

func (s *stubConn) SetFlag(id uint32, flag base.Flag, on bool) error {
	s.setFlagCalls = append(s.setFlagCalls, flagCall{id: id, flag: flag, on: on})
	return nil
}

func (s *stubConn) Delete(id uint32) error {
	s.deleteCalls++
	return nil
}

func testOverview() *base.Overview {
	return &base.Overview{
		UID:     42,
		From:    "=?UTF-8?B?Sm9zw6k=?= <jose@example.com>",
		To:      "a@b.com, c@d.com",
		Subject: "=?ISO-8859-1?Q?Caf=E9?=",
		Date:    time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewDecodesEnvelopeFields(t *testing.T) {
	conn := &stubConn{overview: testOverview()}

	msg, err := New(conn, 42)
	require.NoError(t, err)

	assert.Equal(t, uint32(42), msg.UID())
	assert.Equal(t, "José <jose@example.com>", msg.From())
	assert.Equal(t, "a@b.com, c@d.com", msg.To())
	assert.Equal(t, "Café", msg.Subject())
	assert.Equal(t, testOverview().Date, msg.Date())
}

func TestNewRequiresConnection(t *testing.T) {
	_, err := New(nil, 1)
	assert.Error(t, err)
}

func TestNewPropagatesOverviewError(t *testing.T) {
	conn := &stubConn{overviewErr: errors.WithStack(base.ErrNotConnected)}

	_, err := New(conn, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, base.ErrNotConnected)
}

// Raw fetches are delegated on every call; the message caches nothing.
func TestRawAccessorsDoNotCache(t *testing.T) {
	conn := &stubConn{overview: testOverview()}
	msg, err := New(conn, 42)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		body, err := msg.RawBody()
		require.NoError(t, err)
		assert.Equal(t, "raw body", body)
	}
	assert.Equal(t, 3, conn.rawBodyCalls)

	_, err = msg.RawHeader()
	require.NoError(t, err)
	_, err = msg.RawHeader()
	require.NoError(t, err)
	assert.Equal(t, 2, conn.rawHeaderCalls)
}

// SetSeen must honor its argument in both directions.
func TestSetSeen(t *testing.T) {
	conn := &stubConn{overview: testOverview()}
	msg, err := New(conn, 42)
	require.NoError(t, err)

	require.NoError(t, msg.SetSeen(true))
	require.NoError(t, msg.SetSeen(false))

	require.Len(t, conn.setFlagCalls, 2)
	assert.Equal(t, flagCall{id: 42, flag: base.FlagSeen, on: true}, conn.setFlagCalls[0])
	assert.Equal(t, flagCall{id: 42, flag: base.FlagSeen, on: false}, conn.setFlagCalls[1])
}

func TestDelete(t *testing.T) {
	conn := &stubConn{overview: testOverview()}
	msg, err := New(conn, 42)
	require.NoError(t, err)

	require.NoError(t, msg.Delete())
	assert.Equal(t, 1, conn.deleteCalls)
}
