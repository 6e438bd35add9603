package fetcher

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arowland/mailrounds/pkg/base"
	"github.com/arowland/mailrounds/pkg/mock"
	"github.com/arowland/mailrounds/pkg/models/connection"
	"github.com/arowland/mailrounds/pkg/models/message"
	"github.com/arowland/mailrounds/pkg/testutil"
)

func seedMailbox(t *testing.T) *testutil.FakeClient {
	t.Helper()

	fake := testutil.NewFakeClient()
	fake.Append(1, envelope("First", "alice"), "Subject: First\r\n", "body one\r\n")
	fake.Append(2, envelope("Second", "bob"), "Subject: Second\r\n", "body two\r\n")
	fake.Append(3, envelope("Third", "carol"), "Subject: Third\r\n", "body three\r\n", imap.SeenFlag)
	return fake
}

func envelope(subject, sender string) *imap.Envelope {
	return &imap.Envelope{
		Date:    time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC),
		Subject: subject,
		From:    []*imap.Address{{MailboxName: sender, HostName: "example.com"}},
		To:      []*imap.Address{{MailboxName: "me", HostName: "example.com"}},
	}
}

func newConnection(t *testing.T, fake *testutil.FakeClient) *connection.Connection {
	t.Helper()

	conn, err := connection.New(
		connection.WithAuth("user", "pass"),
		connection.WithClient(fake),
		connection.WithLogger(mock.SetupLogger(t)),
	)
	require.NoError(t, err)
	return conn
}

func newFetcher(t *testing.T, conn Conn, opts ...Option) *Fetcher {
	t.Helper()

	opts = append([]Option{
		WithConnection(conn),
		WithLogger(mock.SetupLogger(t)),
	}, opts...)

	f, err := New(opts...)
	require.NoError(t, err)
	return f
}

func TestNewValidation(t *testing.T) {
	t.Run("missing connection", func(t *testing.T) {
		_, err := New(WithLogger(mock.SetupLogger(t)))
		assert.Error(t, err)
	})

	t.Run("missing logger", func(t *testing.T) {
		_, err := New(WithConnection(newConnection(t, testutil.NewFakeClient())))
		assert.Error(t, err)
	})
}

// The two-message scenario: visit the unseen messages, mark them seen,
// delete one. After expunge and close, a fresh session must no longer see
// the deleted message.
func TestFetchVisitsUnseenAndExpungesDeleted(t *testing.T) {
	fake := seedMailbox(t)
	f := newFetcher(t, newConnection(t, fake))

	var visited []uint32
	err := f.Fetch(VisitorFunc(func(msg *message.Message) error {
		visited = append(visited, msg.UID())
		if err := msg.SetSeen(true); err != nil {
			return err
		}
		if msg.UID() == 2 {
			return msg.Delete()
		}
		return nil
	}), base.FilterUnseen)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 2}, visited)
	assert.True(t, fake.HasFlag(1, imap.SeenFlag))
	assert.False(t, fake.Exists(2))
	assert.Equal(t, 1, fake.ExpungeCalls)
	assert.Equal(t, 1, fake.LogoutCalls)

	// New session on the same account.
	conn := newConnection(t, fake)
	require.NoError(t, conn.Open())
	defer conn.Close() //nolint:errcheck

	uids, err := conn.Search(base.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, uids)

	unseen, err := conn.Search(base.FilterUnseen)
	require.NoError(t, err)
	assert.Empty(t, unseen)
}

func TestFetchDecodesAndExposesMessages(t *testing.T) {
	fake := testutil.NewFakeClient()
	fake.Append(7, &imap.Envelope{
		Subject: "=?UTF-8?B?Sm9zw6k=?=",
		From:    []*imap.Address{{PersonalName: "Alice", MailboxName: "alice", HostName: "example.com"}},
		To:      []*imap.Address{{MailboxName: "me", HostName: "example.com"}},
	}, "Subject: =?UTF-8?B?Sm9zw6k=?=\r\n", "hello\r\n")

	f := newFetcher(t, newConnection(t, fake))

	err := f.Fetch(VisitorFunc(func(msg *message.Message) error {
		assert.Equal(t, "José", msg.Subject())
		assert.Equal(t, "Alice <alice@example.com>", msg.From())

		body, err := msg.RawBody()
		require.NoError(t, err)
		assert.Equal(t, "hello\r\n", body)

		header, err := msg.RawHeader()
		require.NoError(t, err)
		assert.Contains(t, header, "Subject:")
		return nil
	}), base.FilterAll)
	require.NoError(t, err)
}

func TestFetchEmptyMailbox(t *testing.T) {
	fake := testutil.NewFakeClient()
	f := newFetcher(t, newConnection(t, fake))

	calls := 0
	err := f.Fetch(VisitorFunc(func(msg *message.Message) error {
		calls++
		return nil
	}), base.FilterAll)
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, 1, fake.LogoutCalls)
}

func TestFetchOpenFailurePropagates(t *testing.T) {
	fake := seedMailbox(t)
	fake.FailLogin = true
	f := newFetcher(t, newConnection(t, fake))

	err := f.Fetch(VisitorFunc(func(msg *message.Message) error {
		t.Fatal("visitor must not run when open fails")
		return nil
	}), base.FilterAll)

	var connErr *base.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Zero(t, fake.LogoutCalls)
}

// A visitor failure aborts the iteration but the connection is still closed;
// nothing is expunged.
func TestFetchVisitorFailureStillCloses(t *testing.T) {
	fake := seedMailbox(t)
	f := newFetcher(t, newConnection(t, fake))

	visitorErr := errors.New("boom")
	visits := 0
	err := f.Fetch(VisitorFunc(func(msg *message.Message) error {
		visits++
		return visitorErr
	}), base.FilterUnseen)

	require.Error(t, err)
	assert.ErrorIs(t, err, visitorErr)
	assert.Equal(t, 1, visits)
	assert.Zero(t, fake.ExpungeCalls)
	assert.Equal(t, 1, fake.LogoutCalls)
}

func TestFetchContinueOnError(t *testing.T) {
	fake := seedMailbox(t)
	f := newFetcher(t, newConnection(t, fake), WithContinueOnError(true))

	visitorErr := errors.New("boom")
	var visited []uint32
	err := f.Fetch(VisitorFunc(func(msg *message.Message) error {
		visited = append(visited, msg.UID())
		if msg.UID() == 1 {
			return visitorErr
		}
		return msg.Delete()
	}), base.FilterUnseen)

	require.Error(t, err)
	assert.ErrorIs(t, err, visitorErr)
	assert.Equal(t, []uint32{1, 2}, visited)
	// The failed message is untouched, the deleted one is expunged.
	assert.True(t, fake.Exists(1))
	assert.False(t, fake.Exists(2))
	assert.Equal(t, 1, fake.ExpungeCalls)
	assert.Equal(t, 1, fake.LogoutCalls)
}

func TestFetchRequiresVisitor(t *testing.T) {
	fake := seedMailbox(t)
	f := newFetcher(t, newConnection(t, fake))

	err := f.Fetch(nil, base.FilterAll)
	require.Error(t, err)
	assert.Zero(t, fake.LogoutCalls)
}
