// Package connection owns a single live IMAP session and guards every
// mailbox operation against use before open or after close.
package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"

	"github.com/arowland/mailrounds/pkg/base"
	"github.com/arowland/mailrounds/pkg/utils"
)

// DefaultMailbox is selected on open unless WithMailbox overrides it.
const DefaultMailbox = "INBOX"

// Dialer establishes the underlying transport.
type Dialer func(address string, tlsConfig *tls.Config) (base.Client, error)

// Connection wraps a base.Client behind typed mailbox operations. It is not
// safe for concurrent use; callers must serialize access externally.
type Connection struct {
	addr       string
	username   string
	password   string
	mailbox    string
	tlsConfig  *tls.Config
	saslClient sasl.Client
	dialTLS    Dialer

	client   base.Client
	injected bool
	opened   bool

	logger *slog.Logger
	ctx    context.Context
}

type Option func(*Connection) error

func New(opts ...Option) (*Connection, error) {
	var conn Connection
	for _, opt := range opts {
		if err := opt(&conn); err != nil {
			return nil, err
		}
	}

	if conn.dialTLS == nil {
		conn.dialTLS = func(address string, tlsConfig *tls.Config) (base.Client, error) {
			c, err := imapclient.DialTLS(address, tlsConfig)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	if conn.saslClient == nil && (conn.username == "" || conn.password == "") {
		return nil, errors.New("requires credentials or a SASL client")
	}

	if conn.client == nil && conn.addr == "" {
		return nil, errors.New("requires client or address")
	}

	if conn.logger == nil {
		return nil, errors.New("requires slogger")
	}

	if conn.mailbox == "" {
		conn.mailbox = DefaultMailbox
	}

	if conn.ctx == nil {
		conn.ctx = context.Background()
	}

	return &conn, nil
}

func WithAddr(addr string) Option {
	return func(c *Connection) error {
		c.addr = addr
		return nil
	}
}

func WithAuth(username string, password string) Option {
	return func(c *Connection) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithSASL authenticates with the given SASL mechanism instead of LOGIN.
func WithSASL(auth sasl.Client) Option {
	return func(c *Connection) error {
		c.saslClient = auth
		return nil
	}
}

func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *Connection) error {
		c.tlsConfig = tlsConfig
		return nil
	}
}

func WithMailbox(name string) Option {
	return func(c *Connection) error {
		if strings.TrimSpace(name) == "" {
			return errors.New("requires a mailbox name")
		}
		c.mailbox = name
		return nil
	}
}

func WithClient(client base.Client) Option {
	return func(c *Connection) error {
		c.client = client
		c.injected = true
		return nil
	}
}

func WithDialer(d Dialer) Option {
	return func(c *Connection) error {
		c.dialTLS = d
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) error {
		c.logger = logger
		return nil
	}
}

func WithCtx(ctx context.Context) Option {
	return func(c *Connection) error {
		c.ctx = ctx
		return nil
	}
}

// Open establishes the session: dial, authenticate, select the mailbox.
// Any failure leaves the connection closed and returns a *base.ConnectionError.
// Opening an already open connection is a no-op.
func (c *Connection) Open() error {
	if c.opened {
		c.logger.Info("Already connected")
		return nil
	}

	client := c.client
	if client == nil {
		dialed, err := c.dialTLS(c.addr, c.tlsConfig)
		if err != nil {
			c.logger.ErrorContext(c.ctx, fmt.Sprintf("Failed to dial %s: %v", c.addr, err), slog.Any("error", utils.WrapError(err)))
			return &base.ConnectionError{Addr: c.addr, Cause: err}
		}
		client = dialed
	}

	var err error
	switch client.State() {
	case imap.AuthenticatedState, imap.SelectedState:
		c.logger.Info("Already authenticated")
	default:
		if c.saslClient != nil {
			err = client.Authenticate(c.saslClient)
		} else {
			err = client.Login(c.username, c.password)
		}
	}
	if err != nil {
		c.logger.ErrorContext(c.ctx, fmt.Sprintf("Failed to login: %v", err), slog.Any("error", utils.WrapError(err)))
		if !c.injected {
			_ = client.Logout()
		}
		return &base.ConnectionError{Addr: c.addr, Cause: err}
	}

	if _, err := client.Select(c.mailbox, false); err != nil {
		c.logger.ErrorContext(c.ctx, fmt.Sprintf("Failed to select %s: %v", c.mailbox, err), slog.Any("error", utils.WrapError(err)))
		if !c.injected {
			_ = client.Logout()
		}
		return &base.ConnectionError{Addr: c.addr, Cause: err}
	}

	c.client = client
	c.opened = true
	c.logger.Info("Login success", slog.String("mailbox", c.mailbox))
	return nil
}

// Opened reports whether the session is currently open.
func (c *Connection) Opened() bool {
	return c.opened
}

func (c *Connection) guard() error {
	if !c.opened || c.client == nil {
		return errors.WithStack(base.ErrNotConnected)
	}
	return nil
}

// Search returns the IDs of messages matching the filter. No matches is an
// empty slice, never an error.
func (c *Connection) Search(filter base.Filter) ([]uint32, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	uids, err := c.client.UidSearch(filter.Criteria())
	if err != nil {
		c.logger.ErrorContext(c.ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return nil, errors.Wrapf(err, "searching %s messages", filter)
	}
	if uids == nil {
		uids = []uint32{}
	}
	return uids, nil
}

// FetchOverview returns the envelope record for one message.
func (c *Connection) FetchOverview(id uint32) (*base.Overview, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	msg, err := c.fetchFirst(id, []imap.FetchItem{imap.FetchEnvelope})
	if err != nil {
		return nil, err
	}
	if msg.Envelope == nil {
		return nil, errors.Errorf("message %d has no envelope", id)
	}

	return &base.Overview{
		UID:     id,
		From:    formatAddressList(msg.Envelope.From),
		To:      formatAddressList(msg.Envelope.To),
		Subject: msg.Envelope.Subject,
		Date:    msg.Envelope.Date,
	}, nil
}

var (
	bodySection   = &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier}, Peek: true}
	headerSection = &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier}, Peek: true}
)

// RawBody returns the raw message text. Every call is one round trip; nothing
// is cached.
func (c *Connection) RawBody(id uint32) (string, error) {
	return c.fetchSection(id, bodySection)
}

// RawHeader returns the raw header block. Every call is one round trip.
func (c *Connection) RawHeader(id uint32) (string, error) {
	return c.fetchSection(id, headerSection)
}

// SetFlag sets or clears a flag on one message.
func (c *Connection) SetFlag(id uint32, flag base.Flag, on bool) error {
	if err := c.guard(); err != nil {
		return err
	}

	op := imap.FlagsOp(imap.AddFlags)
	if !on {
		op = imap.RemoveFlags
	}
	item := imap.FormatFlagsOp(op, true)
	flags := []interface{}{flag.IMAPFlag()}

	seqset := new(imap.SeqSet)
	seqset.AddNum(id)
	if err := c.client.UidStore(seqset, item, flags, nil); err != nil {
		c.logger.ErrorContext(c.ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return errors.Wrapf(err, "storing %s flag on message %d", flag, id)
	}
	return nil
}

// Delete marks one message for removal. It stays on the server until Expunge.
func (c *Connection) Delete(id uint32) error {
	if err := c.guard(); err != nil {
		return err
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}

	seqset := new(imap.SeqSet)
	seqset.AddNum(id)
	if err := c.client.UidStore(seqset, item, flags, nil); err != nil {
		c.logger.ErrorContext(c.ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return errors.Wrapf(err, "deleting message %d", id)
	}
	return nil
}

// Expunge permanently removes all messages marked for deletion in this
// session. Their IDs are invalid afterwards.
func (c *Connection) Expunge() error {
	if err := c.guard(); err != nil {
		return err
	}

	if err := c.client.Expunge(nil); err != nil {
		c.logger.ErrorContext(c.ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return errors.Wrap(err, "expunging mailbox")
	}
	return nil
}

// Close releases the session. Closing a connection that never opened is a
// no-op.
func (c *Connection) Close() error {
	if !c.opened {
		return nil
	}
	c.opened = false

	err := c.client.Logout()
	if !c.injected {
		c.client = nil
	}
	if err != nil {
		c.logger.ErrorContext(c.ctx, fmt.Sprintf("Failed to logout: %v", err), slog.Any("error", utils.WrapError(err)))
		return errors.Wrap(err, "closing connection")
	}
	return nil
}

// fetchFirst runs one UID FETCH and returns the first (and only) record.
func (c *Connection) fetchFirst(id uint32, items []imap.FetchItem) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqset, items, messages)
	}()

	var first *imap.Message
	for msg := range messages {
		if first == nil {
			first = msg
		}
	}

	if err := <-done; err != nil {
		c.logger.ErrorContext(c.ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return nil, errors.Wrapf(err, "fetching message %d", id)
	}
	if first == nil {
		return nil, errors.Errorf("no message with id %d", id)
	}
	return first, nil
}

func (c *Connection) fetchSection(id uint32, section *imap.BodySectionName) (string, error) {
	if err := c.guard(); err != nil {
		return "", err
	}

	msg, err := c.fetchFirst(id, []imap.FetchItem{section.FetchItem()})
	if err != nil {
		return "", err
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return "", errors.Errorf("message %d has no %s section", id, section.Specifier)
	}

	body, err := io.ReadAll(literal)
	if err != nil {
		return "", errors.Wrapf(err, "reading message %d", id)
	}
	return string(body), nil
}

func formatAddressList(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address()))
		} else {
			parts = append(parts, addr.Address())
		}
	}
	return strings.Join(parts, ", ")
}
