// Package fetcher iterates a mailbox: open, search, visit each matching
// message, expunge, close.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arowland/mailrounds/pkg/base"
	"github.com/arowland/mailrounds/pkg/models/message"
	"github.com/arowland/mailrounds/pkg/utils"
)

// Conn is the slice of the connection the fetcher drives.
type Conn interface {
	message.Conn
	Open() error
	Search(filter base.Filter) ([]uint32, error)
	Expunge() error
	Close() error
}

// Visitor is called once per fetched message, synchronously and in server
// order. It may flag or delete the message during the call.
type Visitor interface {
	HandleMail(msg *message.Message) error
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(msg *message.Message) error

func (f VisitorFunc) HandleMail(msg *message.Message) error {
	return f(msg)
}

type Fetcher struct {
	conn            Conn
	continueOnError bool
	logger          *slog.Logger
	ctx             context.Context
}

type Option func(*Fetcher) error

func New(opts ...Option) (*Fetcher, error) {
	var f Fetcher
	for _, opt := range opts {
		if err := opt(&f); err != nil {
			return nil, err
		}
	}

	if f.conn == nil {
		return nil, errors.New("requires connection")
	}

	if f.logger == nil {
		return nil, errors.New("requires slogger")
	}

	if f.ctx == nil {
		f.ctx = context.Background()
	}

	return &f, nil
}

func WithConnection(conn Conn) Option {
	return func(f *Fetcher) error {
		f.conn = conn
		return nil
	}
}

// WithContinueOnError visits the remaining messages when a visitor fails
// instead of aborting, returning the collected errors afterwards.
func WithContinueOnError(continueOnError bool) Option {
	return func(f *Fetcher) error {
		f.continueOnError = continueOnError
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) error {
		f.logger = logger
		return nil
	}
}

func WithCtx(ctx context.Context) Option {
	return func(f *Fetcher) error {
		f.ctx = ctx
		return nil
	}
}

// Fetch opens the connection, visits every message matching the filter, then
// expunges and closes. Close runs on every exit path, visitor failure
// included; the first error stays primary when cleanup also fails.
func (f *Fetcher) Fetch(visitor Visitor, filter base.Filter) (err error) {
	if visitor == nil {
		return errors.New("requires visitor")
	}

	if err := f.conn.Open(); err != nil {
		f.logger.ErrorContext(f.ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return err
	}

	defer func() {
		if cerr := f.conn.Close(); cerr != nil {
			f.logger.ErrorContext(f.ctx, cerr.Error(), slog.Any("error", utils.WrapError(cerr)))
			if err == nil {
				err = cerr
			}
		}
	}()

	ids, err := f.conn.Search(filter)
	if err != nil {
		return err
	}
	f.logger.Info("Visiting messages", slog.Int("count", len(ids)), slog.String("filter", filter.String()))

	var visitErrs []error
	for _, id := range ids {
		verr := f.visit(visitor, id)
		if verr == nil {
			continue
		}
		if !f.continueOnError {
			return verr
		}
		f.logger.ErrorContext(f.ctx, verr.Error(), slog.Any("error", utils.WrapError(verr)))
		visitErrs = append(visitErrs, verr)
	}

	if eerr := f.conn.Expunge(); eerr != nil {
		visitErrs = append(visitErrs, eerr)
	}

	err = errors.Join(visitErrs...)
	return err
}

func (f *Fetcher) visit(visitor Visitor, id uint32) error {
	msg, err := message.New(f.conn, id)
	if err != nil {
		return err
	}
	if err := visitor.HandleMail(msg); err != nil {
		return fmt.Errorf("visiting message %d: %w", id, err)
	}
	return nil
}
