// Package testutil provides hand-written fakes shared across test files.
package testutil

import (
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"

	"github.com/arowland/mailrounds/pkg/mock"
)

type fakeMessage struct {
	envelope *imap.Envelope
	header   string
	body     string
	flags    map[string]bool
}

// FakeClient is an in-memory base.Client standing in for a server-side
// mailbox. One instance survives logout, so closing a connection and opening
// a new one against the same FakeClient behaves like a fresh session on the
// same account.
type FakeClient struct {
	// FailLogin makes Login and Authenticate fail, simulating a handshake
	// failure.
	FailLogin bool

	messages map[uint32]*fakeMessage
	order    []uint32
	state    imap.ConnState

	// Counters for asserting call behavior.
	FetchCalls   int
	ExpungeCalls int
	LogoutCalls  int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		messages: map[uint32]*fakeMessage{},
		state:    imap.NotAuthenticatedState,
	}
}

// Append seeds a message. The envelope is what FETCH ENVELOPE returns;
// header and body back the BODY[HEADER] and BODY[TEXT] sections.
func (f *FakeClient) Append(uid uint32, envelope *imap.Envelope, header, body string, flags ...string) {
	msg := &fakeMessage{
		envelope: envelope,
		header:   header,
		body:     body,
		flags:    map[string]bool{},
	}
	for _, flag := range flags {
		msg.flags[flag] = true
	}
	f.messages[uid] = msg
	f.order = append(f.order, uid)
}

// HasFlag reports whether the stored message carries the flag.
func (f *FakeClient) HasFlag(uid uint32, flag string) bool {
	msg, ok := f.messages[uid]
	return ok && msg.flags[flag]
}

// Exists reports whether the message is still stored (i.e. not expunged).
func (f *FakeClient) Exists(uid uint32) bool {
	_, ok := f.messages[uid]
	return ok
}

func (f *FakeClient) Login(username, password string) error {
	if f.FailLogin {
		return errors.New("authentication failed")
	}
	f.state = imap.AuthenticatedState
	return nil
}

func (f *FakeClient) Authenticate(auth sasl.Client) error {
	if f.FailLogin {
		return errors.New("authentication failed")
	}
	f.state = imap.AuthenticatedState
	return nil
}

func (f *FakeClient) Logout() error {
	f.LogoutCalls++
	f.state = imap.LogoutState
	return nil
}

func (f *FakeClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if f.state != imap.AuthenticatedState && f.state != imap.SelectedState {
		return nil, errors.New("not authenticated")
	}
	f.state = imap.SelectedState
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(f.order))}, nil
}

func (f *FakeClient) State() imap.ConnState {
	return f.state
}

func (f *FakeClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	if f.state != imap.SelectedState {
		return nil, errors.New("no mailbox selected")
	}

	var uids []uint32
	for _, uid := range f.order {
		msg := f.messages[uid]
		if !matchesCriteria(msg, criteria) {
			continue
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

func matchesCriteria(msg *fakeMessage, criteria *imap.SearchCriteria) bool {
	if criteria == nil {
		return true
	}
	for _, flag := range criteria.WithFlags {
		if !msg.flags[flag] {
			return false
		}
	}
	for _, flag := range criteria.WithoutFlags {
		if msg.flags[flag] {
			return false
		}
	}
	return true
}

func (f *FakeClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	f.FetchCalls++

	if f.state != imap.SelectedState {
		return errors.New("no mailbox selected")
	}

	for seq, uid := range f.order {
		if !seqset.Contains(uid) {
			continue
		}
		stored := f.messages[uid]
		msg := &imap.Message{
			SeqNum: uint32(seq + 1),
			Uid:    uid,
			Body:   map[*imap.BodySectionName]imap.Literal{},
		}
		for _, item := range items {
			if item == imap.FetchEnvelope {
				msg.Envelope = stored.envelope
				continue
			}
			section, err := imap.ParseBodySectionName(item)
			if err != nil {
				continue
			}
			// Responses key body sections without the PEEK modifier.
			section.Peek = false
			switch section.Specifier {
			case imap.TextSpecifier:
				msg.Body[section] = mock.NewStringLiteral(stored.body)
			case imap.HeaderSpecifier:
				msg.Body[section] = mock.NewStringLiteral(stored.header)
			case imap.EntireSpecifier:
				msg.Body[section] = mock.NewStringLiteral(stored.header + "\r\n" + stored.body)
			}
		}
		ch <- msg
	}
	return nil
}

func (f *FakeClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	if ch != nil {
		close(ch)
	}
	if f.state != imap.SelectedState {
		return errors.New("no mailbox selected")
	}

	add := strings.HasPrefix(string(item), "+")
	flags, err := storeFlags(value)
	if err != nil {
		return err
	}

	for _, uid := range f.order {
		if !seqset.Contains(uid) {
			continue
		}
		for _, flag := range flags {
			if add {
				f.messages[uid].flags[flag] = true
			} else {
				delete(f.messages[uid].flags, flag)
			}
		}
	}
	return nil
}

func storeFlags(value interface{}) ([]string, error) {
	raw, ok := value.([]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected store value %T", value)
	}
	flags := make([]string, 0, len(raw))
	for _, v := range raw {
		flag, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("unexpected flag %T", v)
		}
		flags = append(flags, flag)
	}
	return flags, nil
}

func (f *FakeClient) Expunge(ch chan uint32) error {
	f.ExpungeCalls++
	if f.state != imap.SelectedState {
		if ch != nil {
			close(ch)
		}
		return errors.New("no mailbox selected")
	}

	var kept []uint32
	for seq, uid := range f.order {
		if f.messages[uid].flags[imap.DeletedFlag] {
			delete(f.messages, uid)
			if ch != nil {
				ch <- uint32(seq + 1)
			}
			continue
		}
		kept = append(kept, uid)
	}
	f.order = kept
	if ch != nil {
		close(ch)
	}
	return nil
}
