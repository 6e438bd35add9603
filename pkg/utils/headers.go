package utils

import (
	"mime"
	"net/mail"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/pkg/errors"
)

var lineEnding = regexp.MustCompile(`\r\n|\r|\n`)

// DecodeMimeField decodes MIME encoded-words (RFC 2047) in a header value
// into plain UTF-8. Plain ASCII input is returned unchanged, as is anything
// that fails to decode.
func DecodeMimeField(raw string) string {
	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := dec.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ParseAddressList parses an RFC 822 address list (a raw To or From header
// value) and returns the mailbox local part of every address. The result is
// always a slice; callers check the length.
func ParseAddressList(raw string) ([]string, error) {
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing address list %q", raw)
	}

	locals := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		local, _, _ := strings.Cut(addr.Address, "@")
		locals = append(locals, local)
	}
	return locals, nil
}

// StripHeaders removes every header line whose leading "Name:" token matches
// one of names (case-sensitively) and reassembles the rest with CRLF line
// endings. Folded continuation lines are never matched and are always kept,
// even when their parent header is stripped.
func StripHeaders(raw string, names []string) string {
	var b strings.Builder
	for _, line := range lineEnding.Split(raw, -1) {
		if line == "" {
			continue
		}
		if matchesHeaderName(line, names) {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

func matchesHeaderName(line string, names []string) bool {
	name, _, found := strings.Cut(line, ":")
	if !found {
		return false
	}
	for _, n := range names {
		if name == n {
			return true
		}
	}
	return false
}
