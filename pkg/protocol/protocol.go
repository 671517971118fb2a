// Package protocol speaks the Monolith hub's line protocol over a websocket.
// A frame is a single line of colon-separated tokens:
//
//	TO:VERB:NOUN[:ARG...]:FROM
//
// Devices reply with VERB "OK" or "ERR".
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	VerbOK  = "OK"
	VerbErr = "ERR"

	// Broadcast addresses every shard.
	Broadcast = "ALL"
)

var ErrMalformed = errors.New("protocol: malformed message")

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To, m.Verb, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

// IsOK reports whether m is a positive reply.
func (m Message) IsOK() bool { return m.Verb == VerbOK }

// Reply builds a response addressed back to the sender.
func (m Message) Reply(ok bool, reason string, args ...string) Message {
	verb := VerbOK
	if !ok {
		verb = VerbErr
	}
	return Message{To: m.From, Verb: verb, Noun: reason, Args: args, From: m.To}
}

// Parse decodes one frame. Verb and noun are upper-cased.
func Parse(line string) (Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return Message{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return Message{}, fmt.Errorf("%w: whitespace inside frame", ErrMalformed)
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return Message{}, fmt.Errorf("%w: %d fields, want at least 4", ErrMalformed, len(parts))
	}

	m := Message{
		To:   parts[0],
		Verb: strings.ToUpper(parts[1]),
		Noun: strings.ToUpper(parts[2]),
		Args: append([]string(nil), parts[3:len(parts)-1]...),
		From: parts[len(parts)-1],
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks every field against the token grammar.
func (m Message) Validate() error {
	if !isToken(m.To) && !isHexID(m.To) && m.To != Broadcast {
		return fmt.Errorf("%w: invalid TO %q", ErrMalformed, m.To)
	}
	if !isToken(m.From) && !isHexID(m.From) {
		return fmt.Errorf("%w: invalid FROM %q", ErrMalformed, m.From)
	}
	if !isToken(m.Verb) || !isToken(m.Noun) {
		return fmt.Errorf("%w: invalid VERB/NOUN %q %q", ErrMalformed, m.Verb, m.Noun)
	}
	for i, a := range m.Args {
		if !isToken(a) {
			return fmt.Errorf("%w: invalid ARG[%d] %q", ErrMalformed, i, a)
		}
	}
	return nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool { return tokenRe.MatchString(s) }
func isHexID(s string) bool { return hexIDRe.MatchString(strings.ToUpper(s)) }

// recipient is the TO field of a raw frame.
func recipient(frame []byte) string {
	to, _, _ := strings.Cut(string(frame), ":")
	return to
}
