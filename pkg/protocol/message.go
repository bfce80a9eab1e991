package protocol

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ChatLine is a parsed "[HH:MM:SS] name: body" line
type ChatLine struct {
	Time string
	From string
	Body string
}

// FormatChatLine renders a chat line in the wire text format
func FormatChatLine(t time.Time, from, body string) string {
	return fmt.Sprintf("[%s] %s: %s", t.Format(TimeFormat), from, body)
}

// String renders the line back to wire format
func (c ChatLine) String() string {
	return fmt.Sprintf("[%s] %s: %s", c.Time, c.From, c.Body)
}

// ParseChatLine splits a formatted chat line. It reports false for text
// that does not carry the "[time] name: " prefix.
func ParseChatLine(s string) (ChatLine, bool) {
	if !strings.HasPrefix(s, "[") {
		return ChatLine{}, false
	}

	end := strings.Index(s, "] ")
	if end < 0 {
		return ChatLine{}, false
	}
	stamp := s[1:end]
	if _, err := time.Parse(TimeFormat, stamp); err != nil {
		return ChatLine{}, false
	}

	rest := s[end+2:]
	sep := strings.Index(rest, ": ")
	if sep < 0 {
		return ChatLine{}, false
	}

	return ChatLine{
		Time: stamp,
		From: rest[:sep],
		Body: rest[sep+2:],
	}, true
}

// DecodeText validates a decrypted payload as UTF-8 text
func DecodeText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: payload is not UTF-8", ErrEncoding)
	}
	return string(b), nil
}

// MessageBody extracts the message body a client sent. Clients send fully
// formatted lines; when the embedded name matches the registered sender the
// prefix is stripped so the relay can restamp it. Anything else is treated
// as a bare body.
func MessageBody(sender, text string) string {
	if body, ok := bodyFrom(text, sender); ok {
		return body
	}
	return text
}

// IsFromSender reports whether a received chat line was authored by name
func IsFromSender(text, name string) bool {
	_, ok := bodyFrom(text, name)
	return ok
}

// bodyFrom returns the body of a stamped chat line whose author is exactly
// name. Matching on the whole "name: " prefix keeps names that contain a
// colon working.
func bodyFrom(text, name string) (string, bool) {
	if name == "" || !strings.HasPrefix(text, "[") {
		return "", false
	}

	end := strings.Index(text, "] ")
	if end < 0 {
		return "", false
	}
	if _, err := time.Parse(TimeFormat, text[1:end]); err != nil {
		return "", false
	}

	rest, ok := strings.CutPrefix(text[end+2:], name+": ")
	return rest, ok
}

// NormalizeName trims a username line read from the wire. The ": "
// separator is collapsed so a name can never pose as "someone: text".
func NormalizeName(raw string) string {
	name := strings.TrimSpace(strings.TrimRight(raw, "\r\n"))
	for strings.Contains(name, ": ") {
		name = strings.ReplaceAll(name, ": ", ":")
	}
	return name
}
