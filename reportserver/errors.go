package reportserver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrAuthenticationFailed indicates the report server rejected the
// Windows-integrated credentials presented by the fetcher.
var ErrAuthenticationFailed = errors.New("report server rejected credentials")

// UpstreamError is returned when the report server answers with a non-success
// status. Message is a short human-readable extract of the response body.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("report server error %d: %s", e.Status, e.Message)
}

// ParseError indicates the fetched document could not be parsed as XML.
// It is fatal to the sync run that issued the fetch.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing feed document: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

const maxErrorExtract = 200

var (
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	rsErrorRe   = regexp.MustCompile(`(?is)ReportServerException\s*:?\s*([^<]+)`)
	htmlTagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaces = regexp.MustCompile(`\s+`)
)

// extractErrorMessage pulls a short readable message out of a report server
// error body. SSRS errors arrive as HTML pages; known markers are tried first,
// then the stripped body is truncated.
func extractErrorMessage(body []byte) string {
	text := string(body)

	if m := rsErrorRe.FindStringSubmatch(text); m != nil {
		msg := condense(m[1])
		if len(msg) > maxErrorExtract {
			msg = msg[:maxErrorExtract]
		}
		return msg
	}
	if m := titleRe.FindStringSubmatch(text); m != nil {
		if title := condense(m[1]); title != "" {
			return title
		}
	}

	plain := condense(htmlTagRe.ReplaceAllString(text, " "))
	if len(plain) > maxErrorExtract {
		plain = plain[:maxErrorExtract]
	}
	if plain == "" {
		plain = "empty response body"
	}
	return plain
}

func condense(s string) string {
	return strings.TrimSpace(whitespaces.ReplaceAllString(s, " "))
}
