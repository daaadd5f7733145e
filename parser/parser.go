// Package parser converts raw reporting API bodies into normalized records.
// Nothing in this package performs I/O.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-rescue-extract/models"
)

// StatusOK is the status line of every successful API response.
const StatusOK = "OK"

// ErrParse indicates a response body that does not match its wire format.
type ErrParse struct {
	Format string
	Err    error
}

func (e ErrParse) Error() string {
	return fmt.Errorf("parse %s: %w", e.Format, e.Err).Error()
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

func parseErr(format, msg string, args ...any) error {
	return ErrParse{Format: format, Err: fmt.Errorf(msg, args...)}
}

// Table is a parsed report: normalized header names in declaration order and
// one record per row.
type Table struct {
	Header []string
	Rows   []models.Record
}

// Strategy parses a full response body (status preamble included).
type Strategy func(body string) (*Table, error)

// Parser holds the key normalizer shared by every format.
type Parser struct {
	keys *Normalizer
}

// New builds a parser; a nil normalizer falls back to uncached NormalizeKey.
func New(keys *Normalizer) *Parser {
	return &Parser{keys: keys}
}

func (p *Parser) key(raw string) string {
	if p == nil {
		return NormalizeKey(raw)
	}
	return p.keys.Normalize(raw)
}

// SplitStatus separates the status line from the payload. Responses are a
// status line, a blank line, then the payload.
func SplitStatus(body string) (status, rest string, err error) {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	idx := strings.Index(body, "\n\n")
	if idx < 0 {
		return "", "", parseErr("preamble", "missing status line and blank line")
	}
	return strings.TrimSpace(body[:idx]), body[idx+2:], nil
}

// Status returns the first status line of a body, tolerating bodies that are
// nothing but the status.
func Status(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	status, _, _ := strings.Cut(body, "\n\n")
	return strings.TrimSpace(status)
}

// IsParseError reports whether err came from a parser.
func IsParseError(err error) bool {
	var pe ErrParse
	return errors.As(err, &pe)
}
