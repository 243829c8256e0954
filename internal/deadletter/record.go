// Package deadletter persists messages that left the retry cycle for good
// and exposes the queries the admin surface needs.
//
// A record is written once with status FAILED. The only transition is to
// RETRYING, performed after an operator resend succeeds.
package deadletter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a dead-letter record
type Status string

const (
	StatusFailed   Status = "FAILED"
	StatusRetrying Status = "RETRYING"
)

// ParseStatus accepts the status names case-insensitively
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusFailed:
		return StatusFailed, nil
	case StatusRetrying:
		return StatusRetrying, nil
	default:
		return "", fmt.Errorf("unknown dead letter status %q", s)
	}
}

// Failure reasons written by the retry pipeline
const (
	ReasonMissingOriginalTopic = "missing original-topic marker"
	ReasonMaxRetryExceeded     = "max retry count exceeded"
	ReasonEncodingFailed       = "envelope encoding failed"
)

// PayloadEncoding says how Record.Payload holds the message value
type PayloadEncoding string

const (
	EncodingText   PayloadEncoding = "text"
	EncodingBase64 PayloadEncoding = "base64"
)

// Record is a terminally failed message
type Record struct {
	ID              int64           `json:"id"`
	Topic           string          `json:"topic"`
	MessageKey      *string         `json:"messageKey"`
	Payload         string          `json:"payload"`
	PayloadEncoding PayloadEncoding `json:"payloadEncoding"`
	FailureReason   string          `json:"failureReason"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	CreatedBy       string          `json:"createdBy"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	UpdatedBy       string          `json:"updatedBy"`
}

// EncodePayload picks the stored form of a message value. UTF-8 text without
// NUL bytes is kept as is; anything else is base64 encoded.
func EncodePayload(value []byte) (string, PayloadEncoding) {
	if utf8.Valid(value) && bytes.IndexByte(value, 0) < 0 {
		return string(value), EncodingText
	}
	return base64.StdEncoding.EncodeToString(value), EncodingBase64
}

// PayloadBytes returns the original message value
func (r Record) PayloadBytes() ([]byte, error) {
	switch r.PayloadEncoding {
	case EncodingText, "":
		return []byte(r.Payload), nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("dead letter %d: decode payload: %w", r.ID, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("dead letter %d: unknown payload encoding %q", r.ID, r.PayloadEncoding)
	}
}

// Query filters a paginated listing. Nil or zero fields do not filter.
// Page is 1-based.
type Query struct {
	Page     int
	PageSize int
	StartID  *int64
	EndID    *int64
	Topic    string
	Status   Status
	FromDate *time.Time // inclusive, start of day
	ToDate   *time.Time // inclusive, whole day
}

// Offset returns the 0-based row offset of the page
func (q Query) Offset() int {
	if q.Page <= 1 || q.PageSize <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

// createdFrom and createdBefore turn the date filters into a half-open range.
func (q Query) createdFrom() *time.Time {
	if q.FromDate == nil {
		return nil
	}
	t := startOfDay(*q.FromDate)
	return &t
}

func (q Query) createdBefore() *time.Time {
	if q.ToDate == nil {
		return nil
	}
	t := startOfDay(*q.ToDate).AddDate(0, 0, 1)
	return &t
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Page is one page of a listing, newest id first
type Page struct {
	Items      []Record `json:"items"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalPages int      `json:"totalPages"`
}

func newPage(items []Record, total int64, q Query) Page {
	if items == nil {
		items = []Record{}
	}
	pages := 0
	if q.PageSize > 0 && total > 0 {
		pages = int((total-1)/int64(q.PageSize) + 1)
	}
	return Page{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: pages}
}

var ErrRecordNotFound = errors.New("dead letter record not found")

// Store is the persistence contract for dead-letter records
type Store interface {
	// Save appends rec, assigns its id, and forces status FAILED.
	Save(ctx context.Context, rec *Record) error

	// FindByIDRangeAndStatus returns records with id in [startID, endID] and
	// the given status, in ascending id order.
	FindByIDRangeAndStatus(ctx context.Context, startID, endID int64, status Status) ([]Record, error)

	// FindMessages returns one page of records matching q, newest id first.
	// q must already be normalized (page >= 1, page size > 0).
	FindMessages(ctx context.Context, q Query) (Page, error)

	// UpdateStatus sets the status of one record.
	UpdateStatus(ctx context.Context, id int64, status Status, updatedBy string) error
}
