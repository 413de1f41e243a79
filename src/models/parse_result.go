package models

// ParseErrorCode identifies the structural problem with a single row.
type ParseErrorCode string

const (
	ErrCodeMissingRequiredField ParseErrorCode = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidDateFormat    ParseErrorCode = "INVALID_DATE_FORMAT"
	ErrCodeInvalidNumber        ParseErrorCode = "INVALID_NUMBER"
)

// ParseError is a per-row, non-fatal structural error. A file is never
// rejected because of a few bad rows; the errors travel alongside the
// successfully parsed transactions.
type ParseError struct {
	Line    int            `json:"line"`
	Code    ParseErrorCode `json:"code"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
	Raw     string         `json:"raw,omitempty"`
}

// Reasons a report section is skipped without being parsed.
const (
	SkipReasonPrivacy          = "Privacy"
	SkipReasonNonTransactional = "NonTransactional"
	SkipReasonUnrecognized     = "Unrecognized"
)

// SkippedSection records a report section that was deliberately not parsed.
type SkippedSection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"` // e.g. "Privacy"
}

// ParseResult is the shared output contract of both broker parsers.
type ParseResult struct {
	Success         bool             `json:"success"`
	Transactions    []RawTransaction `json:"transactions"`
	Errors          []ParseError     `json:"errors"`
	LinesProcessed  int              `json:"lines_processed"`
	SkippedSections []SkippedSection `json:"skipped_sections"`
}
