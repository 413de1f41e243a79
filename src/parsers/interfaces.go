package parsers

import (
	"io"

	"github.com/username/optionfolio/backend/src/models"
)

// StatementParser defines the interface for parsing one broker statement
// export into typed, line-numbered raw transactions. Structural row
// problems are collected in the result, never returned as an error; a
// file is only rejected when it cannot be read at all.
type StatementParser interface {
	Parse(file io.Reader) models.ParseResult
}
