package parsers

import (
	"fmt"

	"github.com/username/optionfolio/backend/src/parsers/ibkr"
	"github.com/username/optionfolio/backend/src/parsers/tastytrade"
)

// GetParser returns the statement parser for a broker source identifier.
func GetParser(source string) (StatementParser, error) {
	switch source {
	case "ibkr":
		return ibkr.NewParser(), nil
	case "tastytrade":
		return tastytrade.NewParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for source: %s", source)
	}
}
