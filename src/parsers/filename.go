package parsers

import (
	"path/filepath"
	"regexp"
)

// Provider filename shapes:
//
//	ibkr:       <prefix>.<account-digits>.<YYYYMMDD>.csv
//	tastytrade: <prefix>_<account>_<YYMMDD>_to_<YYMMDD>.csv
var (
	ibkrFilenameRe       = regexp.MustCompile(`^(.+)\.(\d+)\.(\d{8})\.csv$`)
	tastytradeFilenameRe = regexp.MustCompile(`^(.+)_([A-Za-z0-9]+)_(\d{6})_to_(\d{6})\.csv$`)
)

// DetectSource guesses the broker source from a statement filename.
// Returns an empty string when the name matches neither provider.
func DetectSource(path string) string {
	base := filepath.Base(path)
	if ibkrFilenameRe.MatchString(base) {
		return "ibkr"
	}
	if tastytradeFilenameRe.MatchString(base) {
		return "tastytrade"
	}
	return ""
}

// AccountFromFilename extracts the broker account identifier embedded in
// a provider filename. Returns no-match rather than an error for
// unrecognized names.
func AccountFromFilename(path string) (string, bool) {
	base := filepath.Base(path)
	if m := ibkrFilenameRe.FindStringSubmatch(base); m != nil {
		return m[2], true
	}
	if m := tastytradeFilenameRe.FindStringSubmatch(base); m != nil {
		return m[2], true
	}
	return "", false
}
