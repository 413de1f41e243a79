package ibkr

import "github.com/username/optionfolio/backend/src/models"

// sectionClass buckets an activity-statement section for processing.
type sectionClass int

const (
	// classTransactional sections are parsed into raw transactions.
	classTransactional sectionClass = iota
	// classPrivacy sections carry account-identifying data and must never
	// be parsed into persisted output.
	classPrivacy
	// classInformational sections are summaries with no transaction rows.
	classInformational
	// classUnrecognized is the default for section names not in the
	// allow-list. Unknown sections are skipped, never processed.
	classUnrecognized
)

// Section names of the transactional sections this parser understands.
const (
	sectionTrades      = "Trades"
	sectionDividends   = "Dividends"
	sectionDepositsWDs = "Deposits & Withdrawals"
	sectionInterest    = "Interest"
	sectionFees        = "Fees"
)

// knownSections is the fixed classification lookup. Processing is an
// allow-list: only classTransactional entries are ever parsed, everything
// else is skipped with a recorded reason.
var knownSections = map[string]sectionClass{
	sectionTrades:      classTransactional,
	sectionDividends:   classTransactional,
	sectionDepositsWDs: classTransactional,
	sectionInterest:    classTransactional,
	sectionFees:        classTransactional,

	"Account Information": classPrivacy,
	"Statement":           classPrivacy,

	"Net Asset Value":                           classInformational,
	"Change in NAV":                             classInformational,
	"Cash Report":                               classInformational,
	"Open Positions":                            classInformational,
	"Mark-to-Market Performance Summary":        classInformational,
	"Realized & Unrealized Performance Summary": classInformational,
	"Financial Instrument Information":          classInformational,
	"Codes":                                     classInformational,
	"Notes/Legal Notes":                         classInformational,
}

// classifySection returns the processing class for a section name.
func classifySection(name string) sectionClass {
	if class, ok := knownSections[name]; ok {
		return class
	}
	return classUnrecognized
}

// skipReason maps a non-transactional class to the recorded skip reason.
func skipReason(class sectionClass) string {
	switch class {
	case classPrivacy:
		return models.SkipReasonPrivacy
	case classInformational:
		return models.SkipReasonNonTransactional
	default:
		return models.SkipReasonUnrecognized
	}
}
