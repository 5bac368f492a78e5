package scoring

import (
	"time"

	"github.com/joescharf/royale/internal/sessions"
)

// FormulaVersion identifies the scoring formula. Bump it whenever Rules or Score change
// meaning so a recalculation can be scheduled.
const FormulaVersion = "quality-v1"

// Rules holds every constant the session scoring formula depends on. The sync
// orchestrator and the recalculation job share one Rules value.
type Rules struct {
	SessionGap    time.Duration // pause that starts a new session
	DriveByWindow time.Duration // comment-less approvals faster than this score nothing
	FastWindow    time.Duration // review started this soon after a commit earns FastBonus

	Base       int64
	PerComment int64 // uncategorized comments, or every comment when no quality data exists

	LowWeight    int64
	MediumWeight int64
	HighWeight   int64

	LogicBonus      int64
	StructuralBonus int64

	ThoroughThreshold int
	ThoroughBonus     int64
	DeepThreshold     int
	DeepBonus         int64

	FastBonus int64
}

// DefaultRules returns the canonical formula constants.
func DefaultRules() Rules {
	return Rules{
		SessionGap:    sessions.DefaultGap,
		DriveByWindow: 60 * time.Second,
		FastWindow:    time.Hour,

		Base:       10,
		PerComment: 5,

		LowWeight:    2,
		MediumWeight: 5,
		HighWeight:   8,

		LogicBonus:      3,
		StructuralBonus: 2,

		ThoroughThreshold: 5,
		ThoroughBonus:     5,
		DeepThreshold:     10,
		DeepBonus:         10,

		FastBonus: 10,
	}
}
