package verifier

import (
	"fmt"
	"strings"
	"time"

	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
)

// DefaultExpiryField is the record field holding a credential's expiry.
const DefaultExpiryField = "expiry_date"

const dateOnly = "2006-01-02"

// expiry is the instant from which a credential is no longer valid.
type expiry struct {
	at  time.Time
	set bool
}

// parseExpiry reads the expiry field from record. A date-only value expires
// at the end of that UTC day; RFC 3339 values and time.Time are exact.
// Absent, null, empty and "N/A" values mean the credential does not expire.
func parseExpiry(record models.Record, field string) (expiry, error) {
	raw, ok := record[field]
	if !ok || raw == nil {
		return expiry{}, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return expiry{at: v, set: true}, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.EqualFold(s, "N/A") {
			return expiry{}, nil
		}
		if d, err := time.Parse(dateOnly, s); err == nil {
			return expiry{at: d.AddDate(0, 0, 1), set: true}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return expiry{at: t, set: true}, nil
		}
		return expiry{}, dErrors.New(dErrors.CodeInvalidRecord, fmt.Sprintf("%s is not a date", field))
	default:
		return expiry{}, dErrors.New(dErrors.CodeInvalidRecord, fmt.Sprintf("%s must be a date string", field))
	}
}

func (e expiry) passed(now time.Time) bool {
	return e.set && !now.Before(e.at)
}
