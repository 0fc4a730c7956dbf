package verifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
)

func TestParseExpiry(t *testing.T) {
	t.Run("no expiry", func(t *testing.T) {
		for _, record := range []models.Record{
			{},
			{"expiry_date": nil},
			{"expiry_date": ""},
			{"expiry_date": "  "},
			{"expiry_date": "N/A"},
			{"expiry_date": "n/a"},
		} {
			exp, err := parseExpiry(record, DefaultExpiryField)
			require.NoError(t, err)
			assert.False(t, exp.passed(time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)))
		}
	})

	t.Run("date only ends with the UTC day", func(t *testing.T) {
		exp, err := parseExpiry(models.Record{"expiry_date": "2025-02-28"}, DefaultExpiryField)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), exp.at)
	})

	t.Run("time values are exact", func(t *testing.T) {
		at := time.Date(2025, 2, 28, 8, 30, 0, 0, time.FixedZone("SAST", 2*60*60))
		exp, err := parseExpiry(models.Record{"expiry_date": at}, DefaultExpiryField)
		require.NoError(t, err)
		assert.False(t, exp.passed(at.Add(-time.Nanosecond)))
		assert.True(t, exp.passed(at))
	})

	t.Run("offsets are honoured", func(t *testing.T) {
		exp, err := parseExpiry(models.Record{"expiry_date": "2025-02-28T10:00:00+02:00"}, DefaultExpiryField)
		require.NoError(t, err)
		assert.True(t, exp.at.Equal(time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)))
	})

	t.Run("rejects other values", func(t *testing.T) {
		for _, value := range []any{"28/02/2025", "2025-02-30", 20250228, true, []any{"2025-02-28"}} {
			_, err := parseExpiry(models.Record{"expiry_date": value}, DefaultExpiryField)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRecord), "value %v", value)
		}
	})
}
