package timestamp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2023, 4, 20, 12, 0, 0, 0, time.UTC)

func newTestNormalizer(maxDays int, opts ...Option) *Normalizer {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewNormalizer(maxDays, opts...)
}

func TestCanonical_AcceptedFormats(t *testing.T) {
	n := newTestNormalizer(30)

	cases := []struct {
		in   string
		want string
	}{
		{"2023-04-15", "2023-04-15T00:00:00.000000Z"},
		{"2023-04-15T02:30:00", "2023-04-15T02:30:00.000000Z"},
		{"2023-04-15 02:30:00", "2023-04-15T02:30:00.000000Z"},
		{"2023-04-15T02:30:00.5", "2023-04-15T02:30:00.500000Z"},
		{"2023-04-15 02:30:00.123456", "2023-04-15T02:30:00.123456Z"},
		{"2023-04-15T02:30:00Z", "2023-04-15T02:30:00.000000Z"},
		{"2023-04-15T02:30:00.250Z", "2023-04-15T02:30:00.250000Z"},
		{"2023-04-15T02:30:00+02:00", "2023-04-15T02:30:00.000000+02:00"},
		{"2023-04-15T02:30:00.1-0530", "2023-04-15T02:30:00.100000-05:30"},
		{"2023-04-15 02:30:00+00:00", "2023-04-15T02:30:00.000000Z"},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := n.Canonical(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonical_Idempotent(t *testing.T) {
	n := newTestNormalizer(30)

	inputs := []string{
		"2023-04-15",
		"2023-04-15T02:30:00",
		"2023-04-15 02:30:00.42",
		"2023-04-15T02:30:00Z",
		"2023-04-15T02:30:00+02:00",
	}
	for _, in := range inputs {
		once, err := n.Canonical(in)
		require.NoError(t, err)
		twice, err := n.Canonical(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, in)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	n := newTestNormalizer(30)

	for _, in := range []string{"", "   ", "yesterday", "2023/04/15", "15-04-2023", "2023-13-01", "2023-04-15T25:00:00"} {
		_, err := n.Normalize(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidTimestamp), in)
	}
}

func TestNormalize_RecencyWindow(t *testing.T) {
	n := newTestNormalizer(30)

	cases := []struct {
		name    string
		instant time.Time
		ok      bool
	}{
		{"now", fixedNow, true},
		{"exactly 30 days ago", fixedNow.Add(-30 * day), true},
		{"30 days 23 hours ago", fixedNow.Add(-30*day - 23*time.Hour), true},
		{"31 days ago", fixedNow.Add(-31 * day), false},
		{"10 days ahead", fixedNow.Add(10 * day), true},
		{"30 days 23 hours ahead", fixedNow.Add(30*day + 23*time.Hour), true},
		{"31 days ahead", fixedNow.Add(31 * day), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(Format(tc.instant))
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTimestampOutOfRange))
		})
	}
}

func TestNormalize_RejectFuture(t *testing.T) {
	n := newTestNormalizer(30, RejectFuture())

	_, err := n.Normalize(Format(fixedNow.Add(time.Hour)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimestampOutOfRange))

	_, err = n.Normalize(Format(fixedNow.Add(-time.Hour)))
	assert.NoError(t, err)
}

func TestNormalize_ZeroOffsetAcceptsSameDayOnly(t *testing.T) {
	n := newTestNormalizer(0)

	_, err := n.Normalize(Format(fixedNow.Add(-23 * time.Hour)))
	assert.NoError(t, err)

	_, err = n.Normalize(Format(fixedNow.Add(-25 * time.Hour)))
	assert.True(t, errors.Is(err, ErrTimestampOutOfRange))
}

func TestNewNormalizer_ClampsLargeOffset(t *testing.T) {
	n := newTestNormalizer(200000)

	_, err := n.Normalize(Format(fixedNow))
	assert.NoError(t, err)

	_, err = n.Normalize("1900-01-01T00:00:00Z")
	assert.NoError(t, err)

	_, err = n.Normalize(Format(fixedNow.AddDate(100, 0, 0)))
	assert.NoError(t, err)
}

func TestNormalize_FarFutureOutOfRange(t *testing.T) {
	n := newTestNormalizer(30)

	_, err := n.Normalize("9999-12-31T23:59:59Z")
	assert.True(t, errors.Is(err, ErrTimestampOutOfRange))
}

func TestFormat(t *testing.T) {
	utc := time.Date(2023, 4, 15, 2, 30, 0, 123456789, time.UTC)
	assert.Equal(t, "2023-04-15T02:30:00.123456Z", Format(utc))

	cet := time.Date(2023, 4, 15, 2, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2023-04-15T02:30:00.000000+02:00", Format(cet))
}
