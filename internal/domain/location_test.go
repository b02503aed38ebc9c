package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationSampleValidate(t *testing.T) {
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	const maxAge = 24 * time.Hour
	const maxSkew = 5 * time.Minute

	sample := func() LocationSample {
		return LocationSample{
			SampleID:  "s-1",
			AgentID:   "agent-1",
			SiteID:    "site-1",
			Latitude:  55.75,
			Longitude: 37.61,
			AccuracyM: 12,
			Timestamp: now.Add(-time.Minute),
		}
	}

	t.Run("valid", func(t *testing.T) {
		s := sample()
		assert.NoError(t, s.Validate(now, maxAge, maxSkew))
	})

	cases := []struct {
		name   string
		mangle func(*LocationSample)
		field  string
	}{
		{"missing agent", func(s *LocationSample) { s.AgentID = "" }, "agent_id"},
		{"missing site", func(s *LocationSample) { s.SiteID = "" }, "site_id"},
		{"latitude out of range", func(s *LocationSample) { s.Latitude = 91 }, "lat"},
		{"longitude out of range", func(s *LocationSample) { s.Longitude = -181 }, "lon"},
		{"negative accuracy", func(s *LocationSample) { s.AccuracyM = -1 }, "accuracy_m"},
		{"negative speed", func(s *LocationSample) { v := -3.0; s.SpeedKmh = &v }, "speed_kmh"},
		{"zero timestamp", func(s *LocationSample) { s.Timestamp = time.Time{} }, "timestamp"},
		{"older than offline buffer window", func(s *LocationSample) { s.Timestamp = now.Add(-25 * time.Hour) }, "timestamp"},
		{"from the future", func(s *LocationSample) { s.Timestamp = now.Add(10 * time.Minute) }, "timestamp"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sample()
			tc.mangle(&s)

			err := s.Validate(now, maxAge, maxSkew)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestLocationSampleValidateWindowBoundaries(t *testing.T) {
	// Границы окна включительны: ровно -maxAge и ровно +maxSkew еще проходят
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	s := LocationSample{
		SampleID: "s-1", AgentID: "agent-1", SiteID: "site-1",
		Latitude: 55.75, Longitude: 37.61,
	}

	s.Timestamp = now.Add(-24 * time.Hour)
	assert.NoError(t, s.Validate(now, 24*time.Hour, 5*time.Minute))

	s.Timestamp = now.Add(5 * time.Minute)
	assert.NoError(t, s.Validate(now, 24*time.Hour, 5*time.Minute))
}
