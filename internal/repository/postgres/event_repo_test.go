package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/csma94/guard-sub003/internal/domain"
)

var eventCols = []string{"id", "type", "agent_id", "zone_id", "site_id", "violation", "lat", "lon", "ts", "metadata", "ack_by", "ack_at"}

func TestEventRepoInsertEventsBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	batch := []domain.ZoneEvent{
		{ID: "e1", Type: domain.EventEnter, AgentID: "agent-1", ZoneID: "z1", SiteID: "site-1", Timestamp: time.Now()},
		{ID: "e2", Type: domain.EventViolation, AgentID: "agent-1", ZoneID: "z1", SiteID: "site-1",
			Violation: domain.ViolationSpeed, Timestamp: time.Now(),
			Metadata: map[string]any{"speed_kmh": 42.0}},
	}

	mock.ExpectExec(`INSERT INTO zone_events`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.InsertEvents(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoInsertEventsEmptyBatchIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	require.NoError(t, repo.InsertEvents(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoQueryEventsBuildsFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM zone_events WHERE site_id = \$1 AND type = \$2 ORDER BY ts DESC LIMIT 50`).
		WithArgs("site-1", "violation").
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("e1", "violation", "agent-1", "z1", "site-1", "speed_exceeded",
				55.75, 37.62, now, `{"speed_kmh":42}`, nil, nil))

	events, err := repo.QueryEvents(context.Background(), domain.EventFilter{
		SiteID: "site-1",
		Type:   domain.EventViolation,
		Limit:  50,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.ViolationSpeed, events[0].Violation)
	require.EqualValues(t, 42, events[0].Metadata["speed_kmh"])
	require.Empty(t, events[0].AckBy)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoQueryEventsSitesInList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM zone_events WHERE site_id IN \(\$1, \$2\) ORDER BY ts DESC LIMIT 100`).
		WithArgs("site-1", "site-2").
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("e1", "enter", "agent-1", "z1", "site-2", nil,
				55.75, 37.62, now, nil, nil, nil))

	events, err := repo.QueryEvents(context.Background(), domain.EventFilter{
		Sites: []string{"site-1", "site-2"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "site-2", events[0].SiteID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoAckEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	now := time.Now()
	mock.ExpectQuery(`UPDATE zone_events`).
		WithArgs("disp-1", "e1").
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("e1", "violation", "agent-1", "z1", "site-1", "dwell_exceeded",
				55.75, 37.62, now, nil, "disp-1", now))

	ev, err := repo.AckEvent(context.Background(), "e1", "disp-1")
	require.NoError(t, err)
	require.Equal(t, "disp-1", ev.AckBy)
	require.NotNil(t, ev.AckAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoAckEventSecondDecisionRejected(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	// UPDATE ... WHERE ack_at IS NULL не нашел строку: квитирование уже было
	mock.ExpectQuery(`UPDATE zone_events`).
		WithArgs("disp-2", "e1").
		WillReturnError(sql.ErrNoRows)

	ev, err := repo.AckEvent(context.Background(), "e1", "disp-2")
	require.Error(t, err)
	require.Nil(t, ev)
	require.Contains(t, err.Error(), "already acknowledged")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoStats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepo(db)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT .+ FROM zone_events .+ AND site_id = \$2`).
		WithArgs(since, "site-1").
		WillReturnRows(sqlmock.NewRows([]string{"enter", "exit", "violation", "unacked"}).
			AddRow(10, 9, 3, 2))

	stats, err := repo.Stats(context.Background(), "site-1", since)
	require.NoError(t, err)
	require.EqualValues(t, 10, stats.ByType["enter"])
	require.EqualValues(t, 3, stats.Violations)
	require.EqualValues(t, 2, stats.Unacked)

	require.NoError(t, mock.ExpectationsWereMet())
}
