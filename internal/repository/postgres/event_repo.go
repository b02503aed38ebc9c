package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
)

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// InsertEvents пишет пачку событий одним запросом. Вызывается из
// асинхронного writer-а, поэтому ошибка роняет только пачку, не конвейер.
func (r *EventRepo) InsertEvents(ctx context.Context, batch []domain.ZoneEvent) error {
	if len(batch) == 0 {
		return nil
	}

	// Количество колонок в таблице zone_events (без ack-полей)
	numFields := 10
	placeholderStr := ""
	vals := make([]interface{}, 0, len(batch)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range batch {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		metadata, _ := json.Marshal(e.Metadata)
		vals = append(vals,
			e.ID, e.Type, e.AgentID, e.ZoneID, e.SiteID,
			string(e.Violation), e.Location.Lat, e.Location.Lon, e.Timestamp, metadata,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO zone_events (id, type, agent_id, zone_id, site_id, violation, lat, lon, ts, metadata) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

const eventColumns = `id, type, agent_id, zone_id, site_id, violation, lat, lon, ts, metadata, ack_by, ack_at`

// QueryEvents — выборка журнала с фильтрами консоли.
func (r *EventRepo) QueryEvents(ctx context.Context, f domain.EventFilter) ([]*domain.ZoneEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM zone_events`

	var conds []string
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.SiteID != "" {
		add("site_id = $%d", f.SiteID)
	} else if len(f.Sites) > 0 {
		ph := make([]string, 0, len(f.Sites))
		for _, s := range f.Sites {
			args = append(args, s)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, "site_id IN ("+strings.Join(ph, ", ")+")")
	}
	if f.ZoneID != "" {
		add("zone_id = $%d", f.ZoneID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts < $%d", f.To)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT %d", limit)
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.ZoneEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan event: %w", err)
		}
		results = append(results, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// AckEvent атомарно квитирует нарушение. Условие ack_at IS NULL исключает
// Double Decision: второй диспетчер получит ошибку, а не перезапишет первого.
// Возвращает обновленное событие — оно уходит кадром в комнату объекта.
func (r *EventRepo) AckEvent(ctx context.Context, id, userID string) (*domain.ZoneEvent, error) {
	query := `
		UPDATE zone_events
		SET ack_by = $1, ack_at = NOW()
		WHERE id = $2 AND type = 'violation' AND ack_at IS NULL
		RETURNING ` + eventColumns

	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Либо ID неверный, либо решение уже было принято раньше
			return nil, fmt.Errorf("%w (id: %s)", domain.ErrAckConflict, id)
		}
		return nil, fmt.Errorf("postgres: failed to ack event: %w", err)
	}
	return ev, nil
}

// Stats — сводка для дашборда диспетчера за период.
func (r *EventRepo) Stats(ctx context.Context, siteID string, since time.Time) (*domain.EventStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE type = 'enter'),
			COUNT(*) FILTER (WHERE type = 'exit'),
			COUNT(*) FILTER (WHERE type = 'violation'),
			COUNT(*) FILTER (WHERE type = 'violation' AND ack_at IS NULL)
		FROM zone_events
		WHERE ts > $1`

	args := []interface{}{since}
	if siteID != "" {
		query += " AND site_id = $2"
		args = append(args, siteID)
	}

	var enter, exit, violations, unacked int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&enter, &exit, &violations, &unacked)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query stats: %w", err)
	}

	return &domain.EventStats{
		SiteID: siteID,
		Since:  since,
		ByType: map[string]int64{
			string(domain.EventEnter):     enter,
			string(domain.EventExit):      exit,
			string(domain.EventViolation): violations,
		},
		Violations: violations,
		Unacked:    unacked,
	}, nil
}

func scanEvent(row rowScanner) (*domain.ZoneEvent, error) {
	var ev domain.ZoneEvent
	var violation sql.NullString
	var metadata []byte
	var ackBy sql.NullString
	var ackAt sql.NullTime

	err := row.Scan(&ev.ID, &ev.Type, &ev.AgentID, &ev.ZoneID, &ev.SiteID,
		&violation, &ev.Location.Lat, &ev.Location.Lon, &ev.Timestamp,
		&metadata, &ackBy, &ackAt)
	if err != nil {
		return nil, err
	}

	if violation.Valid {
		ev.Violation = domain.ViolationKind(violation.String)
	}
	if len(metadata) > 0 {
		// Битые метаданные не должны прятать само событие
		_ = json.Unmarshal(metadata, &ev.Metadata)
	}
	if ackBy.Valid {
		ev.AckBy = ackBy.String
	}
	if ackAt.Valid {
		val := ackAt.Time
		ev.AckAt = &val
	}
	return &ev, nil
}
