package postgres

/*
Файл zone_repo.go отвечает за хранение геозон и их правил.
Геометрия и правила лежат в JSONB: движку они нужны целиком при загрузке
кэша, а не по частям, и фильтруем мы всегда по плоским колонкам
(site_id, active).
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/csma94/guard-sub003/internal/domain"
)

type ZoneRepo struct {
	db *sql.DB
}

func NewZoneRepo(db *sql.DB) *ZoneRepo {
	return &ZoneRepo{db: db}
}

const zoneColumns = `id, site_id, name, category, geometry, rules, active, created_at, updated_at`

// CreateZone сохраняет новую зону. ID генерирует база.
func (r *ZoneRepo) CreateZone(ctx context.Context, z *domain.Zone) error {
	geometry, _ := json.Marshal(z.Geometry)
	rules, _ := json.Marshal(z.Rules)

	query := `
		INSERT INTO zones (id, site_id, name, category, geometry, rules, active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		z.SiteID, z.Name, z.Category, geometry, rules, z.Active,
	).Scan(&z.ID, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create zone: %w", err)
	}
	return nil
}

// GetZoneByID возвращает nil без ошибки, если зоны нет (404 решает хендлер).
func (r *ZoneRepo) GetZoneByID(ctx context.Context, id string) (*domain.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones WHERE id = $1`

	z, err := scanZone(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get zone: %w", err)
	}
	return z, nil
}

// ListZones — выдача для консоли: все зоны объекта, включая выключенные.
func (r *ZoneRepo) ListZones(ctx context.Context, siteID string) ([]*domain.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones`
	var args []interface{}
	if siteID != "" {
		query += ` WHERE site_id = $1`
		args = append(args, siteID)
	}
	query += ` ORDER BY site_id, name`

	return r.queryZones(ctx, query, args...)
}

// ListActiveZones — «холодная загрузка» рабочего набора для кэша движка.
func (r *ZoneRepo) ListActiveZones(ctx context.Context) ([]*domain.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones WHERE active = TRUE`
	return r.queryZones(ctx, query)
}

// UpdateZone перезаписывает зону целиком: правки частями открывают дорогу
// расхождению геометрии и правил между консолью и движком.
func (r *ZoneRepo) UpdateZone(ctx context.Context, z *domain.Zone) error {
	geometry, _ := json.Marshal(z.Geometry)
	rules, _ := json.Marshal(z.Rules)

	query := `
		UPDATE zones
		SET site_id = $1, name = $2, category = $3, geometry = $4,
		    rules = $5, active = $6, updated_at = NOW()
		WHERE id = $7`

	result, err := r.db.ExecContext(ctx, query,
		z.SiteID, z.Name, z.Category, geometry, rules, z.Active, z.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update zone: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("postgres: %w (id: %s)", domain.ErrZoneNotFound, z.ID)
	}
	return nil
}

func (r *ZoneRepo) DeleteZone(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM zones WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete zone: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("postgres: %w (id: %s)", domain.ErrZoneNotFound, id)
	}
	return nil
}

func (r *ZoneRepo) queryZones(ctx context.Context, query string, args ...interface{}) ([]*domain.Zone, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query zones: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Zone, 0)
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan zone: %w", err)
		}
		results = append(results, z)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// rowScanner покрывает и *sql.Row, и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(row rowScanner) (*domain.Zone, error) {
	var z domain.Zone
	var geometry, rules []byte

	err := row.Scan(&z.ID, &z.SiteID, &z.Name, &z.Category,
		&geometry, &rules, &z.Active, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(geometry, &z.Geometry); err != nil {
		return nil, fmt.Errorf("corrupt geometry for zone %s: %w", z.ID, err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &z.Rules); err != nil {
			return nil, fmt.Errorf("corrupt rules for zone %s: %w", z.ID, err)
		}
	}
	return &z, nil
}
