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

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var zoneCols = []string{"id", "site_id", "name", "category", "geometry", "rules", "active", "created_at", "updated_at"}

func TestZoneRepoListActiveZones(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewZoneRepo(db)

	now := time.Now()
	geometry := `{"kind":"circle","center":{"lat":55.75,"lon":37.62},"radius_m":150}`
	rules := `[{"id":"r1","trigger":"enter","actions":[{"type":"notify"}],"active":true}]`

	mock.ExpectQuery(`SELECT .+ FROM zones WHERE active = TRUE`).
		WillReturnRows(sqlmock.NewRows(zoneCols).
			AddRow("z1", "site-1", "КПП-1", "general", geometry, rules, true, now, now).
			AddRow("z2", "site-1", "Склад", "restricted", geometry, `[]`, true, now, now))

	zones, err := repo.ListActiveZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 2)

	require.Equal(t, domain.ZoneCircle, zones[0].Geometry.Kind)
	require.InDelta(t, 150.0, zones[0].Geometry.RadiusM, 1e-9)
	require.Len(t, zones[0].Rules, 1)
	require.Equal(t, "r1", zones[0].Rules[0].ID)
	require.Empty(t, zones[1].Rules)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneRepoCreateFillsGeneratedFields(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewZoneRepo(db)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO zones`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("generated-id", now, now))

	z := &domain.Zone{
		SiteID:   "site-1",
		Name:     "Периметр",
		Category: domain.CategoryGeneral,
		Geometry: domain.Geometry{Kind: domain.ZoneCircle, Center: domain.LatLon{Lat: 55.75, Lon: 37.62}, RadiusM: 100},
		Active:   true,
	}
	require.NoError(t, repo.CreateZone(context.Background(), z))
	require.Equal(t, "generated-id", z.ID)
	require.Equal(t, now, z.CreatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneRepoGetMissingReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewZoneRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM zones WHERE id`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	z, err := repo.GetZoneByID(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, z)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneRepoUpdateMissingZone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewZoneRepo(db)

	mock.ExpectExec(`UPDATE zones`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateZone(context.Background(), &domain.Zone{ID: "ghost", Category: domain.CategoryGeneral})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneRepoCorruptGeometrySurfaces(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewZoneRepo(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM zones WHERE active = TRUE`).
		WillReturnRows(sqlmock.NewRows(zoneCols).
			AddRow("z1", "site-1", "КПП-1", "general", `{broken`, `[]`, true, now, now))

	_, err := repo.ListActiveZones(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt geometry")
}
