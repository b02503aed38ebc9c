package engine

import (
	"testing"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func circleZone(id, siteID string, center domain.LatLon, radiusM float64) *domain.Zone {
	return &domain.Zone{
		ID:       id,
		SiteID:   siteID,
		Name:     "zone " + id,
		Category: domain.CategoryGeneral,
		Geometry: domain.Geometry{Kind: domain.ZoneCircle, Center: center, RadiusM: radiusM},
		Active:   true,
	}
}

var (
	postA   = domain.LatLon{Lat: 55.7500, Lon: 37.6200}
	postB   = domain.LatLon{Lat: 55.7600, Lon: 37.6200} // ~1.1 км севернее
	nowhere = domain.LatLon{Lat: 55.9000, Lon: 37.9000}
)

func newTestEngine() *GeofenceEngine {
	return NewGeofenceEngine(zap.NewNop(), NewMetrics(nil))
}

func TestEvaluateEnterAndExit(t *testing.T) {
	eng := newTestEngine()
	zones := []*domain.Zone{circleZone("z1", "site-1", postA, 100)}
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	// Вход
	res := eng.Evaluate("agent-1", t0, postA, zones)
	require.Len(t, res.Entered, 1)
	require.Equal(t, "z1", res.Entered[0].Zone.ID)
	require.Equal(t, t0, res.Entered[0].EnteredAt)
	require.Empty(t, res.Exited)
	require.Len(t, res.Inside, 1)

	// Остался внутри: ни входа, ни выхода, EnteredAt прежний
	t1 := t0.Add(30 * time.Second)
	res = eng.Evaluate("agent-1", t1, postA, zones)
	require.Empty(t, res.Entered)
	require.Empty(t, res.Exited)
	require.Len(t, res.Inside, 1)
	require.Equal(t, t0, res.Inside[0].EnteredAt)

	// Выход
	t2 := t0.Add(60 * time.Second)
	res = eng.Evaluate("agent-1", t2, nowhere, zones)
	require.Empty(t, res.Entered)
	require.Len(t, res.Exited, 1)
	require.Equal(t, "z1", res.Exited[0].Zone.ID)
	require.Equal(t, t0, res.Exited[0].EnteredAt)
	require.Empty(t, res.Inside)
}

func TestEvaluateOverlappingZones(t *testing.T) {
	eng := newTestEngine()
	zones := []*domain.Zone{
		circleZone("inner", "site-1", postA, 50),
		circleZone("outer", "site-1", postA, 5000),
	}
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	res := eng.Evaluate("agent-1", t0, postA, zones)
	require.Len(t, res.Entered, 2)

	// Сдвиг за пределы внутренней, но в пределах внешней
	res = eng.Evaluate("agent-1", t0.Add(time.Minute), postB, zones)
	require.Len(t, res.Exited, 1)
	require.Equal(t, "inner", res.Exited[0].Zone.ID)
	require.Len(t, res.Inside, 1)
	require.Equal(t, "outer", res.Inside[0].Zone.ID)
}

func TestEvaluateAgentsIndependent(t *testing.T) {
	eng := newTestEngine()
	zones := []*domain.Zone{circleZone("z1", "site-1", postA, 100)}
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	eng.Evaluate("agent-1", t0, postA, zones)
	res := eng.Evaluate("agent-2", t0, postA, zones)
	require.Len(t, res.Entered, 1, "membership must be tracked per agent")
	require.Equal(t, 2, eng.TrackedAgents())
}

func TestEvaluateRemovedZoneDropsSilently(t *testing.T) {
	eng := newTestEngine()
	zones := []*domain.Zone{circleZone("z1", "site-1", postA, 100)}
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	eng.Evaluate("agent-1", t0, postA, zones)

	// Зона исчезла из конфигурации: членство снимается без exit-события
	res := eng.Evaluate("agent-1", t0.Add(time.Minute), postA, nil)
	require.Empty(t, res.Entered)
	require.Empty(t, res.Exited)
	require.Empty(t, res.Inside)

	// Повторное появление зоны — полноценный вход заново
	res = eng.Evaluate("agent-1", t0.Add(2*time.Minute), postA, zones)
	require.Len(t, res.Entered, 1)
}

func TestEvaluateSkipsBadGeometry(t *testing.T) {
	eng := newTestEngine()
	bad := &domain.Zone{
		ID:       "broken",
		SiteID:   "site-1",
		Name:     "broken",
		Category: domain.CategoryGeneral,
		Geometry: domain.Geometry{Kind: domain.ZonePolygon, Vertices: []domain.LatLon{{Lat: 1, Lon: 1}}},
		Active:   true,
	}
	good := circleZone("ok", "site-1", postA, 100)
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	res := eng.Evaluate("agent-1", t0, postA, []*domain.Zone{bad, good})
	require.Len(t, res.Entered, 1, "healthy zones must still be evaluated")
	require.Equal(t, "ok", res.Entered[0].Zone.ID)
}

func TestEvaluateZoneBreaksWhileOccupied(t *testing.T) {
	eng := newTestEngine()
	good := circleZone("z1", "site-1", postA, 100)
	broken := &domain.Zone{
		ID:       "z1",
		SiteID:   "site-1",
		Name:     "zone z1",
		Category: domain.CategoryGeneral,
		Geometry: domain.Geometry{Kind: domain.ZonePolygon, Vertices: []domain.LatLon{{Lat: 1, Lon: 1}}},
		Active:   true,
	}
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	eng.Evaluate("agent-1", t0, postA, []*domain.Zone{good})

	// Геометрию испортили правкой: членство снимается молча, как при
	// удалении зоны — фальшивый exit не рождается
	res := eng.Evaluate("agent-1", t0.Add(time.Minute), postA, []*domain.Zone{broken})
	require.Empty(t, res.Exited)
	require.Empty(t, res.Inside)

	// Геометрию починили — полноценный вход заново
	res = eng.Evaluate("agent-1", t0.Add(2*time.Minute), postA, []*domain.Zone{good})
	require.Len(t, res.Entered, 1)
}

func TestResetClearsMembership(t *testing.T) {
	eng := newTestEngine()
	zones := []*domain.Zone{circleZone("z1", "site-1", postA, 100)}
	t0 := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	eng.Evaluate("agent-1", t0, postA, zones)
	require.Equal(t, 1, eng.TrackedAgents())

	eng.Reset("agent-1")
	require.Equal(t, 0, eng.TrackedAgents())

	// Следующий сэмпл внутри зоны — вход с чистого листа, без exit
	res := eng.Evaluate("agent-1", t0.Add(time.Hour), postA, zones)
	require.Len(t, res.Entered, 1)
	require.Empty(t, res.Exited)
}
