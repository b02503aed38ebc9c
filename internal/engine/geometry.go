package engine

import (
	"fmt"
	"math"

	"github.com/csma94/guard-sub003/internal/domain"
)

// GeometryError — зона с непригодной геометрией. Ошибка не всплывает
// к источнику сэмпла: движок пропускает такую зону и пишет в лог,
// остальные зоны объекта оцениваются как обычно.
type GeometryError struct {
	ZoneID string
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: zone %s: %s", e.ZoneID, e.Reason)
}

const earthRadiusM = 6371000.0

// HaversineM — расстояние по дуге большого круга в метрах.
func HaversineM(a, b domain.LatLon) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// Contains проверяет принадлежность точки геометрии зоны.
// Для круга граница считается внутренней: расстояние, равное радиусу, — вход.
func Contains(zoneID string, g domain.Geometry, p domain.LatLon) (bool, error) {
	switch g.Kind {
	case domain.ZoneCircle:
		if g.RadiusM <= 0 {
			return false, &GeometryError{ZoneID: zoneID, Reason: "circle radius must be positive"}
		}
		return HaversineM(g.Center, p) <= g.RadiusM, nil

	case domain.ZonePolygon:
		if len(g.Vertices) < 3 {
			return false, &GeometryError{ZoneID: zoneID, Reason: "polygon requires at least 3 vertices"}
		}
		return pointInPolygon(g.Vertices, p), nil

	default:
		return false, &GeometryError{ZoneID: zoneID, Reason: fmt.Sprintf("unknown geometry kind %q", g.Kind)}
	}
}

// pointInPolygon — четно-нечетный подсчет пересечений луча (crossing number).
// Координаты трактуем как плоские: на масштабах объекта охраны
// (сотни метров) кривизной Земли можно пренебречь.
func pointInPolygon(vs []domain.LatLon, p domain.LatLon) bool {
	inside := false
	j := len(vs) - 1
	for i := 0; i < len(vs); i++ {
		vi, vj := vs[i], vs[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			xCross := (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if p.Lon < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
