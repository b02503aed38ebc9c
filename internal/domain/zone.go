package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrZoneNotFound — зона с таким ID отсутствует в БД.
var ErrZoneNotFound = errors.New("zone not found")

// ZoneKind определяет тип геометрии зоны
type ZoneKind string

const (
	ZoneCircle  ZoneKind = "circle"  // Центр + радиус в метрах
	ZonePolygon ZoneKind = "polygon" // Замкнутый контур из вершин
)

// ZoneCategory — назначение зоны в терминах охранной службы
type ZoneCategory string

const (
	CategoryGeneral    ZoneCategory = "general"    // Обычная рабочая зона (пост, периметр)
	CategoryPatrol     ZoneCategory = "patrol"     // Контрольная точка маршрута обхода
	CategoryRestricted ZoneCategory = "restricted" // Запретная зона
)

// LatLon — географическая координата (WGS84)
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geometry описывает форму зоны. Для circle заполняются Center и RadiusM,
// для polygon — Vertices (минимум 3, контур замыкается неявно).
type Geometry struct {
	Kind     ZoneKind `json:"kind"`
	Center   LatLon   `json:"center,omitempty"`
	RadiusM  float64  `json:"radius_m,omitempty"`
	Vertices []LatLon `json:"vertices,omitempty"`
}

// Zone — геозона на объекте охраны. Правила (Rules) хранятся вместе с зоной
// и исполняются только когда зона активна.
type Zone struct {
	ID        string       `json:"id"`
	SiteID    string       `json:"site_id"`
	Name      string       `json:"name"`
	Category  ZoneCategory `json:"category"`
	Geometry  Geometry     `json:"geometry"`
	Rules     []ZoneRule   `json:"rules"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func validLatLon(p LatLon) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Validate проверяет зону перед сохранением. Битая геометрия не должна
// попасть в БД: движок на Hot Path такие зоны пропускает, а не чинит.
func (z *Zone) Validate() error {
	if z.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if z.SiteID == "" {
		return &ValidationError{Field: "site_id", Reason: "is required"}
	}
	switch z.Category {
	case CategoryGeneral, CategoryPatrol, CategoryRestricted:
	default:
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", z.Category)}
	}

	switch z.Geometry.Kind {
	case ZoneCircle:
		if z.Geometry.RadiusM <= 0 {
			return &ValidationError{Field: "geometry.radius_m", Reason: "must be positive"}
		}
		if !validLatLon(z.Geometry.Center) {
			return &ValidationError{Field: "geometry.center", Reason: "is out of range"}
		}
	case ZonePolygon:
		if len(z.Geometry.Vertices) < 3 {
			return &ValidationError{Field: "geometry.vertices", Reason: "polygon requires at least 3 vertices"}
		}
		for i, v := range z.Geometry.Vertices {
			if !validLatLon(v) {
				return &ValidationError{Field: fmt.Sprintf("geometry.vertices[%d]", i), Reason: "is out of range"}
			}
		}
	default:
		return &ValidationError{Field: "geometry.kind", Reason: fmt.Sprintf("unknown kind %q", z.Geometry.Kind)}
	}

	for i := range z.Rules {
		if err := z.Rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ActiveRules возвращает только включенные правила зоны.
func (z *Zone) ActiveRules() []ZoneRule {
	out := make([]ZoneRule, 0, len(z.Rules))
	for _, r := range z.Rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}
