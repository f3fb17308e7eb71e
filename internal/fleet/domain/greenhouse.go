package fleet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidID   = errors.New("fleet: id must be positive")
	ErrEmptyName   = errors.New("fleet: empty name")
	ErrZoneOwner   = errors.New("fleet: zone belongs to another greenhouse")
	ErrDuplicateID = errors.New("fleet: duplicate zone id")
)

// Zone is a growing area inside a greenhouse. Zone ids are fleet-wide.
type Zone struct {
	ID           int64  `json:"id"`
	GreenhouseID int64  `json:"greenhouseId"`
	Name         string `json:"name"`
	CropType     string `json:"cropType,omitempty"`
}

// Greenhouse groups zones under one site.
type Greenhouse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	Zones     []Zone    `json:"zones"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks greenhouse invariants.
func (g Greenhouse) Validate() error {
	if g.ID <= 0 {
		return ErrInvalidID
	}
	if g.Name == "" {
		return ErrEmptyName
	}
	seen := make(map[int64]struct{}, len(g.Zones))
	for _, z := range g.Zones {
		if z.ID <= 0 {
			return ErrInvalidID
		}
		if z.Name == "" {
			return ErrEmptyName
		}
		if z.GreenhouseID != 0 && z.GreenhouseID != g.ID {
			return ErrZoneOwner
		}
		if _, ok := seen[z.ID]; ok {
			return ErrDuplicateID
		}
		seen[z.ID] = struct{}{}
	}
	return nil
}

// ZoneIDs returns the zone ids in declaration order.
func (g Greenhouse) ZoneIDs() []int64 {
	ids := make([]int64, 0, len(g.Zones))
	for _, z := range g.Zones {
		ids = append(ids, z.ID)
	}
	return ids
}

// Visible keeps the zones accepted by allow and drops greenhouses left
// without any.
func Visible(greenhouses []Greenhouse, allow func(zoneID int64) bool) []Greenhouse {
	out := make([]Greenhouse, 0, len(greenhouses))
	for _, g := range greenhouses {
		zones := make([]Zone, 0, len(g.Zones))
		for _, z := range g.Zones {
			if allow(z.ID) {
				zones = append(zones, z)
			}
		}
		if len(zones) == 0 {
			continue
		}
		g.Zones = zones
		out = append(out, g)
	}
	return out
}

// Lister returns the greenhouse list.
type Lister interface {
	List(ctx context.Context) ([]Greenhouse, error)
}

// Repository manages greenhouse persistence.
type Repository interface {
	Lister
	Get(ctx context.Context, id int64) (*Greenhouse, error)
	Save(ctx context.Context, greenhouse *Greenhouse) error
}
