package inventory

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// NormalizeSeatID is the canonical form of a seat number, shared by layouts and requests.
func NormalizeSeatID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

type SeatDef struct {
	ID   string
	Zone string
}

type Layout struct {
	VenueID string
	Seats   []SeatDef
}

// Layouts holds venue seat layouts. It is built once at startup and never mutated.
type Layouts struct {
	byVenue map[string]Layout
}

func NewLayouts(layouts ...Layout) (*Layouts, error) {
	l := &Layouts{byVenue: make(map[string]Layout, len(layouts))}
	for _, layout := range layouts {
		if layout.VenueID == "" {
			return nil, errors.New("layout without venue id")
		}
		if _, dup := l.byVenue[layout.VenueID]; dup {
			return nil, errors.Newf("duplicate layout for venue %s", layout.VenueID)
		}
		seen := make(map[string]bool, len(layout.Seats))
		seats := make([]SeatDef, 0, len(layout.Seats))
		for _, s := range layout.Seats {
			s.ID = NormalizeSeatID(s.ID)
			if s.ID == "" {
				return nil, errors.Newf("venue %s: seat without id", layout.VenueID)
			}
			if seen[s.ID] {
				return nil, errors.Newf("venue %s: duplicate seat %s", layout.VenueID, s.ID)
			}
			seen[s.ID] = true
			seats = append(seats, s)
		}
		sort.Slice(seats, func(i, j int) bool { return seats[i].ID < seats[j].ID })
		l.byVenue[layout.VenueID] = Layout{VenueID: layout.VenueID, Seats: seats}
	}
	return l, nil
}

// Get returns a copy of the venue layout.
func (l *Layouts) Get(venueID string) (Layout, bool) {
	layout, ok := l.byVenue[venueID]
	if !ok {
		return Layout{}, false
	}
	return Layout{VenueID: layout.VenueID, Seats: append([]SeatDef(nil), layout.Seats...)}, true
}

func (l *Layouts) Capacity(venueID string) int {
	return len(l.byVenue[venueID].Seats)
}
