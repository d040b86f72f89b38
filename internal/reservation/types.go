package reservation

import (
	"fmt"
	"strings"
)

type SeatState int

const (
	SeatUnknown SeatState = iota
	SeatAvailable
	SeatSoldOut
)

func (s SeatState) String() string {
	switch s {
	case SeatAvailable:
		return "available"
	case SeatSoldOut:
		return "sold out"
	default:
		return "unknown"
	}
}

type SeatClass string

const (
	ClassGeneral SeatClass = "general"
	ClassSpecial SeatClass = "special"
)

// SeatPreference picks the seat class to book when an offer has seats.
type SeatPreference string

const (
	GeneralFirst SeatPreference = "general-first"
	GeneralOnly  SeatPreference = "general-only"
	SpecialFirst SeatPreference = "special-first"
	SpecialOnly  SeatPreference = "special-only"
)

func ParseSeatPreference(s string) (SeatPreference, error) {
	switch p := SeatPreference(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return GeneralFirst, nil
	case GeneralFirst, GeneralOnly, SpecialFirst, SpecialOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown seat preference %q", s)
	}
}

// Offer is one row of a search result: a departure plus its live seat state.
// Dates are YYYYMMDD and times HHMMSS, as the backend reports them.
type Offer struct {
	TrainID   string `json:"train_id"`
	TrainType string `json:"train_type"`
	TrainName string `json:"train_name"`

	RunDate       string `json:"run_date"`
	DepartureDate string `json:"departure_date"`
	DepartureTime string `json:"departure_time"`
	ArrivalDate   string `json:"arrival_date"`
	ArrivalTime   string `json:"arrival_time"`

	Origin          string `json:"origin"`
	OriginCode      string `json:"origin_code"`
	Destination     string `json:"destination"`
	DestinationCode string `json:"destination_code"`

	General SeatState `json:"general"`
	Special SeatState `json:"special"`

	// Extra holds backend fields a later reserve call has to echo back.
	Extra map[string]string `json:"extra,omitempty"`
}

// SeatClass returns the class that would be booked under pref, if any.
func (o Offer) SeatClass(pref SeatPreference) (SeatClass, bool) {
	gen := o.General == SeatAvailable
	spe := o.Special == SeatAvailable
	switch pref {
	case GeneralOnly:
		if gen {
			return ClassGeneral, true
		}
	case SpecialOnly:
		if spe {
			return ClassSpecial, true
		}
	case SpecialFirst:
		if spe {
			return ClassSpecial, true
		}
		if gen {
			return ClassGeneral, true
		}
	default:
		if gen {
			return ClassGeneral, true
		}
		if spe {
			return ClassSpecial, true
		}
	}
	return "", false
}

func (o Offer) Bookable(pref SeatPreference) bool {
	_, ok := o.SeatClass(pref)
	return ok
}

// Label is the short human form used in progress lines, e.g. "KTX 101 08:00 서울→부산".
func (o Offer) Label() string {
	return label(o.TrainName, o.TrainID, o.DepartureTime, o.Origin, o.Destination)
}

type Reservation struct {
	ID            string    `json:"id"`
	TrainID       string    `json:"train_id"`
	RunDate       string    `json:"run_date"`
	DepartureTime string    `json:"departure_time"`
	Class         SeatClass `json:"class"`
}

func label(name, id, depTime, origin, dest string) string {
	var b strings.Builder
	if name != "" {
		b.WriteString(name)
		b.WriteByte(' ')
	}
	b.WriteString(id)
	if len(depTime) >= 4 {
		b.WriteString(" " + depTime[0:2] + ":" + depTime[2:4])
	}
	if origin != "" || dest != "" {
		b.WriteString(" " + origin + "→" + dest)
	}
	return b.String()
}
