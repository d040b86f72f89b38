package reservation

import "context"

// BookingClient is an authenticated handle to the ticketing backend. A handle
// is owned by exactly one run and must not be shared between runs.
type BookingClient interface {
	// Search returns the departures from origin to destination on date
	// (YYYYMMDD) at or after time (HHMMSS). Safe to call repeatedly.
	Search(ctx context.Context, origin, destination, date, time string) ([]Offer, error)
	Book(ctx context.Context, offer Offer, pref SeatPreference) (Reservation, error)
}
