package rail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/example/rail-scheduler/internal/reservation"
)

var _ reservation.BookingClient = (*Client)(nil)

// Search lists the departures from origin to destination (station names) on
// date at or after hhmmss, sold-out trains included. Every failure is a
// *reservation.SearchError; an expired session additionally matches
// reservation.ErrAuthExpired.
func (c *Client) Search(ctx context.Context, origin, destination, date, hhmmss string) ([]reservation.Offer, error) {
	if err := c.requireLogin(); err != nil {
		return nil, &reservation.SearchError{Err: err}
	}
	form := url.Values{
		"Device":      {c.device},
		"Version":     {c.version},
		"radJobId":    {"1"},
		"selGoTrain":  {"109"},
		"txtGoAbrdDt": {date},
		"txtGoHour":   {hhmmss},
		"txtGoStart":  {origin},
		"txtGoEnd":    {destination},
		"txtPsgFlg_1": {"1"},
	}
	var resp searchResponse
	err := c.call(ctx, http.MethodGet, epSearch, form, &resp)
	if errors.Is(err, errNoResults) {
		return []reservation.Offer{}, nil
	}
	if err != nil {
		return nil, &reservation.SearchError{Err: err}
	}

	offers := make([]reservation.Offer, 0, len(resp.Trains.List))
	for _, t := range resp.Trains.List {
		offers = append(offers, t.offer())
	}
	return offers, nil
}

// Book reserves one adult seat on offer in the class pref selects. A seat
// that went away since the search yields reservation.ErrSoldOut.
func (c *Client) Book(ctx context.Context, offer reservation.Offer, pref reservation.SeatPreference) (reservation.Reservation, error) {
	if err := c.requireLogin(); err != nil {
		return reservation.Reservation{}, err
	}
	class, ok := offer.SeatClass(pref)
	if !ok {
		return reservation.Reservation{}, fmt.Errorf("reserve %s: %w", offer.Label(), reservation.ErrSoldOut)
	}
	form := url.Values{
		"Device":         {c.device},
		"Version":        {c.version},
		"txtGdNo":        {""},
		"txtJobId":       {"1101"},
		"txtTotPsgCnt":   {"1"},
		"txtSeatAttCd1":  {"000"},
		"txtSeatAttCd2":  {"000"},
		"txtSeatAttCd3":  {"000"},
		"txtSeatAttCd4":  {"015"},
		"txtSeatAttCd5":  {"000"},
		"hidFreeFlg":     {"N"},
		"txtStndFlg":     {"N"},
		"txtMenuId":      {"11"},
		"txtSrcarCnt":    {"0"},
		"txtJrnyCnt":     {"1"},
		"txtJrnySqno1":   {"001"},
		"txtJrnyTpCd1":   {"11"},
		"txtDptDt1":      {offer.DepartureDate},
		"txtDptRsStnCd1": {offer.OriginCode},
		"txtDptTm1":      {offer.DepartureTime},
		"txtArvRsStnCd1": {offer.DestinationCode},
		"txtTrnNo1":      {offer.TrainID},
		"txtRunDt1":      {offer.RunDate},
		"txtTrnClsfCd1":  {offer.TrainType},
		"txtPsrmClCd1":   {classCode(class)},
		"txtChgFlg1":     {""},
		"txtPsgTpCd1":    {"1"},
		"txtDiscKndCd1":  {"000"},
		"txtCompaCnt1":   {"1"},
	}
	var resp reserveResponse
	if err := c.call(ctx, http.MethodGet, epReserve, form, &resp); err != nil {
		if errors.Is(err, reservation.ErrSoldOut) || errors.Is(err, reservation.ErrAuthExpired) {
			return reservation.Reservation{}, fmt.Errorf("reserve %s: %w", offer.Label(), err)
		}
		return reservation.Reservation{}, err
	}

	c.logger.Info("rail reservation made", slog.String("pnr", resp.PNR), slog.String("train", offer.Label()))
	return reservation.Reservation{
		ID:            resp.PNR,
		TrainID:       offer.TrainID,
		RunDate:       offer.RunDate,
		DepartureTime: offer.DepartureTime,
		Class:         class,
	}, nil
}
