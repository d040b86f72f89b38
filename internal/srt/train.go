package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/example/rail-scheduler/internal/reservation"
)

var _ reservation.BookingClient = (*Client)(nil)

// Search lists SRT departures from origin to destination on date at or after
// hhmmss. Backend failures are *reservation.SearchError; a station name
// outside Stations is a plain error.
func (c *Client) Search(ctx context.Context, origin, destination, date, hhmmss string) ([]reservation.Offer, error) {
	dep, ok := stationCode(origin)
	if !ok {
		return nil, fmt.Errorf("srt: unknown station %q", origin)
	}
	arr, ok := stationCode(destination)
	if !ok {
		return nil, fmt.Errorf("srt: unknown station %q", destination)
	}
	if err := c.requireLogin(); err != nil {
		return nil, &reservation.SearchError{Err: err}
	}
	form := url.Values{
		"chtnDvCd":      {"1"},
		"arriveTime":    {"N"},
		"seatAttCd":     {"015"},
		"psgNum":        {"1"},
		"trnGpCd":       {"109"},
		"stlbTrnClsfCd": {"05"},
		"dptDt":         {date},
		"dptTm":         {hhmmss},
		"dptRsStnCd":    {dep},
		"arvRsStnCd":    {arr},
	}
	var resp searchResponse
	err := c.call(ctx, epSearch, form, &resp)
	if errors.Is(err, errNoResults) {
		return []reservation.Offer{}, nil
	}
	if err != nil {
		return nil, &reservation.SearchError{Err: err}
	}

	offers := make([]reservation.Offer, 0, len(resp.Out.Trains))
	for _, t := range resp.Out.Trains {
		if t.Class != classSRT {
			continue
		}
		offers = append(offers, t.offer())
	}
	return offers, nil
}

// Book reserves one adult seat on offer in the class pref selects.
func (c *Client) Book(ctx context.Context, offer reservation.Offer, pref reservation.SeatPreference) (reservation.Reservation, error) {
	if err := c.requireLogin(); err != nil {
		return reservation.Reservation{}, err
	}
	class, ok := offer.SeatClass(pref)
	if !ok {
		return reservation.Reservation{}, fmt.Errorf("reserve %s: %w", offer.Label(), reservation.ErrSoldOut)
	}
	form := url.Values{
		"reserveType":     {"11"},
		"jobId":           {"1101"},
		"jrnyCnt":         {"1"},
		"jrnyTpCd":        {"11"},
		"jrnySqno1":       {"001"},
		"stndFlg":         {"N"},
		"trnGpCd1":        {"300"},
		"stlbTrnClsfCd1":  {offer.TrainType},
		"dptDt1":          {offer.DepartureDate},
		"dptTm1":          {offer.DepartureTime},
		"runDt1":          {offer.RunDate},
		"trnNo1":          {trainNumber(offer.TrainID)},
		"dptRsStnCd1":     {offer.OriginCode},
		"dptRsStnCdNm1":   {offer.Origin},
		"arvRsStnCd1":     {offer.DestinationCode},
		"arvRsStnCdNm1":   {offer.Destination},
		"dptStnConsOrdr1": {offer.Extra[extraDepCons]},
		"arvStnConsOrdr1": {offer.Extra[extraArrCons]},
		"dptStnRunOrdr1":  {offer.Extra[extraDepRun]},
		"arvStnRunOrdr1":  {offer.Extra[extraArrRun]},
		"totPrnb":         {"1"},
		"psgGridcnt":      {"1"},
		"psgTpCd1":        {"1"},
		"psgInfoPerPrnb1": {"1"},
		"locSeatAttCd1":   {"000"},
		"rqSeatAttCd1":    {"015"},
		"dirSeatAttCd1":   {"009"},
		"smkSeatAttCd1":   {"000"},
		"etcSeatAttCd1":   {"000"},
		"psrmClCd1":       {classCode(class)},
	}
	var resp reserveResponse
	if err := c.call(ctx, epReserve, form, &resp); err != nil {
		if errors.Is(err, reservation.ErrSoldOut) || errors.Is(err, reservation.ErrAuthExpired) {
			return reservation.Reservation{}, fmt.Errorf("reserve %s: %w", offer.Label(), err)
		}
		return reservation.Reservation{}, err
	}
	if len(resp.Reservations) == 0 || resp.Reservations[0].PNR == "" {
		return reservation.Reservation{}, &APIError{Message: "reservation without number"}
	}

	pnr := resp.Reservations[0].PNR
	c.logger.Info("srt reservation made", slog.String("pnr", pnr), slog.String("train", offer.Label()))
	return reservation.Reservation{
		ID:            pnr,
		TrainID:       offer.TrainID,
		RunDate:       offer.RunDate,
		DepartureTime: offer.DepartureTime,
		Class:         class,
	}, nil
}

// trainNumber zero-pads to the five digits the reserve call expects.
func trainNumber(no string) string {
	if len(no) >= 5 {
		return no
	}
	return strings.Repeat("0", 5-len(no)) + no
}
