package srt

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/rail-scheduler/internal/reservation"
)

const (
	epLogin   = "apb/selectListApb01080_n.do"
	epSearch  = "ara/selectListAra10007_n.do"
	epReserve = "arc/selectListArc05013_n.do"
)

const (
	resultSucceeded = "SUCC"
	seatAvailable   = "예약가능"
	// train class of SRT departures; the search also lists other operators
	classSRT = "17"
)

// The backend has no stable codes for these, only message text.
var (
	needLoginMarkers = []string{"로그인 후 사용", "로그인이 필요"}
	soldOutMarkers   = []string{"잔여석없음", "매진"}
	noResultMarkers  = []string{"조회자료가 없습니다"}
)

// APIError is a FAIL result the scheduler has no special handling for.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return "srt: " + e.Message
	}
	return fmt.Sprintf("srt: %s (%s)", e.Message, e.Code)
}

type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("srt: http status %d", e.Status) }

// checker is a decoded response that knows whether it reports a failure.
type checker interface {
	err() error
}

type result struct {
	Status  string `json:"strResult"`
	Code    string `json:"msgCd"`
	Message string `json:"msgTxt"`
}

type envelope struct {
	Results []result `json:"resultMap"`
}

func (e envelope) err() error {
	if len(e.Results) == 0 {
		return &APIError{Message: "response without result"}
	}
	r := e.Results[0]
	if r.Status == resultSucceeded {
		return nil
	}
	switch {
	case containsAny(r.Message, needLoginMarkers):
		return reservation.ErrAuthExpired
	case containsAny(r.Message, soldOutMarkers):
		return reservation.ErrSoldOut
	case containsAny(r.Message, noResultMarkers):
		return errNoResults
	}
	return &APIError{Code: r.Code, Message: r.Message}
}

type loginResponse struct {
	Status  string `json:"strResult"`
	Message string `json:"MSG"`
	User    struct {
		Number string `json:"MB_CRD_NO"`
		Name   string `json:"CUST_NM"`
	} `json:"userMap"`
}

func (r *loginResponse) err() error {
	if r.Status == resultSucceeded {
		return nil
	}
	return &APIError{Message: r.Message}
}

type trainInfo struct {
	Class       string `json:"stlbTrnClsfCd"`
	Number      string `json:"trnNo"`
	RunDate     string `json:"runDt"`
	DepDate     string `json:"dptDt"`
	DepTime     string `json:"dptTm"`
	DepCode     string `json:"dptRsStnCd"`
	ArrDate     string `json:"arvDt"`
	ArrTime     string `json:"arvTm"`
	ArrCode     string `json:"arvRsStnCd"`
	General     string `json:"gnrmRsvPsbStr"`
	Special     string `json:"sprmRsvPsbStr"`
	Waitlist    string `json:"rsvWaitPsbCd"`
	DepConsOrdr string `json:"dptStnConsOrdr"`
	ArrConsOrdr string `json:"arvStnConsOrdr"`
	DepRunOrdr  string `json:"dptStnRunOrdr"`
	ArrRunOrdr  string `json:"arvStnRunOrdr"`
}

type searchResponse struct {
	envelope
	Out struct {
		Trains []trainInfo `json:"dsOutput1"`
	} `json:"outDataSets"`
}

type reserveResponse struct {
	envelope
	Reservations []struct {
		PNR string `json:"pnrNo"`
	} `json:"reservListMap"`
}

// keys of the stop order fields carried in Offer.Extra
const (
	extraDepCons = "dptStnConsOrdr"
	extraArrCons = "arvStnConsOrdr"
	extraDepRun  = "dptStnRunOrdr"
	extraArrRun  = "arvStnRunOrdr"
)

func (t trainInfo) offer() reservation.Offer {
	return reservation.Offer{
		TrainID:         t.Number,
		TrainType:       t.Class,
		TrainName:       "SRT",
		RunDate:         t.RunDate,
		DepartureDate:   t.DepDate,
		DepartureTime:   t.DepTime,
		ArrivalDate:     t.ArrDate,
		ArrivalTime:     t.ArrTime,
		Origin:          stationName(t.DepCode),
		OriginCode:      t.DepCode,
		Destination:     stationName(t.ArrCode),
		DestinationCode: t.ArrCode,
		General:         seatState(t.General),
		Special:         seatState(t.Special),
		Extra: map[string]string{
			extraDepCons: t.DepConsOrdr,
			extraArrCons: t.ArrConsOrdr,
			extraDepRun:  t.DepRunOrdr,
			extraArrRun:  t.ArrRunOrdr,
		},
	}
}

func seatState(s string) reservation.SeatState {
	switch {
	case s == "":
		return reservation.SeatUnknown
	case strings.Contains(s, seatAvailable):
		return reservation.SeatAvailable
	default:
		return reservation.SeatSoldOut
	}
}

func classCode(c reservation.SeatClass) string {
	if c == reservation.ClassSpecial {
		return "2"
	}
	return "1"
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "railsched_srt_request_duration_seconds",
	Help:    "Latency of SRT ticketing API calls.",
	Buckets: prometheus.DefBuckets,
}, []string{"endpoint", "result"})
