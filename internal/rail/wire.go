package rail

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/rail-scheduler/internal/reservation"
)

const (
	epLogin   = "login.Login"
	epSearch  = "seatMovie.ScheduleView"
	epReserve = "certification.TicketReservation"
)

// Result codes with a fixed meaning for the scheduler.
const (
	codeSoldOut     = "ERR211161"
	codeNeedLogin   = "P058"
	seatAvailable   = "11"
	resultSucceeded = "SUCC"
)

// Codes the search endpoint uses for "no trains"; an empty list, not an error.
var noResultCodes = map[string]bool{
	"P100":      true,
	"WRG000000": true,
	"WRD000061": true,
	"WRT300005": true,
}

var phonePattern = regexp.MustCompile(`^01\d-?\d{3,4}-?\d{4}$`)

var (
	ErrBadCredentials = errors.New("rail: login rejected")
	errNoResults      = errors.New("rail: no results")
)

// APIError is a FAIL envelope the scheduler has no special handling for.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("rail: %s (%s)", e.Message, e.Code) }

type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("rail: http status %d", e.Status) }

type envelope struct {
	Result  string `json:"strResult"`
	Code    string `json:"h_msg_cd"`
	Message string `json:"h_msg_txt"`
}

func (e envelope) err() error {
	if e.Result == resultSucceeded {
		return nil
	}
	switch {
	case e.Code == codeNeedLogin:
		return reservation.ErrAuthExpired
	case e.Code == codeSoldOut:
		return reservation.ErrSoldOut
	case noResultCodes[e.Code]:
		return errNoResults
	}
	return &APIError{Code: e.Code, Message: e.Message}
}

type trainInfo struct {
	TypeCode string `json:"h_trn_clsf_cd"`
	TypeName string `json:"h_trn_clsf_nm"`
	Number   string `json:"h_trn_no"`
	RunDate  string `json:"h_run_dt"`
	DepDate  string `json:"h_dpt_dt"`
	DepTime  string `json:"h_dpt_tm"`
	DepCode  string `json:"h_dpt_rs_stn_cd"`
	DepName  string `json:"h_dpt_rs_stn_nm"`
	ArrDate  string `json:"h_arv_dt"`
	ArrTime  string `json:"h_arv_tm"`
	ArrCode  string `json:"h_arv_rs_stn_cd"`
	ArrName  string `json:"h_arv_rs_stn_nm"`
	General  string `json:"h_gen_rsv_cd"`
	Special  string `json:"h_spe_rsv_cd"`
}

type searchResponse struct {
	envelope
	Trains struct {
		List []trainInfo `json:"trn_info"`
	} `json:"trn_infos"`
}

type reserveResponse struct {
	envelope
	PNR string `json:"h_pnr_no"`
}

func (t trainInfo) offer() reservation.Offer {
	return reservation.Offer{
		TrainID:         t.Number,
		TrainType:       t.TypeCode,
		TrainName:       t.TypeName,
		RunDate:         t.RunDate,
		DepartureDate:   t.DepDate,
		DepartureTime:   t.DepTime,
		ArrivalDate:     t.ArrDate,
		ArrivalTime:     t.ArrTime,
		Origin:          t.DepName,
		OriginCode:      t.DepCode,
		Destination:     t.ArrName,
		DestinationCode: t.ArrCode,
		General:         seatState(t.General),
		Special:         seatState(t.Special),
	}
}

func seatState(code string) reservation.SeatState {
	switch code {
	case "":
		return reservation.SeatUnknown
	case seatAvailable:
		return reservation.SeatAvailable
	default:
		return reservation.SeatSoldOut
	}
}

// seat class codes for the reserve call
func classCode(c reservation.SeatClass) string {
	if c == reservation.ClassSpecial {
		return "2"
	}
	return "1"
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "railsched_rail_request_duration_seconds",
	Help:    "Latency of ticketing API calls.",
	Buckets: prometheus.DefBuckets,
}, []string{"endpoint", "result"})
