package web

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/example/rail-scheduler/internal/auth"
	"github.com/example/rail-scheduler/internal/credentials"
	"github.com/example/rail-scheduler/internal/logger"
	"github.com/example/rail-scheduler/internal/rail"
	"github.com/example/rail-scheduler/internal/reservation"
	"github.com/example/rail-scheduler/internal/sessions"
)

type tmplData struct {
	Title string
	User  int64
	Flash string

	Stations []string
	Hours    []int
	Form     searchForm

	MemberID string
	Search   sessions.Search
	Rows     []offerRow
	Prefs    []reservation.SeatPreference
}

type searchForm struct {
	Origin      string
	Destination string
	Date        string // YYYY-MM-DD
	Hour        int
}

type offerRow struct {
	Index int
	Offer reservation.Offer
}

var funcs = template.FuncMap{
	"hhmm": func(s string) string {
		if len(s) < 4 {
			return s
		}
		return s[:2] + ":" + s[2:4]
	},
	"ymd": func(s string) string {
		if len(s) != 8 {
			return s
		}
		return s[:4] + "-" + s[4:6] + "-" + s[6:]
	},
	"seat": func(st reservation.SeatState) string {
		switch st {
		case reservation.SeatAvailable:
			return "예약가능"
		case reservation.SeatSoldOut:
			return "매진"
		default:
			return "-"
		}
	},
}

var pages = parsePages("login", "credentials", "search", "reserve")

func parsePages(names ...string) map[string]*template.Template {
	out := make(map[string]*template.Template, len(names))
	for _, n := range names {
		out[n] = template.Must(template.New(n).Funcs(funcs).ParseFS(fs, "templates/base.html", "templates/"+n+".html"))
	}
	return out
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data tmplData) {
	s.renderCode(w, r, http.StatusOK, name, data)
}

func (s *Server) renderCode(w http.ResponseWriter, r *http.Request, code int, name string, data tmplData) {
	t, ok := pages[name]
	if !ok {
		http.Error(w, "unknown page "+name, http.StatusInternalServerError)
		return
	}
	if data.User == 0 {
		data.User, _ = auth.UserIDFromContext(r.Context())
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		logger.FromContext(r.Context(), s.logger()).Error("render", slog.String("page", name), slog.String("error", err.Error()))
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "login", tmplData{Title: "로그인"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	id, err := s.Auth.Authenticate(r.Context(), username, r.FormValue("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			logger.FromContext(r.Context(), s.logger()).Error("authenticate", slog.String("error", err.Error()))
		}
		s.renderCode(w, r, http.StatusUnauthorized, "login", tmplData{Title: "로그인", Flash: "아이디 또는 비밀번호가 올바르지 않습니다"})
		return
	}
	if _, err := s.Auth.SetSession(w, r, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	next := "/"
	if _, err := s.Creds.Get(r.Context(), id); errors.Is(err, credentials.ErrNotSet) {
		next = "/credentials"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.Auth.GetSession(r); ok {
		_ = s.Searches.Forget(sess.SID)
	}
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleCredentialsPage(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	data := tmplData{Title: "코레일 계정"}
	if c, err := s.Creds.Get(r.Context(), uid); err == nil {
		data.MemberID = c.MemberID
	}
	s.render(w, r, "credentials", data)
}

// handleCredentials checks the login against the backend before saving it.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	creds := rail.Credentials{
		MemberID: strings.TrimSpace(r.FormValue("member_id")),
		Password: r.FormValue("password"),
	}
	fail := func(code int, msg string) {
		s.renderCode(w, r, code, "credentials", tmplData{Title: "코레일 계정", Flash: msg, MemberID: creds.MemberID})
	}
	if creds.MemberID == "" || creds.Password == "" {
		fail(http.StatusBadRequest, "아이디와 비밀번호를 입력하세요")
		return
	}
	if _, err := s.Clients.Open(r.Context(), creds); err != nil {
		if errors.Is(err, rail.ErrBadCredentials) {
			fail(http.StatusUnauthorized, "코레일 로그인 실패: "+err.Error())
			return
		}
		fail(http.StatusBadGateway, "코레일 서버에 연결할 수 없습니다: "+err.Error())
		return
	}
	if err := s.Creds.Save(r.Context(), uid, creds); err != nil {
		logger.FromContext(r.Context(), s.logger()).Error("save credentials", slog.String("error", err.Error()))
		fail(http.StatusInternalServerError, "저장하지 못했습니다")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) searchPage(flash string, form searchForm) tmplData {
	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	if form.Date == "" {
		form.Date = s.now().Format("2006-01-02")
	}
	return tmplData{Title: "열차 조회", Flash: flash, Stations: s.stations(), Hours: hours, Form: form}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	st := s.stations()
	form := searchForm{Origin: st[0], Destination: st[len(st)-1], Hour: s.now().Hour()}
	if slices.Contains(st, "서울") {
		form.Origin = "서울"
	}
	if slices.Contains(st, "부산") {
		form.Destination = "부산"
	}
	s.render(w, r, "search", s.searchPage("", form))
}

func parseSearchForm(r *http.Request, stations []string) (searchForm, string, string, error) {
	f := searchForm{
		Origin:      strings.TrimSpace(r.FormValue("dep")),
		Destination: strings.TrimSpace(r.FormValue("arr")),
		Date:        strings.TrimSpace(r.FormValue("date")),
	}
	hour, err := strconv.Atoi(r.FormValue("hour"))
	if err != nil || hour < 0 || hour > 23 {
		return f, "", "", errors.New("시간을 선택하세요")
	}
	f.Hour = hour
	if !slices.Contains(stations, f.Origin) || !slices.Contains(stations, f.Destination) {
		return f, "", "", errors.New("출발역과 도착역을 목록에서 선택하세요")
	}
	if f.Origin == f.Destination {
		return f, "", "", errors.New("출발역과 도착역이 같습니다")
	}
	d, err := time.Parse("2006-01-02", f.Date)
	if err != nil {
		return f, "", "", errors.New("날짜 형식이 올바르지 않습니다")
	}
	return f, d.Format("20060102"), fmt.Sprintf("%02d0000", hour), nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	sid, _ := auth.SessionIDFromContext(r.Context())
	log := logger.FromContext(r.Context(), s.logger())
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form, date, hhmmss, err := parseSearchForm(r, s.stations())
	if err != nil {
		s.renderCode(w, r, http.StatusBadRequest, "search", s.searchPage(err.Error(), form))
		return
	}

	creds, err := s.Creds.Get(r.Context(), uid)
	if errors.Is(err, credentials.ErrNotSet) {
		http.Redirect(w, r, "/credentials", http.StatusFound)
		return
	}
	if err != nil {
		log.Error("load credentials", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	client, err := s.Clients.Open(r.Context(), creds)
	if err != nil {
		log.Warn("backend login", slog.String("error", err.Error()))
		s.renderCode(w, r, http.StatusBadGateway, "search", s.searchPage("코레일 로그인 실패: "+err.Error(), form))
		return
	}
	offers, err := client.Search(r.Context(), form.Origin, form.Destination, date, hhmmss)
	if err != nil {
		log.Warn("search", slog.String("error", err.Error()))
		s.renderCode(w, r, http.StatusBadGateway, "search", s.searchPage("조회 실패: "+err.Error(), form))
		return
	}

	sr := sessions.Search{
		Origin:      form.Origin,
		Destination: form.Destination,
		Date:        date,
		Time:        hhmmss,
		Offers:      offers,
		At:          s.now(),
	}
	if err := s.Searches.SaveSearch(sid, sr); err != nil {
		log.Error("save search", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/reserve", http.StatusSeeOther)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	sid, _ := auth.SessionIDFromContext(r.Context())
	sr, err := s.Searches.LastSearch(sid)
	if errors.Is(err, sessions.ErrNoSearch) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rows := make([]offerRow, len(sr.Offers))
	for i, o := range sr.Offers {
		rows[i] = offerRow{Index: i, Offer: o}
	}
	s.render(w, r, "reserve", tmplData{
		Title:  "예약",
		Search: sr,
		Rows:   rows,
		Prefs: []reservation.SeatPreference{
			reservation.GeneralFirst, reservation.GeneralOnly, reservation.SpecialFirst, reservation.SpecialOnly,
		},
	})
}
