// Package srt is a BookingClient for the SRT high-speed line. It mirrors the
// rail package: one cookie session per client, throttled requests and the
// same error taxonomy.
package srt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/rail-scheduler/internal/rail"
	"github.com/example/rail-scheduler/internal/reservation"
)

var (
	errNoResults = errors.New("srt: no results")
	phonePattern = regexp.MustCompile(`^01\d-?\d{3,4}-?\d{4}$`)
)

// Client holds one logged-in session and is owned by a single run.
type Client struct {
	base    *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	creds   rail.Credentials
	logger  *slog.Logger

	mu       sync.Mutex
	loggedIn bool
	member   rail.Member
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.logger = l } }

// WithRate limits outbound requests to perSec; non-positive disables it.
func WithRate(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

func New(baseURL string, creds rail.Credentials, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("srt: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("srt: base url %q must be absolute", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:    u,
		hc:      &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		creds:   creds,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc.Jar == nil {
		hc := *c.hc
		hc.Jar = jar
		c.hc = &hc
	}
	return c, nil
}

// Login opens a session. A rejected login matches rail.ErrBadCredentials.
func (c *Client) Login(ctx context.Context) (rail.Member, error) {
	id := c.creds.MemberID
	kind := loginKind(id)
	if kind == "3" {
		id = strings.ReplaceAll(id, "-", "")
	}
	form := url.Values{
		"auto":          {"Y"},
		"check":         {"Y"},
		"page":          {"menu"},
		"deviceKey":     {"-"},
		"customerYn":    {""},
		"login_referer": {c.base.JoinPath("main/main.do").String()},
		"srchDvCd":      {kind},
		"srchDvNm":      {id},
		"hmpgPwdCphd":   {c.creds.Password},
	}
	var resp loginResponse
	if err := c.call(ctx, epLogin, form, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return rail.Member{}, fmt.Errorf("%w: %s", rail.ErrBadCredentials, apiErr.Message)
		}
		if errors.Is(err, reservation.ErrAuthExpired) {
			return rail.Member{}, rail.ErrBadCredentials
		}
		return rail.Member{}, fmt.Errorf("login: %w", err)
	}

	m := rail.Member{Number: resp.User.Number, Name: resp.User.Name}
	c.mu.Lock()
	c.loggedIn = true
	c.member = m
	c.mu.Unlock()
	c.logger.Info("srt login ok", slog.String("member", m.Number))
	return m, nil
}

func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *Client) Member() rail.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.member
}

func (c *Client) requireLogin() error {
	if !c.LoggedIn() {
		return reservation.ErrAuthExpired
	}
	return nil
}

func (c *Client) expire() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

// loginKind is the srchDvCd value: 1 membership number, 2 e-mail, 3 phone.
func loginKind(id string) string {
	switch {
	case strings.Contains(id, "@"):
		return "2"
	case phonePattern.MatchString(id):
		return "3"
	default:
		return "1"
	}
}

// call posts form to endpoint, decodes the reply into v and returns the
// failure v reports, if any.
func (c *Client) call(ctx context.Context, endpoint string, form url.Values, v checker) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	status, body, err := c.do(ctx, endpoint, form)
	result := "ok"
	defer func() {
		requestDuration.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
		c.logger.Debug("srt request",
			slog.String("endpoint", endpoint),
			slog.Int("status", status),
			slog.String("result", result),
			slog.Duration("took", time.Since(start)),
		)
	}()

	if err != nil {
		result = "transport"
		return err
	}
	if status == http.StatusUnauthorized {
		result = "auth"
		c.expire()
		return reservation.ErrAuthExpired
	}
	if status >= 400 {
		result = "http"
		return &HTTPError{Status: status}
	}
	if err := json.Unmarshal(body, v); err != nil {
		result = "decode"
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if err := v.err(); err != nil {
		result = "fail"
		if errors.Is(err, reservation.ErrAuthExpired) {
			c.expire()
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(endpoint).String(), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 13) SRT-APP-Android V.2.0.33")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}
