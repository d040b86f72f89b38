package rail

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
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/rail-scheduler/internal/reservation"
)

// Client talks to the mobile ticketing API. It keeps a cookie session after
// Login and is owned by a single run; it is not meant to be shared.
//
// Requests are throttled with a token bucket so a tight polling loop cannot
// hammer the backend.
type Client struct {
	base    *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	creds   Credentials
	logger  *slog.Logger
	device  string
	version string

	mu       sync.Mutex
	loggedIn bool
	member   Member
}

type Credentials struct {
	// MemberID is a membership number, an e-mail address or a phone number.
	MemberID string
	Password string
}

// Member is the account the session is logged in as.
type Member struct {
	Number string
	Name   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.logger = l } }

// WithRate limits outbound requests to perSec with the given burst. A
// non-positive perSec disables throttling.
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

func New(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rail: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rail: base url %q must be absolute", baseURL)
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
		device:  "AD",
		version: "231231001",
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

// Login opens a session with the configured credentials.
func (c *Client) Login(ctx context.Context) (Member, error) {
	form := url.Values{
		"Device":      {c.device},
		"Version":     {c.version},
		"txtInputFlg": {inputFlag(c.creds.MemberID)},
		"txtMemberNo": {c.creds.MemberID},
		"txtPwd":      {c.creds.Password},
	}
	var resp struct {
		envelope
		MemberNo string `json:"strMbCrdNo"`
		Name     string `json:"strCustNm"`
	}
	if err := c.call(ctx, http.MethodPost, epLogin, form, &resp); err != nil {
		if errors.Is(err, reservation.ErrAuthExpired) {
			return Member{}, ErrBadCredentials
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return Member{}, fmt.Errorf("%w: %s", ErrBadCredentials, apiErr.Message)
		}
		return Member{}, fmt.Errorf("login: %w", err)
	}

	m := Member{Number: resp.MemberNo, Name: resp.Name}
	c.mu.Lock()
	c.loggedIn = true
	c.member = m
	c.mu.Unlock()
	c.logger.Info("rail login ok", slog.String("member", m.Number))
	return m, nil
}

func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Member returns the logged-in account; zero before Login.
func (c *Client) Member() Member {
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

// inputFlag tells the backend which kind of login id was given.
func inputFlag(id string) string {
	switch {
	case strings.Contains(id, "@"):
		return "5"
	case phonePattern.MatchString(id):
		return "4"
	default:
		return "2"
	}
}

// call performs one throttled request and decodes the JSON envelope into v.
// GET requests carry form as the query string.
func (c *Client) call(ctx context.Context, method, endpoint string, form url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	status, body, err := c.do(ctx, method, endpoint, form)
	result := "ok"
	defer func() {
		requestDuration.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
		c.logger.Debug("rail request",
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

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		result = "decode"
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if err := env.err(); err != nil {
		result = "fail"
		if errors.Is(err, reservation.ErrAuthExpired) {
			c.expire()
		}
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		result = "decode"
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values) (int, []byte, error) {
	u := c.base.JoinPath(endpoint)
	var body io.Reader
	if method == http.MethodGet {
		u.RawQuery = form.Encode()
	} else {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "Dalvik/2.1.0 (Linux; U; Android 13)")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}

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
