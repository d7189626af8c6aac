// Package schluter is a client for the Schluter DITRA-HEAT-E-WIFI cloud API.
//
// Every operation is a single request/response round trip. The client keeps
// one piece of state, the current session: the session id it last obtained
// or was handed, and the time of the last successful authentication.
// Authenticate sets both. CurrentThermostats, SetTemperature and
// SetRegulationMode overwrite the session id with their argument. Nothing
// is retried or cached.
package schluter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://ditra-heat-e-wifi.schluter.com"

	authPath        = "/api/authenticate/user"
	thermostatsPath = "/api/thermostats"
	thermostatPath  = "/api/thermostat"

	applicationID = 7

	// Regulation mode value the service expects alongside ManualTemperature.
	manualTemperatureRegulationMode = 3
)

// HTTPDoer is the transport the client borrows. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the structured logger the client reports to.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

type Client struct {
	http    HTTPDoer
	baseURL string
	log     Logger
	now     func() time.Time

	// mu only guards the fields below; concurrent operations are not
	// serialised and the last write wins.
	mu               sync.Mutex
	username         string
	password         string
	sessionID        string
	sessionTimestamp time.Time
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithLogger(l Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a client using httpClient for every request. The client never
// closes or reconfigures the transport.
func New(httpClient HTTPDoer, opts ...Option) *Client {
	c := &Client{
		http:    httpClient,
		baseURL: DefaultBaseURL,
		log:     zap.NewNop().Sugar(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) Password() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.password
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SessionTimestamp is when the session id was last obtained through
// Authenticate. It is zero before the first successful authentication.
func (c *Client) SessionTimestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionTimestamp
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Authenticate exchanges credentials for a session id. The id is returned
// and also stored as the current session.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	c.mu.Lock()
	c.username = username
	c.password = password
	c.mu.Unlock()

	body := authRequest{
		Email:       username,
		Password:    password,
		Application: applicationID,
	}

	resp, err := c.do(ctx, http.MethodPost, authPath, nil, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", ErrInvalidCredentials
	default:
		return "", &APIError{StatusCode: resp.StatusCode}
	}

	var data authResponse
	if err := decodeBody(resp, &data); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	if data.SessionID == "" {
		if data.ErrorCode == 1 || data.ErrorCode == 2 {
			return "", ErrInvalidCredentials
		}
		c.log.Errorw("unknown error code returned by schluter api", "error_code", data.ErrorCode)
		return "", &APIError{StatusCode: resp.StatusCode, ErrorCode: data.ErrorCode}
	}

	c.mu.Lock()
	c.sessionID = data.SessionID
	c.sessionTimestamp = c.now()
	c.mu.Unlock()

	return data.SessionID, nil
}

// CurrentThermostats returns every thermostat of the account keyed by serial
// number. Groups are flattened in response order; when a serial number
// appears more than once the last record wins.
func (c *Client) CurrentThermostats(ctx context.Context, sessionID string) (map[string]Thermostat, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	c.setSessionID(sessionID)

	query := url.Values{"sessionId": {sessionID}}
	resp, err := c.do(ctx, http.MethodGet, thermostatsPath, query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkSessionStatus(resp); err != nil {
		return nil, err
	}

	var data thermostatsResponse
	if err := decodeBody(resp, &data); err != nil {
		return nil, fmt.Errorf("current thermostats: %w", err)
	}
	return extractThermostats(data), nil
}

func extractThermostats(data thermostatsResponse) map[string]Thermostat {
	thermostats := make(map[string]Thermostat)
	for _, g := range data.Groups {
		for _, rec := range g.Thermostats {
			thermostats[rec.SerialNumber] = newThermostat(rec)
		}
	}
	return thermostats
}

// SetTemperature puts the thermostat in manual mode at the given temperature
// and cancels vacation mode. Degrees are truncated to hundredths. The
// returned bool is the service's Success flag; false is a rejection, not an
// error.
func (c *Client) SetTemperature(ctx context.Context, sessionID, serialNumber string, degrees float64) (bool, error) {
	return c.SetWireTemperature(ctx, sessionID, serialNumber, WireTemperature(degrees))
}

// SetWireTemperature is SetTemperature for a value already in wire units
// (hundredths of a degree). It is sent unchanged.
func (c *Client) SetWireTemperature(ctx context.Context, sessionID, serialNumber string, wire int) (bool, error) {
	if sessionID == "" {
		return false, ErrInvalidSessionID
	}
	c.setSessionID(sessionID)

	body := setTemperatureRequest{
		ManualTemperature: wire,
		RegulationMode:    manualTemperatureRegulationMode,
		VacationEnabled:   false,
	}
	return c.setThermostat(ctx, sessionID, serialNumber, body)
}

// SetRegulationMode switches the thermostat between schedule, manual and
// away. The returned bool is the service's Success flag.
func (c *Client) SetRegulationMode(ctx context.Context, sessionID, serialNumber string, mode RegulationMode) (bool, error) {
	if sessionID == "" {
		return false, ErrInvalidSessionID
	}
	c.setSessionID(sessionID)

	body := setRegulationModeRequest{
		SerialNumber:   serialNumber,
		RegulationMode: mode,
	}
	return c.setThermostat(ctx, sessionID, serialNumber, body)
}

func (c *Client) setThermostat(ctx context.Context, sessionID, serialNumber string, body any) (bool, error) {
	query := url.Values{
		"sessionId":    {sessionID},
		"serialnumber": {serialNumber},
	}
	resp, err := c.do(ctx, http.MethodPost, thermostatPath, query, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if err := checkSessionStatus(resp); err != nil {
		return false, err
	}

	var data setThermostatResponse
	if err := decodeBody(resp, &data); err != nil {
		return false, fmt.Errorf("set thermostat %s: %w", serialNumber, err)
	}
	return data.Success, nil
}

// do builds and sends one request. Transport errors are returned as is.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.log.Debugw("schluter response", "method", method, "url", c.baseURL+path, "status", resp.StatusCode)
	return resp, nil
}

func checkSessionStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrInvalidSessionID
	default:
		return &APIError{StatusCode: resp.StatusCode}
	}
}

func decodeBody(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
