package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Agrid-Dev/ditraheat/schluter"
)

var (
	ErrUnknownThermostat     = errors.New("unknown thermostat")
	ErrInvalidRegulationMode = errors.New("invalid regulation mode")
)

// API is the subset of *schluter.Client the account drives.
type API interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	CurrentThermostats(ctx context.Context, sessionID string) (map[string]schluter.Thermostat, error)
	SetTemperature(ctx context.Context, sessionID, serialNumber string, degrees float64) (bool, error)
	SetWireTemperature(ctx context.Context, sessionID, serialNumber string, wire int) (bool, error)
	SetRegulationMode(ctx context.Context, sessionID, serialNumber string, mode schluter.RegulationMode) (bool, error)
}

type Credentials struct {
	Username string
	Password string
}

// Account binds one set of credentials to an API client and implements
// ports.ThermostatService. It authenticates on first use and again after the
// service rejects the session; a rejected call is reported, not repeated.
// Calls are serialised so the client's stored session stays consistent.
type Account struct {
	api   API
	creds Credentials
	log   *zap.SugaredLogger

	mu        sync.Mutex
	sessionID string
}

func New(api API, creds Credentials, log *zap.SugaredLogger) *Account {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Account{api: api, creds: creds, log: log}
}

// Login authenticates eagerly. Useful at startup to fail fast on bad credentials.
func (a *Account) Login(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = ""
	_, err := a.session(ctx)
	return err
}

func (a *Account) Thermostats(ctx context.Context) (map[string]schluter.Thermostat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sid, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	ts, err := a.api.CurrentThermostats(ctx, sid)
	if err != nil {
		a.observe(err)
		return nil, fmt.Errorf("fetch thermostats: %w", err)
	}
	return ts, nil
}

func (a *Account) Thermostat(ctx context.Context, serialNumber string) (schluter.Thermostat, error) {
	ts, err := a.Thermostats(ctx)
	if err != nil {
		return schluter.Thermostat{}, err
	}
	th, ok := ts[serialNumber]
	if !ok {
		return schluter.Thermostat{}, fmt.Errorf("%w: %s", ErrUnknownThermostat, serialNumber)
	}
	return th, nil
}

func (a *Account) SetTemperature(ctx context.Context, serialNumber string, degrees float64) (bool, error) {
	return a.setTemperature(ctx, serialNumber, "temperature", degrees, func(sid string) (bool, error) {
		return a.api.SetTemperature(ctx, sid, serialNumber, degrees)
	})
}

// SetWireTemperature sets the manual temperature from hundredths of a degree,
// without a round trip through float degrees.
func (a *Account) SetWireTemperature(ctx context.Context, serialNumber string, wire int) (bool, error) {
	return a.setTemperature(ctx, serialNumber, "wire_temperature", wire, func(sid string) (bool, error) {
		return a.api.SetWireTemperature(ctx, sid, serialNumber, wire)
	})
}

func (a *Account) setTemperature(ctx context.Context, serialNumber, key string, value any, call func(sid string) (bool, error)) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sid, err := a.session(ctx)
	if err != nil {
		return false, err
	}
	ok, err := call(sid)
	if err != nil {
		a.observe(err)
		return false, fmt.Errorf("set temperature on %s: %w", serialNumber, err)
	}
	if !ok {
		a.log.Warnw("temperature change rejected", "serial_number", serialNumber, key, value)
	}
	return ok, nil
}

func (a *Account) SetRegulationMode(ctx context.Context, serialNumber string, mode schluter.RegulationMode) (bool, error) {
	if !mode.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidRegulationMode, int(mode))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sid, err := a.session(ctx)
	if err != nil {
		return false, err
	}
	ok, err := a.api.SetRegulationMode(ctx, sid, serialNumber, mode)
	if err != nil {
		a.observe(err)
		return false, fmt.Errorf("set regulation mode on %s: %w", serialNumber, err)
	}
	if !ok {
		a.log.Warnw("regulation mode change rejected", "serial_number", serialNumber, "mode", mode.String())
	}
	return ok, nil
}

// session returns the held session id, authenticating when there is none.
// Caller must hold mu.
func (a *Account) session(ctx context.Context) (string, error) {
	if a.sessionID != "" {
		return a.sessionID, nil
	}
	sid, err := a.api.Authenticate(ctx, a.creds.Username, a.creds.Password)
	if err != nil {
		return "", fmt.Errorf("authenticate %s: %w", a.creds.Username, err)
	}
	a.log.Infow("authenticated", "username", a.creds.Username)
	a.sessionID = sid
	return sid, nil
}

// observe drops the held session when the service rejected it. Caller must hold mu.
func (a *Account) observe(err error) {
	if errors.Is(err, schluter.ErrInvalidSessionID) {
		a.log.Warnw("session rejected, re-authenticating on next call", "username", a.creds.Username)
		a.sessionID = ""
	}
}
