package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Agrid-Dev/ditraheat/internal/ports"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

type Config struct {
	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainState     bool
	PublishInterval time.Duration
	CommandTimeout  time.Duration

	Username string
	Password string
}

type Controller struct {
	svc ports.ThermostatService
	cfg Config
	log *zap.SugaredLogger

	client mqtt.Client

	// last published state per serial number; commands update it from
	// paho's goroutines while the ticker loop reads it
	mu   sync.Mutex
	last map[string]schluter.Thermostat
}

func New(svc ports.ThermostatService, cfg Config, log *zap.SugaredLogger) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "ditraheat"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ditraheat-" + uuid.NewString()
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 60 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{
		svc:  svc,
		cfg:  cfg,
		log:  log,
		last: make(map[string]schluter.Thermostat),
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		// commands make blocking cloud calls; don't stall the client's router
		SetOrderMatters(false)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		// <base>/<serial>/set/<field>
		topic := c.topic("+/set/+")
		token := cl.Subscribe(topic, c.cfg.QoS, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Errorw("mqtt subscribe failed", "topic", topic, "err", err)
		}
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.log.Infow("mqtt connected", "broker", c.cfg.BrokerURL, "base_topic", c.cfg.BaseTopic)

	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	// publish immediately once
	c.publishChanged(ctx)

	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			c.publishChanged(ctx)
		}
	}
}

// publishChanged fetches the live state and publishes every thermostat whose
// state differs from what was last published.
func (c *Controller) publishChanged(ctx context.Context) {
	ts, err := c.svc.Thermostats(ctx)
	if err != nil {
		c.log.Warnw("fetch thermostats failed", "err", err)
		return
	}
	for serial, t := range ts {
		if c.unchanged(t) {
			continue
		}
		if err := c.publishState(t); err != nil {
			c.log.Warnw("mqtt publish failed", "serial_number", serial, "err", err)
		}
	}
}

func (c *Controller) unchanged(t schluter.Thermostat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[t.SerialNumber]
	return ok && reflect.DeepEqual(prev, t)
}

// publishState publishes t and, once the broker accepted it, remembers it as
// the last published state.
func (c *Controller) publishState(t schluter.Thermostat) error {
	b, err := json.Marshal(toDTO(t))
	if err != nil {
		return err
	}
	tok := c.client.Publish(c.topic(t.SerialNumber+"/state"), c.cfg.QoS, c.cfg.RetainState, b)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return err
	}
	c.mu.Lock()
	c.last[t.SerialNumber] = t
	c.mu.Unlock()
	return nil
}

type stateDTO struct {
	SerialNumber        string  `json:"serial_number"`
	Name                string  `json:"name"`
	GroupName           string  `json:"group_name"`
	Temperature         float64 `json:"temperature"`
	SetPointTemperature float64 `json:"set_point_temperature"`
	ManualTemperature   float64 `json:"manual_temperature"`
	MinTemperature      float64 `json:"min_temperature"`
	MaxTemperature      float64 `json:"max_temperature"`
	RegulationMode      string  `json:"regulation_mode"`
	Online              bool    `json:"online"`
	Heating             bool    `json:"heating"`
	LoadMeasuredWatt    int     `json:"load_measured_watt"`
}

func toDTO(t schluter.Thermostat) stateDTO {
	return stateDTO{
		SerialNumber:        t.SerialNumber,
		Name:                t.Name,
		GroupName:           t.GroupName,
		Temperature:         t.Temperature,
		SetPointTemperature: t.SetPointTemperature,
		ManualTemperature:   t.ManualTemperature,
		MinTemperature:      t.MinTemperature,
		MaxTemperature:      t.MaxTemperature,
		RegulationMode:      t.RegulationMode.String(),
		Online:              t.IsOnline,
		Heating:             t.IsHeating,
		LoadMeasuredWatt:    t.LoadMeasuredWatt,
	}
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/<serial>/set/<field>
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/"
	rest, ok := strings.CutPrefix(msg.Topic(), prefix)
	if !ok {
		return
	}
	serial, field, ok := strings.Cut(rest, "/set/")
	if !ok || serial == "" || strings.Contains(serial, "/") {
		return
	}

	payload := msg.Payload()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
	defer cancel()

	var (
		success bool
		err     error
	)

	// Dispatch by field
	switch field {
	case "temperature":
		var v float64
		if v, err = decodeValueStrict[float64](payload); err != nil {
			break
		}
		success, err = c.svc.SetTemperature(ctx, serial, v)

	case "regulation_mode":
		var s string
		if s, err = decodeValueStrict[string](payload); err != nil {
			break
		}
		var m schluter.RegulationMode
		if m, err = schluter.ParseRegulationMode(s); err != nil {
			break
		}
		success, err = c.svc.SetRegulationMode(ctx, serial, m)

	default:
		c.log.Debugw("ignoring unknown mqtt command", "topic", msg.Topic())
		return
	}

	if err != nil {
		c.log.Warnw("mqtt command failed", "serial_number", serial, "field", field, "err", err)
		return
	}
	c.log.Infow("mqtt command applied", "serial_number", serial, "field", field, "success", success)
	if success {
		c.refresh(ctx, serial)
	}
}

// refresh publishes the new state of one thermostat after a successful command.
func (c *Controller) refresh(ctx context.Context, serial string) {
	if c.client == nil {
		return
	}
	t, err := c.svc.Thermostat(ctx, serial)
	if err != nil {
		c.log.Warnw("refresh after command failed", "serial_number", serial, "err", err)
		return
	}
	if err := c.publishState(t); err != nil {
		c.log.Warnw("mqtt publish failed", "serial_number", serial, "err", err)
	}
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
