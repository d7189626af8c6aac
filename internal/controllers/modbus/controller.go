package modbusctrl

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	mbserver "github.com/tbrandon/mbserver"
	"go.uber.org/zap"

	"github.com/Agrid-Dev/ditraheat/internal/ports"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

// Each thermostat owns a block of RegistersPerThermostat addresses, in both
// the input and the holding register tables. Block n belongs to the n-th
// serial of the layout.
const RegistersPerThermostat = 8

// Input register offsets (function 4), read only.
const (
	irTemperature = iota
	irSetPointTemperature
	irMinTemperature
	irMaxTemperature
	irOnline
	irHeating
	irLoadMeasuredWatt
	irRegulationMode
)

// Holding register offsets (functions 3, 6, 16).
const (
	hrManualTemperature = 0
	hrRegulationMode    = 1
)

// Config for the Modbus controller.
type Config struct {
	Addr string
	// Serials fixes the register layout. When empty, thermostats are laid
	// out in ascending serial number order as reported by each fetch.
	Serials        []string
	RequestTimeout time.Duration
}

type Controller struct {
	svc ports.ThermostatService
	cfg Config
	log *zap.SugaredLogger

	ctx  context.Context
	serv *mbserver.Server
}

func New(svc ports.ThermostatService, cfg Config, log *zap.SugaredLogger) (*Controller, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	seen := make(map[string]bool, len(cfg.Serials))
	for _, s := range cfg.Serials {
		if s == "" || seen[s] {
			return nil, fmt.Errorf("modbus: invalid or duplicate serial %q in layout", s)
		}
		seen[s] = true
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{svc: svc, cfg: cfg, log: log, ctx: context.Background()}, nil
}

// Run starts the Modbus server. Every read and write goes straight to the
// thermostat service. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	// Coils and discrete inputs are not part of the map.
	for _, fn := range []uint8{1, 2, 5, 15} {
		serv.RegisterFunctionHandler(fn, func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception) {
			return []byte{}, &mbserver.IllegalFunction
		})
	}

	serv.RegisterFunctionHandler(3, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readRegisters(frame.GetData(), holdingRegister)
	})
	serv.RegisterFunctionHandler(4, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readRegisters(frame.GetData(), inputRegister)
	})

	// Write Single Register (function 6)
	serv.RegisterFunctionHandler(6, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		addr := int(binary.BigEndian.Uint16(data[0:2]))
		value := binary.BigEndian.Uint16(data[2:4])

		if exc := c.writeRegisters(addr, []uint16{value}); exc != &mbserver.Success {
			return []byte{}, exc
		}
		// echo request (address + value)
		resp := make([]byte, 4)
		copy(resp, data[0:4])
		return resp, &mbserver.Success
	})

	// Write Multiple Registers (function 16)
	serv.RegisterFunctionHandler(16, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		d := frame.GetData()
		if len(d) < 5 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(d[0:2])
		quantity := binary.BigEndian.Uint16(d[2:4])
		byteCount := int(d[4])
		if quantity == 0 || byteCount != int(quantity)*2 || len(d) < 5+byteCount {
			return []byte{}, &mbserver.IllegalDataValue
		}
		values := make([]uint16, quantity)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		}
		if exc := c.writeRegisters(int(start), values); exc != &mbserver.Success {
			return []byte{}, exc
		}

		resp := make([]byte, 4)
		binary.BigEndian.PutUint16(resp[0:2], start)
		binary.BigEndian.PutUint16(resp[2:4], quantity)
		return resp, &mbserver.Success
	})

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.Infow("modbus gateway listening", "addr", c.cfg.Addr)

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

type registerTable int

const (
	inputRegister registerTable = iota
	holdingRegister
)

func (c *Controller) readRegisters(data []byte, table registerTable) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()
	ts, err := c.svc.Thermostats(ctx)
	if err != nil {
		c.log.Warnw("modbus read: fetch thermostats failed", "err", err)
		return []byte{}, &mbserver.GatewayTargetDeviceFailedtoRespond
	}
	serials := c.layout(ts)

	regs := make([]uint16, 0, qty)
	for addr := start; addr < start+qty; addr++ {
		block, offset := addr/RegistersPerThermostat, addr%RegistersPerThermostat
		if block >= len(serials) {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		th, ok := ts[serials[block]]
		if !ok {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		var (
			v     uint16
			valid bool
		)
		if table == inputRegister {
			v, valid = inputRegisterValue(th, offset)
		} else {
			v, valid = holdingRegisterValue(th, offset)
		}
		if !valid {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		regs = append(regs, v)
	}

	// Build response: byte count + register bytes
	byteCount := len(regs) * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp, &mbserver.Success
}

func inputRegisterValue(th schluter.Thermostat, offset int) (uint16, bool) {
	switch offset {
	case irTemperature:
		return encodeTemp(th.Temperature), true
	case irSetPointTemperature:
		return encodeTemp(th.SetPointTemperature), true
	case irMinTemperature:
		return encodeTemp(th.MinTemperature), true
	case irMaxTemperature:
		return encodeTemp(th.MaxTemperature), true
	case irOnline:
		return boolRegister(th.IsOnline), true
	case irHeating:
		return boolRegister(th.IsHeating), true
	case irLoadMeasuredWatt:
		return uint16(min(max(th.LoadMeasuredWatt, 0), math.MaxUint16)), true
	case irRegulationMode:
		return uint16(th.RegulationMode), true
	default:
		return 0, false
	}
}

func holdingRegisterValue(th schluter.Thermostat, offset int) (uint16, bool) {
	switch offset {
	case hrManualTemperature:
		return encodeTemp(th.ManualTemperature), true
	case hrRegulationMode:
		return uint16(th.RegulationMode), true
	default:
		return 0, false
	}
}

// writeRegisters checks every address and value of a write before the first
// cloud call, then applies the registers in order. Each register is its own
// cloud call, so a cloud failure part way leaves the earlier ones applied.
func (c *Controller) writeRegisters(start int, values []uint16) *mbserver.Exception {
	for i, v := range values {
		switch (start + i) % RegistersPerThermostat {
		case hrManualTemperature:
		case hrRegulationMode:
			if !schluter.RegulationMode(v).Valid() {
				return &mbserver.IllegalDataValue
			}
		default:
			return &mbserver.IllegalDataAddress
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()

	serials, exc := c.writeLayout(ctx)
	if exc != nil {
		return exc
	}
	if (start+len(values)-1)/RegistersPerThermostat >= len(serials) {
		return &mbserver.IllegalDataAddress
	}

	for i, v := range values {
		addr := start + i
		serial := serials[addr/RegistersPerThermostat]

		var (
			ok  bool
			err error
		)
		if addr%RegistersPerThermostat == hrManualTemperature {
			// register already holds hundredths; pass them through untouched
			ok, err = c.svc.SetWireTemperature(ctx, serial, int(int16(v)))
		} else {
			ok, err = c.svc.SetRegulationMode(ctx, serial, schluter.RegulationMode(v))
		}
		if err != nil {
			c.log.Warnw("modbus write failed", "serial_number", serial, "addr", addr, "err", err)
			return &mbserver.GatewayTargetDeviceFailedtoRespond
		}
		if !ok {
			return &mbserver.SlaveDeviceFailure
		}
	}
	return &mbserver.Success
}

// writeLayout returns the serial order writes address. With a configured
// layout no fetch is needed.
func (c *Controller) writeLayout(ctx context.Context) ([]string, *mbserver.Exception) {
	if len(c.cfg.Serials) > 0 {
		return c.cfg.Serials, nil
	}
	ts, err := c.svc.Thermostats(ctx)
	if err != nil {
		c.log.Warnw("modbus write: fetch thermostats failed", "err", err)
		return nil, &mbserver.GatewayTargetDeviceFailedtoRespond
	}
	return c.layout(ts), nil
}

func (c *Controller) layout(ts map[string]schluter.Thermostat) []string {
	if len(c.cfg.Serials) > 0 {
		return c.cfg.Serials
	}
	serials := make([]string, 0, len(ts))
	for s := range ts {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	return serials
}

func boolRegister(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*schluter.TemperatureScale)), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}
