package modbusctrl

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/ditraheat/internal/testutil"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

// startGateway runs a controller for svc and returns a connected client.
// svc must be fully configured before the call.
func startGateway(t *testing.T, svc *testutil.FakeThermostatService, cfg Config) modbus.Client {
	t.Helper()
	cfg.Addr = findFreeTCPAddr(t)

	ctrl, err := New(svc, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()

	handler := modbus.NewTCPClientHandler(cfg.Addr)
	handler.Timeout = 2 * time.Second
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err = handler.Connect(); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client connect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler)
}

func registers(t *testing.T, res []byte, n int) []uint16 {
	t.Helper()
	if len(res) != n*2 {
		t.Fatalf("expected %d bytes got %d", n*2, len(res))
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(res[i*2 : i*2+2])
	}
	return out
}

func assertException(t *testing.T, err error, code byte) {
	t.Helper()
	var mbErr *modbus.ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("expected modbus exception %d, got %v", code, err)
	}
	if mbErr.ExceptionCode != code {
		t.Fatalf("expected exception code %d, got %d", code, mbErr.ExceptionCode)
	}
}

func TestReadInputRegisters_SortedLayout(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{})

	res, err := client.ReadInputRegisters(0, 2*RegistersPerThermostat)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	got := registers(t, res, 2*RegistersPerThermostat)

	want := []uint16{
		// 1084135 Bathroom
		2250, 2200, 500, 4000, 1, 0, 480, uint16(schluter.RegulationModeSchedule),
		// 2001337 Kitchen
		1950, 2100, 500, 4000, 1, 1, 650, uint16(schluter.RegulationModeManual),
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("register %d: expected %d got %d (all=%v)", i, want[i], got[i], got)
		}
	}
}

func TestReadHoldingRegisters(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{})

	res, err := client.ReadHoldingRegisters(RegistersPerThermostat, 2)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	got := registers(t, res, 2)
	if got[0] != encodeTemp(21) || got[1] != uint16(schluter.RegulationModeManual) {
		t.Fatalf("unexpected holding registers %v", got)
	}

	// only two holding registers per block
	_, err = client.ReadHoldingRegisters(0, 3)
	assertException(t, err, modbus.ExceptionCodeIllegalDataAddress)
}

func TestReadBeyondLastBlock(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{})

	_, err := client.ReadInputRegisters(2*RegistersPerThermostat, 1)
	assertException(t, err, modbus.ExceptionCodeIllegalDataAddress)
}

func TestConfiguredLayout(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{Serials: []string{"2001337", "1084135"}})

	res, err := client.ReadInputRegisters(0, 1)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if got := registers(t, res, 1)[0]; got != 1950 {
		t.Fatalf("expected block 0 to be the kitchen thermostat, got temperature %d", got)
	}
}

func TestConfiguredLayout_MissingThermostat(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{Serials: []string{"9999999"}})

	_, err := client.ReadInputRegisters(0, 1)
	assertException(t, err, modbus.ExceptionCodeIllegalDataAddress)
}

func TestWriteSingleRegister_ManualTemperature(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	if _, err := client.WriteSingleRegister(0, encodeTemp(23.5)); err != nil {
		t.Fatalf("write register: %v", err)
	}
	serial, wire, called := svc.LastSetWireTemperature()
	if !called || serial != "1084135" || wire != 2350 {
		t.Fatalf("expected SetWireTemperature(1084135, 2350), got called=%v serial=%q wire=%v", called, serial, wire)
	}

	// the next read sees the new state
	res, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	got := registers(t, res, 2)
	if got[0] != 2350 || got[1] != uint16(schluter.RegulationModeManual) {
		t.Fatalf("unexpected holding registers after write %v", got)
	}
}

func TestWriteMultipleRegisters(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], encodeTemp(20))
	binary.BigEndian.PutUint16(payload[2:4], uint16(schluter.RegulationModeAway))
	if _, err := client.WriteMultipleRegisters(RegistersPerThermostat, 2, payload); err != nil {
		t.Fatalf("write registers: %v", err)
	}

	if serial, wire, called := svc.LastSetWireTemperature(); !called || serial != "2001337" || wire != 2000 {
		t.Fatalf("expected SetWireTemperature(2001337, 2000), got called=%v serial=%q wire=%v", called, serial, wire)
	}
	if serial, m, called := svc.LastSetRegulationMode(); !called || serial != "2001337" || m != schluter.RegulationModeAway {
		t.Fatalf("expected SetRegulationMode(2001337, away), got called=%v serial=%q mode=%v", called, serial, m)
	}
}

func TestWriteManualTemperature_HundredthsPassThrough(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	// values whose float degrees fall just below the integer when scaled back
	for _, raw := range []uint16{502, 506, 803, 2229, uint16(0xFFFF - 150 + 1)} {
		if _, err := client.WriteSingleRegister(0, raw); err != nil {
			t.Fatalf("write register %d: %v", raw, err)
		}
		want := int(int16(raw))
		if _, wire, _ := svc.LastSetWireTemperature(); wire != want {
			t.Fatalf("register %d: expected wire value %d, got %d", raw, want, wire)
		}
	}
}

func TestWriteMultipleRegisters_InvalidModeAppliesNothing(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], encodeTemp(20))
	binary.BigEndian.PutUint16(payload[2:4], 9)
	_, err := client.WriteMultipleRegisters(0, 2, payload)
	assertException(t, err, modbus.ExceptionCodeIllegalDataValue)

	if _, _, called := svc.LastSetWireTemperature(); called {
		t.Fatal("expected no temperature write when a later register is invalid")
	}
}

func TestWriteMultipleRegisters_ReadOnlyOffsetAppliesNothing(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload[0:2], encodeTemp(20))
	binary.BigEndian.PutUint16(payload[2:4], uint16(schluter.RegulationModeAway))
	binary.BigEndian.PutUint16(payload[4:6], 1)
	_, err := client.WriteMultipleRegisters(0, 3, payload)
	assertException(t, err, modbus.ExceptionCodeIllegalDataAddress)

	if _, _, called := svc.LastSetWireTemperature(); called {
		t.Fatal("expected no temperature write")
	}
	if _, _, called := svc.LastSetRegulationMode(); called {
		t.Fatal("expected no regulation mode write")
	}
}

func TestWriteBeyondLastBlockAppliesNothing(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	_, err := client.WriteSingleRegister(2*RegistersPerThermostat, encodeTemp(20))
	assertException(t, err, modbus.ExceptionCodeIllegalDataAddress)
	if _, _, called := svc.LastSetWireTemperature(); called {
		t.Fatal("expected no temperature write")
	}
}

func TestWriteRegulationMode_InvalidValue(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	client := startGateway(t, svc, Config{})

	_, err := client.WriteSingleRegister(1, 7)
	assertException(t, err, modbus.ExceptionCodeIllegalDataValue)
	if _, _, called := svc.LastSetRegulationMode(); called {
		t.Fatal("expected SetRegulationMode not called")
	}
}

func TestWriteReadOnlyOffset(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{})

	_, err := client.WriteSingleRegister(4, 1)
	assertException(t, err, modbus.ExceptionCodeIllegalDataAddress)
}

func TestWriteRejectedByCloud(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	svc.SetTemperatureOK = false
	client := startGateway(t, svc, Config{})

	_, err := client.WriteSingleRegister(0, encodeTemp(55))
	assertException(t, err, modbus.ExceptionCodeServerDeviceFailure)
}

func TestUpstreamFailure(t *testing.T) {
	svc := testutil.NewFakeThermostatService()
	svc.FetchErr = schluter.ErrInvalidSessionID
	client := startGateway(t, svc, Config{})

	_, err := client.ReadInputRegisters(0, 1)
	assertException(t, err, modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond)
}

func TestCoilsNotMapped(t *testing.T) {
	client := startGateway(t, testutil.NewFakeThermostatService(), Config{})

	_, err := client.ReadCoils(0, 1)
	assertException(t, err, modbus.ExceptionCodeIllegalFunction)
}

func TestNewRejectsDuplicateSerials(t *testing.T) {
	if _, err := New(testutil.NewFakeThermostatService(), Config{Serials: []string{"1", "1"}}, nil); err == nil {
		t.Fatal("expected error for duplicate serial")
	}
	if _, err := New(testutil.NewFakeThermostatService(), Config{Serials: []string{""}}, nil); err == nil {
		t.Fatal("expected error for empty serial")
	}
}

func TestEncodeTemp(t *testing.T) {
	cases := []struct {
		in   float64
		want uint16
	}{
		{22.5, 2250},
		{-5, uint16(0xFFFF - 500 + 1)},
		{1000, 0x7FFF},
	}
	for _, c := range cases {
		if got := encodeTemp(c.in); got != c.want {
			t.Fatalf("encodeTemp(%v): expected %d got %d", c.in, c.want, got)
		}
	}
}
