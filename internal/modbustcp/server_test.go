package modbustcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/internal/core/service"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	gmodbus "github.com/goburrow/modbus"
	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type states struct {
	mu     sync.Mutex
	values map[string]domain.RawState
}

func (s *states) set(ref string, raw domain.RawState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ref] = raw
}

func (s *states) provider() port.ValueProvider {
	return port.ValueProviderFunc(func(ctx context.Context, ref string) (domain.RawState, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.values[ref], nil
	})
}

type emulator struct {
	table   *service.RegisterTable
	sampler *service.Sampler
	states  *states
}

func newEmulator(t *testing.T, bindings ...domain.ValueBinding) *emulator {
	table := service.NewRegisterTable(registermap.DTSU666, true)
	st := &states{values: map[string]domain.RawState{}}
	sampler := service.NewSampler(table, st.provider(), 100*time.Millisecond, zap.NewNop())
	require.NoError(t, sampler.SetBindings(bindings))
	return &emulator{table: table, sampler: sampler, states: st}
}

func (e *emulator) sample() {
	e.sampler.SampleOnce(context.Background())
}

func startServer(t *testing.T, source port.RegisterSource) *Server {
	srv := NewServer(source, DefaultOptions(), zap.NewNop(), nil)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(srv.Stop)
	return srv
}

func newClient(t *testing.T, addr string, unitId uint8) *modbus.ModbusClient {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", addr),
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, client.SetUnitId(unitId))
	require.NoError(t, client.Open())
	t.Cleanup(func() { client.Close() })
	return client
}

func readRequest(tid uint16, unitId byte, fc byte, address uint16, quantity uint16) []byte {
	frame := make([]byte, 12)
	binary.BigEndian.PutUint16(frame[0:], tid)
	binary.BigEndian.PutUint16(frame[4:], 6)
	frame[6] = unitId
	frame[7] = fc
	binary.BigEndian.PutUint16(frame[8:], address)
	binary.BigEndian.PutUint16(frame[10:], quantity)
	return frame
}

func roundTrip(t *testing.T, conn net.Conn, request []byte) (mbapHeader, []byte) {
	conn.SetDeadline(time.Now().Add(time.Second))
	_, err := conn.Write(request)
	require.NoError(t, err)
	h, pdu, err := readFrame(conn)
	require.NoError(t, err)
	return h, pdu
}

// expectClosed fails unless the peer closes conn without sending anything. A reset is
// fine: the server may drop unread bytes when it gives up on a frame.
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	b, err := io.ReadAll(conn)
	require.Empty(t, b)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(t, netErr.Timeout(), "connection was left open")
	}
}

func TestEndToEndValidityGate(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t, domain.ValueBinding{Name: registermap.FIELD_VOLTAGE_L1, Reference: "voltage"})
	emu.states.set("voltage", "230.1")
	emu.sample()

	srv := startServer(t, emu.table)
	client := newClient(t, srv.Addr().String(), 1)

	v, err := client.ReadRegister(0x2006, modbus.HOLDING_REGISTER)
	require.NoError(err)
	require.Equal(uint16(2301), v)

	emu.states.set("voltage", "unavailable")
	emu.sample()
	_, err = client.ReadRegister(0x2006, modbus.HOLDING_REGISTER)
	require.ErrorIs(err, modbus.ErrServerDeviceFailure)

	emu.states.set("voltage", "229.8")
	emu.sample()
	v, err = client.ReadRegister(0x2006, modbus.HOLDING_REGISTER)
	require.NoError(err)
	require.Equal(uint16(2298), v)
	require.Equal(1, srv.ActiveConnections())
}

func TestReadsMultiWordFieldsAndInputRegisters(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t,
		domain.ValueBinding{Name: registermap.FIELD_ENERGY_IMPORT, Reference: "import"},
		domain.ValueBinding{Name: registermap.FIELD_ENERGY_EXPORT, Reference: "export"},
	)
	emu.states.set("import", 2770)
	emu.states.set("export", "70000")
	emu.sample()

	srv := startServer(t, emu.table)
	client := newClient(t, srv.Addr().String(), 1)

	v, err := client.ReadUint32(0x401E, modbus.HOLDING_REGISTER)
	require.NoError(err)
	require.Equal(uint32(2770), v)

	words, err := client.ReadRegisters(0x4028, 2, modbus.INPUT_REGISTER)
	require.NoError(err)
	require.Equal([]uint16{0x0001, 0x1170}, words)
}

func TestIllegalAddressKeepsConnectionOpen(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t)
	emu.sample()
	srv := startServer(t, emu.table)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	defer conn.Close()

	h, pdu := roundTrip(t, conn, readRequest(7, 1, FC_READ_HOLDING_REGISTERS, 0x2006, 2))
	require.Equal(uint16(7), h.transactionId)
	require.Equal([]byte{0x83, EXCEPTION_ILLEGAL_DATA_ADDRESS}, pdu)

	h, pdu = roundTrip(t, conn, readRequest(8, 1, FC_READ_HOLDING_REGISTERS, 0x0000, 1))
	require.Equal(uint16(8), h.transactionId)
	require.Equal([]byte{0x83, EXCEPTION_ILLEGAL_DATA_ADDRESS}, pdu)

	h, pdu = roundTrip(t, conn, readRequest(9, 1, FC_READ_HOLDING_REGISTERS, 0x2044, 1))
	require.Equal(uint16(9), h.transactionId)
	require.Equal(byte(1), h.unitId)
	require.Equal([]byte{FC_READ_HOLDING_REGISTERS, 2, 0x13, 0x88}, pdu)
}

func TestExceptionResponses(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t)
	emu.sample()
	srv := startServer(t, emu.table)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	defer conn.Close()

	_, pdu := roundTrip(t, conn, readRequest(1, 1, 0x06, 0x2006, 1))
	require.Equal([]byte{0x86, EXCEPTION_ILLEGAL_FUNCTION}, pdu)

	_, pdu = roundTrip(t, conn, readRequest(2, 1, FC_READ_INPUT_REGISTERS, 0x2006, 0))
	require.Equal([]byte{0x84, EXCEPTION_ILLEGAL_DATA_VALUE}, pdu)

	_, pdu = roundTrip(t, conn, readRequest(3, 1, FC_READ_HOLDING_REGISTERS, 0x2006, 126))
	require.Equal([]byte{0x83, EXCEPTION_ILLEGAL_DATA_VALUE}, pdu)

	h, pdu := roundTrip(t, conn, readRequest(4, 5, FC_READ_HOLDING_REGISTERS, 0x2006, 1))
	require.Equal(byte(5), h.unitId)
	require.Equal([]byte{0x83, EXCEPTION_GW_TARGET_NO_RESPONSE}, pdu)
}

func TestWireCompatibilityWithIndependentClient(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t,
		domain.ValueBinding{Name: registermap.FIELD_FREQUENCY, Reference: "f"},
		domain.ValueBinding{Name: registermap.FIELD_ACTIVE_POWER_TOTAL, Reference: "p"},
	)
	emu.states.set("f", "49.98")
	emu.states.set("p", -1250.0)
	emu.sample()
	srv := startServer(t, emu.table)
	srv.SetUnitId(11)

	handler := gmodbus.NewTCPClientHandler(srv.Addr().String())
	handler.SlaveId = 11
	handler.Timeout = time.Second
	require.NoError(handler.Connect())
	defer handler.Close()
	client := gmodbus.NewClient(handler)

	data, err := client.ReadHoldingRegisters(0x2044, 1)
	require.NoError(err)
	require.Equal([]byte{0x13, 0x86}, data)

	data, err = client.ReadInputRegisters(0x2012, 1)
	require.NoError(err)
	require.Equal(int16(-12500), int16(binary.BigEndian.Uint16(data)))

	_, err = client.ReadHoldingRegisters(0x2045, 1)
	var mbErr *gmodbus.ModbusError
	require.True(errors.As(err, &mbErr))
	require.Equal(byte(gmodbus.ExceptionCodeIllegalDataAddress), mbErr.ExceptionCode)

	handler.SlaveId = 1
	_, err = client.ReadHoldingRegisters(0x2044, 1)
	require.True(errors.As(err, &mbErr))
	require.Equal(byte(gmodbus.ExceptionCodeGatewayTargetDeviceFailedToRespond), mbErr.ExceptionCode)
}

func TestMalformedFramesCloseConnection(t *testing.T) {
	emu := newEmulator(t)
	emu.sample()
	srv := startServer(t, emu.table)

	frames := map[string][]byte{
		"protocol id": {0, 1, 0, 1, 0, 6, 1, 3, 0x20, 0x06, 0, 1},
		"zero length": {0, 1, 0, 0, 0, 0, 1},
		"short read":  {0, 1, 0, 0, 0, 4, 1, 3, 0x20, 0x06},
		"long read":   {0, 1, 0, 0, 0, 8, 1, 3, 0x20, 0x06, 0, 1, 0, 0},
		// shape is checked before the unit id
		"short read for other unit":      {0, 1, 0, 0, 0, 4, 9, 3, 0x20, 0x06},
		"long input read for other unit": {0, 1, 0, 0, 0, 7, 9, 4, 0x20, 0x06, 0, 1, 0},
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			conn, err := net.Dial("tcp", srv.Addr().String())
			require.NoError(t, err)
			defer conn.Close()
			_, err = conn.Write(frame)
			require.NoError(t, err)
			expectClosed(t, conn)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		conn.Write([]byte{0, 1, 0, 0, 0, 6, 1, 3, 0x20})
		conn.(*net.TCPConn).CloseWrite()
		expectClosed(t, conn)
		conn.Close()
	})

	require.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSlowClientDoesNotBlockOthers(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t)
	emu.sample()
	srv := startServer(t, emu.table)

	stuck, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	defer stuck.Close()
	// half a header, never completed
	_, err = stuck.Write([]byte{0, 1, 0})
	require.NoError(err)

	client := newClient(t, srv.Addr().String(), 1)
	for i := 0; i < 10; i++ {
		_, err := client.ReadRegister(0x2006, modbus.HOLDING_REGISTER)
		require.NoError(err)
	}
	require.Equal(2, srv.ActiveConnections())
}

func TestPipelinedRequestsAnsweredInOrder(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t)
	emu.sample()
	srv := startServer(t, emu.table)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	defer conn.Close()

	var batch []byte
	for tid := uint16(1); tid <= 20; tid++ {
		addr := uint16(0x2006)
		if tid%3 == 0 {
			addr = 0x3000
		}
		batch = append(batch, readRequest(tid, 1, FC_READ_HOLDING_REGISTERS, addr, 1)...)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write(batch)
	require.NoError(err)
	for tid := uint16(1); tid <= 20; tid++ {
		h, _, err := readFrame(conn)
		require.NoError(err)
		require.Equal(tid, h.transactionId)
	}
}

func TestMaxClients(t *testing.T) {
	require := require.New(t)

	emu := newEmulator(t)
	opts := DefaultOptions()
	opts.MaxClients = 1
	srv := NewServer(emu.table, opts, zap.NewNop(), nil)
	require.NoError(srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	first := newClient(t, srv.Addr().String(), 1)
	require.Eventually(func() bool { return srv.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	defer second.Close()
	expectClosed(t, second)

	emu.sample()
	_, err = first.ReadRegister(0x2006, modbus.HOLDING_REGISTER)
	require.NoError(err)
}

func TestStopClosesConnections(t *testing.T) {
	assert := assert.New(t)

	emu := newEmulator(t)
	emu.sample()
	srv := NewServer(emu.table, DefaultOptions(), zap.NewNop(), nil)
	assert.NoError(srv.Start("127.0.0.1:0"))
	addr := srv.Addr().String()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(err)
	defer conn.Close()
	assert.Eventually(func() bool { return srv.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	srv.Stop()
	srv.Stop()
	assert.Equal(0, srv.ActiveConnections())

	expectClosed(t, conn)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(err)
	assert.Error(srv.Start(addr))
}
