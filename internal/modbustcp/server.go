package modbustcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/port"
	"go.uber.org/zap"
)

const (
	RESULT_OK               = "ok"
	RESULT_ILLEGAL_FUNCTION = "illegal_function"
	RESULT_ILLEGAL_ADDRESS  = "illegal_address"
	RESULT_ILLEGAL_VALUE    = "illegal_value"
	RESULT_DEVICE_FAILURE   = "device_failure"
	RESULT_UNIT_MISMATCH    = "unit_mismatch"
)

// Observer receives connection and request events, typically to feed metrics.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	RequestServed(functionCode byte, result string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()                 {}
func (nopObserver) ConnectionClosed()                 {}
func (nopObserver) RequestServed(fc byte, res string) {}

type Options struct {
	MaxClients   int
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxClients:   16,
		IdleTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Second,
	}
}

// Server answers register reads for a single unit id on one listener. Every accepted
// connection is served by its own goroutine; requests on a connection are answered in order.
type Server struct {
	source   port.RegisterSource
	opts     Options
	logger   *zap.Logger
	observer Observer
	unitId   atomic.Uint32

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func NewServer(source port.RegisterSource, opts Options, logger *zap.Logger, observer Observer) *Server {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultOptions().MaxClients
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	s := &Server{
		source:   source,
		opts:     opts,
		logger:   logger,
		observer: observer,
		conns:    make(map[net.Conn]struct{}),
	}
	s.unitId.Store(1)
	return s
}

// Start binds the address and serves in the background. A Server is started at most once.
func (s *Server) Start(address string) error {
	if s.closed.Load() {
		return errors.New("modbus server already stopped")
	}
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		l.Close()
		return fmt.Errorf("modbus server already listening on %s", s.listener.Addr())
	}
	s.listener = l
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(l)
	return nil
}

// Stop closes the listener and every open connection and waits for all connection
// goroutines to finish.
func (s *Server) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) SetUnitId(unitId uint8) {
	s.unitId.Store(uint32(unitId))
}

func (s *Server) UnitId() uint8 {
	return uint8(s.unitId.Load())
}

func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("modbus accept error", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		if len(s.conns) >= s.opts.MaxClients {
			s.mu.Unlock()
			s.logger.Warn("modbus max clients reached, rejecting connection",
				zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		s.observer.ConnectionOpened()
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.logger.With(zap.String("remote", remote))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while serving modbus connection", zap.Any("panic", r))
		}
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.observer.ConnectionClosed()
		s.wg.Done()
		logger.Info("modbus client disconnected")
	}()
	logger.Info("modbus client connected")

	for {
		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		h, pdu, err := readFrame(conn)
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				logger.Warn("closing modbus connection", zap.Error(err))
			} else if !errors.Is(err, io.EOF) && !s.closed.Load() {
				logger.Debug("modbus read error", zap.Error(err))
			}
			return
		}

		resp, err := s.handle(h, pdu)
		if err != nil {
			logger.Warn("closing modbus connection", zap.Error(err))
			return
		}

		conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if _, err := conn.Write(encodeFrame(h, resp)); err != nil {
			logger.Debug("modbus write error", zap.Error(err))
			return
		}
	}
}

// handle returns the response pdu, or an error when the frame cannot be answered and the
// connection has to be dropped.
func (s *Server) handle(h mbapHeader, pdu []byte) ([]byte, error) {
	fc := pdu[0]
	isRead := fc == FC_READ_HOLDING_REGISTERS || fc == FC_READ_INPUT_REGISTERS
	if isRead && len(pdu) != 5 {
		return nil, fmt.Errorf("%w: read request of %d bytes", ErrMalformedFrame, len(pdu))
	}

	if h.unitId != s.UnitId() {
		s.logger.Debug("modbus request for another unit", zap.Uint8("unit_id", h.unitId))
		s.observer.RequestServed(fc, RESULT_UNIT_MISMATCH)
		return exceptionPDU(fc, EXCEPTION_GW_TARGET_NO_RESPONSE), nil
	}

	if !isRead {
		s.observer.RequestServed(fc, RESULT_ILLEGAL_FUNCTION)
		return exceptionPDU(fc, EXCEPTION_ILLEGAL_FUNCTION), nil
	}

	address := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	resp, result := s.readRegisters(fc, address, quantity)
	s.logger.Debug("modbus read",
		zap.Uint16("tid", h.transactionId),
		zap.Uint8("fc", fc),
		zap.Uint16("address", address),
		zap.Uint16("quantity", quantity),
		zap.String("result", result))
	s.observer.RequestServed(fc, result)
	return resp, nil
}

func (s *Server) readRegisters(fc byte, address uint16, quantity uint16) ([]byte, string) {
	if quantity == 0 || quantity > MAX_READ_REGISTERS {
		return exceptionPDU(fc, EXCEPTION_ILLEGAL_DATA_VALUE), RESULT_ILLEGAL_VALUE
	}
	if !s.source.Covers(address, quantity) {
		return exceptionPDU(fc, EXCEPTION_ILLEGAL_DATA_ADDRESS), RESULT_ILLEGAL_ADDRESS
	}
	words, ok := s.source.Read(address, quantity)
	if !ok {
		return exceptionPDU(fc, EXCEPTION_SERVER_DEVICE_FAILURE), RESULT_DEVICE_FAILURE
	}
	return registersPDU(fc, words), RESULT_OK
}

var _ port.ProtocolServer = (*Server)(nil)
