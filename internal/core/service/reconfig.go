package service

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

var (
	ErrInvalidPort   = errors.New("port should be between 1 and 65535")
	ErrInvalidUnitId = errors.New("unit id should be between 1 and 247")
)

type ServerFactory func() port.ProtocolServer

// ReconfigController owns every write to the server configuration. Each operation leaves
// exactly one listener serving: a failed bind keeps the previous listener running.
type ReconfigController struct {
	mu        sync.Mutex
	sampler   *Sampler
	table     *RegisterTable
	newServer ServerFactory
	server    port.ProtocolServer
	config    domain.ServerConfig
	logger    *zap.Logger
}

func NewReconfigController(sampler *Sampler, table *RegisterTable, factory ServerFactory,
	config domain.ServerConfig, logger *zap.Logger) (*ReconfigController, error) {
	if err := ValidateListener(config.Port, config.UnitId); err != nil {
		return nil, err
	}
	table.SetValidationEnabled(config.ValidationEnabled)
	return &ReconfigController{
		sampler:   sampler,
		table:     table,
		newServer: factory,
		config:    config,
		logger:    logger,
	}, nil
}

func ValidateListener(port int, unitId uint8) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w, got %d", ErrInvalidPort, port)
	}
	if unitId < 1 || unitId > 247 {
		return fmt.Errorf("%w, got %d", ErrInvalidUnitId, unitId)
	}
	return nil
}

func listenAddress(cfg domain.ServerConfig) string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// Start binds the configured listener. Calling it on a running controller is a no-op.
func (c *ReconfigController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return nil
	}
	srv, err := c.bind(c.config)
	if err != nil {
		return err
	}
	c.server = srv
	return nil
}

func (c *ReconfigController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		return
	}
	c.server.Stop()
	c.server = nil
	c.logger.Info("modbus listener stopped", zap.Int("port", c.config.Port))
}

func (c *ReconfigController) bind(cfg domain.ServerConfig) (port.ProtocolServer, error) {
	srv := c.newServer()
	srv.SetUnitId(cfg.UnitId)
	addr := listenAddress(cfg)
	if err := srv.Start(addr); err != nil {
		c.logger.Error("could not bind modbus listener", zap.String("address", addr), zap.Error(err))
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	c.logger.Info("modbus listener started", zap.String("address", addr), zap.Uint8("unit_id", cfg.UnitId))
	return srv, nil
}

// ApplyMapping takes effect from the next sampling cycle. Connections are not touched.
func (c *ReconfigController) ApplyMapping(bindings []domain.ValueBinding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sampler.SetBindings(bindings); err != nil {
		return err
	}
	c.logger.Info("entity mapping updated", zap.Int("bindings", len(bindings)))
	return nil
}

// ApplyListener moves the server to a new port and/or unit id. A port change binds the new
// listener first and only then closes the old one with all its connections. A unit id change
// on the same port is applied in place and is effective from the next request.
func (c *ReconfigController) ApplyListener(port int, unitId uint8) (domain.ServerConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ValidateListener(port, unitId); err != nil {
		return c.config, err
	}
	next := c.config
	next.Port = port
	next.UnitId = unitId

	switch {
	case c.server == nil:
		c.config = next
	case port != c.config.Port:
		srv, err := c.bind(next)
		if err != nil {
			return c.config, err
		}
		c.server.Stop()
		c.logger.Info("previous modbus listener closed", zap.Int("port", c.config.Port))
		c.server = srv
		c.config = next
	case unitId != c.config.UnitId:
		c.server.SetUnitId(unitId)
		c.config = next
		c.logger.Info("modbus unit id changed", zap.Uint8("unit_id", unitId))
	}
	return c.config, nil
}

// SetValidationEnabled is effective for the next request.
func (c *ReconfigController) SetValidationEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.ValidationEnabled = enabled
	c.table.SetValidationEnabled(enabled)
	c.logger.Info("data validation changed", zap.Bool("enabled", enabled))
}

func (c *ReconfigController) RegisterMap() *registermap.Map {
	return c.table.RegisterMap()
}

func (c *ReconfigController) Sampler() *Sampler {
	return c.sampler
}

func (c *ReconfigController) Config() domain.ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

func (c *ReconfigController) Status() domain.Status {
	c.mu.Lock()
	cfg := c.config
	connections := 0
	running := c.server != nil
	if running {
		connections = c.server.ActiveConnections()
	}
	c.mu.Unlock()

	snap := c.table.Snapshot()
	bindings := c.sampler.Bindings()
	valid := c.table.Valid()

	state := domain.STATUS_RUNNING
	if !running {
		state = domain.STATUS_STOPPED
	} else if !valid {
		state = domain.STATUS_INVALID_DATA
	}

	return domain.Status{
		State:             state,
		Version:           versioninfo.Short(),
		RegisterMap:       c.table.RegisterMap().Name(),
		Port:              cfg.Port,
		UnitId:            cfg.UnitId,
		ValidationEnabled: cfg.ValidationEnabled,
		DataValid:         valid,
		Connections:       connections,
		Bindings:          len(bindings),
		ValidEntities:     fmt.Sprintf("%d/%d", snap.ValidCount(), len(snap.Values)),
		Values:            snap.Values,
		LastSample:        snap.Timestamp,
	}
}
