package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/dtsu666emu/internal/config"
	"github.com/berfenger/dtsu666emu/internal/provider"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port           uint
	httpLog        bool
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	metricsHandler http.Handler
	static         *provider.Static
}

// New builds the admin API. metricsHandler and static may be nil.
func New(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID,
	metricsHandler http.Handler, static *provider.Static) *Server {
	return &Server{
		port:           cfg.Port,
		rootContext:    rootContext,
		masterActor:    masterActor,
		httpLog:        cfg.HttpLog,
		metricsHandler: metricsHandler,
		static:         static,
	}
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID,
	metricsHandler http.Handler, static *provider.Static) *http.Server {
	NewServer := New(cfg, rootContext, masterActor, metricsHandler, static)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
