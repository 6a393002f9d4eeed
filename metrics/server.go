package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultReadTimeout  = 30
	DefaultWriteTimeout = 30
	DefaultHost         = "localhost"
	DefaultPort         = 2201
	DefaultEndpoint     = "/metrics"
)

type Config struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host" default:"localhost"`
	Port         int    `json:"port" default:"2201"`
	Endpoint     string `json:"endpoint" default:"/metrics"`
	ReadTimeout  int    `json:"readTimeout" default:"30"`
	WriteTimeout int    `json:"writeTimeout" default:"30"`
}

type Server struct {
	server *http.Server
}

func NewConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		Endpoint:     DefaultEndpoint,
	}
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Port)
	}
	if c.Endpoint == "" || c.Endpoint[0] != '/' {
		return fmt.Errorf("invalid metrics endpoint: %q", c.Endpoint)
	}
	return nil
}

// NewServer creates a metrics server exposing gatherer on cfg.Endpoint
//
// Example usage:
//
//	m := metrics.New("")
//	registry, _ := m.NewRegistry()
//	server, err := metrics.NewServer(metrics.NewConfig(), registry)
//	if err != nil {
//	    // handle error
//	}
//	defer server.Shutdown(context.Background())
//	err = server.Start()
func NewServer(cfg *Config, gatherer prometheus.Gatherer) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	router := http.NewServeMux()
	router.Handle(cfg.Endpoint, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		},
	}, nil
}

// Handler returns the underlying http handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens for incoming connections; it returns nil after Shutdown
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
