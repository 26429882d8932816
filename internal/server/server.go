package server

import (
	"errors"
	"fmt"
	"net"

	"goredis/internal/handler"
	"goredis/internal/logging"
	"goredis/internal/replication"
)

var log = logging.For("server")

// Server owns the listening socket and the coordinator. One goroutine
// per accepted connection runs a handler.Handler against the shared
// coordinator.
type Server struct {
	cfg         Config
	coordinator *replication.Coordinator
	listener    net.Listener
}

// New constructs a Server. The coordinator must already be running
// (its Run loop started) by the time connections are accepted.
func New(cfg Config, coordinator *replication.Coordinator) *Server {
	return &Server{
		cfg:         cfg,
		coordinator: coordinator,
	}
}

// ListenAndServe binds the configured host:port and accepts connections
// until the listener is closed. It returns the bind error, if any.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln

	log.WithField("addr", addr).Info("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// Shutdown closes the listening socket, ending the accept loop. Already
// accepted connections finish on their own.
func (s *Server) Shutdown() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	info := handler.Info{
		Role:       s.role(),
		Dir:        s.cfg.Dir,
		DBFilename: s.cfg.DBFilename,
	}
	h := handler.New(conn, s.coordinator, info)
	h.Serve()
}

func (s *Server) role() string {
	if s.cfg.IsReplica() {
		return "slave"
	}
	return "master"
}
