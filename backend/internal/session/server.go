// Package session serves the binary LOGIN/REGISTER protocol. Each connection
// carries exactly one request and one reply.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/conf"
	"github.com/user/vitrader/backend/internal/protocol"
)

const acceptRetryDelay = 50 * time.Millisecond

type Server struct {
	cfg        conf.Session
	dispatcher *Dispatcher
	pool       *ants.Pool
	logger     *zap.Logger
}

// NewServer sizes the connection pool from cfg.Workers. Submitting to a full
// pool blocks the accept loop.
func NewServer(cfg conf.Session, accts Accounts, logger *zap.Logger) (*Server, error) {
	logger = logger.Named("session")
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		logger.Error("connection handler panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create session pool: %w", err)
	}
	return &Server{
		cfg:        cfg,
		dispatcher: NewDispatcher(accts, logger),
		pool:       pool,
		logger:     logger,
	}, nil
}

// Serve accepts connections until ctx is done or ln is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	s.logger.Info("session listener started", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("session listener stopped")
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(acceptRetryDelay)
			continue
		}

		if err := s.pool.Submit(func() { s.handle(ctx, conn) }); err != nil {
			s.logger.Error("connection rejected", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			_ = conn.Close()
		}
	}
}

// Shutdown waits up to timeout for in-flight connections.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.pool.ReleaseTimeout(timeout)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	logger := s.logger.With(
		zap.String("session_id", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()))
	defer conn.Close()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("session panicked", zap.Any("panic", p))
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		logger.Warn("set read deadline", zap.Error(err))
		return
	}
	cmd, err := protocol.ReadCommand(conn, s.cfg.MaxFieldLength)
	if err != nil {
		logger.Info("request dropped", zap.Error(err))
		return
	}

	res := s.dispatcher.Dispatch(ctx, cmd)

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		logger.Warn("set write deadline", zap.Error(err))
		return
	}
	if err := protocol.WriteResult(conn, res); err != nil {
		logger.Info("reply not delivered", zap.Stringer("command", cmd.Tag()), zap.Error(err))
	}
}
