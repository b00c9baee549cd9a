// Package server runs the daemon's listeners: the plain TCP IRC listener,
// the IRC-over-WebSocket endpoint, and the admin HTTP surface with health and
// metrics. It also owns the periodic store maintenance job.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/identity"
	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/metrics"
	"github.com/ehabkost/passerd/internal/session"
	"github.com/ehabkost/passerd/internal/twitter"
)

// maintenanceInterval is how often orphaned per-user variables are pruned.
const maintenanceInterval = time.Hour

// Config holds all dependencies of the listener stack.
type Config struct {
	// Addr is the plain TCP IRC listen address.
	Addr string
	// HTTPAddr serves /healthz, /metrics and the /irc WebSocket endpoint.
	HTTPAddr string

	ServerName string
	Version    string
	ProjectURL string

	// APIBaseURL is the root of the remote service's REST API.
	APIBaseURL string

	// ConsumerKey and ConsumerSecret identify this deployment to the remote
	// service for the delegated-authorization handshake. When empty, the
	// setup dialog reports authorization as unavailable.
	ConsumerKey    string
	ConsumerSecret string

	Store    *db.Store
	Identity *identity.Cache
	Metrics  *metrics.Metrics
	Log      *zap.Logger

	// Clock is passed through to the sessions; nil means real time.
	Clock clockwork.Clock
}

// Server accepts client connections and runs one session per connection.
type Server struct {
	cfg Config
	log *zap.Logger

	flowFactory func() *twitter.OAuthFlow
	consumer    *twitter.OAuthFlow

	mu    sync.Mutex
	conns map[irc.LineConn]struct{}
	wg    sync.WaitGroup
}

// New validates the configuration and builds a Server. Run starts it.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Identity == nil || cfg.Log == nil {
		return nil, errors.New("server: store, identity cache and logger are required")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("server: API base URL is required")
	}

	s := &Server{
		cfg:   cfg,
		log:   cfg.Log.Named("server"),
		conns: map[irc.LineConn]struct{}{},
	}

	// One flow config serves request signing for all token clients; fresh
	// flow instances are handed to setup dialogs, since a flow carries the
	// per-handshake request token.
	endpoints := twitter.DefaultOAuthEndpoints(cfg.APIBaseURL)
	s.consumer = twitter.NewOAuthFlow(cfg.ConsumerKey, cfg.ConsumerSecret, endpoints)
	if cfg.ConsumerKey != "" && cfg.ConsumerSecret != "" {
		s.flowFactory = func() *twitter.OAuthFlow {
			return twitter.NewOAuthFlow(cfg.ConsumerKey, cfg.ConsumerSecret, endpoints)
		}
	}

	cfg.Metrics.RegisterUserCount(func() float64 {
		n, err := cfg.Store.CountUsers()
		if err != nil {
			return 0
		}
		return float64(n)
	})
	return s, nil
}

// Run starts the listeners and blocks until ctx is cancelled, then shuts
// everything down: the listeners stop, live connections are closed, and the
// maintenance scheduler drains.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("irc listener started", zap.String("addr", s.cfg.Addr))

	httpSrv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.router(),
	}
	httpErr := make(chan error, 1)
	go func() {
		s.log.Info("admin http listener started", zap.String("addr", s.cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	cron, err := s.startMaintenance()
	if err != nil {
		return err
	}

	go s.acceptLoop(ln)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		runErr = fmt.Errorf("server: admin http listener: %w", err)
	}

	s.log.Info("shutting down")
	ln.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	if err := cron.Shutdown(); err != nil {
		s.log.Warn("maintenance scheduler shutdown", zap.Error(err))
	}

	s.closeConns()
	s.wg.Wait()
	return runErr
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.StartSession(irc.NewLineConn(conn))
	}
}

// StartSession runs one session over an accepted line transport. Exposed so
// the WebSocket handler and tests can feed in their own transports.
func (s *Server) StartSession(conn irc.LineConn) {
	wrapped := countingConn{LineConn: conn, m: s.cfg.Metrics}

	id := uuid.NewString()
	log := s.log.With(zap.String("session_id", id))

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.cfg.Metrics.SessionOpened()

	sess := session.New(session.Config{
		Conn:         wrapped,
		Store:        s.cfg.Store,
		Identity:     s.cfg.Identity,
		Log:          log,
		Clock:        s.cfg.Clock,
		ServerName:   s.cfg.ServerName,
		Version:      s.cfg.Version,
		ProjectURL:   s.cfg.ProjectURL,
		BasicAuthAPI: s.basicAuthAPI,
		TokenAPI:     s.tokenAPI,
		NewOAuthFlow: s.flowFactory,
		OnClose: func() {
			s.cfg.Metrics.SessionClosed()
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run()
	}()
}

func (s *Server) basicAuthAPI(username, password string) twitter.API {
	c := twitter.NewBasicAuthClient(s.cfg.APIBaseURL, username, password)
	c.SetObserver(s.cfg.Metrics.APIResult)
	return c
}

func (s *Server) tokenAPI(token, secret string) twitter.API {
	c := twitter.NewTokenClient(s.cfg.APIBaseURL, s.consumer.ConsumerConfig(), token, secret)
	c.SetObserver(s.cfg.Metrics.APIResult)
	return c
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := make([]irc.LineConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// startMaintenance schedules the periodic store cleanup: per-user variables
// whose account is gone are pruned.
func (s *Server) startMaintenance() (gocron.Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("server: creating maintenance scheduler: %w", err)
	}
	_, err = cron.NewJob(
		gocron.DurationJob(maintenanceInterval),
		gocron.NewTask(func() {
			n, err := s.cfg.Store.PruneOrphanVars()
			if err != nil {
				s.log.Warn("pruning orphaned vars failed", zap.Error(err))
				return
			}
			if n > 0 {
				s.log.Info("pruned orphaned vars", zap.Int64("rows", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("server: scheduling maintenance job: %w", err)
	}
	cron.Start()
	return cron, nil
}
