package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisdm-app/threadsync/pkg/api"
	"github.com/wisdm-app/threadsync/pkg/auth"
	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/config"
	"github.com/wisdm-app/threadsync/pkg/metrics"
)

// session wires the long-lived pieces every command needs
type session struct {
	cfg     config.Config
	logger  *log.Logger
	logFile io.Closer

	state     *client.State
	metrics   *metrics.Metrics
	manager   *client.Manager
	transport *client.WebSocketTransport
	tokens    *auth.StaticTokenSource
	api       *api.Client

	metricsSrv *http.Server
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if token, _ := cmd.Flags().GetString("token"); token != "" {
		cfg.Server.Token = token
	}
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		cfg.Client.LogFile = logFile
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Client.MetricsAddr = addr
	}
	return cfg, nil
}

func newLogger(cfg config.Config, stderr io.Writer) (*log.Logger, io.Closer, error) {
	if cfg.Client.LogFile == "" {
		return log.New(stderr, appName+": ", log.LstdFlags), nil, nil
	}
	path, err := config.ExpandPath(cfg.Client.LogFile)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return log.New(f, "", log.LstdFlags|log.Lmicroseconds), f, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	s.logger, s.logFile, err = newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	statePath, err := cfg.StatePath()
	if err != nil {
		s.close()
		return nil, err
	}
	s.state, err = client.OpenState(statePath)
	if err != nil {
		s.close()
		return nil, err
	}

	s.metrics = metrics.NewMetrics()
	s.tokens = auth.NewStaticTokenSource(cfg.Server.Token)
	if sub := auth.Subject(cfg.Server.Token); sub != "" {
		s.logger.Printf("Using token for %s", sub)
	}

	s.transport, err = client.NewWebSocketTransport(cfg.Server.SocketURL)
	if err != nil {
		s.close()
		return nil, err
	}
	s.transport.SetLogger(s.logger)
	if cfg.Server.Token != "" {
		s.transport.SetHeader("Authorization", "Bearer "+cfg.Server.Token)
	}

	s.manager = client.NewManager(s.transport, cfg.ManagerOptions())
	s.manager.SetLogger(s.logger)
	s.manager.SetMetrics(s.metrics)
	s.manager.OnConnectionStateChange(s.recordConnection)

	s.api, err = api.NewClient(cfg.Server.APIURL, s.tokens)
	if err != nil {
		s.close()
		return nil, err
	}
	s.api.SetLogger(s.logger)

	if cfg.Client.MetricsAddr != "" {
		s.serveMetrics(cfg.Client.MetricsAddr)
	}

	if last, err := s.state.GetLastConnection(cfg.Server.SocketURL); err == nil && !last.IsZero() {
		s.logger.Printf("Last connected to %s at %s", cfg.Server.SocketURL, last.Format(time.RFC3339))
	}
	return s, nil
}

func (s *session) recordConnection(change client.StateChange) {
	switch change.To {
	case client.StateConnected:
		s.logger.Printf("Connected to %s", s.transport.URL())
		if err := s.state.SaveSuccessfulConnection(s.cfg.Server.SocketURL, "websocket"); err != nil {
			s.logger.Printf("Failed to save connection history: %v", err)
		}
	case client.StateFailed:
		s.logger.Printf("Connection failed (attempt %d): %v", change.Attempt, change.Err)
	case client.StateDisconnected:
		if change.Err != nil {
			s.logger.Printf("Disconnected: %v", change.Err)
		}
	}
}

func (s *session) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Metrics server stopped: %v", err)
		}
	}()
	s.logger.Printf("Serving metrics on http://%s/metrics", addr)
}

func (s *session) close() {
	if s.manager != nil {
		s.manager.Close()
	}
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if s.state != nil {
		if err := s.state.Close(); err != nil && s.logger != nil {
			s.logger.Printf("Failed to close state: %v", err)
		}
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}
