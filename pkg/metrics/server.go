/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes /metrics and /health on its own listener, separate from the
// Event Trigger's ingress router so a scrape never competes with pipeline
// request handling.
type Server struct {
	server *http.Server
	log    *logrus.Entry
}

// NewServer builds a Server bound to addr (host:port or just a port).
func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    logger.WithField("component", "metrics-server"),
	}
}

// StartAsync starts serving in the background. Bind errors are logged, not
// returned: the metrics surface is best-effort and must never block
// pipeline startup.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
