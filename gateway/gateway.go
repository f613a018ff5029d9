// Copyright 2025 Parentheses Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway provides the REST API for the knowledge exchange.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/exchange"
	"github.com/parentheses-network/kex/lineage"
	"github.com/parentheses-network/kex/settlement"
	"github.com/parentheses-network/kex/validator"
)

// GatewayConfig holds configuration for the Gateway
type GatewayConfig struct {
	// ListenAddress is the address the HTTP server binds to.
	// Default: ":3000"
	ListenAddress string
	Logger        *slog.Logger
	Database      *database.Database
	Registry      *artifact.Registry
	Graph         *lineage.Graph
	Pool          *validator.Pool
	Engine        *consensus.Engine
	Exchange      *exchange.Exchange
	Ledger        *settlement.Ledger
}

// Gateway is the REST API server
type Gateway struct {
	config     GatewayConfig
	logger     *slog.Logger
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new Gateway instance
func New(config GatewayConfig) *Gateway {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "gateway")
	if config.ListenAddress == "" {
		config.ListenAddress = ":3000"
	}
	return &Gateway{
		config: config,
		logger: logger,
	}
}

// routes builds the HTTP mux for the API
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", g.handleRoot)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("POST /v0/artifacts", g.handleSubmitArtifact)
	mux.HandleFunc("GET /v0/artifacts", g.handleListArtifacts)
	mux.HandleFunc("GET /v0/artifacts/{id}", g.handleGetArtifact)
	mux.HandleFunc(
		"GET /v0/artifacts/{id}/payload",
		g.handleGetPayload,
	)
	mux.HandleFunc(
		"GET /v0/artifacts/{id}/lineage",
		g.handleGetLineage,
	)
	mux.HandleFunc(
		"GET /v0/artifacts/{id}/rewards",
		g.handleGetRewards,
	)
	mux.HandleFunc(
		"POST /v0/artifacts/{id}/rounds",
		g.handleOpenRound,
	)
	mux.HandleFunc(
		"GET /v0/rounds/{id}/{seq}",
		g.handleGetRound,
	)
	mux.HandleFunc(
		"POST /v0/rounds/{id}/{seq}/votes",
		g.handleSubmitVote,
	)
	mux.HandleFunc(
		"POST /v0/rounds/{id}/{seq}/finalize",
		g.handleFinalizeRound,
	)
	mux.HandleFunc("GET /v0/validators", g.handleListValidators)
	mux.HandleFunc("POST /v0/validators", g.handleRegisterValidator)
	mux.HandleFunc(
		"DELETE /v0/validators/{id}",
		g.handleDeregisterValidator,
	)
	mux.HandleFunc("GET /v0/contributors", g.handleTopContributors)
	mux.HandleFunc("GET /v0/settlements", g.handleListSettlements)
	return mux
}

// Start starts the HTTP server in a background goroutine
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.httpServer != nil {
		g.mu.Unlock()
		return errors.New("server already started")
	}

	server := &http.Server{
		Addr:              g.config.ListenAddress,
		Handler:           g.routes(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	g.httpServer = server
	g.mu.Unlock()

	// Start the server with deterministic error detection
	if err := g.startServer(server); err != nil {
		g.mu.Lock()
		g.httpServer = nil
		g.mu.Unlock()
		return err
	}

	g.logger.Info(
		"API listener started on " + g.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		g.mu.Lock()
		srv := g.httpServer
		g.httpServer = nil
		g.mu.Unlock()

		if srv != nil {
			g.logger.Debug(
				"context cancelled, shutting down API server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(shutdownCtx); err != nil {
				g.logger.Error(
					"failed to shutdown API server on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.mu.Unlock()

	if srv != nil {
		g.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown API server: %w",
				err,
			)
		}
	}
	return nil
}

// startServer starts the HTTP server with deterministic error detection.
// It binds the listening socket first so port conflicts are detected
// immediately, then serves in a background goroutine.
func (g *Gateway) startServer(server *http.Server) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for API server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			g.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	return nil
}
