package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	gorillaws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	ws "github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/websocket"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/dashboard"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/game"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/market"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/rewards"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

// Deps are the services behind the HTTP surface. Rewards, JWT and Hub are
// optional.
type Deps struct {
	Paywall   *payment.Gate
	Game      *game.Service
	Rewards   *rewards.Service
	Market    *market.Service
	Dashboard *dashboard.Service
	JWT       *middleware.JWTManager
	Hub       *ws.Hub
}

// Server is the arcade's HTTP API
type Server struct {
	deps           Deps
	config         *utils.ConfigManager
	logger         utils.Logger
	wsLogger       *logrus.Logger
	wsUpgrader     gorillaws.Upgrader
	allowedOrigins []string
	clock          utils.Clock

	server   *http.Server
	listener net.Listener
	port     string
}

func NewServer(config *utils.ConfigManager, logger utils.Logger, wsLogger *logrus.Logger, deps Deps) *Server {
	origins := config.GetConfigSlice("cors_allowed_origins", []string{"*"})

	s := &Server{
		deps:           deps,
		config:         config,
		logger:         logger,
		wsLogger:       wsLogger,
		allowedOrigins: origins,
		clock:          utils.RealClock{},
	}
	s.wsUpgrader = gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.bindEvents()
	return s
}

// Routes builds the router. Tests serve it through httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.allowedOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Paywall
		r.Get("/play", s.handlePlay)
		r.Post("/verify-payment", s.handleVerifyPayment)

		// Game
		r.Get("/stats/{address}", s.handleUserStats)
		r.Post("/score", s.handleScore)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Post("/claim-reward", s.handleClaimReward)

		// Market
		r.Route("/market", func(r chi.Router) {
			r.Get("/cryptos", s.handleMarketCryptos)
			r.Get("/price/{crypto}", s.handleMarketPrice)
			r.Post("/guess", s.handleSubmitGuess)
			r.Get("/guess/{id}", s.handleGetGuess)
			r.Delete("/guess/{id}", s.handleCancelGuess)
			r.Get("/stats/{address}", s.handleMarketStats)
			r.Get("/leaderboard", s.handleMarketLeaderboard)
		})

		// Agent dashboard
		r.Get("/agent/stats", s.handleAgentStats)
		r.Group(func(r chi.Router) {
			if s.deps.JWT != nil {
				r.Use(s.deps.JWT.AuthMiddleware)
			}
			r.Post("/agent/payments", s.handleAgentPayment)
			r.Put("/agent/config", s.handleAgentConfig)
		})

		if s.deps.Hub != nil {
			r.Get("/ws", s.handleWebSocket)
		}
	})

	return r
}

// Start binds the first free port among api_port and api_fallback_ports and
// serves in the background.
func (s *Server) Start() error {
	apiPort := s.config.GetConfigWithDefault("api_port", "5000")
	fallbackPorts := parsePortList(s.config.GetConfigWithDefault("api_fallback_ports", ""))
	ports := append([]string{apiPort}, fallbackPorts...)

	var err error
	for _, port := range ports {
		s.listener, err = net.Listen("tcp", fmt.Sprintf(":%s", port))
		if err == nil {
			s.port = port
			break
		}
		s.logger.Warn(fmt.Sprintf("Port %s unavailable: %v", port, err), "api")
	}
	if s.listener == nil {
		return fmt.Errorf("failed to bind API server to any port: %v", err)
	}

	scheme := "http"
	if s.config.GetConfigBool("api_tls_enabled", false) {
		dir := s.config.GetConfigWithDefault("api_tls_dir", filepath.Join(utils.GetAppPaths("").DataDir, "tls"))
		cert, created, err := loadOrCreateCertificate(dir, s.clock.Now())
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to load API certificate: %v", err)
		}
		if created {
			s.logger.Info(fmt.Sprintf("Generated self-signed API certificate in %s", dir), "api")
		}
		s.listener = tls.NewListener(s.listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		scheme = "https"
	}

	s.server = &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf("API server error: %v", err), "api")
		}
	}()

	s.logger.Info(fmt.Sprintf("Gasless Arcade API listening on %s://localhost:%s", scheme, s.port), "api")
	return nil
}

// Stop gracefully shuts down the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping API server", "api")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Port returns the port the server is listening on
func (s *Server) Port() string {
	return s.port
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.allowedOrigins {
		if o == "*" || strings.TrimRight(o, "/") == origin {
			return true
		}
	}
	return false
}

// parsePortList parses a comma-separated list of ports
func parsePortList(portList string) []string {
	if portList == "" {
		return []string{}
	}
	ports := strings.Split(portList, ",")
	result := make([]string, 0, len(ports))
	for _, port := range ports {
		port = strings.TrimSpace(port)
		if port != "" {
			result = append(result, port)
		}
	}
	return result
}
