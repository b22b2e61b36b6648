package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medsense-ai/medsense/internal/config"
	"github.com/medsense-ai/medsense/internal/engine"
	"github.com/medsense-ai/medsense/internal/models"
)

const maxBodyBytes = 1 << 20

// Server exposes the webhook front ends plus health and metrics endpoints.
// Processing happens asynchronously: the webhook handler acknowledges fast so
// the platforms do not retry slow turns.
type Server struct {
	engine      *engine.Engine
	verifyToken string
	log         logr.Logger
	httpServer  *http.Server
}

// NewServer builds the HTTP server with all routes registered.
func NewServer(cfg config.ServerConfig, whatsApp config.WhatsAppConfig, eng *engine.Engine, registry *prometheus.Registry, log logr.Logger) *Server {
	s := &Server{
		engine:      eng,
		verifyToken: whatsApp.VerifyToken,
		log:         log,
	}

	router := mux.NewRouter()
	router.HandleFunc("/webhook/telegram", s.handleTelegram).Methods(http.MethodPost)
	router.HandleFunc("/webhook", s.handleWhatsAppVerify).Methods(http.MethodGet)
	router.HandleFunc("/webhook", s.handleWhatsApp).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	msg, err := NormalizeTelegram(body, time.Now())
	if err != nil {
		// Malformed events are dropped and logged; no session is touched.
		s.log.V(1).Info("malformed telegram event dropped", "error", err.Error())
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.accept(w, msg)
}

func (s *Server) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	msg, err := NormalizeWhatsApp(body, time.Now())
	if err != nil {
		s.log.V(1).Info("malformed whatsapp event dropped", "error", err.Error())
		// The Cloud API retries non-2xx aggressively; acknowledge and drop.
		w.WriteHeader(http.StatusOK)
		return
	}
	s.accept(w, msg)
}

// accept acknowledges the webhook and hands the message to the engine in the
// background. Responses ride through the dispatcher, not this HTTP exchange.
func (s *Server) accept(w http.ResponseWriter, msg *models.Message) {
	if msg != nil {
		go func(m models.Message) {
			if _, err := s.engine.Process(context.Background(), m); err != nil {
				s.log.Error(err, "message processing failed", "userID", m.UserID)
			}
		}(*msg)
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy"}`)
}
