package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pcraw4d/scout/internal/observability"
	"github.com/pcraw4d/scout/internal/store"
)

// Server is the read-only JSON status surface: GET /studies/{id} and
// GET /studies/{id}/trials, bearer-token gated and rate-limited per
// remote address.
type Server struct {
	store   store.Store
	secret  string
	logger  *observability.Logger
	limiter *addrLimiter
	router  *mux.Router
}

// NewServer builds a dashboard Server. secret signs and verifies bearer
// tokens; callers must have already run Gate against the owning config.
func NewServer(st store.Store, secret string, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.Nop()
	}
	s := &Server{
		store:   st,
		secret:  secret,
		logger:  logger,
		limiter: newAddrLimiter(5, 10, 4096),
	}
	r := mux.NewRouter()
	r.Use(s.rateLimit)
	r.Use(s.authenticate)
	r.HandleFunc("/studies/{id}", s.handleStudy).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/trials", s.handleTrials).Methods(http.MethodGet)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// IssueToken signs a short-lived bearer token for a dashboard client.
func (s *Server) IssueToken(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "scout-dashboard",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.secret), nil
		})
		if err != nil {
			s.logger.Warn("dashboard: rejected token", zap.Error(err))
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.allow(host) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.store.GetStudy(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trials, err := s.store.ListTrials(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, trials)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if isNotFound(err) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// addrLimiter is a bounded, mutex-guarded map of per-remote-address
// rate.Limiters, evicting the least-recently-seen entry once maxKeys is
// reached.
type addrLimiter struct {
	rps     rate.Limit
	burst   int
	maxKeys int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	seen     map[string]time.Time
}

func newAddrLimiter(rps float64, burst, maxKeys int) *addrLimiter {
	return &addrLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		maxKeys:  maxKeys,
		limiters: make(map[string]*rate.Limiter),
		seen:     make(map[string]time.Time),
	}
}

func (a *addrLimiter) allow(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.limiters[key]
	if !ok {
		if len(a.limiters) >= a.maxKeys {
			a.evictOldest()
		}
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[key] = l
	}
	a.seen[key] = time.Now()
	return l.Allow()
}

func (a *addrLimiter) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, t := range a.seen {
		if oldestKey == "" || t.Before(oldestAt) {
			oldestKey, oldestAt = k, t
		}
	}
	if oldestKey != "" {
		delete(a.limiters, oldestKey)
		delete(a.seen, oldestKey)
	}
}
