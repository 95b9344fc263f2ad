package runtime

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

const defaultWebUIPort = 8081

// registerIntrospection mounts /api/handlers and /metrics on their
// auxiliary ports when enabled.
func (s *Service) registerIntrospection() {
	if s.Conf.MetricsEnabled && s.Conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", s.metricsHandler())
	}
	if !s.Conf.WebUIEnabled {
		return
	}
	port := s.Conf.WebUIPort
	if port == 0 {
		port = defaultWebUIPort
	}
	s.RegisterHTTPHandler(port, "/api/handlers", s.handlersAPI())
}

func (s *Service) metricsHandler() http.Handler {
	if g, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *Service) handlersAPI() http.Handler {
	return s.cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			s.handleGetHandlers(w, r)
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}))
}

// Handlers returns the compiled handlers with their bindings and stats,
// sorted by name.
func (s *Service) Handlers() []*HandlerInfo {
	entries := s.dispatcher.Entries()
	out := make([]*HandlerInfo, 0, len(entries))
	for name, e := range entries {
		info := &HandlerInfo{Name: name, Arity: e.Arity, Stats: s.statsFor(name)}
		for _, tag := range e.Tags() {
			b := e.Bindings[tag]
			info.Bindings = append(info.Bindings, BindingInfo{
				Tag:         string(tag),
				Target:      b.Target,
				Description: b.Description,
				Disabled:    b.Disabled,
				Middleware:  b.Middleware,
				HasSchema:   b.Schema != nil,
			})
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, _ *http.Request) {
	body, err := jsoncodec.Marshal(s.Handlers())
	if err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Service) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) allowedOrigin(origin string) string {
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}
