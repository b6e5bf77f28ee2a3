package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"smartstock/internal/logging"
	"smartstock/internal/models"
	"smartstock/internal/stream"
)

type healthResponse struct {
	Status               string             `json:"status"`
	CacheBackend         string             `json:"cache_backend"`
	AlertRules           []models.AlertRule `json:"alert_rules"`
	WebexEnabled         bool               `json:"webex_enabled"`
	NotificationsEnabled bool               `json:"notifications_enabled"`
	Subscribers          int                `json:"subscribers"`
}

// ruleRequest is the body of POST /alerts/rules.
type ruleRequest struct {
	Symbol          string   `json:"symbol"`
	Operator        string   `json:"operator"`
	Threshold       *float64 `json:"threshold"`
	Description     string   `json:"description"`
	Enabled         *bool    `json:"enabled"`
	CooldownSeconds *float64 `json:"cooldown_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		AlertRules:   s.deps.Rules.ListRules(),
		WebexEnabled: s.deps.WebexEnabled,
		Subscribers:  s.deps.Hub.Count(),
	}
	if s.deps.CacheBackend != nil {
		resp.CacheBackend = s.deps.CacheBackend()
	}
	if s.deps.Notifier != nil {
		resp.NotificationsEnabled = s.deps.Notifier.Enabled()
	}

	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Merge extra status fields without letting them shadow the base ones.
	body := s.deps.Status(r.Context())
	if body == nil {
		body = make(map[string]interface{})
	}
	raw, _ := json.Marshal(resp)
	var base map[string]interface{}
	_ = json.Unmarshal(raw, &base)
	for k, v := range base {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Rules.ListRules())
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbol is required"})
		return
	}
	if req.Threshold == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "threshold is required"})
		return
	}
	if req.CooldownSeconds != nil && *req.CooldownSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cooldown_seconds must not be negative"})
		return
	}

	var opts []stream.RuleOption
	if req.Enabled != nil {
		opts = append(opts, stream.WithEnabled(*req.Enabled))
	}
	if req.CooldownSeconds != nil {
		opts = append(opts, stream.WithCooldown(time.Duration(*req.CooldownSeconds*float64(time.Second))))
	}

	// Unknown operators are stored as given and never fire.
	op := models.Operator(strings.TrimSpace(req.Operator))
	if !op.Valid() {
		s.logger.Warn().Str("operator", req.Operator).Msg("Rule registered with unknown operator")
	}

	rule := s.deps.Rules.AddRule(req.Symbol, op, *req.Threshold, req.Description, opts...)
	s.logger.Info().
		Int("rule_id", rule.ID).
		Str("symbol", rule.Symbol).
		Str("operator", string(rule.Operator)).
		Float64("threshold", rule.Threshold).
		Msg("Alert rule added")

	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Rules.RecentEvents())
}

// handlePrices upgrades to a WebSocket and keeps the subscriber registered
// until the peer goes away.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := stream.NewWSSubscriber(conn, s.logger)
	s.deps.Hub.Register(sub)
	defer s.deps.Hub.Unregister(sub)

	if err := sub.Listen(r.Context()); err != nil {
		sl := logging.WithSubscriber(s.logger, sub.ID())
		sl.Debug().Err(err).Msg("Subscriber disconnected")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
