package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/multibuzz/attribution-engine/internal/identity"
	"github.com/multibuzz/attribution-engine/internal/ingest"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---- Events ----

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Events json.RawMessage `json:"events"`
		Async  bool            `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(body.Events) == 0 {
		s.errorResponse(w, "events is required", http.StatusBadRequest)
		return
	}

	var records []map[string]any
	if err := json.Unmarshal(body.Events, &records); err != nil {
		s.errorResponse(w, "events must be an array", http.StatusBadRequest)
		return
	}

	async := body.Async || r.URL.Query().Get("async") == "true"
	account := s.account(r)

	result := s.pipeline.Process(r.Context(), account.ID, account.IsTest,
		records, requestMeta(r), async, s.ingestWorker)

	s.jsonResponse(w, http.StatusAccepted, result)
}

// ---- Sessions ----

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Session struct {
			VisitorID string `json:"visitor_id"`
			SessionID string `json:"session_id"`
			URL       string `json:"url"`
			Referrer  string `json:"referrer"`
			StartedAt string `json:"started_at"`
		} `json:"session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	var errs []string
	if body.Session.VisitorID == "" {
		errs = append(errs, "visitor_id is required")
	}
	if body.Session.SessionID == "" {
		errs = append(errs, "session_id is required")
	}
	if body.Session.URL == "" {
		errs = append(errs, "url is required")
	}
	if len(errs) > 0 {
		s.errorsResponse(w, errs, http.StatusUnprocessableEntity)
		return
	}

	startedAt := time.Now().UTC()
	if body.Session.StartedAt != "" {
		ts, err := ingest.ParseTimestamp(body.Session.StartedAt)
		if err != nil {
			s.errorsResponse(w, []string{"started_at must be a valid ISO8601 datetime"}, http.StatusUnprocessableEntity)
			return
		}
		startedAt = ts
	}

	account := s.account(r)
	session, err := s.pipeline.StartSession(r.Context(), account.ID, account.IsTest,
		body.Session.VisitorID, body.Session.SessionID,
		body.Session.URL, body.Session.Referrer, startedAt)
	if err != nil {
		s.logger.Error("session creation failed", zap.Error(err))
		s.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"status":     "created",
		"visitor_id": body.Session.VisitorID,
		"session_id": body.Session.SessionID,
		"channel":    session.Channel,
	})
}

// ---- Conversions ----

func (s *Server) handleConversions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Conversion struct {
			EventID        string         `json:"event_id"`
			VisitorID      string         `json:"visitor_id"`
			ConversionType string         `json:"conversion_type"`
			Revenue        json.Number    `json:"revenue"`
			Properties     map[string]any `json:"properties"`
		} `json:"conversion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	c := body.Conversion

	var errs []string
	if c.ConversionType == "" {
		errs = append(errs, "conversion_type is required")
	}
	if c.EventID == "" && c.VisitorID == "" {
		errs = append(errs, "event_id or visitor_id is required")
	}
	if len(errs) > 0 {
		s.errorsResponse(w, errs, http.StatusUnprocessableEntity)
		return
	}

	account := s.account(r)
	conversion := &models.Conversion{
		ID:             uuid.NewString(),
		AccountID:      account.ID,
		ConversionType: c.ConversionType,
		ConvertedAt:    time.Now().UTC(),
		Properties:     c.Properties,
		IsTest:         account.IsTest,
	}

	// Resolve the visitor through the referenced event or the external
	// visitor id. Cross-tenant references resolve to "not found".
	if c.EventID != "" {
		event, err := s.events.GetByID(r.Context(), c.EventID)
		if err != nil {
			s.logger.Error("event lookup failed", zap.Error(err))
			s.errorResponse(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if event == nil || event.AccountID != account.ID {
			s.errorsResponse(w, []string{"Event not found"}, http.StatusUnprocessableEntity)
			return
		}
		conversion.VisitorID = event.VisitorID
		conversion.SessionID = event.SessionID
		conversion.EventID = event.ID
		conversion.ConvertedAt = event.OccurredAt
	} else {
		visitor, err := s.visitors.FindByVisitorID(r.Context(), account.ID, c.VisitorID, account.IsTest)
		if err != nil {
			s.logger.Error("visitor lookup failed", zap.Error(err))
			s.errorResponse(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if visitor == nil {
			s.errorsResponse(w, []string{"Visitor not found"}, http.StatusUnprocessableEntity)
			return
		}
		conversion.VisitorID = visitor.ID
	}

	if c.Revenue != "" {
		revenue, err := decimal.NewFromString(c.Revenue.String())
		if err != nil {
			s.errorsResponse(w, []string{"revenue must be a number"}, http.StatusUnprocessableEntity)
			return
		}
		conversion.Revenue = &revenue
	}

	if err := s.conversions.Create(r.Context(), conversion); err != nil {
		s.logger.Error("conversion creation failed", zap.Error(err))
		s.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.metrics.RecordConversion(conversion.ConversionType)
	s.attributionWorker.Dispatch(conversion)

	s.jsonResponse(w, http.StatusCreated, map[string]any{
		"conversion": conversion,
		"attribution": map[string]string{
			"status": "pending",
		},
	})
}

// ---- Identify / Alias ----

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		UserID    string         `json:"user_id"`
		VisitorID string         `json:"visitor_id"`
		Traits    map[string]any `json:"traits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	account := s.account(r)
	if errs := s.identityService.Identify(r.Context(), account.ID, account.IsTest, identity.IdentifyParams{
		UserID:    body.UserID,
		VisitorID: body.VisitorID,
		Traits:    body.Traits,
	}); len(errs) > 0 {
		s.errorsResponse(w, errs, http.StatusUnprocessableEntity)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAlias(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		UserID    string `json:"user_id"`
		VisitorID string `json:"visitor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	account := s.account(r)
	if errs := s.identityService.Alias(r.Context(), account.ID, account.IsTest, identity.AliasParams{
		UserID:    body.UserID,
		VisitorID: body.VisitorID,
	}); len(errs) > 0 {
		s.errorsResponse(w, errs, http.StatusUnprocessableEntity)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// ---- Validate ----

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account := s.account(r)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"valid":      true,
		"account_id": account.ID,
		"test":       account.IsTest,
	})
}
