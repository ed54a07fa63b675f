/**
 * @description
 * This file contains the shared pieces of the ROSCA HTTP handlers: the Handlers type,
 * request decoding, path parameter parsing, and the mapping from domain errors to HTTP
 * status codes. Handlers parse the request, call the engine, and write JSON.
 *
 * @dependencies
 * - internal/app: circle, goal and reputation engines.
 * - internal/domain: models and error kinds.
 * - pkg/money: whole-unit amount parsing.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/circlepot/rosca-service/internal/app"
	"github.com/circlepot/rosca-service/internal/domain"
	"github.com/circlepot/rosca-service/pkg/money"
)

// EventReader lists events from the event log.
type EventReader interface {
	ListEvents(ctx context.Context, typePrefix string, aggregateID int64, limit int) ([]domain.Event, error)
}

// HandlersConfig carries the engines and settings the handlers are built with.
type HandlersConfig struct {
	Circles    *app.CircleService
	Goals      *app.GoalService
	Reputation *app.ReputationService
	Bank       app.Bank
	Events     EventReader
	Owner      domain.Address
	// CurrencyDecimals is the number of minor-unit digits in request amounts.
	CurrencyDecimals   int32
	DevDepositsEnabled bool
	Logger             *slog.Logger
}

// Handlers holds the engines the HTTP handlers use.
type Handlers struct {
	circles     *app.CircleService
	goals       *app.GoalService
	reputation  *app.ReputationService
	bank        app.Bank
	events      EventReader
	owner       domain.Address
	decimals    int32
	devDeposits bool
	logger      *slog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		circles:     cfg.Circles,
		goals:       cfg.Goals,
		reputation:  cfg.Reputation,
		bank:        cfg.Bank,
		events:      cfg.Events,
		owner:       cfg.Owner,
		decimals:    cfg.CurrencyDecimals,
		devDeposits: cfg.DevDepositsEnabled,
		logger:      logger,
	}
}

// caller returns the authenticated address or writes a 401.
func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	addr, ok := CallerAddress(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get caller address from context")
		return "", false
	}
	return addr, true
}

// pathID parses a positive integer path parameter or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// decode reads a JSON request body or writes a 400.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// amount converts a whole-unit string to minor units or writes a 400.
func (h *Handlers) amount(w http.ResponseWriter, field, raw string) (int64, bool) {
	minor, err := money.ToMinor(raw, h.decimals)
	if err != nil || minor <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+field)
		return 0, false
	}
	return minor, true
}

func parseAddresses(raw []string) []domain.Address {
	out := make([]domain.Address, 0, len(raw))
	for _, s := range raw {
		if addr := domain.NormalizeAddress(s); !addr.IsZero() {
			out = append(out, addr)
		}
	}
	return out
}

// writeDomainError maps an engine error to its HTTP status.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "operation", operation, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			writeError(w, status, "Internal server error")
			return
		}
	} else {
		h.logger.Debug("request rejected", "operation", operation, "code", domain.CodeOf(err), "error", err)
	}
	writeErrorCode(w, status, err.Error(), domain.CodeOf(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindResource:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string) {
	if code == "" {
		writeError(w, status, message)
		return
	}
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
