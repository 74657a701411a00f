/**
 * @description
 * HTTP handlers for the insight service: purchase recording, provider
 * webhooks, access checks, bundle progression and the operator surface.
 */
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/app"
	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
)

const maxWebhookBody = 1 << 20

// PaymentService is the purchase lifecycle surface handlers call.
type PaymentService interface {
	CreatePayment(ctx context.Context, params app.CreatePaymentParams) (*domain.PlanetPayment, error)
	HandleConfirmed(ctx context.Context, externalPaymentID string) error
}

// AccessChecker answers entitlement queries.
type AccessChecker interface {
	CheckAccess(ctx context.Context, telegramID int64, profileID *uuid.UUID, planet domain.Planet) (domain.AccessResult, error)
}

// BundleAdvancer moves a bundle purchase to its next planet.
type BundleAdvancer interface {
	Advance(ctx context.Context, telegramID int64, profileID *uuid.UUID) (*domain.Planet, error)
}

// FollowUps queues recommendations and free-form questions built on
// delivered analyses.
type FollowUps interface {
	RequestRecommendations(ctx context.Context, telegramID int64, profileID *uuid.UUID, planet domain.Planet) error
	AskQuestion(ctx context.Context, telegramID int64, profileID *uuid.UUID, question string) error
}

// SweepRunner triggers one recovery pass.
type SweepRunner interface {
	Run()
}

// LedgerAdmin is the operator-facing ledger surface.
type LedgerAdmin interface {
	ListRetryable(ctx context.Context, limit int) ([]domain.PlanetPayment, error)
	DeletePayment(ctx context.Context, id uuid.UUID) error
}

// Directory is the user and profile surface handlers need.
type Directory interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error)
}

// Handler holds the application services handlers interact with.
type Handler struct {
	payments      PaymentService
	access        AccessChecker
	bundles       BundleAdvancer
	followups     FollowUps
	sweep         SweepRunner
	ledger        LedgerAdmin
	directory     Directory
	limiter       app.ContinueLimiter
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(
	payments PaymentService,
	access AccessChecker,
	bundles BundleAdvancer,
	followups FollowUps,
	sweep SweepRunner,
	ledger LedgerAdmin,
	directory Directory,
	limiter app.ContinueLimiter,
	webhookSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		payments:      payments,
		access:        access,
		bundles:       bundles,
		followups:     followups,
		sweep:         sweep,
		ledger:        ledger,
		directory:     directory,
		limiter:       limiter,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

type createPaymentRequest struct {
	TelegramID        int64   `json:"telegram_id"`
	ProfileID         *string `json:"profile_id"`
	Type              string  `json:"type"`
	Planet            *string `json:"planet"`
	AmountKopecks     int64   `json:"amount_kopecks"`
	ExternalPaymentID string  `json:"external_payment_id"`
	PaymentURL        *string `json:"payment_url"`
}

type paymentResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Type       string  `json:"type"`
	Planet     *string `json:"planet,omitempty"`
	PaymentURL *string `json:"payment_url,omitempty"`
	RetryCount int     `json:"retry_count"`
	LastError  *string `json:"last_error,omitempty"`
}

func toPaymentResponse(p *domain.PlanetPayment) paymentResponse {
	resp := paymentResponse{
		ID:         p.ID.String(),
		Status:     string(p.Status),
		Type:       string(p.Type),
		PaymentURL: p.PaymentURL,
		RetryCount: p.RetryCount,
		LastError:  p.LastError,
	}
	if p.Planet != nil {
		planet := string(*p.Planet)
		resp.Planet = &planet
	}
	return resp
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TelegramID == 0 || req.ExternalPaymentID == "" {
		http.Error(w, "telegram_id and external_payment_id are required", http.StatusBadRequest)
		return
	}

	paymentType := domain.PaymentType(req.Type)
	if paymentType != domain.PaymentTypeSinglePlanet && paymentType != domain.PaymentTypeAllPlanets {
		http.Error(w, "Unknown payment type", http.StatusBadRequest)
		return
	}

	params := app.CreatePaymentParams{
		TelegramID:        req.TelegramID,
		Type:              paymentType,
		AmountKopecks:     req.AmountKopecks,
		ExternalPaymentID: req.ExternalPaymentID,
		PaymentURL:        req.PaymentURL,
	}
	if req.Planet != nil {
		planet, ok := domain.ParsePlanet(*req.Planet)
		if !ok {
			http.Error(w, "Unknown planet", http.StatusBadRequest)
			return
		}
		params.Planet = &planet
	}
	if req.ProfileID != nil {
		profileID, err := uuid.Parse(*req.ProfileID)
		if err != nil {
			http.Error(w, "Invalid profile_id", http.StatusBadRequest)
			return
		}
		params.ProfileID = &profileID
	}

	payment, err := h.payments.CreatePayment(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownPlanet):
			http.Error(w, "Planet is not purchasable", http.StatusBadRequest)
		case errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrProfileNotFound):
			http.Error(w, "Unknown user or profile", http.StatusNotFound)
		default:
			h.logger.Error("failed to create payment", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifyWebhookSignature(body, r.Header.Get("X-Payment-Signature")) {
		h.logger.Warn("rejected webhook with bad signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.PaymentSucceededEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Invalid event payload", http.StatusBadRequest)
		return
	}
	if event.Event != "payment.succeeded" {
		h.logger.Info("ignoring webhook event", "event", event.Event)
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.payments.HandleConfirmed(r.Context(), event.Object.ID); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			http.Error(w, "Unknown payment", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to handle payment confirmation",
			"external_payment_id", event.Object.ID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifyWebhookSignature checks the provider's HMAC-SHA256 signature
// over the raw body. The header carries the hex digest, optionally with
// a "sha256=" prefix. An empty configured secret disables verification.
func (h *Handler) verifyWebhookSignature(body []byte, header string) bool {
	if h.webhookSecret == "" {
		return true
	}
	if header == "" {
		return false
	}

	provided := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	return hmac.Equal(providedBytes, mac.Sum(nil))
}

func (h *Handler) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	planet, ok := domain.ParsePlanet(chi.URLParam(r, "planet"))
	if !ok {
		http.Error(w, "Unknown planet", http.StatusBadRequest)
		return
	}

	telegramID, err := strconv.ParseInt(r.URL.Query().Get("telegram_id"), 10, 64)
	if err != nil || telegramID == 0 {
		http.Error(w, "telegram_id is required", http.StatusBadRequest)
		return
	}

	var profileID *uuid.UUID
	if raw := r.URL.Query().Get("profile_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid profile_id", http.StatusBadRequest)
			return
		}
		profileID = &id
	}

	result, err := h.access.CheckAccess(r.Context(), telegramID, profileID, planet)
	if err != nil {
		h.logger.Error("access check failed", "telegram_id", telegramID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

type bundleContinueRequest struct {
	TelegramID int64   `json:"telegram_id"`
	ProfileID  *string `json:"profile_id"`
}

type bundleContinueResponse struct {
	Completed bool    `json:"completed"`
	Planet    *string `json:"planet,omitempty"`
}

func (h *Handler) handleBundleContinue(w http.ResponseWriter, r *http.Request) {
	var req bundleContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramID == 0 {
		http.Error(w, "telegram_id is required", http.StatusBadRequest)
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), req.TelegramID)
	if err != nil {
		// A broken limiter must not block paying subjects.
		h.logger.Error("continue rate limiter failed; allowing request", "error", err)
	} else if !allowed {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var profileID *uuid.UUID
	if req.ProfileID != nil {
		id, err := uuid.Parse(*req.ProfileID)
		if err != nil {
			http.Error(w, "Invalid profile_id", http.StatusBadRequest)
			return
		}
		profileID = &id
	}

	next, err := h.bundles.Advance(r.Context(), req.TelegramID, profileID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoBundlePurchase), errors.Is(err, store.ErrUserNotFound):
			http.Error(w, "No active bundle purchase", http.StatusNotFound)
		case errors.Is(err, app.ErrAdvanceInProgress):
			http.Error(w, "Bundle advance already in progress", http.StatusConflict)
		case errors.Is(err, app.ErrRetryPending):
			// The failed planet is queued for the automatic sweep; the
			// subject does not need to do anything.
			respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "retry_pending"})
		default:
			h.logger.Error("bundle advance failed", "telegram_id", req.TelegramID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	resp := bundleContinueResponse{Completed: next == nil}
	if next != nil {
		planet := string(*next)
		resp.Planet = &planet
	}
	respondWithJSON(w, http.StatusOK, resp)
}

type recommendationsRequest struct {
	TelegramID int64   `json:"telegram_id"`
	ProfileID  *string `json:"profile_id"`
	Planet     string  `json:"planet"`
}

func (h *Handler) handleRequestRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramID == 0 {
		http.Error(w, "telegram_id is required", http.StatusBadRequest)
		return
	}

	planet, ok := domain.ParsePlanet(req.Planet)
	if !ok {
		http.Error(w, "Unknown planet", http.StatusBadRequest)
		return
	}

	profileID, perr := parseOptionalProfileID(req.ProfileID)
	if perr != nil {
		http.Error(w, "Invalid profile_id", http.StatusBadRequest)
		return
	}

	if err := h.followups.RequestRecommendations(r.Context(), req.TelegramID, profileID, planet); err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownPlanet):
			http.Error(w, "Planet has no recommendations", http.StatusBadRequest)
		case errors.Is(err, store.ErrUserNotFound):
			http.Error(w, "Unknown user", http.StatusNotFound)
		case errors.Is(err, app.ErrAnalysisNotReady):
			http.Error(w, "No completed analysis to build on", http.StatusNotFound)
		default:
			h.logger.Error("failed to queue recommendations", "telegram_id", req.TelegramID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type askQuestionRequest struct {
	TelegramID int64   `json:"telegram_id"`
	ProfileID  *string `json:"profile_id"`
	Question   string  `json:"question"`
}

func (h *Handler) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var req askQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramID == 0 {
		http.Error(w, "telegram_id is required", http.StatusBadRequest)
		return
	}

	profileID, perr := parseOptionalProfileID(req.ProfileID)
	if perr != nil {
		http.Error(w, "Invalid profile_id", http.StatusBadRequest)
		return
	}

	if err := h.followups.AskQuestion(r.Context(), req.TelegramID, profileID, req.Question); err != nil {
		switch {
		case errors.Is(err, app.ErrEmptyQuestion):
			http.Error(w, "question is required", http.StatusBadRequest)
		case errors.Is(err, store.ErrUserNotFound):
			http.Error(w, "Unknown user", http.StatusNotFound)
		default:
			h.logger.Error("failed to queue question", "telegram_id", req.TelegramID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func parseOptionalProfileID(raw *string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

type createProfileRequest struct {
	TelegramID  int64   `json:"telegram_id"`
	DisplayName string  `json:"display_name"`
	Gender      string  `json:"gender"`
	NatalData   *string `json:"natal_data"`
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TelegramID == 0 || req.DisplayName == "" {
		http.Error(w, "telegram_id and display_name are required", http.StatusBadRequest)
		return
	}

	user, err := h.directory.GetUserByTelegramID(r.Context(), req.TelegramID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			http.Error(w, "Unknown user", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to resolve user for profile", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	profile, err := h.directory.CreateProfile(r.Context(), &domain.Profile{
		UserID:      user.ID,
		DisplayName: req.DisplayName,
		Gender:      domain.Gender(req.Gender),
		NatalData:   req.NatalData,
	})
	if err != nil {
		h.logger.Error("failed to create profile", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{
		"id":           profile.ID.String(),
		"display_name": profile.DisplayName,
	})
}

func (h *Handler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	h.sweep.Run()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) handleListRetryable(w http.ResponseWriter, r *http.Request) {
	payments, err := h.ledger.ListRetryable(r.Context(), 100)
	if err != nil {
		h.logger.Error("failed to list retryable payments", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) handleResetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid payment id", http.StatusBadRequest)
		return
	}

	if err := h.ledger.DeletePayment(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			http.Error(w, "Unknown payment", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to reset payment", "payment_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("payment reset by operator", "payment_id", id)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
