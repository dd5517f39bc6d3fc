// Package handler содержит HTTP-обработчики API сервиса экоплейт.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ecoplate/ecoplate-system/internal/middleware"
	"github.com/ecoplate/ecoplate-system/internal/model"
	"github.com/ecoplate/ecoplate-system/internal/repository"
	"github.com/ecoplate/ecoplate-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	AddProduct(ctx context.Context, userID int64, name, category string, quantity int, expiry *time.Time) (*model.Product, error)
	GetProductsByUser(ctx context.Context, userID int64) ([]model.Product, error)
	RecordInteraction(ctx context.Context, userID, productID int64, actionKind string, quantity int) (*service.InteractionResult, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetRewards(ctx context.Context) ([]model.Reward, error)
	Redeem(ctx context.Context, userID, rewardID int64, quantity int) (*service.RedemptionResult, error)
	GetRedemptionsByUser(ctx context.Context, userID int64) ([]repository.RedemptionWithReward, error)
	CollectRedemption(ctx context.Context, userID int64, code string) (*model.UserRedemption, error)
	GetBadgesForUser(ctx context.Context, userID int64) ([]service.BadgeStatus, error)
}

// Handler реализует HTTP-обработчики API сервиса экоплейт.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	corsOrigin     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, corsOrigin string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		corsOrigin:     corsOrigin,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя и выдаёт токен доступа.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeToken(w, userID)
}

// Login выполняет аутентификацию пользователя и выдаёт токен доступа.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeToken(w, userID)
}

func (h *Handler) writeToken(w http.ResponseWriter, userID int64) {
	token, err := h.authMiddleware.IssueToken(userID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type productRequest struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiryDate,omitempty"`
}

type productResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiryDate,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func toProductResponse(p *model.Product) productResponse {
	resp := productResponse{
		ID:        p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.ExpiryDate != nil {
		resp.ExpiryDate = p.ExpiryDate.Format("2006-01-02")
	}
	return resp
}

// CreateProduct добавляет продукт в инвентарь текущего пользователя.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var expiry *time.Time
	if req.ExpiryDate != "" {
		d, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		expiry = &d
	}

	product, err := h.service.AddProduct(r.Context(), userID, req.Name, req.Category, req.Quantity, expiry)
	if err != nil {
		if errors.Is(err, service.ErrInvalidProduct) || errors.Is(err, service.ErrInvalidQuantity) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("create product error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// GetProducts возвращает инвентарь текущего пользователя.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	products, err := h.service.GetProductsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get products error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type consumeRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

type interactionResponse struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"productId"`
	Action      string          `json:"action"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category"`
	CO2Emission decimal.Decimal `json:"co2Emission"`
	RecordedAt  string          `json:"recordedAt"`
}

type unlockedBadgeResponse struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	PointsAwarded int64  `json:"pointsAwarded"`
}

type consumeResponse struct {
	Interaction    interactionResponse     `json:"interaction"`
	PointsEarned   int64                   `json:"pointsEarned"`
	UnlockedBadges []unlockedBadgeResponse `json:"unlockedBadges"`
}

// RecordInteraction записывает событие жизненного цикла продукта текущего пользователя.
func (h *Handler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.RecordInteraction(r.Context(), userID, productID, req.Type, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrInvalidAction):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("record interaction error", zap.Error(err),
				zap.Int64("userID", userID), zap.Int64("productID", productID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	unlocked := make([]unlockedBadgeResponse, 0, len(res.UnlockedBadges))
	for _, b := range res.UnlockedBadges {
		unlocked = append(unlocked, unlockedBadgeResponse{
			Code:          b.Code,
			Name:          b.Name,
			PointsAwarded: b.PointsAwarded,
		})
	}

	h.writeJSON(w, http.StatusOK, consumeResponse{
		Interaction: interactionResponse{
			ID:          res.Interaction.ID,
			ProductID:   res.Interaction.ProductID,
			Action:      string(res.Interaction.Action),
			Quantity:    res.Interaction.Quantity,
			Category:    res.Interaction.Category,
			CO2Emission: res.Interaction.CO2Emission,
			RecordedAt:  res.Interaction.RecordedAt.Format(time.RFC3339),
		},
		PointsEarned:   res.PointsEarned,
		UnlockedBadges: unlocked,
	})
}

// GetBalance возвращает производный баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

type rewardResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PointsCost int64  `json:"pointsCost"`
	Stock      int    `json:"stock"`
}

// GetRewards возвращает каталог активных вознаграждений.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.GetRewards(r.Context())
	if err != nil {
		h.logger.Error("get rewards error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		resp = append(resp, rewardResponse{
			ID:         rw.ID,
			Name:       rw.Name,
			Category:   string(rw.Category),
			PointsCost: rw.PointsCost,
			Stock:      rw.Stock,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	// Указатель отличает отсутствующее поле (количество по умолчанию 1)
	// от явно переданного нуля, который является ошибкой валидации.
	Quantity *int `json:"quantity"`
}

type redemptionResponse struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Status      string `json:"status"`
	PointsSpent int64  `json:"pointsSpent"`
	CreatedAt   string `json:"createdAt"`
	ExpiresAt   string `json:"expiresAt"`
	CollectedAt string `json:"collectedAt,omitempty"`
}

func toRedemptionResponse(red *model.UserRedemption) redemptionResponse {
	resp := redemptionResponse{
		ID:          red.ID,
		Code:        red.Code,
		Status:      string(red.Status),
		PointsSpent: red.PointsSpent,
		CreatedAt:   red.CreatedAt.Format(time.RFC3339),
		ExpiresAt:   red.ExpiresAt.Format(time.RFC3339),
	}
	if red.CollectedAt != nil {
		resp.CollectedAt = red.CollectedAt.Format(time.RFC3339)
	}
	return resp
}

type redeemResponse struct {
	Redemptions      []redemptionResponse `json:"redemptions"`
	TotalPointsSpent int64                `json:"totalPointsSpent"`
	Reward           rewardResponse       `json:"reward"`
}

// Redeem обменивает баллы текущего пользователя на вознаграждение.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	rewardID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req redeemRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}
	quantity := 1
	if req.Quantity != nil {
		if *req.Quantity <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		quantity = *req.Quantity
	}

	res, err := h.service.Redeem(r.Context(), userID, rewardID, quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrRewardNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrRewardUnavailable), errors.Is(err, repository.ErrRewardOutOfStock):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrInsufficientPoints):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("redeem error", zap.Error(err),
				zap.Int64("userID", userID), zap.Int64("rewardID", rewardID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	redemptions := make([]redemptionResponse, 0, len(res.Redemptions))
	for i := range res.Redemptions {
		redemptions = append(redemptions, toRedemptionResponse(&res.Redemptions[i]))
	}

	h.writeJSON(w, http.StatusOK, redeemResponse{
		Redemptions:      redemptions,
		TotalPointsSpent: res.TotalPointsSpent,
		Reward: rewardResponse{
			ID:         res.Reward.ID,
			Name:       res.Reward.Name,
			Category:   string(res.Reward.Category),
			PointsCost: res.Reward.PointsCost,
			Stock:      res.Reward.Stock,
		},
	})
}

type myRedemptionResponse struct {
	redemptionResponse
	Reward struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	} `json:"reward"`
}

// GetMyRedemptions возвращает историю получений текущего пользователя.
func (h *Handler) GetMyRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	redemptions, err := h.service.GetRedemptionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get redemptions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(redemptions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]myRedemptionResponse, 0, len(redemptions))
	for i := range redemptions {
		var item myRedemptionResponse
		item.redemptionResponse = toRedemptionResponse(&redemptions[i].Redemption)
		item.Reward.Name = redemptions[i].RewardName
		item.Reward.Category = string(redemptions[i].Category)
		resp = append(resp, item)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CollectRedemption помечает вознаграждение как выданное по коду получения.
func (h *Handler) CollectRedemption(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	code := chi.URLParam(r, "code")

	red, err := h.service.CollectRedemption(r.Context(), userID, code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCode):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrRedemptionNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrRedemptionNotPending):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("collect redemption error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toRedemptionResponse(red))
}

type badgeResponse struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	PointsAwarded int64  `json:"pointsAwarded"`
	Threshold     int    `json:"threshold"`
	Unlocked      bool   `json:"unlocked"`
	UnlockedAt    string `json:"unlockedAt,omitempty"`
}

// GetBadges возвращает каталог бейджей с состоянием разблокировки у текущего пользователя.
func (h *Handler) GetBadges(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	badges, err := h.service.GetBadgesForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get badges error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]badgeResponse, 0, len(badges))
	for _, b := range badges {
		item := badgeResponse{
			Code:          b.Badge.Code,
			Name:          b.Badge.Name,
			Description:   b.Badge.Description,
			PointsAwarded: b.Badge.PointsAwarded,
			Threshold:     b.Badge.Threshold,
			Unlocked:      b.Unlocked,
		}
		if b.UnlockedAt != nil {
			item.UnlockedAt = b.UnlockedAt.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
