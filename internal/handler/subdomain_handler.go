package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/domainman/internal/middleware"
	"github.com/hitoshi/domainman/internal/model"
	"github.com/hitoshi/domainman/internal/policy"
	"github.com/hitoshi/domainman/internal/security"
)

// SubdomainServiceInterface はサブドメインハンドラーが必要とするサービスインターフェース。
// provisioning.Serviceが満たす。
type SubdomainServiceInterface interface {
	Create(ctx context.Context, userID string, in model.SubdomainInput) (*model.Subdomain, error)
	Update(ctx context.Context, userID string, id int64, in model.SubdomainInput) (*model.Subdomain, error)
	Delete(ctx context.Context, userID string, id int64) error
	List(ctx context.Context, userID string) ([]*model.Subdomain, error)
	Get(ctx context.Context, userID string, id int64) (*model.Subdomain, error)
}

// SubdomainHandler はサブドメイン管理のHTTPハンドラー。
type SubdomainHandler struct {
	service   SubdomainServiceInterface
	validator security.TargetValidator
}

// NewSubdomainHandler はSubdomainHandlerを生成する。
func NewSubdomainHandler(service SubdomainServiceInterface, validator security.TargetValidator) *SubdomainHandler {
	return &SubdomainHandler{
		service:   service,
		validator: validator,
	}
}

// subdomainRequest はサブドメイン作成・更新リクエストのボディ。
// 省略可能な項目はポインタで受け取り、省略時に既定値を適用する。
type subdomainRequest struct {
	Subdomain    string  `json:"subdomain"`
	TargetDomain string  `json:"target_domain"`
	RecordType   *string `json:"record_type"`
	TTL          *int    `json:"ttl"`
	Priority     *int    `json:"priority"`
}

// subdomainResponse はサブドメインのAPIレスポンス。
type subdomainResponse struct {
	ID           int64     `json:"id"`
	Subdomain    string    `json:"subdomain"`
	TargetDomain string    `json:"target_domain"`
	RecordType   string    `json:"record_type"`
	TTL          int       `json:"ttl"`
	Priority     *int      `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Create はサブドメインを作成する。
// POST /api/v1/subdomains/
func (h *SubdomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	in, apiErr := h.parseInput(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	sub, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSubdomainResponse(sub))
}

// List はログインユーザーのサブドメイン一覧を返す。
// GET /api/v1/subdomains/
func (h *SubdomainHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	subs, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]subdomainResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubdomainResponse(sub))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はサブドメインの詳細を返す。
// GET /api/v1/subdomains/{id}
func (h *SubdomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := subdomainID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubdomainResponse(sub))
}

// Update はサブドメインを全項目置き換えで更新する。
// PUT /api/v1/subdomains/{id}
func (h *SubdomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := subdomainID(w, r)
	if !ok {
		return
	}

	in, apiErr := h.parseInput(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	sub, err := h.service.Update(r.Context(), userID, id, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubdomainResponse(sub))
}

// Delete はサブドメインとDNSレコードを削除する。
// DELETE /api/v1/subdomains/{id}
func (h *SubdomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := subdomainID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseInput はリクエストボディを検証し、既定値を適用したSubdomainInputを返す。
func (h *SubdomainHandler) parseInput(r *http.Request) (model.SubdomainInput, *model.APIError) {
	var req subdomainRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		return model.SubdomainInput{}, apiErr
	}

	label, err := policy.NormalizeLabel(req.Subdomain)
	if err != nil {
		return model.SubdomainInput{}, model.NewInvalidRequestError(err.Error())
	}

	recordType := model.DefaultRecordType
	if req.RecordType != nil {
		rt, ok := model.ParseRecordType(*req.RecordType)
		if !ok {
			return model.SubdomainInput{}, model.NewInvalidRequestError("record_type must be one of A, AAAA, CNAME, MX, TXT, NS")
		}
		recordType = rt
	}

	ttl := model.DefaultTTL
	if req.TTL != nil {
		if *req.TTL <= 0 {
			return model.SubdomainInput{}, model.NewInvalidRequestError("ttl must be a positive integer")
		}
		ttl = *req.TTL
	}

	target, err := h.validator.ValidateTarget(recordType, req.TargetDomain)
	if err != nil {
		return model.SubdomainInput{}, model.NewInvalidRequestError(err.Error())
	}

	return model.SubdomainInput{
		Subdomain:    label,
		TargetDomain: target,
		RecordType:   recordType,
		TTL:          ttl,
		Priority:     req.Priority,
	}, nil
}

// requireUserID はコンテキストからユーザーIDを取得する。取得できない場合は401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}

// subdomainID はパスパラメータのIDを解析する。
// 数値でないIDは存在しないIDと同じく404とする。
func subdomainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSubdomainNotFoundError())
		return 0, false
	}
	return id, true
}

// toSubdomainResponse はmodel.SubdomainからAPIレスポンスに変換する。
func toSubdomainResponse(sub *model.Subdomain) subdomainResponse {
	return subdomainResponse{
		ID:           sub.ID,
		Subdomain:    sub.Subdomain,
		TargetDomain: sub.TargetDomain,
		RecordType:   string(sub.RecordType),
		TTL:          sub.TTL,
		Priority:     sub.Priority,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}
