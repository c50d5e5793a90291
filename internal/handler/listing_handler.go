package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/creatorlink/internal/directory"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/validation"
)

// DirectoryService は掲載情報ハンドラーが必要とするサービスインターフェース。
// directory.Serviceがこれを満たす。
type DirectoryService interface {
	GetCreator(ctx context.Context, userID string) (*model.CreatorProfile, error)
	ListCreators(ctx context.Context, page directory.Page) ([]*model.CreatorProfile, error)
	CreateCreator(ctx context.Context, userID string, in validation.CreatorInput) (*model.CreatorProfile, error)
	UpdateCreator(ctx context.Context, userID string, in validation.CreatorInput) (*model.CreatorProfile, error)
	DeleteCreator(ctx context.Context, userID string) error

	GetBusiness(ctx context.Context, userID string) (*model.BusinessProfile, error)
	ListBusinesses(ctx context.Context, page directory.Page) ([]*model.BusinessProfile, error)
	CreateBusiness(ctx context.Context, userID string, in validation.BusinessInput) (*model.BusinessProfile, error)
	UpdateBusiness(ctx context.Context, userID string, in validation.BusinessInput) (*model.BusinessProfile, error)
	DeleteBusiness(ctx context.Context, userID string) error
}

// ListingHandler はクリエイター・ビジネス掲載情報のHTTPハンドラー。
type ListingHandler struct {
	service DirectoryService
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(service DirectoryService) *ListingHandler {
	return &ListingHandler{service: service}
}

// listResponse は公開一覧のレスポンス。
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// --- クリエイター ---

// GetCreator は自分のクリエイター掲載情報を返す。
// GET /account/creator
func (h *ListingHandler) GetCreator(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCreator(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CreateCreator はクリエイター掲載情報を登録する。
// POST /account/creator
func (h *ListingHandler) CreateCreator(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	var in validation.CreatorInput
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteError(w, err)
		return
	}
	c, err := h.service.CreateCreator(r.Context(), userID, in)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateCreator はクリエイター掲載情報を更新する。
// PUT /account/creator
func (h *ListingHandler) UpdateCreator(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	var in validation.CreatorInput
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteError(w, err)
		return
	}
	c, err := h.service.UpdateCreator(r.Context(), userID, in)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCreator はクリエイター掲載情報を削除する。
// DELETE /account/creator
func (h *ListingHandler) DeleteCreator(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteCreator(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCreators はクリエイターの公開一覧を返す。
// GET /creators?limit=20&offset=0
func (h *ListingHandler) ListCreators(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	list, err := h.service.ListCreators(r.Context(), page)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if list == nil {
		list = []*model.CreatorProfile{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.CreatorProfile]{Items: list, Limit: page.Limit, Offset: page.Offset})
}

// --- ビジネス ---

// GetBusiness は自分のビジネス掲載情報を返す。
// GET /account/business
func (h *ListingHandler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	b, err := h.service.GetBusiness(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CreateBusiness はビジネス掲載情報を登録する。
// POST /account/business
func (h *ListingHandler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	var in validation.BusinessInput
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteError(w, err)
		return
	}
	b, err := h.service.CreateBusiness(r.Context(), userID, in)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// UpdateBusiness はビジネス掲載情報を更新する。
// PUT /account/business
func (h *ListingHandler) UpdateBusiness(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	var in validation.BusinessInput
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteError(w, err)
		return
	}
	b, err := h.service.UpdateBusiness(r.Context(), userID, in)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DeleteBusiness はビジネス掲載情報を削除する。
// DELETE /account/business
func (h *ListingHandler) DeleteBusiness(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBusiness(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBusinesses はビジネスの公開一覧（案件探し）を返す。
// GET /findwork?limit=20&offset=0
func (h *ListingHandler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	list, err := h.service.ListBusinesses(r.Context(), page)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if list == nil {
		list = []*model.BusinessProfile{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.BusinessProfile]{Items: list, Limit: page.Limit, Offset: page.Offset})
}

// parsePage はクエリパラメータから一覧の範囲を読み取る。不正値は既定値に丸める。
func parsePage(r *http.Request) directory.Page {
	q := r.URL.Query()
	page := directory.Page{Limit: directory.DefaultPageSize}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		page.Limit = min(v, directory.MaxPageSize)
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		page.Offset = v
	}
	return page
}
