package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/creatorlink/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。入力検証エラーではフィールド別のメッセージも含む。
type ErrorResponseBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Fields:   apiErr.Fields,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はドメインエラーを統一フォーマットに変換して書き込む。
// 変換できないエラーは内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	apiErr := model.ToAPIError(err)
	if apiErr == nil {
		slog.Error("internal server error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}

	status := StatusForAPIError(apiErr)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
	}
	WriteErrorResponse(w, status, apiErr)
}

// StatusForAPIError はAPIErrorコードからHTTPステータスコードにマッピングする。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeNoSession, model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodeEmailNotConfirmed, model.ErrCodeProfileRequired:
		return http.StatusForbidden
	case model.ErrCodeEmailTaken, model.ErrCodeUsernameTaken, model.ErrCodeProfileExists, model.ErrCodeListingExists:
		return http.StatusConflict
	case model.ErrCodeValidation, model.ErrCodeOAuthFailed:
		return http.StatusBadRequest
	case model.ErrCodeListingNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeUploadFailed:
		return http.StatusBadGateway
	case model.ErrCodeIdentityUnavailable, model.ErrCodeProfileUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
