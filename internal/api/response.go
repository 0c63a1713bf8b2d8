package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"emails-sync/internal/models"
	"emails-sync/internal/syncerr"
)

// Response is the invocation payload shared by the HTTP and Lambda triggers
type Response struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message,omitempty"`
	ProcessedCount int              `json:"processedCount"`
	Details        []models.Detail  `json:"details"`
	Failures       []models.Failure `json:"failures,omitempty"`
	Error          string           `json:"error,omitempty"`
	TraceID        string           `json:"traceId,omitempty"`
}

// NewResponse maps a pass outcome to its status code and payload
func NewResponse(label string, result *models.SyncPassResult, err error) (int, Response) {
	resp := Response{Details: []models.Detail{}}
	if result != nil {
		resp.ProcessedCount = result.ProcessedCount()
		resp.Details = result.Processed
		resp.Failures = result.Failures
		resp.TraceID = result.TraceID
		if resp.Details == nil {
			resp.Details = []models.Detail{}
		}
	}

	if err == nil {
		resp.Success = true
		resp.Message = fmt.Sprintf("Processed %d emails from %s.", resp.ProcessedCount, strings.ToUpper(label))
		return http.StatusOK, resp
	}

	resp.Error = errorMessage(err)

	var authErr *syncerr.AuthError
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, resp
	case errors.Is(err, syncerr.ErrPassInProgress):
		return http.StatusConflict, resp
	}
	return http.StatusInternalServerError, resp
}

// errorMessage exposes classified errors and hides anything else
func errorMessage(err error) string {
	if errors.Is(err, syncerr.ErrPassInProgress) || syncerr.IsFatal(err) {
		return err.Error()
	}
	return "sync failed"
}
