package handlers

import (
  "errors"
  "fmt"
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/streetintel/streetintel-backend/internal/repos"
  "github.com/streetintel/streetintel-backend/internal/services"
)

type APIError struct {
  Message string `json:"message"`
  Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
  Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
  msg := "unknown error"
  if err != nil {
    msg = err.Error()
  }
  c.JSON(status, ErrorEnvelope{
    Error: APIError{
      Message: msg,
      Code:    code,
    },
  })
}

func RespondOK(c *gin.Context, payload any) {
  c.JSON(http.StatusOK, payload)
}

func errInvalidQuery(field, value string) error {
  return fmt.Errorf("invalid %s %q", field, value)
}

// RespondServiceError maps service-layer errors onto HTTP statuses.
func RespondServiceError(c *gin.Context, err error) {
  switch {
  case errors.Is(err, services.ErrValidation):
    RespondError(c, http.StatusBadRequest, "validation_failed", err)
  case errors.Is(err, repos.ErrReportNotFound):
    RespondError(c, http.StatusNotFound, "report_not_found", err)
  case errors.Is(err, services.ErrInvalidTransition):
    RespondError(c, http.StatusConflict, "invalid_transition", err)
  default:
    RespondError(c, http.StatusInternalServerError, "internal_error", err)
  }
}
