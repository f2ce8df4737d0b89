package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// Response is the envelope of every JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

var kindStatus = map[workflow.ErrorKind]int{
	workflow.KindInvalidTransition:      http.StatusConflict,
	workflow.KindAlreadyDecided:         http.StatusConflict,
	workflow.KindConcurrentModification: http.StatusConflict,
	workflow.KindUnauthorized:           http.StatusForbidden,
	workflow.KindNoApproverAssigned:     http.StatusUnprocessableEntity,
	workflow.KindMissingReferenceData:   http.StatusUnprocessableEntity,
	workflow.KindValidation:             http.StatusBadRequest,
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	abort(c, http.StatusBadRequest, string(workflow.KindValidation), msg)
}

// respondError maps a service error to its status code. Errors outside the
// lifecycle taxonomy are logged and reported without detail.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	if errors.Is(err, service.ErrInvoiceNotFound) {
		abort(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if kind, found := workflow.KindOf(err); found {
		status, known := kindStatus[kind]
		if known {
			abort(c, status, string(kind), err.Error())
			return
		}
	}

	h.logger.Error("Request failed", "operation", op, "path", c.FullPath(), "error", err)
	abort(c, http.StatusInternalServerError, "INTERNAL", "failed to "+op)
}
