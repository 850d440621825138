package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsignal/internal/scan"
	"mailsignal/pkg/trace"
)

// ScanRunner is satisfied by the scan coordinator.
type ScanRunner interface {
	Run(ctx context.Context) (scan.Result, error)
}

type ScanHandler struct {
	runner ScanRunner
	logger *zap.Logger
}

func NewScanHandler(runner ScanRunner, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{
		runner: runner,
		logger: logger,
	}
}

// TriggerRun handles POST /scan/run. The run executes synchronously and the
// aggregate result is returned; a concurrent run yields 409.
func (h *ScanHandler) TriggerRun(c *gin.Context) {
	ctx := c.Request.Context()
	if traceID := c.GetHeader(trace.HeaderName()); traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	result, err := h.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, scan.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "scan run already in progress"})
			return
		}
		h.logger.Error("Manual scan run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan run failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}
