package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posprint/bridge/internal/report"
)

// SubmitJob handles POST /api/v1/jobs
// Accepts the same payload as the message queue intake; the submission
// goes through the shared intake adapter so the single-enqueuer rule
// holds and the same acks are published either way.
func (h *BridgeHandler) SubmitJob(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	st, err := h.intake.Submit(c.Request.Context(), raw)
	if err != nil {
		h.logger.Error("Submission stalled on spool store", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Spool store unavailable, retry later",
		})
		return
	}

	if st.Status == report.StatusRejected {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": st.Status,
			"error":  st.Detail,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":    st.JobID,
		"status":    st.Status,
		"detail":    st.Detail,
		"queue_len": st.QueueLen,
	})
}

// GetQueue handles GET /api/v1/queue
// Reports the current spool depth and bridge health.
func (h *BridgeHandler) GetQueue(c *gin.Context) {
	queueLen, err := h.spool.Len(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read queue length", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Spool store unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue_len":      queueLen,
		"degraded":       h.degraded(),
		"printer_status": h.status.Get(),
	})
}
