package handler

import (
	"log/slog"

	"github.com/posprint/bridge/internal/device"
	"github.com/posprint/bridge/internal/ingress"
	"github.com/posprint/bridge/internal/spool"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Intake *ingress.Adapter
	Spool  spool.Spool
	Status *device.StatusCache

	// Degraded reports whether the dispatch engine is cut off from the
	// spool store.
	Degraded func() bool
}

// BridgeHandler handles admin HTTP requests against the bridge
type BridgeHandler struct {
	logger   *slog.Logger
	intake   *ingress.Adapter
	spool    spool.Spool
	status   *device.StatusCache
	degraded func() bool
}

// NewBridgeHandler creates a new BridgeHandler instance
func NewBridgeHandler(deps *Dependencies) *BridgeHandler {
	degraded := deps.Degraded
	if degraded == nil {
		degraded = func() bool { return false }
	}

	return &BridgeHandler{
		logger:   deps.Logger,
		intake:   deps.Intake,
		spool:    deps.Spool,
		status:   deps.Status,
		degraded: degraded,
	}
}
