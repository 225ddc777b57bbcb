package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/config"
	"github.com/ruralpay/playcard/internal/realtime"
	"github.com/ruralpay/playcard/internal/services"
)

// ScanHandler accepts card scans from readers, over HTTP or as websocket
// peers.
type ScanHandler struct {
	ingestor  realtime.ScanIngestor
	registry  *realtime.Registry
	cfg       config.RealtimeConfig
	validator *services.ValidationHelper
	logger    *zap.Logger
}

// ScanRequest is a single card tap
type ScanRequest struct {
	CardID string `json:"cardId" validate:"required,max=128"`
}

func NewScanHandler(ingestor realtime.ScanIngestor, registry *realtime.Registry, cfg config.RealtimeConfig, logger *zap.Logger) *ScanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandler{
		ingestor:  ingestor,
		registry:  registry,
		cfg:       cfg,
		validator: services.NewValidationHelper(),
		logger:    logger,
	}
}

// Scan records a card tap from a reader
// @Summary Report card scan
// @Description Called by readers when a card is tapped; observers receive a scan event
// @Tags readers
// @Accept json
// @Produce json
// @Param request body ScanRequest true "Scanned card"
// @Success 200 {object} object{ok=bool}
// @Failure 400 {object} services.ErrorResponse
// @Router /esp/scan [post]
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeRequest(w, r, h.validator, &req) {
		return
	}

	if err := h.ingestor.Touch(r.Context(), req.CardID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ServeWS upgrades the connection and registers it as an observer. Blocks
// until the connection ends.
func (h *ScanHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := realtime.NewUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	realtime.NewWSObserver(conn, h.registry, h.ingestor, h.cfg, h.logger).Run(r.Context())
}
