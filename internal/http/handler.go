package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lpr-gate-service/internal/config"
	"lpr-gate-service/internal/domain/lpr"
	"lpr-gate-service/internal/service"
)

type Handler struct {
	ingest *service.IngestService
	verify *service.VerifyService
	config *config.Config
	log    zerolog.Logger
}

func NewHandler(
	ingest *service.IngestService,
	verify *service.VerifyService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		ingest: ingest,
		verify: verify,
		config: cfg,
		log:    log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Camera uploaders post here; they carry no tokens.
	public := r.Group("/api/v1")
	{
		public.POST("/lpr/events", h.ingestEvents)
	}

	// Read and ledger data is security/billing relevant.
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/lpr/verify", h.verifyByIDs)
		protected.GET("/reads", h.listReads)
		protected.GET("/ledger/open", h.listOpenLedgerEntries)
	}
}

func (h *Handler) verifyByIDs(c *gin.Context) {
	var req struct {
		ReadIDs []string `json:"read_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if len(req.ReadIDs) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("read_ids is required"))
		return
	}

	results, err := h.verify.VerifyByIDs(c.Request.Context(), req.ReadIDs)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to verify reads by id")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"count":   len(results),
		"results": results,
	})
}

func (h *Handler) ingestEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read request body"))
		return
	}

	results, err := h.ingest.ProcessBatch(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		// Store and ledger failures are retryable by the uploader.
		h.log.Error().Err(err).Msg("failed to process event batch")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "ok",
		"count":   len(results),
		"results": results,
	})
}

func (h *Handler) listReads(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	locationTag := strings.TrimSpace(c.Query("location"))

	var fromMs, toMs *int64
	if f := c.Query("from_ms"); f != "" {
		parsed, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid from_ms"))
			return
		}
		fromMs = &parsed
	}
	if t := c.Query("to_ms"); t != "" {
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid to_ms"))
			return
		}
		toMs = &parsed
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	reads, err := h.ingest.FindReads(c.Request.Context(), plateQuery, fromMs, toMs, locationTag, limit, offset)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to find reads")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusOK, successResponse(toReadInfos(reads)))
}

func (h *Handler) listOpenLedgerEntries(c *gin.Context) {
	days := 0
	if d := c.Query("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid days"))
			return
		}
		days = parsed
	}

	entries, err := h.verify.OpenLedgerEntries(c.Request.Context(), time.Now().UnixMilli(), days)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list open ledger entries")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusOK, successResponse(toLedgerInfos(entries)))
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

type ReadInfo struct {
	ID              string   `json:"id"`
	TimestampMs     int64    `json:"timestamp_ms"`
	DayPartition    int64    `json:"day_partition"`
	PlateNumber     string   `json:"plate_number,omitempty"`
	NormalizedPlate string   `json:"normalized_plate,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Region          string   `json:"region,omitempty"`
	LocationTag     string   `json:"location_tag"`
	PlateCropURL    string   `json:"plate_crop_url,omitempty"`
	VehicleCropURL  string   `json:"vehicle_crop_url,omitempty"`
}

type LedgerInfo struct {
	PlateReadID     string `json:"plate_read_id"`
	PlateNumber     string `json:"plate_number"`
	TimestampMs     int64  `json:"timestamp_ms"`
	DayPartition    int64  `json:"day_partition"`
	Region          string `json:"region,omitempty"`
	Open            bool   `json:"open"`
	ExitReadID      string `json:"exit_read_id,omitempty"`
	ExitTimestampMs int64  `json:"exit_timestamp_ms,omitempty"`
}

func toReadInfos(reads []lpr.ReadRecord) []ReadInfo {
	infos := make([]ReadInfo, 0, len(reads))
	for _, r := range reads {
		info := ReadInfo{
			ID:              r.ID,
			TimestampMs:     r.TimestampMs,
			DayPartition:    r.DayPartition,
			PlateNumber:     r.PlateNumber,
			NormalizedPlate: r.NormalizedPlate,
			Region:          r.Region,
			LocationTag:     r.LocationTag,
			PlateCropURL:    r.PlateCropURL,
			VehicleCropURL:  r.VehicleCropURL,
		}
		if r.Confidence != 0 {
			conf := r.Confidence
			info.Confidence = &conf
		}
		infos = append(infos, info)
	}
	return infos
}

func toLedgerInfos(entries []lpr.LedgerEntry) []LedgerInfo {
	infos := make([]LedgerInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, LedgerInfo{
			PlateReadID:     e.PlateReadID,
			PlateNumber:     e.PlateNumber,
			TimestampMs:     e.TimestampMs,
			DayPartition:    e.DayPartition,
			Region:          e.Region,
			Open:            e.Open(),
			ExitReadID:      e.ExitReadID,
			ExitTimestampMs: e.ExitTimestampMs,
		})
	}
	return infos
}
