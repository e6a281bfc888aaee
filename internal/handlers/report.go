package handlers

import (
  "io"
  "net/http"
  "strconv"
  "time"

  "github.com/gin-gonic/gin"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/repos"
  "github.com/streetintel/streetintel-backend/internal/services"
  "github.com/streetintel/streetintel-backend/internal/types"
)

type ReportHandler struct {
  log           *logger.Logger
  reportService services.ReportService
}

func NewReportHandler(log *logger.Logger, rsvc services.ReportService) *ReportHandler {
  return &ReportHandler{
    log:           log.With("handler", "ReportHandler"),
    reportService: rsvc,
  }
}

// POST /api/reports
// Multipart create. The response carries the pending report; analysis runs in
// the background and the detection fields fill in later.
func (h *ReportHandler) CreateReport(c *gin.Context) {
  fileHeader, err := c.FormFile("image")
  if err != nil {
    RespondError(c, http.StatusBadRequest, "validation_failed", err)
    return
  }
  file, err := fileHeader.Open()
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_image", err)
    return
  }
  image, err := io.ReadAll(file)
  _ = file.Close()
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_image", err)
    return
  }

  input := services.CreateReportInput{
    Image:           image,
    Filename:        fileHeader.Filename,
    Latitude:        parseFloatField(c, "latitude"),
    Longitude:       parseFloatField(c, "longitude"),
    GPSAccuracy:     parseFloatField(c, "accuracy"),
    Description:     c.PostForm("description"),
    ReporterName:    c.PostForm("reporter_name"),
    ReporterContact: c.PostForm("reporter_contact"),
  }
  if raw := c.PostForm("captured_at"); raw != "" {
    if ts, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
      input.CapturedAt = &ts
    }
  }

  report, err := h.reportService.Create(c.Request.Context(), input)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  c.JSON(http.StatusCreated, report)
}

// GET /api/reports
func (h *ReportHandler) ListReports(c *gin.Context) {
  filter := repos.ReportListFilter{
    Limit:  50,
    Offset: 0,
  }
  if raw := c.Query("limit"); raw != "" {
    if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
      filter.Limit = n
    }
  }
  if raw := c.Query("offset"); raw != "" {
    if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
      filter.Offset = n
    }
  }
  if raw := c.Query("status"); raw != "" {
    status := types.ReportStatus(raw)
    if !status.Valid() {
      RespondError(c, http.StatusBadRequest, "bad_status", errInvalidQuery("status", raw))
      return
    }
    filter.Status = &status
  }
  if raw := c.Query("danger"); raw != "" {
    danger := types.DangerLevel(raw)
    filter.Danger = &danger
  }

  reports, total, err := h.reportService.List(c.Request.Context(), filter)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{
    "reports": reports,
    "total":   total,
    "limit":   filter.Limit,
    "offset":  filter.Offset,
  })
}

// GET /api/reports/:id
func (h *ReportHandler) GetReport(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }
  report, err := h.reportService.Get(c.Request.Context(), id)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, report)
}

// PATCH /api/reports/:id/description
func (h *ReportHandler) UpdateDescription(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }
  var body struct {
    Description string `json:"description"`
  }
  if err := c.ShouldBindJSON(&body); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_body", err)
    return
  }
  report, err := h.reportService.UpdateDescription(c.Request.Context(), id, body.Description)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, report)
}

// POST /api/reports/:id/assign
func (h *ReportHandler) AssignReport(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }
  var body struct {
    Assignee string `json:"assignee"`
  }
  if err := c.ShouldBindJSON(&body); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_body", err)
    return
  }
  report, err := h.reportService.Assign(c.Request.Context(), id, body.Assignee)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, report)
}

// POST /api/reports/:id/complete
// Multipart: optional completion photo plus notes.
func (h *ReportHandler) CompleteReport(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }

  input := services.CompleteReportInput{Notes: c.PostForm("notes")}
  if fileHeader, err := c.FormFile("image"); err == nil {
    file, openErr := fileHeader.Open()
    if openErr != nil {
      RespondError(c, http.StatusBadRequest, "bad_image", openErr)
      return
    }
    image, readErr := io.ReadAll(file)
    _ = file.Close()
    if readErr != nil {
      RespondError(c, http.StatusBadRequest, "bad_image", readErr)
      return
    }
    input.Image = image
    input.Filename = fileHeader.Filename
  }

  report, err := h.reportService.Complete(c.Request.Context(), id, input)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, report)
}

// POST /api/reports/:id/pause
func (h *ReportHandler) PauseReport(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }
  report, err := h.reportService.Pause(c.Request.Context(), id)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, report)
}

// POST /api/reports/:id/resume
func (h *ReportHandler) ResumeReport(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }
  report, err := h.reportService.Resume(c.Request.Context(), id)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, report)
}

// POST /api/reports/:id/reanalyze
func (h *ReportHandler) ReanalyzeReport(c *gin.Context) {
  id, ok := parseReportID(c)
  if !ok {
    return
  }
  if err := h.reportService.Reenrich(c.Request.Context(), id); err != nil {
    RespondServiceError(c, err)
    return
  }
  c.JSON(http.StatusAccepted, gin.H{"status": "queued", "report_id": id})
}

// POST /api/reports/reanalyze-stuck
func (h *ReportHandler) ReanalyzeStuck(c *gin.Context) {
  limit := 0
  if raw := c.Query("limit"); raw != "" {
    if n, err := strconv.Atoi(raw); err == nil && n > 0 {
      limit = n
    }
  }
  summary, err := h.reportService.ReenrichStuck(c.Request.Context(), limit)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, summary)
}

// GET /api/reports/stats
func (h *ReportHandler) ReportStats(c *gin.Context) {
  stats, err := h.reportService.Stats(c.Request.Context())
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, stats)
}

func parseReportID(c *gin.Context) (uint, bool) {
  raw := c.Param("id")
  id, err := strconv.ParseUint(raw, 10, 32)
  if err != nil || id == 0 {
    RespondError(c, http.StatusBadRequest, "bad_report_id", errInvalidQuery("id", raw))
    return 0, false
  }
  return uint(id), true
}

func parseFloatField(c *gin.Context, field string) *float64 {
  raw := c.PostForm(field)
  if raw == "" {
    return nil
  }
  v, err := strconv.ParseFloat(raw, 64)
  if err != nil {
    return nil
  }
  return &v
}
