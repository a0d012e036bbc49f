package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulseboard/sentinel/internal/api"
	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/telemetry"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

// DefaultMaxUploadBytes caps multipart uploads when nothing is configured.
const DefaultMaxUploadBytes = 10 << 20

// rejectedMessage is the public message for unsafe content. It never
// echoes matched fragments.
const rejectedMessage = "Content rejected by security policy"

// APIOptions configures the HTTP surface
type APIOptions struct {
	// APIToken guards the catalog management routes. Empty disables them.
	APIToken       string
	MaxUploadBytes int64
	// Gatherer serves /metrics; nil omits the route.
	Gatherer prometheus.Gatherer
}

// APIServer handles HTTP API requests for scanning, sanitizing, catalog
// management and the audit log
type APIServer struct {
	manager  *Manager
	storage  *telemetry.Storage
	opts     APIOptions
	auditAPI *telemetry.APIHandler
	router   *gin.Engine
}

// NewAPIServer creates a new API server. storage may be nil when the
// audit log is disabled.
func NewAPIServer(manager *Manager, storage *telemetry.Storage, opts APIOptions) *APIServer {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.SecurityHeadersMiddleware())
	router.Use(api.RequestIDMiddleware())

	s := &APIServer{
		manager:  manager,
		storage:  storage,
		opts:     opts,
		auditAPI: telemetry.NewAPIHandler(storage),
		router:   router,
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler for the API
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	if s.opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	apiGroup := s.router.Group("/api")
	{
		scan := apiGroup.Group("/scan")
		{
			scan.POST("/text",
				api.BodySizeLimitMiddleware(api.MaxBodySize),
				api.DecompressMiddleware(api.MaxBodySize),
				s.handleScanText)
			scan.POST("/file",
				api.BodySizeLimitMiddleware(s.opts.MaxUploadBytes+multipartOverhead),
				s.handleScanFile)
		}

		apiGroup.POST("/sanitize",
			api.BodySizeLimitMiddleware(api.MaxBodySize),
			api.DecompressMiddleware(api.MaxBodySize),
			s.handleSanitize)

		security := apiGroup.Group("/security")
		{
			security.GET("/stats", s.handleStats)
			s.auditAPI.Register(security)
		}

		catalog := apiGroup.Group("/catalog", api.BearerAuthMiddleware(s.opts.APIToken))
		rules.NewAPIHandler(s.manager.Store()).Register(catalog)
	}
}

// multipartOverhead leaves room for multipart headers and the category field.
const multipartOverhead = 64 << 10

// ScanTextRequest is the body of POST /api/scan/text
type ScanTextRequest struct {
	Content   string `json:"content"`
	Context   string `json:"context" binding:"required"`
	RequestID string `json:"request_id" binding:"omitempty,max=128"`
	SessionID string `json:"session_id" binding:"omitempty,max=128"`
}

// ScanResponse is returned by both scan endpoints. Fragments are removed
// from the verdict before it leaves the service.
type ScanResponse struct {
	RequestID string         `json:"request_id"`
	Safe      bool           `json:"safe"`
	Message   string         `json:"message"`
	Verdict   threat.Verdict `json:"verdict"`
	AuditID   string         `json:"audit_id,omitempty"`
}

// handleScanText handles POST /api/scan/text
func (s *APIServer) handleScanText(c *gin.Context) {
	var req ScanTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	v, err := s.manager.ScanText(TextRequest{Content: req.Content, Context: types.ContextTag(req.Context)})
	if err != nil {
		writeScanError(c, err)
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = api.RequestID(c)
	}
	rec := telemetry.NewAuditRecord(v, telemetry.SubjectText, req.Context).WithIDs(requestID, req.SessionID)
	s.respond(c, requestID, v, rec)
}

// handleScanFile handles POST /api/scan/file (multipart: file, category)
func (s *APIServer) handleScanFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(c, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		api.Error(c, http.StatusBadRequest, "Missing file field")
		return
	}
	if fh.Size > s.opts.MaxUploadBytes {
		api.Error(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Upload too large. Maximum size is %d bytes.", s.opts.MaxUploadBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		api.Error(c, http.StatusBadRequest, "Unreadable upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxUploadBytes+1))
	if err != nil {
		api.Error(c, http.StatusBadRequest, "Unreadable upload")
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		api.Error(c, http.StatusRequestEntityTooLarge, "Upload too large")
		return
	}
	if data == nil {
		data = []byte{}
	}

	v, err := s.manager.ScanBinary(BinaryRequest{
		Bytes:             data,
		DeclaredName:      fh.Filename,
		DeclaredMediaType: fh.Header.Get("Content-Type"),
		DeclaredSize:      fh.Size,
		Category:          types.Category(c.PostForm("category")),
	})
	if err != nil {
		writeScanError(c, err)
		return
	}

	requestID := api.RequestID(c)
	rec := telemetry.NewAuditRecord(v, telemetry.SubjectBinary, fh.Filename).
		WithIDs(requestID, c.PostForm("session_id"))
	s.respond(c, requestID, v, rec)
}

func (s *APIServer) respond(c *gin.Context, requestID string, v threat.Verdict, rec telemetry.AuditRecord) {
	resp := ScanResponse{
		RequestID: requestID,
		Safe:      v.Safe,
		Message:   "Content accepted",
		Verdict:   v.Redacted(),
	}
	if s.storage != nil {
		id, err := s.storage.RecordVerdict(c.Request.Context(), rec)
		if err != nil {
			log.Warn("Failed to record audit entry: %v", err)
		} else {
			resp.AuditID = id
		}
	}

	status := http.StatusOK
	if !v.Safe {
		status = http.StatusUnprocessableEntity
		resp.Message = rejectedMessage
	}
	c.JSON(status, resp)
}

func writeScanError(c *gin.Context, err error) {
	switch {
	case threat.IsInvalidInput(err):
		api.Error(c, http.StatusBadRequest, err.Error())
	case threat.IsCatalogUnavailable(err):
		api.Error(c, http.StatusServiceUnavailable, "Threat catalog unavailable")
	default:
		log.Error("Scan failed: %v", err)
		api.Error(c, http.StatusInternalServerError, "Scan failed")
	}
}

// SanitizeRequest is the body of POST /api/sanitize
type SanitizeRequest struct {
	Text string `json:"text"`
}

// handleSanitize handles POST /api/sanitize
func (s *APIServer) handleSanitize(c *gin.Context) {
	var req SanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	api.Success(c, gin.H{"sanitized": s.manager.Sanitize(req.Text)})
}

// handleStats handles GET /api/security/stats
// Counters cover the current process only; the audit log holds history.
func (s *APIServer) handleStats(c *gin.Context) {
	resp := gin.H{
		"scans":       s.manager.Metrics().GetStats(),
		"unsafe_rate": s.manager.Metrics().UnsafeRate(),
		"reload":      s.manager.Store().ReloadStats(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if cat := s.manager.Catalog(); cat != nil {
		resp["catalog"] = cat.Stats()
	}
	api.Success(c, resp)
}

// handleHealth handles GET /health
func (s *APIServer) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleReady handles GET /ready
func (s *APIServer) handleReady(c *gin.Context) {
	cat := s.manager.Catalog()
	if cat == nil {
		api.Error(c, http.StatusServiceUnavailable, "Catalog not loaded")
		return
	}
	api.Success(c, gin.H{"status": "ready", "catalog_version": cat.Version()})
}
