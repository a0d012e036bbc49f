package rules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulseboard/sentinel/internal/api"
)

// APIHandler provides HTTP handlers for catalog management
type APIHandler struct {
	store *Store
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(store *Store) *APIHandler {
	return &APIHandler{store: store}
}

// MaxCatalogFileSize is the maximum accepted catalog file size (1MB)
const MaxCatalogFileSize = 1 << 20

// Register mounts the handlers on rg.
func (h *APIHandler) Register(rg *gin.RouterGroup) {
	rg.GET("", h.HandleCatalog)
	rg.GET("/rules", h.HandleRules)
	rg.POST("/reload", h.HandleReload)
	rg.POST("/validate", h.HandleValidate)
	rg.GET("/files", h.HandleListFiles)
	rg.POST("/files", h.HandleAddFile)
	rg.DELETE("/files/:filename", h.HandleDeleteFile)
}

// HandleCatalog returns the current snapshot summary and reload counters
func (h *APIHandler) HandleCatalog(c *gin.Context) {
	cat := h.store.Current()
	if cat == nil {
		api.Error(c, http.StatusServiceUnavailable, "Catalog not loaded")
		return
	}
	api.Success(c, gin.H{
		"catalog": cat.Stats(),
		"reload":  h.store.ReloadStats(),
	})
}

type ruleView struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Severity    string   `json:"severity"`
	Contexts    []string `json:"contexts,omitempty"`
	Description string   `json:"description,omitempty"`
	Source      Source   `json:"source"`
}

// HandleRules lists text and content rules without their patterns
func (h *APIHandler) HandleRules(c *gin.Context) {
	cat := h.store.Current()
	if cat == nil {
		api.Error(c, http.StatusServiceUnavailable, "Catalog not loaded")
		return
	}
	text := make([]ruleView, 0, len(cat.TextRules()))
	for _, r := range cat.TextRules() {
		var ctxs []string
		for _, ctx := range r.Contexts() {
			ctxs = append(ctxs, string(ctx))
		}
		text = append(text, ruleView{
			Name: r.Name, Kind: string(r.Kind), Severity: r.Severity.String(),
			Contexts: ctxs, Description: r.Description, Source: r.Source,
		})
	}
	content := make([]ruleView, 0, len(cat.ContentRules()))
	for _, r := range cat.ContentRules() {
		content = append(content, ruleView{
			Name: r.Name, Kind: "MaliciousContent", Severity: r.Severity.String(),
			Description: r.Description, Source: r.Source,
		})
	}
	api.Success(c, gin.H{
		"version":       cat.Version(),
		"text_rules":    text,
		"content_rules": content,
	})
}

// HandleReload triggers a reload of the user overlay
func (h *APIHandler) HandleReload(c *gin.Context) {
	if err := h.store.Reload(); err != nil {
		resp := gin.H{"status": "error", "error": err.Error()}
		if cur := h.store.Current(); cur != nil {
			resp["version"] = cur.Version()
		}
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	api.Success(c, gin.H{
		"status":  "reloaded",
		"version": h.store.Current().Version(),
	})
}

// HandleValidate parses, compiles and lints catalog YAML without loading it.
func (h *APIHandler) HandleValidate(c *gin.Context) {
	body, err := readLimited(c)
	if err != nil {
		return
	}

	sf, err := ParseCatalogFile(body, "inline", SourceCLI)
	if err != nil {
		api.Success(c, gin.H{"valid": false, "error": err.Error()})
		return
	}
	builtin, err := h.store.Loader().LoadBuiltin()
	if err != nil {
		log.Error("Failed to load builtin catalog for validation: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to load builtin catalog")
		return
	}
	result := NewLinter().LintFiles(append(builtin, sf)).onlyFile("inline")
	api.Success(c, gin.H{
		"valid":  result.Errors == 0,
		"issues": result.Issues,
	})
}

// HandleListFiles returns list of user catalog files
func (h *APIHandler) HandleListFiles(c *gin.Context) {
	files, err := h.store.Loader().ListUserFiles()
	if err != nil {
		log.Error("Failed to list catalog files: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to list catalog files")
		return
	}
	api.Success(c, gin.H{
		"directory": h.store.Loader().GetUserDir(),
		"files":     files,
	})
}

// AddFileQuery represents query parameters for adding a file
type AddFileQuery struct {
	Filename string `form:"filename"`
}

// HandleAddFile validates the body and stores it in the user directory
func (h *APIHandler) HandleAddFile(c *gin.Context) {
	var query AddFileQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		log.Debug("Failed to bind query: %v", err)
	}

	body, err := readLimited(c)
	if err != nil {
		return
	}

	if err := h.store.Loader().ValidateYAML(body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status": "error",
			"error":  "Validation failed: " + err.Error(),
		})
		return
	}

	filename := query.Filename
	if filename == "" {
		filename = "custom.yaml"
	}
	if _, err := ValidateSafeFilename(filename); err != nil {
		api.Error(c, http.StatusBadRequest, "Invalid filename")
		return
	}

	destPath, err := h.store.Loader().WriteCatalogFile(filename, body)
	if err != nil {
		log.Error("Failed to write catalog file: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to write catalog file")
		return
	}

	if err := h.store.Reload(); err != nil {
		log.Warn("Failed to reload after adding file: %v", err)
	}

	api.Success(c, gin.H{
		"status":  "added",
		"path":    destPath,
		"version": h.store.Current().Version(),
	})
}

// HandleDeleteFile handles DELETE /api/catalog/files/:filename
func (h *APIHandler) HandleDeleteFile(c *gin.Context) {
	filename := c.Param("filename")
	if filename == "" {
		api.Error(c, http.StatusBadRequest, "Filename required")
		return
	}

	if err := h.store.Loader().RemoveCatalogFile(filename); err != nil {
		log.Error("Failed to remove catalog file %s: %v", filename, err)
		api.Error(c, http.StatusBadRequest, "Failed to remove catalog file")
		return
	}

	if err := h.store.Reload(); err != nil {
		log.Warn("Failed to reload after delete: %v", err)
	}
	api.Success(c, gin.H{"status": "deleted", "filename": filename})
}

func readLimited(c *gin.Context) ([]byte, error) {
	if c.Request.ContentLength > MaxCatalogFileSize {
		api.Error(c, http.StatusRequestEntityTooLarge, "Catalog file too large (max 1MB)")
		return nil, errTooLarge
	}
	body, err := c.GetRawData()
	if err != nil {
		api.Error(c, http.StatusBadRequest, "Failed to read body")
		return nil, err
	}
	if len(body) > MaxCatalogFileSize {
		api.Error(c, http.StatusRequestEntityTooLarge, "Catalog file too large (max 1MB)")
		return nil, errTooLarge
	}
	return body, nil
}
