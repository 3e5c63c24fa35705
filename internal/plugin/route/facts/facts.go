package facts

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EZFRICA/context-engineering/internal/config"
	"github.com/EZFRICA/context-engineering/internal/memory"
	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/EZFRICA/context-engineering/internal/registry/store"
)

// MountRoutes mounts the memory lifecycle REST endpoints on the given router.
// All routes live under /v1/systems/:system where :system names a memory
// policy (opaque, user_controlled, hybrid).
func MountRoutes(r *gin.Engine, engine *memory.Engine, cfg *config.Config) {
	g := r.Group("/v1/systems/:system")

	g.GET("/scopes", func(c *gin.Context) { findScopes(c, engine, cfg) })
	g.GET("/scopes/:scope/context", func(c *gin.Context) { mountContext(c, engine) })
	g.POST("/scopes/:scope/interactions", func(c *gin.Context) { ingestInteraction(c, engine) })
	g.GET("/scopes/:scope/facts", func(c *gin.Context) { editorView(c, engine) })
	g.POST("/scopes/:scope/facts", func(c *gin.Context) { addFact(c, engine) })
	g.PUT("/scopes/:scope/facts", func(c *gin.Context) { reconcile(c, engine) })
	g.POST("/scopes/:scope/facts/:id/approve", func(c *gin.Context) { approveFact(c, engine) })
	g.PATCH("/scopes/:scope/facts/:id", func(c *gin.Context) { updateFact(c, engine) })
	g.DELETE("/scopes/:scope/facts/:id", func(c *gin.Context) { deleteFact(c, engine) })
}

func resolvePolicy(c *gin.Context) (memory.Policy, bool) {
	name := c.Param("system")
	p, ok := memory.PolicyByName(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown memory system %q", name)})
	}
	return p, ok
}

func parseFactID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fact id"})
		return uuid.Nil, false
	}
	return id, true
}

func findScopes(c *gin.Context, engine *memory.Engine, cfg *config.Config) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	// No query lists the most recently active scopes.
	query := c.Query("q")
	limit := cfg.ScopeSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	scopes, err := engine.FindScopes(c.Request.Context(), []memory.Policy{p}, query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scopes": scopes})
}

func mountContext(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	block, err := engine.MountContext(c.Request.Context(), p, c.Param("scope"), c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"context": block})
}

type interactionRequest struct {
	UserMessage      string `json:"user_message" binding:"required"`
	AssistantMessage string `json:"assistant_message"`
}

func ingestInteraction(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := engine.IngestInteraction(c.Request.Context(), p, c.Param("scope"), req.UserMessage, req.AssistantMessage); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func editorView(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	approved, pending, err := engine.EditorView(c.Request.Context(), p, c.Param("scope"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if approved == nil {
		approved = []model.Fact{}
	}
	if pending == nil {
		pending = []model.Fact{}
	}
	c.JSON(http.StatusOK, gin.H{"approved": approved, "pending": pending})
}

type addFactRequest struct {
	Content string         `json:"content" binding:"required"`
	Tags    []string       `json:"tags"`
	Payload map[string]any `json:"payload"`
}

func addFact(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	var req addFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fact, err := engine.AddFact(c.Request.Context(), p, c.Param("scope"), req.Content, req.Tags, req.Payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, fact)
}

type reconcileRequest struct {
	Facts []memory.ReconcileEntry `json:"facts"`
}

func reconcile(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := engine.Reconcile(c.Request.Context(), p, c.Param("scope"), req.Facts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func approveFact(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	if !p.HasStaging {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("memory system %q has no pending stage", p.Name)})
		return
	}
	id, ok := parseFactID(c)
	if !ok {
		return
	}
	fact, err := engine.ApproveFact(c.Request.Context(), p, c.Param("scope"), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fact == nil {
		// Not in the inbox: already approved or never proposed. Either way
		// the desired end state holds.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved", "fact": fact})
}

type updateFactRequest struct {
	Content *string  `json:"content"`
	Tags    []string `json:"tags"`
}

func updateFact(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	id, ok := parseFactID(c)
	if !ok {
		return
	}
	var req updateFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == nil && req.Tags == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	fact, err := engine.UpdateFact(c.Request.Context(), p, c.Param("scope"), id, store.FactUpdate{
		Content: req.Content,
		Tags:    req.Tags,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fact == nil {
		// Already deleted or never existed; the editor's intent is moot
		// either way.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, fact)
}

func deleteFact(c *gin.Context, engine *memory.Engine) {
	p, ok := resolvePolicy(c)
	if !ok {
		return
	}
	id, ok := parseFactID(c)
	if !ok {
		return
	}
	if err := engine.DeleteFact(c.Request.Context(), p, c.Param("scope"), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
