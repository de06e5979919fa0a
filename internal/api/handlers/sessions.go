package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatflow-app/chatflow/internal/store"
)

// SessionsHandler exposes the conversation tree over HTTP.
type SessionsHandler struct {
	store *store.Store
}

// NewSessionsHandler wraps a Store for the session and node endpoints.
func NewSessionsHandler(s *store.Store) *SessionsHandler {
	return &SessionsHandler{store: s}
}

// List serves GET /api/sessions.
func (h *SessionsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions":        h.store.Sessions(),
		"activeSessionId": h.store.ActiveSessionID(),
	})
}

// Create serves POST /api/sessions.
func (h *SessionsHandler) Create(c *gin.Context) {
	id := h.store.CreateSession()
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// Delete serves DELETE /api/sessions/:id.
func (h *SessionsHandler) Delete(c *gin.Context) {
	h.store.DeleteSession(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"sessions":        h.store.Sessions(),
		"activeSessionId": h.store.ActiveSessionID(),
	})
}

// Activate serves POST /api/sessions/:id/activate.
func (h *SessionsHandler) Activate(c *gin.Context) {
	id := c.Param("id")
	h.store.SwitchSession(id)
	if h.store.ActiveSessionID() != id {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activeSessionId": h.store.ActiveSessionID(),
		"nodes":           h.store.Nodes(),
		"edges":           h.store.Edges(),
	})
}

type branchRequest struct {
	SelectedText  string `json:"selectedText"`
	MessageID     string `json:"messageId"`
	InitialPrompt string `json:"initialPrompt"`
}

// Branch serves POST /api/nodes/:id/branch, creating a child node from a
// highlighted span of the parent's message.
func (h *SessionsHandler) Branch(c *gin.Context) {
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	nodeID := h.store.CreateBranch(c.Param("id"), req.SelectedText, req.MessageID, req.InitialPrompt)
	if nodeID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "parent node not found"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":    nodeID,
		"nodes": h.store.Nodes(),
		"edges": h.store.Edges(),
	})
}

// RemoveNode serves DELETE /api/nodes/:id. The root node stays put.
func (h *SessionsHandler) RemoveNode(c *gin.Context) {
	id := c.Param("id")
	if id == store.RootNodeID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete the root node"})
		return
	}
	h.store.RemoveNode(id)
	c.JSON(http.StatusOK, gin.H{
		"nodes": h.store.Nodes(),
		"edges": h.store.Edges(),
	})
}

// PatchNode serves PATCH /api/nodes/:id, applying a partial node data
// update. Omitted fields keep their current value.
func (h *SessionsHandler) PatchNode(c *gin.Context) {
	var patch store.NodeDataPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !h.store.UpdateNodeData(c.Param("id"), patch) {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": h.store.Nodes()})
}
