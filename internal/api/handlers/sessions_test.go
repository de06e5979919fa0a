package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chatflow-app/chatflow/internal/store"
)

func sessionsRouter(st *store.Store) *gin.Engine {
	h := NewSessionsHandler(st)
	engine := gin.New()
	engine.GET("/api/sessions", h.List)
	engine.POST("/api/sessions", h.Create)
	engine.DELETE("/api/sessions/:id", h.Delete)
	engine.POST("/api/sessions/:id/activate", h.Activate)
	engine.POST("/api/nodes/:id/branch", h.Branch)
	engine.DELETE("/api/nodes/:id", h.RemoveNode)
	engine.PATCH("/api/nodes/:id", h.PatchNode)
	return engine
}

func TestSessionsListAndCreate(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "sessions.#").Int())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	newID := gjson.GetBytes(w.Body.Bytes(), "id").String()
	require.NotEmpty(t, newID)
	assert.Equal(t, newID, st.ActiveSessionID())
	assert.Len(t, st.Sessions(), 2)
}

func TestSessionActivateUnknown(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions/nope/activate", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionActivateReturnsGraph(t *testing.T) {
	st := store.New()
	first := st.ActiveSessionID()
	st.CreateSession()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions/"+first+"/activate", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, gjson.GetBytes(w.Body.Bytes(), "activeSessionId").String())
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "nodes.#").Int())
}

func TestBranchAndRemoveNode(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	body := `{"selectedText":"the moon landing","messageId":"msg-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/nodes/root/branch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	branchID := gjson.GetBytes(w.Body.Bytes(), "id").String()
	require.NotEmpty(t, branchID)
	assert.Equal(t, int64(2), gjson.GetBytes(w.Body.Bytes(), "nodes.#").Int())
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "edges.#").Int())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/nodes/"+branchID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "nodes.#").Int())
	assert.Equal(t, int64(0), gjson.GetBytes(w.Body.Bytes(), "edges.#").Int())
}

func TestBranchUnknownParent(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/nodes/ghost/branch", strings.NewReader(`{"selectedText":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRemoveRootNodeRefused(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/nodes/root", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, st.Nodes(), 1)
}

func TestPatchNode(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	body := `{"messages":[{"id":"m1","role":"user","content":"hello"}],"isLoading":true}`
	req := httptest.NewRequest(http.MethodPatch, "/api/nodes/root", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	nodes := st.Nodes()
	require.Len(t, nodes, 1)
	require.Len(t, nodes[0].Data.Messages, 1)
	assert.Equal(t, "hello", nodes[0].Data.Messages[0].Content.AsText())
	assert.True(t, nodes[0].Data.IsLoading)
}

func TestPatchUnknownNode(t *testing.T) {
	st := store.New()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/nodes/ghost", strings.NewReader(`{"isLoading":false}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSessionKeepsOneAlive(t *testing.T) {
	st := store.New()
	only := st.ActiveSessionID()
	router := sessionsRouter(st)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+only, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "sessions.#").Int())
	assert.NotEqual(t, only, gjson.GetBytes(w.Body.Bytes(), "activeSessionId").String())
}
