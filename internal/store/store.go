package store

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSessionTitle is the placeholder title until one is derived
	// from the first user message.
	DefaultSessionTitle = "New Chat"

	// RootNodeID is the id of the initial node of every session.
	RootNodeID = "root"

	nodeTypeChat = "chatNode"

	// Canvas layout constants for branch placement.
	siblingBandHeight = 150
	branchXSpacing    = 450
	branchYSpacing    = 280

	titleMaxLen = 40
	labelMaxLen = 20
)

// State is the persistable portion of the store. It round-trips through the
// local state database and the remote storage sync as one JSON object.
type State struct {
	APIKey           string                    `json:"apiKey"`
	BaseURL          string                    `json:"baseUrl"`
	ModelID          string                    `json:"modelId"`
	ProviderConfigs  map[string]ProviderConfig `json:"providerConfigs"`
	ActiveProviderID string                    `json:"activeProviderId"`
	Sessions         []Session                 `json:"sessions"`
	ActiveSessionID  string                    `json:"activeSessionId"`
	Theme            string                    `json:"theme"`
	StorageConfig    StorageSettings           `json:"storageConfig"`
	LastSyncedAt     int64                     `json:"lastSyncedAt,omitempty"`
}

// Store is the authoritative mutable model of all sessions, nodes and edges.
// All operations are atomic single mutations under one lock; the active
// session's nodes and edges are checked out into a working set and written
// back on every mutation and on session switch.
type Store struct {
	mu sync.Mutex

	state State

	// Working copy of the active session.
	nodes        []ChatNode
	edges        []Edge
	activeNodeID string

	now func() int64
}

// New returns a store holding a single fresh session.
func New() *Store {
	s := &Store{
		state: State{
			BaseURL:          "https://openrouter.ai/api/v1",
			ProviderConfigs:  map[string]ProviderConfig{},
			ActiveProviderID: "openrouter",
			Theme:            "system",
		},
		now: func() int64 { return time.Now().UnixMilli() },
	}
	initial := s.newSession()
	s.state.Sessions = []Session{initial}
	s.state.ActiveSessionID = initial.ID
	s.checkoutLocked(initial)
	return s
}

func initialRootNode() ChatNode {
	return ChatNode{
		ID:       RootNodeID,
		Type:     nodeTypeChat,
		Position: Position{X: 100, Y: 100},
		Data: NodeData{
			Messages:   []Message{},
			Highlights: []BranchHighlight{},
		},
	}
}

func (s *Store) newSession() Session {
	ts := s.now()
	return Session{
		ID:         uuid.NewString(),
		Title:      DefaultSessionTitle,
		CreatedAt:  ts,
		UpdatedAt:  ts,
		Nodes:      []ChatNode{initialRootNode()},
		Edges:      []Edge{},
		RootNodeID: RootNodeID,
	}
}

// checkoutLocked loads a session's nodes and edges into the working set.
func (s *Store) checkoutLocked(sess Session) {
	s.nodes = append([]ChatNode(nil), sess.Nodes...)
	s.edges = append([]Edge(nil), sess.Edges...)
	s.activeNodeID = sess.RootNodeID
}

// snapshotActiveLocked writes the working nodes and edges back into the
// active session so in-flight edits survive a switch.
func (s *Store) snapshotActiveLocked() {
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == s.state.ActiveSessionID {
			s.state.Sessions[i].Nodes = append([]ChatNode(nil), s.nodes...)
			s.state.Sessions[i].Edges = append([]Edge(nil), s.edges...)
			s.state.Sessions[i].UpdatedAt = s.now()
			return
		}
	}
}

func deriveTitle(nodes []ChatNode) string {
	var candidate *ChatNode
	for i := range nodes {
		if nodes[i].ID == RootNodeID || len(nodes[i].Data.Messages) > 0 {
			candidate = &nodes[i]
			break
		}
	}
	if candidate == nil || len(candidate.Data.Messages) == 0 {
		return DefaultSessionTitle
	}
	for _, msg := range candidate.Data.Messages {
		if msg.Role == RoleUser {
			return truncate(msg.Content.AsText(), titleMaxLen)
		}
	}
	return DefaultSessionTitle
}

// truncate shortens text to max characters plus an ellipsis. Counting runes
// keeps multi-byte text valid after the cut.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// CreateSession snapshots the active session, creates a fresh one with a
// single root node, activates it and returns its id.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshotActiveLocked()
	sess := s.newSession()
	s.state.Sessions = append(s.state.Sessions, sess)
	s.state.ActiveSessionID = sess.ID
	s.checkoutLocked(sess)
	return sess.ID
}

// SwitchSession activates the session with the given id, snapshotting the
// current one first. Unknown ids are a no-op.
func (s *Store) SwitchSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Session
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == id {
			target = &s.state.Sessions[i]
			break
		}
	}
	if target == nil {
		return
	}
	s.snapshotActiveLocked()
	s.state.ActiveSessionID = target.ID
	s.checkoutLocked(*target)
}

// DeleteSession removes a session. If it was active, the most recently
// updated remaining session becomes active. Deleting the only session
// immediately creates a fresh replacement so the store never holds zero
// sessions.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.state.Sessions[:0:0]
	found := false
	for _, sess := range s.state.Sessions {
		if sess.ID == id {
			found = true
			continue
		}
		remaining = append(remaining, sess)
	}
	if !found {
		return
	}

	if len(remaining) == 0 {
		fresh := s.newSession()
		s.state.Sessions = []Session{fresh}
		s.state.ActiveSessionID = fresh.ID
		s.checkoutLocked(fresh)
		return
	}

	s.state.Sessions = remaining
	if s.state.ActiveSessionID != id {
		return
	}
	next := &remaining[0]
	for i := range remaining {
		if remaining[i].UpdatedAt > next.UpdatedAt {
			next = &remaining[i]
		}
	}
	s.state.ActiveSessionID = next.ID
	s.checkoutLocked(*next)
}

// UpdateSessionTitle sets a session's title explicitly, ending automatic
// title derivation for it.
func (s *Store) UpdateSessionTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == id {
			s.state.Sessions[i].Title = title
			s.state.Sessions[i].UpdatedAt = s.now()
			return
		}
	}
}

// SessionTitle returns the session's display title, deriving one from the
// first user message while the title is still the placeholder.
func (s *Store) SessionTitle(sess Session) string {
	if sess.Title != DefaultSessionTitle {
		return sess.Title
	}
	return deriveTitle(sess.Nodes)
}

// SetActiveNode marks the given node as focused.
func (s *Store) SetActiveNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeNodeID = id
}

// ActiveNodeID returns the focused node's id.
func (s *Store) ActiveNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeNodeID
}

// ActiveSessionID returns the active session's id.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveSessionID
}

// Sessions returns a copy of the session list with the active session's
// working state folded in.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotActiveLocked()
	return append([]Session(nil), s.state.Sessions...)
}

// Nodes returns a copy of the working node set.
func (s *Store) Nodes() []ChatNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatNode(nil), s.nodes...)
}

// Edges returns a copy of the working edge set.
func (s *Store) Edges() []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Edge(nil), s.edges...)
}

// AddNode appends a node to the active session.
func (s *Store) AddNode(node ChatNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, node)
	s.snapshotActiveLocked()
}

// SetNodes replaces the active session's node set.
func (s *Store) SetNodes(nodes []ChatNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append([]ChatNode(nil), nodes...)
	s.snapshotActiveLocked()
}

// AddEdge appends an edge to the active session.
func (s *Store) AddEdge(edge Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edge)
	s.snapshotActiveLocked()
}

// SetEdges replaces the active session's edge set.
func (s *Store) SetEdges(edges []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append([]Edge(nil), edges...)
	s.snapshotActiveLocked()
}

// RemoveNode deletes a node together with its entire subtree: every node
// reachable from it via outgoing edges, plus every edge touching a removed
// node. Highlights on the former parent that pointed at the node are
// stripped as well.
func (s *Store) RemoveNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range s.edges {
			if e.Source == current && !doomed[e.Target] {
				doomed[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	var parentID string
	for _, e := range s.edges {
		if e.Target == id {
			parentID = e.Source
			break
		}
	}

	kept := s.nodes[:0:0]
	for _, n := range s.nodes {
		if doomed[n.ID] {
			continue
		}
		if n.ID == parentID && len(n.Data.Highlights) > 0 {
			highlights := n.Data.Highlights[:0:0]
			for _, h := range n.Data.Highlights {
				if h.BranchNodeID != id {
					highlights = append(highlights, h)
				}
			}
			n.Data.Highlights = highlights
		}
		kept = append(kept, n)
	}
	s.nodes = kept

	keptEdges := s.edges[:0:0]
	for _, e := range s.edges {
		if doomed[e.Source] || doomed[e.Target] {
			continue
		}
		keptEdges = append(keptEdges, e)
	}
	s.edges = keptEdges

	s.snapshotActiveLocked()
}

// NodeDataPatch is a partial NodeData update; nil fields are left untouched.
type NodeDataPatch struct {
	Messages         *[]Message         `json:"messages"`
	Reference        *string            `json:"reference"`
	Highlights       *[]BranchHighlight `json:"highlights"`
	PendingAIRequest *bool              `json:"pendingAiRequest"`
	IsLoading        *bool              `json:"isLoading"`
}

func applyPatch(data *NodeData, patch NodeDataPatch) {
	if patch.Messages != nil {
		data.Messages = *patch.Messages
	}
	if patch.Reference != nil {
		data.Reference = *patch.Reference
	}
	if patch.Highlights != nil {
		data.Highlights = *patch.Highlights
	}
	if patch.PendingAIRequest != nil {
		data.PendingAIRequest = *patch.PendingAIRequest
	}
	if patch.IsLoading != nil {
		data.IsLoading = *patch.IsLoading
	}
}

// UpdateNodeData shallow-merges the patch into the node's data. The node is
// looked up in the active session first, then in all other sessions, so a
// streaming response can land on a node that is not currently displayed.
// While the containing session still carries the placeholder title and the
// update leaves at least one message in place, the title is derived from the
// first user message.
func (s *Store) UpdateNodeData(id string, patch NodeDataPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].ID != id {
			continue
		}
		applyPatch(&s.nodes[i].Data, patch)
		s.snapshotActiveLocked()
		s.maybeDeriveTitleLocked(s.state.ActiveSessionID, s.nodes)
		return true
	}

	for i := range s.state.Sessions {
		sess := &s.state.Sessions[i]
		if sess.ID == s.state.ActiveSessionID {
			continue
		}
		for j := range sess.Nodes {
			if sess.Nodes[j].ID != id {
				continue
			}
			applyPatch(&sess.Nodes[j].Data, patch)
			sess.UpdatedAt = s.now()
			s.maybeDeriveTitleLocked(sess.ID, sess.Nodes)
			return true
		}
	}
	return false
}

func (s *Store) maybeDeriveTitleLocked(sessionID string, nodes []ChatNode) {
	hasMessages := false
	for i := range nodes {
		if len(nodes[i].Data.Messages) > 0 {
			hasMessages = true
			break
		}
	}
	if !hasMessages {
		return
	}
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == sessionID && s.state.Sessions[i].Title == DefaultSessionTitle {
			s.state.Sessions[i].Title = deriveTitle(nodes)
			return
		}
	}
}

// CreateBranch forks a new node off a selected span of parent text. The new
// node is placed to the right of the widest node in the parent's vertical
// band and stacked below earlier branches from the same parent. An edge
// parent->child and a highlight on the parent are recorded, and the new node
// becomes focused. Returns the new node's id, or "" when the parent does
// not exist.
func (s *Store) CreateBranch(parentID, selectedText, messageID, initialPrompt string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *ChatNode
	for i := range s.nodes {
		if s.nodes[i].ID == parentID {
			parent = &s.nodes[i]
			break
		}
	}
	if parent == nil {
		return ""
	}

	maxX := parent.Position.X
	for _, n := range s.nodes {
		if math.Abs(n.Position.Y-parent.Position.Y) < siblingBandHeight && n.Position.X > maxX {
			maxX = n.Position.X
		}
	}

	existingBranches := 0
	for _, e := range s.edges {
		if e.Source == parentID {
			existingBranches++
		}
	}

	newNodeID := uuid.NewString()

	var messages []Message
	pending := false
	if initialPrompt != "" {
		messages = []Message{{
			ID:      strconv.FormatInt(s.now(), 10),
			Role:    RoleUser,
			Content: TextContent(initialPrompt),
		}}
		pending = true
	} else {
		messages = []Message{}
	}

	newNode := ChatNode{
		ID:   newNodeID,
		Type: nodeTypeChat,
		Position: Position{
			X: maxX + branchXSpacing,
			Y: parent.Position.Y + float64(existingBranches)*branchYSpacing,
		},
		Data: NodeData{
			Messages:         messages,
			Reference:        selectedText,
			Highlights:       []BranchHighlight{},
			PendingAIRequest: pending,
		},
	}

	label := truncate(selectedText, labelMaxLen)
	newEdge := Edge{
		ID:     "e-" + parentID + "-" + newNodeID,
		Source: parentID,
		Target: newNodeID,
		Label:  label,
	}

	parent.Data.Highlights = append(parent.Data.Highlights, BranchHighlight{
		Text:         selectedText,
		BranchNodeID: newNodeID,
		MessageID:    messageID,
	})

	s.nodes = append(s.nodes, newNode)
	s.edges = append(s.edges, newEdge)
	s.activeNodeID = newNodeID
	s.snapshotActiveLocked()
	return newNodeID
}

// SetAPIKey records the default API key.
func (s *Store) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.APIKey = key
}

// SetBaseURL records the default backend base URL.
func (s *Store) SetBaseURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BaseURL = url
}

// SetModelID records the default model id.
func (s *Store) SetModelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ModelID = id
}

// SetActiveProvider records which provider is selected.
func (s *Store) SetActiveProvider(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveProviderID = id
}

// SetTheme records the UI theme preference.
func (s *Store) SetTheme(theme string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Theme = theme
}

// SetStorageConfig replaces the storage sync credentials.
func (s *Store) SetStorageConfig(cfg StorageSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StorageConfig = cfg
}

// SetLastSyncedAt records the completion time of the last remote sync.
func (s *Store) SetLastSyncedAt(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastSyncedAt = ts
}

// UpdateProviderConfig merges non-zero fields of the patch into the named
// provider's configuration, creating it if absent.
func (s *Store) UpdateProviderConfig(providerID string, patch ProviderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.state.ProviderConfigs[providerID]
	if patch.APIKey != "" {
		current.APIKey = patch.APIKey
	}
	if patch.BaseURL != "" {
		current.BaseURL = patch.BaseURL
	}
	if patch.Models != nil {
		current.Models = patch.Models
	}
	if patch.SelectedModelID != "" {
		current.SelectedModelID = patch.SelectedModelID
	}
	if s.state.ProviderConfigs == nil {
		s.state.ProviderConfigs = map[string]ProviderConfig{}
	}
	s.state.ProviderConfigs[providerID] = current
}

// Snapshot returns the persistable state with the active session's working
// copy folded in.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotActiveLocked()

	out := s.state
	out.Sessions = append([]Session(nil), s.state.Sessions...)
	out.ProviderConfigs = make(map[string]ProviderConfig, len(s.state.ProviderConfigs))
	for k, v := range s.state.ProviderConfigs {
		out.ProviderConfigs[k] = v
	}
	return out
}

// Restore replaces the store's state wholesale, e.g. after loading the local
// database or pulling from remote storage. An empty session list falls back
// to a single fresh session.
func (s *Store) Restore(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	if s.state.ProviderConfigs == nil {
		s.state.ProviderConfigs = map[string]ProviderConfig{}
	}
	if len(s.state.Sessions) == 0 {
		fresh := s.newSession()
		s.state.Sessions = []Session{fresh}
		s.state.ActiveSessionID = fresh.ID
	}

	active := &s.state.Sessions[0]
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == s.state.ActiveSessionID {
			active = &s.state.Sessions[i]
			break
		}
	}
	s.state.ActiveSessionID = active.ID
	s.checkoutLocked(*active)
}

// ReplaceSessions swaps in a session list fetched from remote storage,
// keeping local settings intact.
func (s *Store) ReplaceSessions(sessions []Session, syncedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sessions) == 0 {
		fresh := s.newSession()
		sessions = []Session{fresh}
	}
	s.state.Sessions = append([]Session(nil), sessions...)
	s.state.LastSyncedAt = syncedAt

	active := &s.state.Sessions[0]
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == s.state.ActiveSessionID {
			active = &s.state.Sessions[i]
			break
		}
	}
	s.state.ActiveSessionID = active.ID
	s.checkoutLocked(*active)
}
