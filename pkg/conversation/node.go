package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NodeID uuid.UUID

// NullNode is the parent ID of root nodes.
var NullNode = NodeID(uuid.Nil)

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func ParseNodeID(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NullNode, err
	}
	return NodeID(id), nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) IsNull() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalJSON renders the null node as JSON null so that parent IDs of root
// nodes serialize the way the HTTP API expects them.
func (id NodeID) MarshalJSON() ([]byte, error) {
	if id.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NullNode
		return nil
	}
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

// Role is the closed set of conversation turn roles. Operations switch on it
// explicitly; there is no open-ended subtyping of nodes.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Node is one conversation turn and a position in the tree. A node is created
// pending while a completion streams into it and is sealed exactly once; a
// sealed node's content never changes again. ParentID is immutable after
// creation, which is what keeps the tree acyclic by construction.
type Node struct {
	ID        NodeID    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	ParentID  NodeID    `json:"parent_id" db:"parent_id"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// Seq is the creation sequence number, the stable secondary sort key
	// when two siblings carry the same timestamp.
	Seq     int64  `json:"seq" db:"seq"`
	Model   string `json:"model,omitempty" db:"model"`
	Active  bool   `json:"is_active" db:"is_active"`
	Pending bool   `json:"pending" db:"pending"`
}

type NodeOption func(*Node)

func WithParentID(parentID NodeID) NodeOption {
	return func(n *Node) {
		n.ParentID = parentID
	}
}

func WithID(id NodeID) NodeOption {
	return func(n *Node) {
		n.ID = id
	}
}

func WithModel(model string) NodeOption {
	return func(n *Node) {
		n.Model = model
	}
}

func WithCreatedAt(t time.Time) NodeOption {
	return func(n *Node) {
		n.CreatedAt = t
	}
}

func WithSeq(seq int64) NodeOption {
	return func(n *Node) {
		n.Seq = seq
	}
}

func WithPending(pending bool) NodeOption {
	return func(n *Node) {
		n.Pending = pending
	}
}

func NewNode(sessionID string, role Role, content string, options ...NodeOption) *Node {
	ret := &Node{
		ID:        NewNodeID(),
		SessionID: sessionID,
		ParentID:  NullNode,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Active:    true,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Conversation is an ordered sequence of nodes, oldest first. When it was
// produced by Tree.Path it is the causal context replayed to the model.
type Conversation []*Node

// Session groups one conversation tree. Deleting a session cascades to its
// nodes.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
