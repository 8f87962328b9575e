package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/multiverse-chat/multiverse/pkg/chat"
	"github.com/multiverse-chat/multiverse/pkg/conversation"
	"github.com/multiverse-chat/multiverse/pkg/events"
)

type chatRequest struct {
	SessionID string              `json:"session_id" binding:"required"`
	ParentID  conversation.NodeID `json:"parent_id"`
	Content   string              `json:"content" binding:"required"`
	Model     string              `json:"model" binding:"required"`
}

type branchRequest struct {
	Model string `json:"model" binding:"required"`
}

type continueRequest struct {
	Content string `json:"content" binding:"required"`
	Model   string `json:"model" binding:"required"`
}

type divergeRequest struct {
	Prompts []string `json:"prompts" binding:"required"`
	Model   string   `json:"model" binding:"required"`
}

// streamChunk is one NDJSON line of a completion stream.
type streamChunk struct {
	Token       string               `json:"token"`
	NodeID      conversation.NodeID  `json:"node_id"`
	UserNodeID  *conversation.NodeID `json:"user_node_id,omitempty"`
	Done        bool                 `json:"done"`
	FullContent string               `json:"full_content,omitempty"`
	Error       bool                 `json:"error,omitempty"`
}

func (s *Server) chatCompletion(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	stream, err := s.service.SendMessage(c.Request.Context(), req.SessionID, req.ParentID, req.Content, req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.streamCompletion(c, stream)
}

func (s *Server) branchNode(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	stream, err := s.service.Regenerate(c.Request.Context(), id, req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.streamCompletion(c, stream)
}

func (s *Server) continueNode(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	stream, err := s.service.Continue(c.Request.Context(), id, req.Content, req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.streamCompletion(c, stream)
}

func (s *Server) divergeNode(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	var req divergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if len(req.Prompts) != 2 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "diverge requires exactly two prompts"})
		return
	}

	streams, err := s.service.Diverge(c.Request.Context(), id, [2]string{req.Prompts[0], req.Prompts[1]}, req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Fan the two event sequences into one NDJSON stream; chunks carry the
	// node id so the client can demultiplex.
	userByNode := map[conversation.NodeID]*conversation.NodeID{}
	merged := make(chan events.Event, 64)
	g := new(errgroup.Group)
	for _, stream := range streams {
		stream := stream
		if stream.UserNode != nil {
			userID := stream.UserNode.ID
			userByNode[stream.Node.ID] = &userID
		}
		g.Go(func() error {
			for ev := range stream.Events {
				merged <- ev
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(merged)
	}()

	s.beginStream(c)
	for ev := range merged {
		s.writeEventChunk(c, ev, userByNode[ev.Metadata().NodeID])
	}
}

func (s *Server) streamCompletion(c *gin.Context, stream *chat.Stream) {
	var userID *conversation.NodeID
	if stream.UserNode != nil {
		id := stream.UserNode.ID
		userID = &id
	}

	s.beginStream(c)
	for ev := range stream.Events {
		s.writeEventChunk(c, ev, userID)
	}
}

func (s *Server) beginStream(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
}

func (s *Server) writeEventChunk(c *gin.Context, ev events.Event, userID *conversation.NodeID) {
	meta := ev.Metadata()
	var chunk streamChunk
	switch e := ev.(type) {
	case *events.EventPartial:
		chunk = streamChunk{
			Token:      e.Delta,
			NodeID:     meta.NodeID,
			UserNodeID: userID,
		}
	case *events.EventFinal:
		chunk = streamChunk{
			NodeID:      meta.NodeID,
			UserNodeID:  userID,
			Done:        true,
			FullContent: e.Text,
		}
	case *events.EventError:
		chunk = streamChunk{
			Token:      e.ErrorString,
			NodeID:     meta.NodeID,
			UserNodeID: userID,
			Done:       true,
			Error:      true,
		}
	default:
		return
	}

	b, err := json.Marshal(chunk)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal stream chunk")
		return
	}
	if _, err := c.Writer.Write(append(b, '\n')); err != nil {
		log.Debug().Err(err).Msg("client went away mid-stream")
		return
	}
	c.Writer.Flush()
}
