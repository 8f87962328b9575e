package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) sessionTree(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.store.GetSession(c.Request.Context(), sessionID); err != nil {
		abortWithError(c, err)
		return
	}

	nodes, err := s.store.ListNodes(c.Request.Context(), sessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"nodes":      nodes,
	})
}

func (s *Server) defaultLeaf(c *gin.Context) {
	leaf, err := s.service.Navigator.DefaultLeaf(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaf)
}

func (s *Server) nodePath(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}

	path, err := s.service.Navigator.PathTo(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) nodeSiblings(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}

	siblings, index, err := s.service.Navigator.SiblingsOf(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"siblings":      siblings,
		"current_index": index,
		"total":         len(siblings),
	})
}

func (s *Server) nodeChildren(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}

	children, err := s.service.Navigator.ChildrenOf(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"children": children})
}

func (s *Server) setActivePath(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}

	if err := s.store.SetActivePath(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}
