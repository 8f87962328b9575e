package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/multiverse-chat/multiverse/pkg/chat"
	"github.com/multiverse-chat/multiverse/pkg/conversation"
	"github.com/multiverse-chat/multiverse/pkg/engine"
	"github.com/multiverse-chat/multiverse/pkg/store"
)

// Server exposes the conversation tree over HTTP. Completions stream as
// NDJSON, one chunk per token, so the frontend can render branches as they
// grow.
type Server struct {
	store   *store.Store
	backend engine.Backend
	service *chat.Service
}

func New(st *store.Store, backend engine.Backend, service *chat.Service) *Server {
	return &Server{
		store:   st,
		backend: backend,
		service: service,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	router.GET("/health", s.health)
	router.GET("/models", s.listModels)

	router.POST("/sessions", s.createSession)
	router.GET("/sessions", s.listSessions)
	router.GET("/sessions/:id", s.getSession)
	router.PATCH("/sessions/:id", s.renameSession)
	router.DELETE("/sessions/:id", s.deleteSession)
	router.GET("/session/:id/tree", s.sessionTree)
	router.GET("/session/:id/default-leaf", s.defaultLeaf)

	router.GET("/node/:id/path", s.nodePath)
	router.GET("/node/:id/siblings", s.nodeSiblings)
	router.GET("/node/:id/children", s.nodeChildren)
	router.PUT("/node/:id/active", s.setActivePath)

	router.POST("/chat/completions", s.chatCompletion)
	router.PUT("/node/:id/branch", s.branchNode)
	router.POST("/node/:id/continue", s.continueNode)
	router.POST("/node/:id/diverge", s.divergeNode)

	return router
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return <-errCh
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	if err := s.backend.Health(c.Request.Context()); err != nil {
		log.Warn().Err(err).Msg("backend health check failed")
		status = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"api":     "ok",
		"backend": status,
	})
}

func (s *Server) listModels(c *gin.Context) {
	models, err := s.backend.Models(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// abortWithError maps the domain error taxonomy onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, conversation.ErrEmptyTree):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrInvalidRole):
		status = http.StatusBadRequest
	case errors.Is(err, conversation.ErrInvalidState),
		errors.Is(err, conversation.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, conversation.ErrBackendFailure):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func nodeIDParam(c *gin.Context) (conversation.NodeID, bool) {
	id, err := conversation.ParseNodeID(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid node id"})
		return conversation.NullNode, false
	}
	return id, true
}
