package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/studio-engine/pkg/session"
)

type sessionResponse struct {
	File  *session.File     `json:"file,omitempty"`
	State session.SaveState `json:"state"`
	Error string            `json:"error,omitempty"`
}

type saveRequest struct {
	// Name saves under a new file; empty overwrites the bound file.
	Name string `json:"name"`
}

type openRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) getSession(c *gin.Context) {
	state, err := s.autosave.State()
	resp := sessionResponse{State: state}
	if f, ok := s.autosave.File(); ok {
		resp.File = &f
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listSessionFiles(c *gin.Context) {
	files, err := s.deps.Sessions.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) saveSession(c *gin.Context) {
	var req saveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	doc, err := s.snapshot(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	var file session.File
	if req.Name != "" {
		file, err = s.deps.Sessions.SaveAs(ctx, req.Name, doc)
	} else {
		bound, ok := s.autosave.File()
		if !ok {
			respondBadRequest(c, "no session file: a name is required")
			return
		}
		file, err = s.deps.Sessions.Save(ctx, bound, doc)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	s.autosave.SetFile(file)
	s.log.Info().Str("file", file.Name).Msg("Session saved")
	c.JSON(http.StatusOK, sessionResponse{File: &file, State: session.StateSaved})
}

func (s *Server) openSession(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	file, doc, err := s.deps.Sessions.Open(ctx, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.apply(ctx, file, doc); err != nil {
		respondError(c, err)
		return
	}
	s.log.Info().Str("file", file.Name).Int("outputs", len(doc.GeneratedImages)).Msg("Session opened")
	c.JSON(http.StatusOK, sessionResponse{File: &file, State: session.StateSaved})
}
