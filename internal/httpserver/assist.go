package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

type enhanceThemeRequest struct {
	// Theme defaults to the workspace's custom theme.
	Theme string `json:"theme"`
}

type enhanceOutfitRequest struct {
	Description string `json:"description" binding:"required"`
}

type outfitChangeRequest struct {
	Subject     studio.Subject `json:"subject" binding:"required"`
	Description string         `json:"description" binding:"required"`
}

type outfitApplyRequest struct {
	Subject studio.Subject `json:"subject" binding:"required"`
	Image   string         `json:"image" binding:"required"`
}

type burstRequest struct {
	Count int `json:"count"`
}

type burstResponse struct {
	Candidates []string `json:"candidates"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
}

type burstSelectRequest struct {
	Image string `json:"image" binding:"required"`
}

// enhanceTheme rewrites the custom theme and stores the result in the
// workspace.
func (s *Server) enhanceTheme(c *gin.Context) {
	var req enhanceThemeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err.Error())
			return
		}
	}
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		settings, _ := s.workspace.Get()
		theme = settings.CustomLocationTheme
	}

	enhanced, err := s.deps.Runner.EnhanceTheme(c.Request.Context(), theme)
	if err != nil {
		respondError(c, err)
		return
	}
	s.workspace.SetCustomTheme(enhanced)
	s.touch()
	c.JSON(http.StatusOK, gin.H{"theme": enhanced})
}

func (s *Server) enhanceOutfit(c *gin.Context) {
	var req enhanceOutfitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	enhanced, err := s.deps.Runner.EnhanceOutfit(c.Request.Context(), req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"description": enhanced})
}

// changeOutfit renders the subject's front photo in a new outfit. The result
// is only adopted through applyOutfit.
func (s *Server) changeOutfit(c *gin.Context) {
	var req outfitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if !personalSubject(req.Subject) {
		respondBadRequest(c, "subject must be male or female")
		return
	}

	settings, refs := s.workspace.Get()
	ref, ok := studio.FrontReference(refs, req.Subject)
	if !ok {
		respondError(c, studio.ErrNoFrontReference)
		return
	}
	image, err := s.deps.Runner.ChangeOutfit(c.Request.Context(), ref, req.Description, settings.WomanStyle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": req.Subject, "image": image})
}

// applyOutfit replaces the subject's front photo with a changed outfit.
func (s *Server) applyOutfit(c *gin.Context) {
	var req outfitApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if !personalSubject(req.Subject) {
		respondBadRequest(c, "subject must be male or female")
		return
	}
	ref, err := batch.ReferenceFromDataURL(req.Image, req.Subject, studio.AngleFront)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.workspace.SetReference(ref); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	s.getWorkspace(c)
}

// burstOutput renders candidates for an output. A failure after some
// candidates still returns them, with the error alongside.
func (s *Server) burstOutput(c *gin.Context) {
	var req burstRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err.Error())
			return
		}
	}
	_, refs := s.workspace.Get()
	candidates, err := s.deps.Runner.Burst(c.Request.Context(), c.Param("id"), req.Count, refs)
	if err != nil && len(candidates) == 0 {
		respondError(c, err)
		return
	}
	resp := burstResponse{Candidates: candidates}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = codeFor(err)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) selectBurstWinner(c *gin.Context) {
	var req burstSelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	out, err := s.deps.Runner.SelectBurstWinner(c.Param("id"), req.Image)
	s.respondOutput(c, out, err)
}

// extractPrompts downloads the descriptions of all or only favorite outputs.
func (s *Server) extractPrompts(c *gin.Context) {
	outputs := s.deps.Runner.Orchestrator().Outputs()
	list, filename := outputs.List(), "studio_prompts_all.json"
	if fav, _ := strconv.ParseBool(c.Query("favorites")); fav {
		list, filename = outputs.Favorites(), "studio_prompts_favorites.json"
	}
	if len(list) == 0 {
		respondError(c, batch.ErrOutputNotFound)
		return
	}

	data, err := json.MarshalIndent(batch.ExtractPrompts(list), "", "  ")
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func personalSubject(s studio.Subject) bool {
	return s == studio.SubjectMale || s == studio.SubjectFemale
}
