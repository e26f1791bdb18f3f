package httpserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// keyView is a credential as shown to clients. The secret never leaves the
// server except through export.
type keyView struct {
	ID     string            `json:"id"`
	Masked string            `json:"masked"`
	Status credential.Status `json:"status"`
	System bool              `json:"isSystem,omitempty"`
}

type credentialsResponse struct {
	Keys     []keyView `json:"keys"`
	Primary  string    `json:"primaryId,omitempty"`
	Mode     string    `json:"mode"`
	Active   string    `json:"active,omitempty"`
	HasIssue bool      `json:"hasIssue"`
}

type addCredentialsRequest struct {
	// Keys holds one secret per line.
	Keys string `json:"keys" binding:"required"`
}

type primaryRequest struct {
	ID string `json:"id" binding:"required"`
}

func (s *Server) listCredentials(c *gin.Context) {
	ctx := c.Request.Context()
	creds, err := s.deps.Pool.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	primary, err := s.deps.Pool.Primary(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	issue, err := s.deps.Pool.HasIssue(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := credentialsResponse{
		Keys:     make([]keyView, 0, len(creds)),
		Primary:  primary,
		Mode:     "rotation",
		Active:   s.deps.Pool.Active(),
		HasIssue: issue,
	}
	if primary != "" {
		resp.Mode = "primary"
	}
	for _, cr := range creds {
		resp.Keys = append(resp.Keys, keyView{ID: cr.ID, Masked: cr.Masked, Status: cr.Status, System: cr.System})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) addCredentials(c *gin.Context) {
	var req addCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	added, err := s.deps.Pool.AddKeys(c.Request.Context(), req.Keys)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]keyView, 0, len(added))
	for _, cr := range added {
		views = append(views, keyView{ID: cr.ID, Masked: cr.Masked, Status: cr.Status})
	}
	s.touch()
	c.JSON(http.StatusCreated, gin.H{"added": views})
}

func (s *Server) clearCredentials(c *gin.Context) {
	if err := s.deps.Pool.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.Status(http.StatusNoContent)
}

func (s *Server) removeCredential(c *gin.Context) {
	if err := s.deps.Pool.Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.Status(http.StatusNoContent)
}

func (s *Server) setPrimary(c *gin.Context) {
	var req primaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if err := s.deps.Pool.SetPrimary(c.Request.Context(), req.ID); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.JSON(http.StatusOK, gin.H{"primaryId": req.ID})
}

func (s *Server) clearPrimary(c *gin.Context) {
	if err := s.deps.Pool.ClearPrimary(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.Status(http.StatusNoContent)
}

func (s *Server) validateCredentials(c *gin.Context) {
	results, err := s.deps.Pool.ValidateAll(c.Request.Context(), s.deps.Client.Check())
	if err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) exportCredentials(c *gin.Context) {
	data, err := s.deps.Pool.Export(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="studio-keys.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) importCredentials(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	n, err := s.deps.Pool.Import(c.Request.Context(), data)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	s.touch()
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

type workspaceBody struct {
	Settings   studio.Settings    `json:"settings"`
	References []studio.Reference `json:"references"`
}

func (s *Server) getWorkspace(c *gin.Context) {
	settings, refs := s.workspace.Get()
	c.JSON(http.StatusOK, workspaceBody{Settings: settings, References: refs})
}

func (s *Server) putWorkspace(c *gin.Context) {
	var req workspaceBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if err := s.workspace.Set(req.Settings, req.References); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	s.getWorkspace(c)
}

// startBatchRequest starts a batch from the workspace. Settings and
// references, when present, replace the workspace first.
type startBatchRequest struct {
	Settings   *studio.Settings   `json:"settings"`
	References []studio.Reference `json:"references"`
	Continue   bool               `json:"continue"`
	Count      int                `json:"count"`
}

type resultView struct {
	Outcome   batch.Outcome `json:"outcome"`
	Produced  int           `json:"produced"`
	Cancelled bool          `json:"cancelled"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type batchResponse struct {
	Running  bool        `json:"running"`
	Progress string      `json:"progress"`
	Target   int         `json:"target"`
	Achieved int         `json:"achieved"`
	Percent  float64     `json:"percent"`
	Last     *resultView `json:"last,omitempty"`
}

func (s *Server) getBatch(c *gin.Context) {
	orch := s.deps.Runner.Orchestrator()
	sess := orch.Session()
	resp := batchResponse{
		Running:  s.busy() || orch.Running(),
		Progress: orch.Progress(),
		Target:   sess.Target,
		Achieved: sess.Achieved,
		Percent:  sess.Progress(),
	}
	if res, ok := orch.LastResult(); ok {
		v := &resultView{Outcome: res.Outcome, Produced: res.Produced, Cancelled: res.Cancelled, Reason: res.Reason()}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		resp.Last = v
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startBatch(c *gin.Context) {
	var req startBatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err.Error())
			return
		}
	}
	if req.Count < 0 {
		respondError(c, batch.ErrInvalidCount)
		return
	}
	if req.Settings != nil || req.References != nil {
		settings, refs := s.workspace.Get()
		if req.Settings != nil {
			settings = *req.Settings
		}
		if req.References != nil {
			refs = req.References
		}
		if err := s.workspace.Set(settings, refs); err != nil {
			respondError(c, err)
			return
		}
	}

	settings, refs := s.workspace.Get()
	job := batch.Job{Settings: settings, References: refs, Continue: req.Continue, Count: req.Count}
	if err := s.launch(job); err != nil {
		respondError(c, err)
		return
	}
	count := req.Count
	if count == 0 {
		count = settings.ImageCount
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "count": count, "continue": req.Continue})
}

func (s *Server) stopBatch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": s.deps.Runner.Orchestrator().Stop()})
}

func (s *Server) listOutputs(c *gin.Context) {
	outputs := s.deps.Runner.Orchestrator().Outputs()
	if fav, _ := strconv.ParseBool(c.Query("favorites")); fav {
		c.JSON(http.StatusOK, gin.H{"outputs": outputs.Favorites()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outputs.List()})
}

func (s *Server) clearOutputs(c *gin.Context) {
	if s.busy() {
		respondError(c, batch.ErrBusy)
		return
	}
	if err := s.deps.Runner.Orchestrator().Reset(); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.Status(http.StatusNoContent)
}

func (s *Server) removeOutput(c *gin.Context) {
	if err := s.deps.Runner.Orchestrator().Outputs().Remove(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.Status(http.StatusNoContent)
}

func (s *Server) toggleFavorite(c *gin.Context) {
	fav, err := s.deps.Runner.Orchestrator().Outputs().ToggleFavorite(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	s.touch()
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "isFavorite": fav})
}

type regenerateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type editRequest struct {
	Instruction string `json:"instruction" binding:"required"`
}

func (s *Server) regenerateOutput(c *gin.Context) {
	var req regenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	_, refs := s.workspace.Get()
	out, err := s.deps.Runner.Regenerate(c.Request.Context(), c.Param("id"), req.Prompt, refs)
	s.respondOutput(c, out, err)
}

func (s *Server) variationOutput(c *gin.Context) {
	out, err := s.deps.Runner.Variation(c.Request.Context(), c.Param("id"))
	s.respondOutput(c, out, err)
}

func (s *Server) editOutput(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	out, err := s.deps.Runner.Edit(c.Request.Context(), c.Param("id"), req.Instruction)
	s.respondOutput(c, out, err)
}

func (s *Server) respondOutput(c *gin.Context, out batch.Output, err error) {
	if err != nil {
		s.log.Warn().Err(err).Str("output", c.Param("id")).Msg("Output operation failed")
		respondError(c, err)
		return
	}
	s.touch()
	c.JSON(http.StatusOK, out)
}
