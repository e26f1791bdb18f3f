package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/studio-engine/internal/testutil"
	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

func TestWorkspace_EnhanceTheme(t *testing.T) {
	env := newTestEnv(t)
	env.mock.Script("key-good", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.NewTextBody("Lantern-lit night market with steam rising from the stalls"),
	})
	settings := quickSettings(1)
	settings.UseCustomTheme = true
	settings.CustomLocationTheme = "night market"
	require.NoError(t, env.srv.Workspace().Set(settings, separateRefs()))

	rec := env.do(t, http.MethodPost, "/api/workspace/theme/enhance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"theme":"Lantern-lit night market with steam rising from the stalls"}`, rec.Body.String())
	assert.Contains(t, env.mock.GetLastBody(), "night market")

	got, _ := env.srv.Workspace().Get()
	assert.Equal(t, "Lantern-lit night market with steam rising from the stalls", got.CustomLocationTheme)

	require.NoError(t, env.srv.Workspace().Set(quickSettings(1), nil))
	rec = env.do(t, http.MethodPost, "/api/workspace/theme/enhance", map[string]string{"theme": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "nothing to enhance")
}

func TestOutfit_EnhanceChangeApply(t *testing.T) {
	env := newTestEnv(t)
	settings := quickSettings(1)
	settings.WomanStyle = studio.StyleNoHijab
	require.NoError(t, env.srv.Workspace().Set(settings, separateRefs()))

	env.mock.Script("key-good", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.NewTextBody("Champagne satin slip dress with a pearl belt"),
	})
	rec := env.do(t, http.MethodPost, "/api/outfit/enhance", map[string]string{"description": "satin dress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"description":"Champagne satin slip dress with a pearl belt"}`, rec.Body.String())

	env.mock.Script("key-good", testutil.NewImageResponse())
	rec = env.do(t, http.MethodPost, "/api/outfit/change", outfitChangeRequest{
		Subject:     studio.SubjectFemale,
		Description: "Champagne satin slip dress with a pearl belt",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	changed := decode[struct {
		Subject studio.Subject `json:"subject"`
		Image   string         `json:"image"`
	}](t, rec)
	assert.Equal(t, studio.SubjectFemale, changed.Subject)
	require.True(t, strings.HasPrefix(changed.Image, "data:image/png;base64,"), changed.Image)
	body := env.mock.GetLastBody()
	assert.Contains(t, body, "no head covering")
	assert.Contains(t, body, `"data":"d29tYW4="`)

	_, refs := env.srv.Workspace().Get()
	front, _ := studio.FrontReference(refs, studio.SubjectFemale)
	assert.Equal(t, "d29tYW4=", front.Data, "change alone keeps the reference")

	rec = env.do(t, http.MethodPut, "/api/outfit/apply", outfitApplyRequest{Subject: studio.SubjectFemale, Image: changed.Image})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, refs = env.srv.Workspace().Get()
	assert.Len(t, refs, 2)
	front, _ = studio.FrontReference(refs, studio.SubjectFemale)
	assert.Equal(t, "image/png", front.MimeType)
	assert.Equal(t, strings.TrimPrefix(changed.Image, "data:image/png;base64,"), front.Data)
}

func TestOutfit_Rejects(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.srv.Workspace().Set(quickSettings(1), nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "couple subject", method: http.MethodPost, path: "/api/outfit/change", body: outfitChangeRequest{Subject: studio.SubjectCouple, Description: "suit"}, want: http.StatusBadRequest},
		{name: "no front photo", method: http.MethodPost, path: "/api/outfit/change", body: outfitChangeRequest{Subject: studio.SubjectMale, Description: "suit"}, want: http.StatusBadRequest},
		{name: "missing description", method: http.MethodPost, path: "/api/outfit/enhance", body: map[string]string{}, want: http.StatusBadRequest},
		{name: "apply non data url", method: http.MethodPut, path: "/api/outfit/apply", body: outfitApplyRequest{Subject: studio.SubjectMale, Image: "https://example.com/a.png"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, env.mock.GetRequestCount())
}

func TestOutputs_BurstAndSelectWinner(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.srv.Workspace().Set(quickSettings(1), separateRefs()))
	seed := batch.NewOutput("data:image/png;base64,b2xk", `{"locationTheme":"Beach"}`)
	env.srv.deps.Runner.Orchestrator().Outputs().Append(seed)

	rec := env.do(t, http.MethodPost, "/api/outputs/"+seed.ID+"/burst", map[string]int{"count": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	burst := decode[burstResponse](t, rec)
	require.Len(t, burst.Candidates, 2)
	assert.Empty(t, burst.Error)

	rec = env.do(t, http.MethodPost, "/api/outputs/"+seed.ID+"/burst/select", burstSelectRequest{Image: burst.Candidates[0]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[batch.Output](t, rec)
	assert.Equal(t, burst.Candidates[0], out.Image)
	assert.Equal(t, seed.Description, out.Description)

	rec = env.do(t, http.MethodPost, "/api/outputs/missing/burst", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/outputs/"+seed.ID+"/burst", map[string]int{"count": batch.MaxBurstSize + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutputs_BurstPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	seed := batch.NewOutput("data:image/png;base64,b2xk", "prompt")
	env.srv.deps.Runner.Orchestrator().Outputs().Append(seed)
	env.mock.Script("key-good", testutil.NewImageResponse(), testutil.NewServerErrorResponse())

	rec := env.do(t, http.MethodPost, "/api/outputs/"+seed.ID+"/burst", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	burst := decode[burstResponse](t, rec)
	assert.Len(t, burst.Candidates, 1)
	assert.Equal(t, "all_failed", burst.Code)
	assert.NotEmpty(t, burst.Error)
}

func TestOutputs_ExtractPrompts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/outputs/prompts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing to extract")

	outputs := env.srv.deps.Runner.Orchestrator().Outputs()
	first := batch.NewOutput("data:image/png;base64,AAAA", `{"locationTheme":"Beach"}`)
	second := batch.NewOutput("data:image/png;base64,AAAA", "free-form prompt")
	outputs.Append(first)
	outputs.Append(second)
	_, err := outputs.ToggleFavorite(second.ID)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/outputs/prompts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "studio_prompts_all.json")
	var all []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.JSONEq(t, `{"locationTheme":"Beach"}`, string(all[0]["prompt_details"]))

	rec = env.do(t, http.MethodGet, "/api/outputs/prompts?favorites=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "studio_prompts_favorites.json")
	var favs []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &favs))
	require.Len(t, favs, 1)
	assert.JSONEq(t, `{"raw_prompt":"free-form prompt"}`, string(favs[0]["prompt_details"]))
}
