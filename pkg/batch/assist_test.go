package batch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/Sternrassler/studio-engine/internal/testutil"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

func TestStudioRunner_EnhanceTheme(t *testing.T) {
	mock := testutil.NewMockGemini()
	defer mock.Close()
	mock.Script("key-good", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.NewTextBody(`"A misty tea plantation at sunrise, soft golden haze over the rows"`),
	})
	r := newTestRunner(t, mock)

	got, err := r.EnhanceTheme(context.Background(), "tea plantation")
	if err != nil {
		t.Fatalf("EnhanceTheme failed: %v", err)
	}
	if got != "A misty tea plantation at sunrise, soft golden haze over the rows" {
		t.Errorf("enhanced theme = %q, want quotes stripped", got)
	}
	if !strings.Contains(mock.GetLastBody(), "tea plantation") {
		t.Error("request did not carry the original theme")
	}

	if _, err := r.EnhanceTheme(context.Background(), "   "); !errors.Is(err, studio.ErrEmptyText) {
		t.Errorf("blank theme err = %v, want ErrEmptyText", err)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestStudioRunner_EnhanceOutfit(t *testing.T) {
	tests := []struct {
		name     string
		response testutil.MockResponse
		wantErr  func(error) bool
		want     string
	}{
		{
			name:     "enhanced",
			response: testutil.MockResponse{StatusCode: http.StatusOK, Body: testutil.NewTextBody("Ivory silk gown with lace sleeves")},
			want:     "Ivory silk gown with lace sleeves",
		},
		{
			name:     "pool exhausted",
			response: testutil.NewInvalidKeyResponse(),
			wantErr:  credential.IsAllFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockGemini()
			defer mock.Close()
			mock.Script("key-good", tt.response)
			r := newTestRunner(t, mock)

			got, err := r.EnhanceOutfit(context.Background(), "white dress")
			if tt.wantErr != nil {
				if !tt.wantErr(err) {
					t.Errorf("err = %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("EnhanceOutfit = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestStudioRunner_ChangeOutfit(t *testing.T) {
	mock := testutil.NewMockGemini()
	defer mock.Close()
	r := newTestRunner(t, mock)

	ref, _ := studio.FrontReference(coupleRefs(), studio.SubjectFemale)
	url, err := r.ChangeOutfit(context.Background(), ref, "red kebaya", studio.StyleHijab)
	if err != nil {
		t.Fatalf("ChangeOutfit failed: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("result = %.30q, want png data url", url)
	}
	body := mock.GetLastBody()
	if !strings.Contains(body, "red kebaya") || !strings.Contains(body, "hijab") {
		t.Errorf("prompt missing outfit or style: %s", body)
	}
	if !strings.Contains(body, `"data":"d29tYW4="`) {
		t.Error("request did not carry the reference photo")
	}

	if _, err := r.ChangeOutfit(context.Background(), ref, "", studio.StyleHijab); !errors.Is(err, studio.ErrEmptyText) {
		t.Errorf("empty description err = %v", err)
	}
}

func TestStudioRunner_Burst(t *testing.T) {
	mock := testutil.NewMockGemini()
	defer mock.Close()
	r := newTestRunner(t, mock)

	seed := NewOutput("data:image/png;base64,b2xk", `{"locationTheme":"Beach"}`)
	r.Orchestrator().Outputs().Append(seed)

	candidates, err := r.Burst(context.Background(), seed.ID, 0, coupleRefs())
	if err != nil {
		t.Fatalf("Burst failed: %v", err)
	}
	if len(candidates) != DefaultBurstSize {
		t.Fatalf("candidates = %d, want %d", len(candidates), DefaultBurstSize)
	}
	if !strings.Contains(mock.GetLastBody(), "locationTheme") {
		t.Error("burst did not render from the stored description")
	}
	if out, _ := r.Orchestrator().Outputs().Get(seed.ID); out.Image != seed.Image {
		t.Error("burst changed the output before a winner was picked")
	}

	out, err := r.SelectBurstWinner(seed.ID, candidates[1])
	if err != nil {
		t.Fatalf("SelectBurstWinner failed: %v", err)
	}
	if out.Image != candidates[1] || out.Description != seed.Description {
		t.Errorf("winner output = %+v", out)
	}
	if stored, _ := r.Orchestrator().Outputs().Get(seed.ID); stored.Image != candidates[1] {
		t.Error("winner not stored")
	}
}

func TestStudioRunner_BurstStopsAtFirstFailure(t *testing.T) {
	mock := testutil.NewMockGemini()
	defer mock.Close()
	mock.Script("key-good",
		testutil.NewImageResponse(),
		testutil.NewServerErrorResponse(),
	)
	r := newTestRunner(t, mock)

	seed := NewOutput("data:image/png;base64,b2xk", "prompt")
	r.Orchestrator().Outputs().Append(seed)

	candidates, err := r.Burst(context.Background(), seed.ID, 3, coupleRefs())
	if !credential.IsAllFailed(err) {
		t.Fatalf("err = %v, want all credentials failed", err)
	}
	if len(candidates) != 1 {
		t.Errorf("candidates = %d, want the one produced before the failure", len(candidates))
	}
}

func TestStudioRunner_BurstRejects(t *testing.T) {
	mock := testutil.NewMockGemini()
	defer mock.Close()
	r := newTestRunner(t, mock)
	seed := NewOutput("data:image/png;base64,b2xk", "prompt")
	r.Orchestrator().Outputs().Append(seed)

	tests := []struct {
		name    string
		id      string
		n       int
		wantErr error
	}{
		{name: "unknown output", id: "missing", n: 1, wantErr: ErrOutputNotFound},
		{name: "too many", id: seed.ID, n: MaxBurstSize + 1, wantErr: ErrInvalidCount},
		{name: "negative", id: seed.ID, n: -1, wantErr: ErrInvalidCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Burst(context.Background(), tt.id, tt.n, nil); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if _, err := r.SelectBurstWinner(seed.ID, "https://example.com/x.png"); !errors.Is(err, ErrInvalidDataURL) {
		t.Errorf("winner without data url err = %v", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want 0", mock.GetRequestCount())
	}
}

func TestReferenceFromDataURL(t *testing.T) {
	ref, err := ReferenceFromDataURL("data:image/png;base64,AAAA", studio.SubjectMale, studio.AngleFront)
	if err != nil {
		t.Fatalf("ReferenceFromDataURL failed: %v", err)
	}
	want := studio.Reference{ID: "male-front", Subject: studio.SubjectMale, Angle: studio.AngleFront, MimeType: "image/png", Data: "AAAA"}
	if ref != want {
		t.Errorf("reference = %+v, want %+v", ref, want)
	}
}

func TestExtractPrompts(t *testing.T) {
	outputs := []Output{
		{ID: "img_1", Description: `{"locationTheme":"Beach","cameraShot":"Close-up"}`},
		{ID: "img_2", Description: "Based on the provided reference image, a variation"},
	}

	records := ExtractPrompts(outputs)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	var first map[string]string
	if err := json.Unmarshal(records[0].Details, &first); err != nil || first["locationTheme"] != "Beach" {
		t.Errorf("json description not embedded: %s (%v)", records[0].Details, err)
	}
	var second map[string]string
	if err := json.Unmarshal(records[1].Details, &second); err != nil || second["raw_prompt"] != outputs[1].Description {
		t.Errorf("free-form description not wrapped: %s (%v)", records[1].Details, err)
	}
	if records[0].ImageID != "img_1" || records[1].ImageID != "img_2" {
		t.Errorf("image ids = %q, %q", records[0].ImageID, records[1].ImageID)
	}
}
