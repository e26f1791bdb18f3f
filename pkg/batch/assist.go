package batch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// Burst sizes.
const (
	DefaultBurstSize = 3
	MaxBurstSize     = 6
)

// EnhanceTheme rewrites a custom location theme into a richer one.
func (r *StudioRunner) EnhanceTheme(ctx context.Context, theme string) (string, error) {
	if strings.TrimSpace(theme) == "" {
		return "", studio.ErrEmptyText
	}
	return r.enhance(ctx, "theme", studio.ThemeEnhancePrompt(theme))
}

// EnhanceOutfit rewrites a clothing description into a more detailed one.
func (r *StudioRunner) EnhanceOutfit(ctx context.Context, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", studio.ErrEmptyText
	}
	return r.enhance(ctx, "outfit", studio.OutfitEnhancePrompt(description))
}

func (r *StudioRunner) enhance(ctx context.Context, what, prompt string) (string, error) {
	text, err := credential.Call(ctx, r.pool, r.client.TextCall(prompt), nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("target", what).Msg("Enhancement failed")
		return "", err
	}
	text = studio.CleanGenerated(text)
	if text == "" {
		return "", apierror.New(apierror.ClassTransient, http.StatusOK, "enhanced "+what+" is empty")
	}
	return text, nil
}

// ChangeOutfit redresses the person in ref and returns the new photo as a
// data URL. The reference itself is left untouched.
func (r *StudioRunner) ChangeOutfit(ctx context.Context, ref studio.Reference, description string, style studio.WomanStyle) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", studio.ErrEmptyText
	}
	prompt := studio.OutfitChangePrompt(ref.Subject, description, style)
	img, err := credential.Call(ctx, r.pool, r.client.RegenerateCall(prompt, []studio.Reference{ref}), nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", string(ref.Subject)).Msg("Outfit change failed")
		return "", err
	}
	return img.DataURL(), nil
}

// Burst renders n alternatives of output id from its stored description and
// refs, one call at a time. It stops at the first failure and returns the
// candidates produced so far with the error. The output is not changed until
// a candidate is picked with SelectBurstWinner.
func (r *StudioRunner) Burst(ctx context.Context, id string, n int, refs []studio.Reference) ([]string, error) {
	if n == 0 {
		n = DefaultBurstSize
	}
	if n < 1 || n > MaxBurstSize {
		return nil, ErrInvalidCount
	}
	out, ok := r.orch.Outputs().Get(id)
	if !ok {
		return nil, ErrOutputNotFound
	}

	candidates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		img, err := credential.Call(ctx, r.pool, r.client.RegenerateCall(out.Description, refs), nil)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("output_id", id).
				Int("produced", len(candidates)).
				Msg("Burst stopped")
			return candidates, err
		}
		candidates = append(candidates, img.DataURL())
	}
	return candidates, nil
}

// SelectBurstWinner replaces the image of output id with a burst candidate.
// The description stays, since the candidate was rendered from it.
func (r *StudioRunner) SelectBurstWinner(id, image string) (Output, error) {
	if _, _, err := parseDataURL(image); err != nil {
		return Output{}, err
	}
	out, ok := r.orch.Outputs().Get(id)
	if !ok {
		return Output{}, ErrOutputNotFound
	}
	if err := r.orch.Outputs().Replace(id, image, out.Description); err != nil {
		return Output{}, err
	}
	out.Image = image
	return out, nil
}

// ReferenceFromDataURL turns a generated photo into a reference photo of
// subject, for example to adopt the result of ChangeOutfit.
func ReferenceFromDataURL(url string, subject studio.Subject, angle studio.Angle) (studio.Reference, error) {
	mime, data, err := parseDataURL(url)
	if err != nil {
		return studio.Reference{}, err
	}
	return studio.Reference{
		ID:       fmt.Sprintf("%s-%s", subject, angle),
		Subject:  subject,
		Angle:    angle,
		MimeType: mime,
		Data:     data,
	}, nil
}
