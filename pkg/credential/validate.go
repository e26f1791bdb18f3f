package credential

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
)

// Check validates one secret against the remote service with a cheap call.
type Check func(ctx context.Context, secret string) error

// ValidationResult is the outcome of validating one credential.
type ValidationResult struct {
	ID     string `json:"id"`
	Masked string `json:"masked"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatusForCheck maps a check error onto a credential status. Transient
// failures leave the current status unchanged.
func StatusForCheck(current Status, err error) Status {
	if err == nil {
		return StatusActive
	}
	switch apierror.ClassOf(err) {
	case apierror.ClassAuth:
		return StatusInvalid
	case apierror.ClassQuota:
		return StatusExhausted
	default:
		return current
	}
}

// ValidateAll checks every credential in parallel and stores the resulting
// statuses. Results are returned in pool order.
func (p *Pool) ValidateAll(ctx context.Context, check Check) ([]ValidationResult, error) {
	creds, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	results := make([]ValidationResult, len(creds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ValidateConcurrency)

	for i, cred := range creds {
		g.Go(func() error {
			checkErr := check(gctx, cred.Value)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			status := StatusForCheck(cred.Status, checkErr)
			results[i] = ValidationResult{ID: cred.ID, Masked: cred.Masked, Status: status}
			if checkErr != nil {
				results[i].Error = checkErr.Error()
			}
			if status != cred.Status {
				p.transition(gctx, cred, status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info().Int("count", len(creds)).Msg("Credentials validated")
	return results, nil
}
