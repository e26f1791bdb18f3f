// Package session persists whole photo sessions: reference photos, outputs,
// settings and user credentials in one versioned JSON document.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// CurrentVersion is written by Encode. Decode also accepts 1.0.
const CurrentVersion = "1.1"

var supportedVersions = map[string]bool{"1.0": true, CurrentVersion: true}

var (
	// ErrUnsupportedVersion is returned for documents of an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported session version")

	// ErrNoDocument is returned when no document exists or it lacks settings.
	ErrNoDocument = errors.New("no session document")
)

// Key is a user credential as stored in a session document.
type Key struct {
	ID     string            `json:"id"`
	Value  string            `json:"value"`
	Masked string            `json:"masked,omitempty"`
	Status credential.Status `json:"status,omitempty"`
}

// Document is the persisted form of a session.
type Document struct {
	Version         string             `json:"version"`
	CreatedAt       time.Time          `json:"createdAt"`
	IdentityAnchors []studio.Reference `json:"identityAnchors"`
	GeneratedImages []batch.Output     `json:"generatedImages"`
	Settings        *studio.Settings   `json:"settings"`
	APIKeys         []Key              `json:"apiKeys"`
	PrimaryAPIKeyID string             `json:"primaryApiKeyId,omitempty"`
}

// New builds a current-version document. System credentials are left out.
func New(settings studio.Settings, refs []studio.Reference, outputs []batch.Output, creds []credential.Credential, primaryID string) Document {
	keys := make([]Key, 0, len(creds))
	for _, c := range creds {
		if c.System {
			continue
		}
		keys = append(keys, Key{ID: c.ID, Value: c.Value, Masked: c.Masked, Status: c.Status})
	}
	return Document{
		Version:         CurrentVersion,
		CreatedAt:       time.Now().UTC(),
		IdentityAnchors: refs,
		GeneratedImages: outputs,
		Settings:        &settings,
		APIKeys:         keys,
		PrimaryAPIKeyID: primaryID,
	}
}

// Encode serializes doc.
func Encode(doc Document) ([]byte, error) {
	if doc.Version == "" {
		doc.Version = CurrentVersion
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// Decode parses and normalizes a session document. Keys without a value are
// dropped; every key comes back unvalidated.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode session: %w", err)
	}
	if !supportedVersions[doc.Version] {
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, doc.Version)
	}
	if doc.Settings == nil {
		return Document{}, fmt.Errorf("%w: settings missing", ErrNoDocument)
	}

	settings := doc.Settings.Normalize()
	doc.Settings = &settings

	stamp := time.Now().UnixMilli()
	keys := doc.APIKeys[:0]
	for i, k := range doc.APIKeys {
		if k.Value == "" {
			continue
		}
		if k.ID == "" {
			k.ID = fmt.Sprintf("session_loaded_%d_%d", stamp, i)
		}
		if k.Masked == "" {
			k.Masked = credential.Mask(k.Value)
		}
		k.Status = credential.StatusUnvalidated
		keys = append(keys, k)
	}
	doc.APIKeys = keys
	return doc, nil
}

// Credentials returns the document keys as user credentials.
func (d Document) Credentials() []credential.Credential {
	out := make([]credential.Credential, 0, len(d.APIKeys))
	for _, k := range d.APIKeys {
		out = append(out, credential.Credential{ID: k.ID, Value: k.Value, Masked: k.Masked, Status: credential.StatusUnvalidated})
	}
	return out
}

// Apply loads the document into a pool and an orchestrator. The loaded
// outputs count as an achieved session. User credentials in the pool are
// replaced; the system credential stays. A primary id that is
// not in the pool afterwards is ignored.
func (d Document) Apply(ctx context.Context, pool *credential.Pool, orch *batch.Orchestrator) error {
	if err := orch.Restore(d.GeneratedImages); err != nil {
		return err
	}

	if err := pool.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	if creds := d.Credentials(); len(creds) > 0 {
		if err := pool.Store().Add(ctx, creds...); err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
	}
	if d.PrimaryAPIKeyID != "" {
		if err := pool.SetPrimary(ctx, d.PrimaryAPIKeyID); err != nil && !errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("set primary: %w", err)
		}
	}
	return nil
}
