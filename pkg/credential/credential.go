// Package credential implements the credential pool: a prioritized, rotatable
// list of API keys with per-key usability status, and the failover policy that
// decides which key serves each outbound generation call.
package credential

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status represents the usability of a credential.
type Status string

const (
	// StatusActive means the credential served at least one successful call.
	StatusActive Status = "active"

	// StatusInvalid means the remote service rejected the credential.
	StatusInvalid Status = "invalid"

	// StatusExhausted means the credential kept hitting its quota after a retry.
	StatusExhausted Status = "exhausted"

	// StatusUnvalidated means the credential has not been used or checked yet.
	StatusUnvalidated Status = "unvalidated"
)

// SystemCredentialID is the fixed identifier of the environment-provided key.
const SystemCredentialID = "system_key"

// Usable returns true if the credential may be selected for a call.
func (s Status) Usable() bool {
	return s == StatusActive || s == StatusUnvalidated
}

// Valid returns true for the four known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInvalid, StatusExhausted, StatusUnvalidated:
		return true
	default:
		return false
	}
}

// Credential is one secret used to authenticate outbound calls.
// Value is never logged or shown; Masked is the display form.
type Credential struct {
	ID     string `json:"id"`
	Value  string `json:"value"`
	Masked string `json:"masked"`
	Status Status `json:"status"`
	System bool   `json:"isSystem,omitempty"`
}

// Mask returns a display preview of a secret: the first and last four
// characters around an ellipsis. Short secrets are fully starred. Characters
// are counted as runes so the preview stays valid UTF-8.
func Mask(value string) string {
	runes := []rune(value)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-4:])
}

// NewUserCredential creates an unvalidated, user-provided credential.
func NewUserCredential(value string) Credential {
	value = strings.TrimSpace(value)
	return Credential{
		ID:     "key_" + uuid.NewString(),
		Value:  value,
		Masked: Mask(value),
		Status: StatusUnvalidated,
	}
}

// NewSystemCredential creates the environment-provided credential. It always
// sorts first in the pool and can be neither removed nor exported.
func NewSystemCredential(value, ownerID string) Credential {
	label := "System key (primary priority)"
	if owner := strings.TrimSpace(ownerID); owner != "" {
		label = fmt.Sprintf("System key (%s)", owner)
	}
	return Credential{
		ID:     SystemCredentialID,
		Value:  strings.TrimSpace(value),
		Masked: label,
		Status: StatusUnvalidated,
		System: true,
	}
}
