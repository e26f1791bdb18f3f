package studio

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// Subject identifies who a reference photo shows.
type Subject string

const (
	SubjectMale   Subject = "male"
	SubjectFemale Subject = "female"
	SubjectCouple Subject = "couple"
)

// Angle is the camera angle of a reference photo.
type Angle string

const (
	AngleFront Angle = "front"
	AngleSide  Angle = "side"
)

// Reference is an uploaded photo used to anchor identity or location.
type Reference struct {
	ID       string  `json:"id"`
	Subject  Subject `json:"subject"`
	Angle    Angle   `json:"angle"`
	MimeType string  `json:"mimeType"`
	Data     string  `json:"base64"`
}

// ErrUnsupportedImage is returned for reference photos that are not images
// the model accepts.
var ErrUnsupportedImage = errors.New("unsupported reference image")

var allowedMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// NewReference builds a reference from raw photo bytes. The MIME type is
// detected from the content.
func NewReference(subject Subject, angle Angle, data []byte) (Reference, error) {
	if len(data) == 0 {
		return Reference{}, fmt.Errorf("%w: file is empty", ErrUnsupportedImage)
	}
	mime := mimetype.Detect(data).String()
	if !allowedMIMEs[mime] {
		return Reference{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, mime)
	}
	return Reference{
		ID:       fmt.Sprintf("%s-%s", subject, angle),
		Subject:  subject,
		Angle:    angle,
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Sniff fills a missing MIME type from the payload.
func (r Reference) Sniff() (Reference, error) {
	if r.MimeType != "" {
		return r, nil
	}
	data, err := r.Bytes()
	if err != nil {
		return r, fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, r.ID, err)
	}
	detected, err := NewReference(r.Subject, r.Angle, data)
	if err != nil {
		return r, err
	}
	r.MimeType = detected.MimeType
	return r, nil
}

// Bytes decodes the base64 payload.
func (r Reference) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Data)
}

// Label describes the photo for the model.
func (r Reference) Label() string {
	switch r.Subject {
	case SubjectMale:
		return fmt.Sprintf("Reference photo of the man (%s view):", r.Angle)
	case SubjectFemale:
		return fmt.Sprintf("Reference photo of the woman (%s view):", r.Angle)
	default:
		return "Reference photo of the couple:"
	}
}

// Precondition errors. No remote call is made when one is returned.
var (
	ErrMissingReference = errors.New("missing reference photo")
	ErrMissingTheme     = errors.New("missing location theme")
)

// ValidationError reports an unmet batch precondition.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Preconditions checks that settings and references are sufficient to start
// a batch.
func Preconditions(s Settings, refs []Reference) error {
	switch s.ReferenceMode {
	case ModeCouple:
		if len(refs) == 0 {
			return &ValidationError{Reason: "couple mode needs one couple photo", Err: ErrMissingReference}
		}
	default:
		if !hasReference(refs, SubjectMale, AngleFront) || !hasReference(refs, SubjectFemale, AngleFront) {
			return &ValidationError{Reason: "separate mode needs a front photo of both the man and the woman", Err: ErrMissingReference}
		}
	}

	if s.UseCustomTheme {
		switch s.CustomThemeMode {
		case ThemeModeImage:
			if s.LocationReference == nil || s.LocationReference.Data == "" {
				return &ValidationError{Reason: "image theme needs a location reference photo", Err: ErrMissingReference}
			}
		default:
			if s.Theme() == "" {
				return &ValidationError{Reason: "custom theme is empty", Err: ErrMissingTheme}
			}
		}
	}
	return nil
}

func hasReference(refs []Reference, subject Subject, angle Angle) bool {
	for _, r := range refs {
		if r.Subject == subject && r.Angle == angle {
			return true
		}
	}
	return false
}

// SetReference places ref into refs following the upload rules: a couple photo
// replaces everything; a personal photo replaces the same subject and angle.
func SetReference(refs []Reference, ref Reference) []Reference {
	if ref.Subject == SubjectCouple {
		return []Reference{ref}
	}
	out := make([]Reference, 0, len(refs)+1)
	for _, r := range refs {
		if r.Subject == ref.Subject && r.Angle == ref.Angle {
			continue
		}
		out = append(out, r)
	}
	return append(out, ref)
}
