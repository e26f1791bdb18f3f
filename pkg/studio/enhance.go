package studio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when a text to enhance or an outfit description
// is blank.
var ErrEmptyText = errors.New("text is empty")

// ErrNoFrontReference is returned when an outfit change has no front photo of
// the subject to start from.
var ErrNoFrontReference = errors.New("no front reference photo for subject")

// ThemeEnhancePrompt asks the text model to turn a short custom location
// theme into a richer one.
func ThemeEnhancePrompt(theme string) string {
	return fmt.Sprintf(`You are a location scout for pre-wedding photo shoots. Expand the following location theme into one vivid,
specific sentence describing the place, its atmosphere, and the light, suitable as a theme for an AI image generator.
Output only the enhanced theme. Theme: %q`, strings.TrimSpace(theme))
}

// OutfitEnhancePrompt asks the text model to make a clothing description more
// detailed.
func OutfitEnhancePrompt(description string) string {
	return fmt.Sprintf(`You are a fashion stylist. Take the following clothing description and enhance it to be more detailed,
evocative, and specific for an AI image generator. Output only the enhanced description. Description: %q`, strings.TrimSpace(description))
}

// OutfitChangePrompt asks the image model to redress the person in a
// reference photo while keeping their identity.
func OutfitChangePrompt(subject Subject, description string, style WomanStyle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Using the provided photo of the person, change ONLY their clothing to: %q. ", strings.TrimSpace(description))
	b.WriteString("Keep the face, hair, body shape, pose, background and lighting exactly the same. ")
	if subject == SubjectFemale {
		switch style {
		case StyleHijab:
			b.WriteString("The woman wears a hijab that matches the new outfit. ")
		case StyleNoHijab:
			b.WriteString("The woman wears no head covering. ")
		}
	}
	b.WriteString("Output the edited photo directly.")
	return b.String()
}

// CleanGenerated strips whitespace and wrapping quotes the text model tends
// to add around a single answer.
func CleanGenerated(text string) string {
	text = strings.TrimSpace(text)
	for _, q := range []string{`"`, "'", "`"} {
		if len(text) >= 2 && strings.HasPrefix(text, q) && strings.HasSuffix(text, q) {
			text = strings.TrimSpace(text[1 : len(text)-1])
		}
	}
	return text
}

// FrontReference returns the front photo of subject.
func FrontReference(refs []Reference, subject Subject) (Reference, bool) {
	for _, r := range refs {
		if r.Subject == subject && r.Angle == AngleFront {
			return r, true
		}
	}
	return Reference{}, false
}
