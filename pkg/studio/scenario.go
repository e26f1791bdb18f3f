package studio

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Scenario is the scene and emotion of one output.
type Scenario struct {
	Scene   string `json:"scene"`
	Emotion string `json:"emotion"`
}

// padScenario fills short scenario lists.
var padScenario = Scenario{
	Scene:   "The couple shares a quiet, intimate moment.",
	Emotion: "A feeling of deep connection.",
}

// FallbackScenarios are used when scenario generation fails.
func FallbackScenarios() []Scenario {
	return []Scenario{
		{Scene: "A couple shares a candid laugh while sharing coffee at a small, cozy cafe.", Emotion: "Joyful intimacy"},
		{Scene: "Walking hand-in-hand along a misty forest path at dawn.", Emotion: "Serene connection"},
		{Scene: "A surprise proposal scene under blooming cherry blossoms in a quiet park.", Emotion: "Overwhelming happiness"},
		{Scene: "An intimate kitchen moment, playfully baking together with flour on their noses.", Emotion: "Playful affection"},
		{Scene: "Watching the city lights from a rooftop balcony, wrapped in a shared blanket.", Emotion: "Quiet contentment"},
		{Scene: "A farewell moment at a vintage train station, promising to return.", Emotion: "Bittersweet romance"},
	}
}

// FallbackFor returns n fallback scenarios: a shuffled fallback list cycled
// to length n.
func FallbackFor(n int, rng *rand.Rand) []Scenario {
	base := FallbackScenarios()
	rng.Shuffle(len(base), func(i, j int) { base[i], base[j] = base[j], base[i] })

	out := make([]Scenario, n)
	for i := range out {
		out[i] = base[i%len(base)]
	}
	return out
}

// CustomScenario is the single scenario repeated for a custom theme.
func CustomScenario(s Settings) Scenario {
	emotion := "Matching the custom description provided."
	if s.UsesLocationImage() {
		emotion = "Matching the mood of the reference image."
	}
	return Scenario{Scene: s.Theme(), Emotion: emotion}
}

// Repeat returns sc n times.
func Repeat(sc Scenario, n int) []Scenario {
	out := make([]Scenario, n)
	for i := range out {
		out[i] = sc
	}
	return out
}

// PadScenarios extends list to at least n entries with a generic scenario.
func PadScenarios(list []Scenario, n int) []Scenario {
	for len(list) < n {
		list = append(list, padScenario)
	}
	return list
}

// ScenarioPrompt asks the text model for n scenarios at theme.
func ScenarioPrompt(theme string, n int) string {
	return fmt.Sprintf(`You are a creative director for pre-wedding photo sessions.
Create %d distinct, romantic and natural photo scenarios for a couple at the location or theme "%s".
Each scenario needs a short visual scene description and the emotion it should convey.
Respond ONLY with a JSON array of objects with the keys "scene" and "emotion".`, n, theme)
}

// ErrNoScenarios is returned when a scenario response holds no usable entry.
var ErrNoScenarios = errors.New("no scenarios in response")

// ParseScenarios decodes the JSON array returned for ScenarioPrompt. Code
// fences and surrounding prose are ignored.
func ParseScenarios(text string) ([]Scenario, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, ErrNoScenarios
	}

	var raw []Scenario
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode scenarios: %w", err)
	}

	out := raw[:0]
	for _, sc := range raw {
		sc.Scene = strings.TrimSpace(sc.Scene)
		sc.Emotion = strings.TrimSpace(sc.Emotion)
		if sc.Scene != "" {
			out = append(out, sc)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoScenarios
	}
	return out, nil
}

// StudioPrompt asks the text model to design one studio set for the whole
// session so that every output shares the same backdrop.
func StudioPrompt(theme string) string {
	return fmt.Sprintf(`Design a single, detailed photo studio set for the concept "%s".
Describe the backdrop, props, floor, and lighting setup in one concise paragraph so that
a series of photos can be shot consistently in the same set. Respond with the description only.`, theme)
}

// VariationPrompt asks for a subtle variation of a reference output.
const VariationPrompt = "Based on the provided reference image, generate a new, slightly different creative variation. Keep the couple's appearance, clothing, and overall theme identical, but introduce a subtle change in their pose, expression, or the camera angle."

// EditPrompt asks for a single targeted edit of a reference output.
func EditPrompt(instruction string) string {
	return fmt.Sprintf("Using the provided image as a base, perform ONLY the following edit: %q. Maintain the original style, quality, and composition. Only change what is requested and keep the rest of the image identical. Output the edited image directly.", instruction)
}
