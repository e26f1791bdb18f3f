package studio

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

const photoStyle = "a cinematic wide shot like a movie scene"

const poseConstraint = "The couple must NOT be kissing on the lips or face. Poses can be intimate and romantic (like holding hands, hugging, leaning on each other), but must absolutely avoid any form of mouth-to-mouth or mouth-to-cheek kissing."

// Request is the immutable description of one output to generate.
type Request struct {
	Index             int
	Scenario          Scenario
	LocationTheme     string
	StyleInstruction  string
	NegativePrompt    string
	AspectRatio       AspectRatio
	CameraShot        CameraShot
	ColorTone         ColorTone
	WomanStyle        WomanStyle
	ReferenceMode     ReferenceMode
	StudioDescription string
	References        []Reference
	LocationReference *Reference
}

// Prompt renders the text part of the generation call.
func (r Request) Prompt() string {
	var b strings.Builder

	b.WriteString("Create a photorealistic pre-wedding photograph of the couple shown in the reference photos.\n")
	b.WriteString("Preserve both faces exactly; identity must match the references.\n\n")

	fmt.Fprintf(&b, "**Scene:** %s\n", r.Scenario.Scene)
	fmt.Fprintf(&b, "**Emotion:** %s\n", r.Scenario.Emotion)
	if r.LocationReference != nil {
		b.WriteString("**Location:** Recreate the location shown in the location reference photo.\n")
	} else {
		fmt.Fprintf(&b, "**Location:** %s\n", r.LocationTheme)
	}
	if r.StudioDescription != "" {
		fmt.Fprintf(&b, "**Studio set (keep identical across the session):** %s\n", r.StudioDescription)
	}
	fmt.Fprintf(&b, "**Camera shot:** %s\n", r.CameraShot)
	fmt.Fprintf(&b, "**Aspect ratio:** %s\n", r.AspectRatio)
	fmt.Fprintf(&b, "**Clothing:** %s\n", r.clothing())

	b.WriteString("\n**Style & color:**\n")
	b.WriteString(r.StyleInstruction)
	b.WriteString("\n")

	if r.NegativePrompt != "" {
		fmt.Fprintf(&b, "\n- **Prohibited Content (Strictly Avoid):** The image must NOT contain any of the following elements: %s.", r.NegativePrompt)
	}
	fmt.Fprintf(&b, "\n- **Pose Constraint (Strictly Follow):** %s", poseConstraint)
	return b.String()
}

func (r Request) clothing() string {
	switch r.WomanStyle {
	case StyleHijab:
		return "Coordinated outfits chosen to fit the scene; the woman wears an elegant hijab."
	case StyleNoHijab:
		return "Coordinated outfits chosen to fit the scene; the woman does not wear a hijab."
	default:
		return "Keep the clothing from the reference photos."
	}
}

// description is the serialized parameter record stored with an output.
type description struct {
	LocationTheme     string      `json:"locationTheme"`
	ScenarioScene     string      `json:"scenarioScene"`
	ScenarioEmotion   string      `json:"scenarioEmotion"`
	ColorTone         ColorTone   `json:"colorTone"`
	WomanStyle        WomanStyle  `json:"womanStyle"`
	AspectRatio       AspectRatio `json:"aspectRatio"`
	CameraShot        CameraShot  `json:"cameraShot"`
	Clothing          string      `json:"clothing"`
	StudioDescription string      `json:"studioDescription,omitempty"`
	NegativePrompt    string      `json:"negativePrompt"`
}

// Describe renders the parameters used for this output as indented JSON.
func (r Request) Describe() string {
	clothing := "Generated from the selected style"
	if r.WomanStyle == StyleReferencePhoto {
		clothing = "Follows the clothing in the reference photos"
	}
	data, _ := json.MarshalIndent(description{
		LocationTheme:     r.LocationTheme,
		ScenarioScene:     r.Scenario.Scene,
		ScenarioEmotion:   r.Scenario.Emotion,
		ColorTone:         r.ColorTone,
		WomanStyle:        r.WomanStyle,
		AspectRatio:       r.AspectRatio,
		CameraShot:        r.CameraShot,
		Clothing:          clothing,
		StudioDescription: r.StudioDescription,
		NegativePrompt:    r.NegativePrompt,
	}, "", "  ")
	return string(data)
}

// Planner builds the Request for each index of a batch.
type Planner struct {
	settings          Settings
	references        []Reference
	studioDescription string
	negative          string
	style             string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPlanner creates a planner. rng picks camera shots in Random mode.
func NewPlanner(s Settings, refs []Reference, studioDescription string, rng *rand.Rand) *Planner {
	s = s.Normalize()
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Planner{
		settings:          s,
		references:        append([]Reference(nil), refs...),
		studioDescription: studioDescription,
		negative:          NegativePrompt(s),
		style:             fmt.Sprintf("- Style: %s\n- Color & Tone: %s", photoStyle, ColorToneInstruction(s.ColorTone)),
		rng:               rng,
	}
}

// RequestFor builds the request of output index. Scenarios are cycled.
func (p *Planner) RequestFor(index int, scenarios []Scenario) Request {
	sc := padScenario
	if len(scenarios) > 0 {
		sc = scenarios[index%len(scenarios)]
	}

	req := Request{
		Index:             index,
		Scenario:          sc,
		LocationTheme:     p.settings.Theme(),
		StyleInstruction:  p.style,
		NegativePrompt:    p.negative,
		AspectRatio:       p.settings.AspectRatio,
		CameraShot:        p.shot(),
		ColorTone:         p.settings.ColorTone,
		WomanStyle:        p.settings.WomanStyle,
		ReferenceMode:     p.settings.ReferenceMode,
		StudioDescription: p.studioDescription,
		References:        p.references,
	}
	if p.settings.UsesLocationImage() {
		req.LocationReference = p.settings.LocationReference
	}
	return req
}

func (p *Planner) shot() CameraShot {
	if p.settings.CameraShot != ShotRandom {
		return p.settings.CameraShot
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng.Intn(2) == 0 {
		return ShotFullBody
	}
	return ShotMedium
}

// NegativePrompt joins the base, selected, and comma-separated custom
// exclusions, keeping the first occurrence of each.
func NegativePrompt(s Settings) string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}

	for _, v := range BaseNegativePrompts {
		add(v)
	}
	for _, v := range s.NegativePrompts {
		add(v)
	}
	for _, v := range strings.Split(s.CustomNegativePrompt, ",") {
		add(v)
	}
	return strings.Join(out, ", ")
}
