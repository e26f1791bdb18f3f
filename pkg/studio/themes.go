package studio

// ThemeGroup is a named list of location themes.
type ThemeGroup struct {
	Name   string   `json:"name"`
	Themes []string `json:"themes"`
}

// studioGroup holds themes that get a once-per-session studio set description.
var studioGroup = ThemeGroup{
	Name: "Studio & Concept",
	Themes: []string{
		"Minimalist Studio (White Backdrop)", "Solid Color Backdrop Studio", "Bohemian Concept Studio",
		"Floral & Botanical Studio", "Industrial Studio (Brick Wall)", "Cozy Home Concept Studio",
		"Vintage & Retro Studio", "Dark & Moody Studio (Low Key)", "Studio with Unique Props",
		"Projection & Neon Light Studio",
	},
}

// ThemeGroups lists the predefined location themes.
var ThemeGroups = []ThemeGroup{
	studioGroup,
	{Name: "Indonesia", Themes: []string{"Everyday Life", "Campus Story", "Traditional Market", "Old Town", "Batik Shop", "Countryside", "Tropical Forest", "Street Food", "Bali", "Yogyakarta", "Bromo", "Raja Ampat", "Sumba", "Lake Toba"}},
	{Name: "Asia Pacific", Themes: []string{"Tokyo", "Kyoto", "Nara (Japan)", "Seoul (Korea)", "Thailand", "Vietnam", "Singapore", "New Zealand", "Australia"}},
	{Name: "Europe", Themes: []string{"Paris", "Santorini", "Rome", "Venice", "London", "Prague", "Tuscany", "Switzerland", "Iceland"}},
	{Name: "Americas & Middle East", Themes: []string{"New York City", "Grand Canyon", "California", "Cappadocia (Turkey)", "Dubai", "Morocco"}},
}

// IsStudioTheme reports whether theme is one of the studio concepts.
func IsStudioTheme(theme string) bool {
	for _, t := range studioGroup.Themes {
		if t == theme {
			return true
		}
	}
	return false
}

// BaseNegativePrompts are always excluded from outputs.
var BaseNegativePrompts = []string{"white border", "frame", "polaroid", "text", "watermark"}

// NegativePromptOptions are the selectable exclusions.
var NegativePromptOptions = []string{
	"blurry", "low resolution", "distorted face", "extra fingers", "bad anatomy",
	"cartoon", "oversaturated", "duplicate people", "crowd", "logo",
}

var colorToneInstructions = map[ColorTone]string{
	ToneBrightNatural:  "A bright and airy look with soft, diffused daylight. **Crucially, maintain a neutral to cool white balance for true-to-life skin tones and pure whites.** Avoid strong yellow, orange, or golden casts. Emphasize natural colors without oversaturation for a clean, professional DSLR aesthetic.",
	ToneWarmGolden:     "**CRITICAL INSTRUCTION: The final image MUST have a warm, golden hour lighting effect with a romantic, amber glow.** Avoid cool or neutral tones.",
	ToneBlackWhite:     "**CRITICAL INSTRUCTION: The final image MUST be in high-contrast black and white.** Do not generate any color in the image.",
	ToneSoftDreamy:     "Create a soft, dreamy, and ethereal look with a pastel color palette. Use a slight haze or bloom effect. Colors should be desaturated and light.",
	ToneMoodyCinematic: "Generate a moody, cinematic look with deep shadows, rich contrast, and desaturated colors. The lighting should be dramatic, like a scene from an indie film.",
	ToneVintage:        "Apply a vintage film aesthetic like a photograph from the 70s or 80s: a warm, slightly faded color cast, subtle film grain, and slightly reduced sharpness.",
}

// ColorToneInstruction returns the grading instruction for tone, falling back
// to the bright natural look.
func ColorToneInstruction(tone ColorTone) string {
	if s, ok := colorToneInstructions[tone]; ok {
		return s
	}
	return colorToneInstructions[ToneBrightNatural]
}
