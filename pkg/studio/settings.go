// Package studio turns the user's stylistic settings and reference photos into
// immutable generation requests: one per output index of a batch.
package studio

import (
	"strings"
	"time"
)

// ColorTone selects the color grading instruction.
type ColorTone string

const (
	ToneBrightNatural  ColorTone = "Bright & Natural"
	ToneWarmGolden     ColorTone = "Warm & Golden"
	ToneBlackWhite     ColorTone = "Black & White"
	ToneSoftDreamy     ColorTone = "Soft & Dreamy"
	ToneMoodyCinematic ColorTone = "Moody & Cinematic"
	ToneVintage        ColorTone = "Vintage & Nostalgic"
)

// WomanStyle selects how the female subject's clothing is chosen.
type WomanStyle string

const (
	StyleReferencePhoto WomanStyle = "Reference Photo"
	StyleHijab          WomanStyle = "Hijab"
	StyleNoHijab        WomanStyle = "No Hijab"
)

// AspectRatio is the output frame ratio.
type AspectRatio string

const (
	Ratio4x5  AspectRatio = "4:5"
	Ratio1x1  AspectRatio = "1:1"
	Ratio16x9 AspectRatio = "16:9"
)

// Valid returns true for supported ratios.
func (r AspectRatio) Valid() bool {
	return r == Ratio4x5 || r == Ratio1x1 || r == Ratio16x9
}

// CameraShot is the framing of the subjects.
type CameraShot string

const (
	ShotFullBody      CameraShot = "Full Body Shot"
	ShotMedium        CameraShot = "Medium Shot"
	ShotCloseUp       CameraShot = "Close-up"
	ShotCloseUpMale   CameraShot = "Close-up Male"
	ShotCloseUpFemale CameraShot = "Close-up Female"
	ShotRandom        CameraShot = "Random"
)

// ReferenceMode says how identity photos are supplied.
type ReferenceMode string

const (
	// ModeSeparate uses one photo per person (front view required for both).
	ModeSeparate ReferenceMode = "separate"

	// ModeCouple uses a single photo of both people.
	ModeCouple ReferenceMode = "couple"
)

// ThemeMode says how a custom location theme is given.
type ThemeMode string

const (
	ThemeModePrompt ThemeMode = "prompt"
	ThemeModeImage  ThemeMode = "image"
)

// imageThemeLabel is the theme name used when the location comes from an image.
const imageThemeLabel = "From the reference image"

// Settings holds the stylistic configuration of a batch.
type Settings struct {
	ImageCount           int           `json:"imageCount"`
	Delay                int           `json:"delay"` // seconds between outputs
	LocationTheme        string        `json:"locationTheme"`
	CustomLocationTheme  string        `json:"customLocationTheme"`
	UseCustomTheme       bool          `json:"useCustomTheme"`
	CustomThemeMode      ThemeMode     `json:"customThemeMode"`
	ColorTone            ColorTone     `json:"colorTone"`
	WomanStyle           WomanStyle    `json:"womanStyle"`
	AspectRatio          AspectRatio   `json:"aspectRatio"`
	CameraShot           CameraShot    `json:"cameraShot"`
	NegativePrompts      []string      `json:"selectedNegativePrompts"`
	CustomNegativePrompt string        `json:"customNegativePrompt"`
	ReferenceMode        ReferenceMode `json:"referenceMode"`
	LocationReference    *Reference    `json:"locationReferenceImage,omitempty"`
}

// DefaultSettings returns the settings of a fresh studio.
func DefaultSettings() Settings {
	return Settings{
		ImageCount:      5,
		Delay:           5,
		LocationTheme:   "Everyday Life",
		CustomThemeMode: ThemeModePrompt,
		ColorTone:       ToneBrightNatural,
		WomanStyle:      StyleReferencePhoto,
		AspectRatio:     Ratio4x5,
		CameraShot:      ShotRandom,
		ReferenceMode:   ModeSeparate,
	}
}

// Normalize fills zero-valued fields with defaults.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.ImageCount <= 0 {
		s.ImageCount = d.ImageCount
	}
	if s.Delay < 0 {
		s.Delay = 0
	}
	if s.LocationTheme == "" {
		s.LocationTheme = d.LocationTheme
	}
	if s.CustomThemeMode == "" {
		s.CustomThemeMode = d.CustomThemeMode
	}
	if s.ColorTone == "" {
		s.ColorTone = d.ColorTone
	}
	if s.WomanStyle == "" {
		s.WomanStyle = d.WomanStyle
	}
	if !s.AspectRatio.Valid() {
		s.AspectRatio = d.AspectRatio
	}
	if s.CameraShot == "" {
		s.CameraShot = d.CameraShot
	}
	if s.ReferenceMode == "" {
		s.ReferenceMode = d.ReferenceMode
	}
	return s
}

// DelayDuration returns the pause between consecutive outputs.
func (s Settings) DelayDuration() time.Duration {
	return time.Duration(s.Delay) * time.Second
}

// Theme returns the effective location theme.
func (s Settings) Theme() string {
	if !s.UseCustomTheme {
		return s.LocationTheme
	}
	if s.CustomThemeMode == ThemeModeImage {
		return imageThemeLabel
	}
	return strings.TrimSpace(s.CustomLocationTheme)
}

// UsesLocationImage reports whether the location comes from a reference image.
func (s Settings) UsesLocationImage() bool {
	return s.UseCustomTheme && s.CustomThemeMode == ThemeModeImage
}
