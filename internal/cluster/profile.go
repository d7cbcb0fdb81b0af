package cluster

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidProfile = errors.New("invalid clustering profile")

type Density string

const (
	DensityLess   Density = "less"
	DensityMedium Density = "medium"
	DensityMore   Density = "more"
)

type Tone string

const (
	ToneClear    Tone = "clear"
	ToneBalanced Tone = "balanced"
	TonePlayful  Tone = "playful"
)

type Mode string

const (
	ModeTopic    Mode = "topic"
	ModeCategory Mode = "category"
)

// Profile is the user-facing clustering configuration.
type Profile struct {
	Density Density `json:"folder_density"`
	Tone    Tone    `json:"naming_tone"`
	Mode    Mode    `json:"organization_mode"`
}

// Shape bounds the tree: leaves hold at most TargetLeafSize items unless forced,
// a node has at most MaxChildren children and no child below MinChildSize survives a split.
type Shape struct {
	TargetLeafSize int
	MaxChildren    int
	MinChildSize   int
}

var shapes = map[Density]Shape{
	DensityLess:   {TargetLeafSize: 20, MaxChildren: 4, MinChildSize: 5},
	DensityMedium: {TargetLeafSize: 14, MaxChildren: 4, MinChildSize: 3},
	DensityMore:   {TargetLeafSize: 8, MaxChildren: 6, MinChildSize: 2},
}

func DefaultProfile() Profile {
	return Profile{Density: DensityMedium, Tone: ToneBalanced, Mode: ModeTopic}
}

// ParseProfile validates the three options. Empty values take the defaults.
func ParseProfile(density, tone, mode string) (Profile, error) {
	p := DefaultProfile()

	if d := Density(strings.ToLower(strings.TrimSpace(density))); d != "" {
		if _, ok := shapes[d]; !ok {
			return p, fmt.Errorf("%w: folder density %q", ErrInvalidProfile, density)
		}
		p.Density = d
	}

	switch t := Tone(strings.ToLower(strings.TrimSpace(tone))); t {
	case "":
	case ToneClear, ToneBalanced, TonePlayful:
		p.Tone = t
	default:
		return p, fmt.Errorf("%w: naming tone %q", ErrInvalidProfile, tone)
	}

	switch m := Mode(strings.ToLower(strings.TrimSpace(mode))); m {
	case "":
	case ModeTopic, ModeCategory:
		p.Mode = m
	default:
		return p, fmt.Errorf("%w: organization mode %q", ErrInvalidProfile, mode)
	}

	return p, nil
}

// Normalize fills empty fields with defaults and validates the rest.
func (p Profile) Normalize() (Profile, error) {
	return ParseProfile(string(p.Density), string(p.Tone), string(p.Mode))
}

func (p Profile) Shape() Shape {
	if s, ok := shapes[p.Density]; ok {
		return s
	}
	return shapes[DensityMedium]
}
