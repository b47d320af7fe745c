package media

import (
	"fmt"
	"strings"
)

// Level is an outgoing quality level, ordered from lowest to highest.
type Level int

const (
	LevelAuto Level = iota
	LevelHigh
	LevelUltra
)

var levelNames = [...]string{"auto", "high", "ultra"}

func (l Level) String() string {
	if l < LevelAuto || l > LevelUltra {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Levels lists every level from lowest to highest.
func Levels() []Level {
	return []Level{LevelAuto, LevelHigh, LevelUltra}
}

// ParseLevel parses a level name (case-insensitive). Short names hi and
// 720p/1080p are accepted for high and ultra.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return LevelAuto, nil
	case "hi", "high", "720p":
		return LevelHigh, nil
	case "ultra", "1080p":
		return LevelUltra, nil
	}
	return LevelAuto, fmt.Errorf("unknown quality %q (want auto, high or ultra)", s)
}

// Profile is the resolution, framerate and bitrate target of a level.
// A zero Width marks a passthrough profile that captures the surface directly.
type Profile struct {
	Level       Level
	Width       int
	Height      int
	FPS         int
	Bitrate     int // bits per second
	Description string
}

// Synthetic reports whether the profile needs a re-rendered stream.
func (p Profile) Synthetic() bool {
	return p.Width > 0 && p.Height > 0
}

// Profiles maps each level to its profile.
type Profiles [3]Profile

// DefaultProfiles are the built-in quality targets.
var DefaultProfiles = Profiles{
	{Level: LevelAuto, FPS: 30, Bitrate: 600_000, Description: "passthrough, 600 kbps"},
	{Level: LevelHigh, Width: 1280, Height: 720, FPS: 30, Bitrate: 1_500_000, Description: "720p, 1.5 Mbps"},
	{Level: LevelUltra, Width: 1920, Height: 1080, FPS: 30, Bitrate: 3_500_000, Description: "1080p, 3.5 Mbps"},
}

// Lookup returns the profile for l, or the auto profile for an unknown level.
func (p Profiles) Lookup(l Level) Profile {
	if l < LevelAuto || l > LevelUltra {
		return p[LevelAuto]
	}
	return p[l]
}

// WithBitrates returns a copy with the given per-level bitrates. Non-positive
// values keep the existing target.
func (p Profiles) WithBitrates(auto, high, ultra int) Profiles {
	for i, br := range []int{auto, high, ultra} {
		if br > 0 {
			p[i].Bitrate = br
		}
	}
	return p
}

// WithFPS returns a copy with every level's framerate set to fps.
func (p Profiles) WithFPS(fps int) Profiles {
	if fps <= 0 {
		return p
	}
	for i := range p {
		p[i].FPS = fps
	}
	return p
}
