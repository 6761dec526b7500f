/*
Package factory provides YAML to Go award conversion.

PURPOSE:
  Converts the screen award table into orchestrator configs, so which
  screen pays what is data, not code. A screen that only knows its own
  key can ask the table how it should be rewarded.

YAML SCHEMA:
  screens:
    CursoN5Screen: { points: 10, achievement: n5_explorador, mode: onEnter }
  patterns:
    - name: explorer
      test: '(?i)(Intro|Browse|Menu|Hub)'
      points: 5
      mode: onEnter
      achievement_prefix: explorer

RESOLUTION ORDER:
  1. Exact key
  2. Exact key + ".tsx"
  3. First matching pattern (achievement id derived from the prefix)

USAGE:
  table, err := factory.LoadAwardTable(cfg.AwardsFile) // "" = embedded default
  if award, ok := table.Resolve("N3_B3_U7_PracticeScreen"); ok {
      orchestrator.CompleteScreen(ctx, uid, key, award.CompleteConfig())
  }

SEE ALSO:
  - awards.yaml: Embedded default table
  - rewards/types.go: EnterConfig and CompleteConfig
*/
package factory

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/progress-ledger/rewards"
)

//go:embed awards.yaml
var defaultAwardsYAML []byte

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// AwardTableYAML is the file layout of an award table.
type AwardTableYAML struct {
	Screens  map[string]ScreenAwardYAML `yaml:"screens"`
	Patterns []PatternYAML              `yaml:"patterns"`
}

// ScreenAwardYAML is one exact entry.
type ScreenAwardYAML struct {
	Points      int64  `yaml:"points"`
	Achievement string `yaml:"achievement"`
	Mode        string `yaml:"mode"`
}

// PatternYAML covers a family of screens.
type PatternYAML struct {
	Name              string `yaml:"name"`
	Test              string `yaml:"test"`
	Points            int64  `yaml:"points"`
	Mode              string `yaml:"mode"`
	AchievementPrefix string `yaml:"achievement_prefix"`
}

// =============================================================================
// AWARDS
// =============================================================================

// Mode says which transition pays.
type Mode string

const (
	ModeOnEnter   Mode = "onEnter"
	ModeOnSuccess Mode = "onSuccess"
)

// Award is the resolved reward of one screen.
type Award struct {
	ScreenKey     string `json:"screen_key"`
	Points        int64  `json:"points"`
	AchievementID string `json:"achievement_id,omitempty"`
	Mode          Mode   `json:"mode"`
	Source        string `json:"source"` // "exact" or the pattern name
}

// EnterConfig is the entry side of the award. onSuccess awards pay nothing
// on entry.
func (a Award) EnterConfig() rewards.EnterConfig {
	if a.Mode != ModeOnEnter {
		return rewards.EnterConfig{}
	}
	return rewards.EnterConfig{
		XPOnEnter:     a.Points,
		AchievementID: a.AchievementID,
		Meta:          map[string]any{"award": a.Source},
	}
}

// CompleteConfig is the completion side of the award. The achievement
// carries 0 XP: points are paid once, through the screen.
func (a Award) CompleteConfig() rewards.CompleteConfig {
	if a.Mode != ModeOnSuccess {
		return rewards.CompleteConfig{}
	}
	return rewards.CompleteConfig{
		XPOnSuccess:   a.Points,
		AchievementID: a.AchievementID,
		Meta:          map[string]any{"award": a.Source},
	}
}

type pattern struct {
	name   string
	re     *regexp.Regexp
	points int64
	mode   Mode
	prefix string
}

// AwardTable resolves screen keys to awards. Safe for concurrent reads.
type AwardTable struct {
	screens  map[string]Award
	patterns []pattern
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultAwardTable returns the embedded table.
func DefaultAwardTable() *AwardTable {
	t, err := ParseAwardTable(defaultAwardsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded award table: %v", err))
	}
	return t
}

// LoadAwardTable reads a table from path, or the embedded default when
// path is empty.
func LoadAwardTable(path string) (*AwardTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultAwardTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read award table %s: %w", path, err)
	}
	t, err := ParseAwardTable(data)
	if err != nil {
		return nil, fmt.Errorf("award table %s: %w", path, err)
	}
	return t, nil
}

// ParseAwardTable parses and validates a YAML table.
func ParseAwardTable(data []byte) (*AwardTable, error) {
	var raw AwardTableYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse award table: %w", err)
	}

	t := &AwardTable{screens: make(map[string]Award, len(raw.Screens))}
	for key, s := range raw.Screens {
		mode, err := parseMode(s.Mode)
		if err != nil {
			return nil, fmt.Errorf("screen %s: %w", key, err)
		}
		if s.Points < 0 {
			return nil, fmt.Errorf("screen %s: negative points %d", key, s.Points)
		}
		t.screens[key] = Award{
			ScreenKey:     key,
			Points:        s.Points,
			AchievementID: s.Achievement,
			Mode:          mode,
			Source:        "exact",
		}
	}

	for i, p := range raw.Patterns {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("pattern-%d", i)
		}
		re, err := regexp.Compile(p.Test)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", name, err)
		}
		mode, err := parseMode(p.Mode)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", name, err)
		}
		if p.Points < 0 {
			return nil, fmt.Errorf("pattern %s: negative points %d", name, p.Points)
		}
		t.patterns = append(t.patterns, pattern{name: name, re: re, points: p.Points, mode: mode, prefix: p.AchievementPrefix})
	}
	return t, nil
}

func parseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOnEnter, ModeOnSuccess:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want onEnter or onSuccess)", s)
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve finds the award for a screen key.
func (t *AwardTable) Resolve(screenKey string) (Award, bool) {
	if screenKey == "" {
		return Award{}, false
	}
	if a, ok := t.screens[screenKey]; ok {
		a.ScreenKey = screenKey
		return a, true
	}
	if a, ok := t.screens[screenKey+".tsx"]; ok {
		a.ScreenKey = screenKey
		return a, true
	}

	for _, p := range t.patterns {
		if !p.re.MatchString(screenKey) {
			continue
		}
		a := Award{ScreenKey: screenKey, Points: p.points, Mode: p.mode, Source: p.name}
		if p.prefix != "" {
			a.AchievementID = strings.ToLower(p.prefix + "_" + strings.TrimSuffix(screenKey, ".tsx"))
		}
		return a, true
	}
	return Award{}, false
}

// Len returns the number of exact entries plus patterns.
func (t *AwardTable) Len() int {
	return len(t.screens) + len(t.patterns)
}
