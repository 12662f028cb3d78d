package types

// Character is a persona definition resolved from the catalog.
type Character struct {
	ID       string             `json:"id" yaml:"id"`
	Name     string             `json:"name" yaml:"name"`
	Versions []CharacterVersion `json:"versions" yaml:"versions"`
	Stories  []Story            `json:"stories,omitempty" yaml:"stories,omitempty"`
	// InitialState seeds the emotional state on first contact. Nil means fallback defaults.
	InitialState *EmotionalBaseline `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`
	// Sampling overrides the configured chat sampling defaults.
	Sampling *SamplingPreset `json:"sampling,omitempty" yaml:"sampling,omitempty"`
}

// CharacterVersion is one revision of a persona card.
type CharacterVersion struct {
	ID           string `json:"id" yaml:"id"`
	Active       bool   `json:"active" yaml:"active"`
	Voice        string `json:"voice" yaml:"voice"`
	ContentRules string `json:"content_rules" yaml:"content_rules"`
	Persona      string `json:"persona" yaml:"persona"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	StyleRules   string `json:"style_rules" yaml:"style_rules"`
}

// Story is a scripted arc a dialog can be bound to.
type Story struct {
	ID    string   `json:"id" yaml:"id"`
	Title string   `json:"title" yaml:"title"`
	Nodes []string `json:"nodes" yaml:"nodes"`
}

// EmotionalBaseline holds character-defined initial relationship values.
type EmotionalBaseline struct {
	Attraction int  `json:"attraction" yaml:"attraction"`
	Trust      int  `json:"trust" yaml:"trust"`
	Affection  int  `json:"affection" yaml:"affection"`
	Dominance  int  `json:"dominance" yaml:"dominance"`
	Mood       Mood `json:"mood" yaml:"mood"`
}

// SamplingPreset is a per-character model override.
type SamplingPreset struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ActiveVersion returns the version marked active, falling back to the first one.
func (c *Character) ActiveVersion() *CharacterVersion {
	if c == nil || len(c.Versions) == 0 {
		return nil
	}
	for i := range c.Versions {
		if c.Versions[i].Active {
			return &c.Versions[i]
		}
	}
	return &c.Versions[0]
}

// StoryByID finds a story of the character.
func (c *Character) StoryByID(id string) *Story {
	if c == nil || id == "" {
		return nil
	}
	for i := range c.Stories {
		if c.Stories[i].ID == id {
			return &c.Stories[i]
		}
	}
	return nil
}
