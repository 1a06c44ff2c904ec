package db

import (
	"encoding/json"
	"fmt"
)

// Defaults and hard limits for the history windows.
const (
	DefaultChatHistory      = 25
	DefaultProactiveHistory = 20
	DefaultSummaryHistory   = 100
	MaxChatHistory          = 500
	MaxSummaryHistory       = 1000
)

// DefaultMemoryTitle is used for memory items created without a title.
const DefaultMemoryTitle = "记忆"

// Settings is the singleton configuration document.
type Settings struct {
	Persona       string               `json:"persona"`
	Avatars       AvatarSettings       `json:"avatars"`
	API           APISettings          `json:"api"`
	Proactive     ProactiveSettings    `json:"proactive"`
	Notifications NotificationSettings `json:"notifications"`
	UI            UISettings           `json:"ui"`
}

// AvatarSettings holds avatar image paths; processing happens in the UI.
type AvatarSettings struct {
	User  string `json:"user"`
	Agent string `json:"agent"`
}

// APISettings configures the chat backend.
type APISettings struct {
	BaseURL                  string  `json:"baseUrl"`
	APIKey                   string  `json:"apiKey"`
	Model                    string  `json:"model"`
	MaxTokens                int     `json:"maxTokens"`
	Temperature              float64 `json:"temperature"`
	HistoryMessages          int     `json:"historyMessages"`
	ProactiveHistoryMessages int     `json:"proactiveHistoryMessages"`
	SummaryHistoryMessages   int     `json:"summaryHistoryMessages"`
}

// ProactiveSettings configures the background scheduler.
type ProactiveSettings struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes"`
	// ActiveCron optionally restricts ticks to a cron window, e.g. "* 8-22 * * *".
	ActiveCron    string `json:"activeCron,omitempty"`
	GreetOnCreate bool   `json:"greetOnCreate"`
}

// NotificationSettings holds notification preferences.
type NotificationSettings struct {
	OnProactive bool `json:"onProactive"`
}

// UISettings holds UI state shared with the core.
type UISettings struct {
	CurrentConversationID   string   `json:"currentConversationId"`
	ProactiveConversationID string   `json:"proactiveConversationId"`
	ListOrderMode           string   `json:"listOrderMode"` // "auto" | "manual"
	ConversationOrder       []string `json:"conversationOrder"`
	Names                   Names    `json:"names"`
}

// Names are the speaker labels rendered into prompts.
type Names struct {
	User  string `json:"user"`
	Model string `json:"model"`
}

// UserName returns the configured user label or "User".
func (n Names) UserName() string {
	if n.User == "" {
		return "User"
	}
	return n.User
}

// ModelName returns the configured assistant label or "You".
func (n Names) ModelName() string {
	if n.Model == "" {
		return "You"
	}
	return n.Model
}

// DefaultSettings returns the settings written on first start.
func DefaultSettings() *Settings {
	return &Settings{
		Persona: "你是一位温暖、细心、可靠的日常陪伴型助理。你会尊重我的节奏，不过度打扰；当你觉得我可能需要提醒、鼓励或灵感时，再主动联系我。",
		API: APISettings{
			BaseURL:                  "https://api.openai.com",
			Model:                    "gpt-4o-mini",
			MaxTokens:                256,
			Temperature:              0.7,
			HistoryMessages:          DefaultChatHistory,
			ProactiveHistoryMessages: DefaultProactiveHistory,
			SummaryHistoryMessages:   DefaultSummaryHistory,
		},
		Proactive: ProactiveSettings{
			Enabled:         true,
			IntervalMinutes: 10,
			GreetOnCreate:   true,
		},
		Notifications: NotificationSettings{
			OnProactive: true,
		},
		UI: UISettings{
			ListOrderMode:     "auto",
			ConversationOrder: []string{},
		},
	}
}

// SettingsPatch is a shallow patch: each top-level key replaces the stored value wholesale.
type SettingsPatch map[string]json.RawMessage

// readSettingsRaw returns the stored document as top-level raw values. The
// caller must hold the settings lock.
func (s *Store) readSettingsRaw() (map[string]json.RawMessage, error) {
	raw := map[string]json.RawMessage{}
	if _, err := s.readDoc(DocSettings, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeSettings(raw map[string]json.RawMessage) (*Settings, error) {
	settings := DefaultSettings()
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	// Unmarshalling over the defaults keeps defaults for absent nested fields.
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// ReadSettings returns the settings with defaults filled in for absent fields.
func (s *Store) ReadSettings() (*Settings, error) {
	unlock := s.lock(DocSettings)
	defer unlock()

	raw, err := s.readSettingsRaw()
	if err != nil {
		return nil, err
	}
	settings, err := decodeSettings(raw)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Doc: DocSettings, Err: err}
	}
	return settings, nil
}

// PatchSettings merges patch into the stored document per top-level key.
// Keys not named in the patch, including unknown ones, are preserved.
func (s *Store) PatchSettings(patch SettingsPatch) (*Settings, error) {
	unlock := s.lock(DocSettings)
	defer unlock()

	raw, err := s.readSettingsRaw()
	if err != nil {
		return nil, err
	}
	for key, value := range patch {
		raw[key] = value
	}
	settings, err := decodeSettings(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid settings patch: %w", err)
	}
	if err := s.writeDoc(DocSettings, raw); err != nil {
		return nil, err
	}
	return settings, nil
}

// UpdateSettings applies fn to freshly read settings and writes back only
// the top-level sections fn changed.
func (s *Store) UpdateSettings(fn func(settings *Settings) error) (*Settings, error) {
	unlock := s.lock(DocSettings)
	defer unlock()

	raw, err := s.readSettingsRaw()
	if err != nil {
		return nil, err
	}
	before, err := decodeSettings(raw)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Doc: DocSettings, Err: err}
	}
	after, err := decodeSettings(raw)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Doc: DocSettings, Err: err}
	}
	if err := fn(after); err != nil {
		return nil, err
	}

	oldSections, err := sections(before)
	if err != nil {
		return nil, err
	}
	newSections, err := sections(after)
	if err != nil {
		return nil, err
	}
	for key, value := range newSections {
		if string(oldSections[key]) != string(value) {
			raw[key] = value
		}
	}
	if err := s.writeDoc(DocSettings, raw); err != nil {
		return nil, err
	}
	return after, nil
}

func sections(settings *Settings) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PinProactive sets the proactive target conversation; an empty id unpins.
func (s *Store) PinProactive(id string) (*Settings, error) {
	return s.UpdateSettings(func(settings *Settings) error {
		settings.UI.ProactiveConversationID = id
		return nil
	})
}

// SetCurrentConversation records the conversation selected in the UI.
func (s *Store) SetCurrentConversation(id string) (*Settings, error) {
	return s.UpdateSettings(func(settings *Settings) error {
		settings.UI.CurrentConversationID = id
		return nil
	})
}

// ClampHistory bounds a configured history window to [1, max], using def for non-positive values.
func ClampHistory(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}
