package model

// Setting keys stored in the settings table.
const (
	SettingDefaultDailyMinutes = "default_daily_minutes"
	SettingSystemPersonality   = "system_personality"
)

// FallbackPersonality is used when the personality setting is missing.
const FallbackPersonality = "You are a friendly assistant."

// Setting is a process-wide key/value pair editable by administrators.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
