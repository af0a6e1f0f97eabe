package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.CheapModel != "openai/gpt-4o-mini" {
		t.Errorf("expected default cheap model openai/gpt-4o-mini, got %s", cfg.Model.CheapModel)
	}
	if cfg.Model.HeavyModel != "openai/gpt-4o" {
		t.Errorf("expected default heavy model openai/gpt-4o, got %s", cfg.Model.HeavyModel)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected gateway host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("expected gateway port 18790, got %d", cfg.Gateway.Port)
	}
	if cfg.Chat.Backend != "slack" {
		t.Errorf("expected default chat backend slack, got %s", cfg.Chat.Backend)
	}
	if cfg.Reminder.CheckHours != 4 {
		t.Errorf("expected reminder checkHours 4, got %d", cfg.Reminder.CheckHours)
	}
	if cfg.Reminder.DefaultIntervalDays != 2 {
		t.Errorf("expected reminder defaultIntervalDays 2, got %d", cfg.Reminder.DefaultIntervalDays)
	}
	if cfg.Reminder.EscalationUser != "alexey" {
		t.Errorf("expected reminder escalationUser alexey, got %s", cfg.Reminder.EscalationUser)
	}
	if cfg.Suggestion.CooldownDays != 14 || cfg.Suggestion.DismissCooldownDays != 30 || cfg.Suggestion.MaxPerDay != 1 {
		t.Errorf("unexpected suggestion defaults: %+v", cfg.Suggestion)
	}
	if cfg.Planner.RunTime != "09:00" || cfg.Planner.Workdays != "Mon,Tue,Wed,Thu,Fri" {
		t.Errorf("unexpected planner schedule defaults: %+v", cfg.Planner)
	}
	if cfg.Planner.MaxActiveInitiatives != 3 || cfg.Planner.MaxNewThreadsPerDay != 2 ||
		cfg.Planner.MaxMessagesPerDay != 8 || cfg.Planner.MaxActionsPerInitiative != 2 {
		t.Errorf("unexpected planner budget defaults: %+v", cfg.Planner)
	}
	if cfg.Dedup.TTLSeconds != 86400 || cfg.Dedup.MaxEntries != 4000 {
		t.Errorf("unexpected dedup defaults: %+v", cfg.Dedup)
	}
	if cfg.Thread.MaxMessages != 15 || cfg.Thread.MaxChars != 4000 || cfg.Thread.TTLDays != 7 {
		t.Errorf("unexpected thread defaults: %+v", cfg.Thread)
	}
	if cfg.Governance.ReviewThresholdDays != 180 {
		t.Errorf("expected governance reviewThresholdDays 180, got %d", cfg.Governance.ReviewThresholdDays)
	}
	if cfg.Store.WriteMaxRetries != 3 || cfg.Store.WriteBackoffBase != 500*time.Millisecond {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
}

func TestLoadDefaults(t *testing.T) {
	origHome := os.Getenv("HOME")
	os.Setenv("HOME", "/tmp/nonexistent-contractbot-test")
	defer os.Setenv("HOME", origHome)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model.MaxTokens != 8192 {
		t.Errorf("expected maxTokens 8192, got %d", cfg.Model.MaxTokens)
	}
	if cfg.Planner.CooldownHours != 48 {
		t.Errorf("expected planner cooldownHours 48, got %d", cfg.Planner.CooldownHours)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, ConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configFile := filepath.Join(configDir, ConfigFile)

	data := `{
		"reminder": {"escalationUser": "priya"},
		"chat": {"backend": "whatsapp", "channelId": "C9"}
	}`
	if err := os.WriteFile(configFile, []byte(data), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Reminder.EscalationUser != "priya" {
		t.Errorf("expected file override of escalationUser, got %s", cfg.Reminder.EscalationUser)
	}
	if cfg.Chat.Backend != "whatsapp" || cfg.Chat.ChannelID != "C9" {
		t.Errorf("expected file override of chat backend/channel, got %+v", cfg.Chat)
	}
	// Values not present in the file should retain their defaults.
	if cfg.Suggestion.MaxPerDay != 1 {
		t.Errorf("expected unrelated default preserved, got %d", cfg.Suggestion.MaxPerDay)
	}
}

func TestLoadEnvOverridesBareSpecNames(t *testing.T) {
	origHome := os.Getenv("HOME")
	os.Setenv("HOME", "/tmp/nonexistent-contractbot-test-2")
	defer os.Setenv("HOME", origHome)

	origDataDir := os.Getenv("DATA_DIR")
	origEscalation := os.Getenv("ESCALATION_USER")
	origRunTime := os.Getenv("PLANNER_RUN_TIME")
	defer os.Setenv("DATA_DIR", origDataDir)
	defer os.Setenv("ESCALATION_USER", origEscalation)
	defer os.Setenv("PLANNER_RUN_TIME", origRunTime)

	os.Setenv("DATA_DIR", "/srv/contracts")
	os.Setenv("ESCALATION_USER", "dana")
	os.Setenv("PLANNER_RUN_TIME", "10:30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.DataDir != "/srv/contracts" {
		t.Errorf("expected DATA_DIR override, got %s", cfg.Paths.DataDir)
	}
	if cfg.Reminder.EscalationUser != "dana" {
		t.Errorf("expected ESCALATION_USER override, got %s", cfg.Reminder.EscalationUser)
	}
	if cfg.Planner.RunTime != "10:30" {
		t.Errorf("expected PLANNER_RUN_TIME override, got %s", cfg.Planner.RunTime)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfg := DefaultConfig()
	cfg.Chat.ChannelID = "C-123"
	cfg.Chat.Slack.BotToken = "xoxb-test"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Chat.ChannelID != "C-123" {
		t.Errorf("expected saved channelId preserved, got %s", loaded.Chat.ChannelID)
	}
	if loaded.Chat.Slack.BotToken != "xoxb-test" {
		t.Errorf("expected saved slack bot token preserved, got %s", loaded.Chat.Slack.BotToken)
	}
}
