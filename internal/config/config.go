// Package config provides configuration types and loading for the
// data-contract shepherd bot.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Paths      PathsConfig      `json:"paths"`
	Model      ModelConfig      `json:"model"`
	Chat       ChatConfig       `json:"chat"`
	Providers  ProvidersConfig  `json:"providers"`
	Gateway    GatewayConfig    `json:"gateway"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Reminder   ReminderConfig   `json:"reminder"`
	Suggestion SuggestionConfig `json:"suggestion"`
	Planner    PlannerConfig    `json:"planner"`
	Dedup      DedupConfig      `json:"dedup"`
	Thread     ThreadConfig     `json:"thread"`
	Governance GovernanceConfig `json:"governance"`
	Store      StoreConfig      `json:"store"`
	Audit      AuditConfig      `json:"audit"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	// DataDir is the store root (spec DATA_DIR): contracts/, drafts/,
	// tasks/, memory/, context/ all live under it.
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups the two named LLM roles (spec §4.1's cheap/heavy
// split) and the agent loop's tool-calling budget.
type ModelConfig struct {
	CheapModel        string        `json:"cheapModel" envconfig:"CHEAP_MODEL"`
	HeavyModel        string        `json:"heavyModel" envconfig:"HEAVY_MODEL"`
	MaxTokens         int           `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature       float64       `json:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations int           `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	Timeout           time.Duration `json:"timeout" envconfig:"LLM_TIMEOUT_SECONDS"`
}

// ---------------------------------------------------------------------------
// Chat – the single chat-platform boundary (spec §6)
// ---------------------------------------------------------------------------

// ChatConfig selects and configures the one chat.Service adapter the bot
// runs against. Exactly one of Slack/WhatsApp is expected to be enabled.
type ChatConfig struct {
	Backend   string         `json:"backend" envconfig:"CHAT_BACKEND"` // "slack" or "whatsapp"
	ChannelID string         `json:"channelId" envconfig:"CHANNEL_ID"`
	Slack     SlackConfig    `json:"slack"`
	WhatsApp  WhatsAppConfig `json:"whatsapp"`
}

// SlackConfig configures the Slack Socket Mode adapter.
type SlackConfig struct {
	BotToken string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
}

// WhatsAppConfig holds WhatsApp settings. BridgeURL is not read by the
// whatsmeow-based adapter, which keeps its session database and pairing QR
// code under the data directory.
type WhatsAppConfig struct {
	BridgeURL string `json:"bridgeUrl" envconfig:"WHATSAPP_BRIDGE_URL"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations (spec's LLM boundary
// speaks one OpenAI-shaped request/response format, so one provider entry
// covers both the cheap and heavy model roles).
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Gateway – doctor/status HTTP surface
// ---------------------------------------------------------------------------

// GatewayConfig contains the optional local status-check server settings
// (`contractbot doctor` / a liveness probe), not a public HTTP API.
type GatewayConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// ---------------------------------------------------------------------------
// Scheduler – cron-based job scheduling
// ---------------------------------------------------------------------------

// SchedulerConfig contains settings for the cron scheduler (spec §4.4).
type SchedulerConfig struct {
	TickInterval   time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcLLM     int           `json:"maxConcLLM" envconfig:"MAX_CONC_LLM"`
	MaxConcDefault int           `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
}

// ReminderConfig configures the dunning-ladder reminder pass (spec §4.4).
type ReminderConfig struct {
	CheckHours          int    `json:"checkHours" envconfig:"REMINDER_CHECK_HOURS"`
	DefaultIntervalDays int    `json:"defaultIntervalDays" envconfig:"REMINDER_DEFAULT_INTERVAL_DAYS"`
	EscalationUser      string `json:"escalationUser" envconfig:"ESCALATION_USER"`
}

// SuggestionConfig configures the Suggestion Engine (spec §4.7).
type SuggestionConfig struct {
	CooldownDays        int `json:"cooldownDays" envconfig:"SUGGESTION_COOLDOWN_DAYS"`
	DismissCooldownDays int `json:"dismissCooldownDays" envconfig:"SUGGESTION_DISMISS_COOLDOWN_DAYS"`
	MaxPerDay           int `json:"maxPerDay" envconfig:"SUGGESTION_MAX_PER_DAY"`
}

// PlannerConfig configures the Continuous Planner (spec §4.5).
type PlannerConfig struct {
	RunTime                   string `json:"runTime" envconfig:"PLANNER_RUN_TIME"`
	Workdays                  string `json:"workdays" envconfig:"PLANNER_WORKDAYS"`
	MaxActiveInitiatives      int    `json:"maxActiveInitiatives" envconfig:"PLANNER_MAX_ACTIVE_INITIATIVES"`
	MaxNewThreadsPerDay       int    `json:"maxNewThreadsPerDay" envconfig:"PLANNER_MAX_NEW_THREADS_PER_DAY"`
	MaxMessagesPerDay         int    `json:"maxMessagesPerDay" envconfig:"PLANNER_MAX_MESSAGES_PER_DAY"`
	MaxActionsPerInitiative   int    `json:"maxActionsPerInitiativePerDay" envconfig:"PLANNER_MAX_ACTIONS_PER_INITIATIVE_PER_DAY"`
	CooldownHours             int    `json:"cooldownHours" envconfig:"PLANNER_COOLDOWN_HOURS"`
	WaitBeforeFollowupHours   int    `json:"waitBeforeFollowupHours" envconfig:"PLANNER_WAIT_BEFORE_FOLLOWUP_HOURS"`
	StaleInitiativeDays       int    `json:"staleInitiativeDays" envconfig:"PLANNER_STALE_INITIATIVE_DAYS"`
}

// DedupConfig configures the Listener's duplicate-post guard (spec §5).
type DedupConfig struct {
	TTLSeconds int `json:"ttlSeconds" envconfig:"DEDUP_TTL_SECONDS"`
	MaxEntries int `json:"maxEntries" envconfig:"DEDUP_MAX_ENTRIES"`
}

// ThreadConfig configures thread-transcript assembly and the active-thread
// registry's GC sweep (spec §4.2/§4.4).
type ThreadConfig struct {
	MaxMessages int `json:"maxMessages" envconfig:"THREAD_MAX_MESSAGES"`
	MaxChars    int `json:"maxChars" envconfig:"THREAD_MAX_CHARS"`
	TTLDays     int `json:"ttlDays" envconfig:"THREAD_TTL_DAYS"`
}

// GovernanceConfig configures the approval/review gate (spec §4.6).
type GovernanceConfig struct {
	ReviewThresholdDays int `json:"reviewThresholdDays" envconfig:"GOVERNANCE_REVIEW_THRESHOLD_DAYS"`
}

// StoreConfig configures the file store's write-retry behavior (spec §7).
type StoreConfig struct {
	WriteMaxRetries  int           `json:"writeMaxRetries" envconfig:"WRITE_MAX_RETRIES"`
	WriteBackoffBase time.Duration `json:"writeBackoffBase" envconfig:"WRITE_BACKOFF_BASE"`
}

// AuditConfig configures the optional Kafka mirror of the audit log.
type AuditConfig struct {
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"AUDIT_KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"AUDIT_KAFKA_TOPIC"`
}

// DefaultConfig returns a Config with the spec's named defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/contractbot-data",
		},
		Model: ModelConfig{
			CheapModel:        "openai/gpt-4o-mini",
			HeavyModel:        "openai/gpt-4o",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 20,
			Timeout:           120 * time.Second,
		},
		Chat: ChatConfig{
			Backend: "slack",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Scheduler: SchedulerConfig{
			TickInterval:   60 * time.Second,
			MaxConcLLM:     2,
			MaxConcDefault: 4,
		},
		Reminder: ReminderConfig{
			CheckHours:          4,
			DefaultIntervalDays: 2,
			EscalationUser:      "alexey",
		},
		Suggestion: SuggestionConfig{
			CooldownDays:        14,
			DismissCooldownDays: 30,
			MaxPerDay:           1,
		},
		Planner: PlannerConfig{
			RunTime:                 "09:00",
			Workdays:                "Mon,Tue,Wed,Thu,Fri",
			MaxActiveInitiatives:    3,
			MaxNewThreadsPerDay:     2,
			MaxMessagesPerDay:       8,
			MaxActionsPerInitiative: 2,
			CooldownHours:           48,
			WaitBeforeFollowupHours: 24,
			StaleInitiativeDays:     14,
		},
		Dedup: DedupConfig{
			TTLSeconds: 86400,
			MaxEntries: 4000,
		},
		Thread: ThreadConfig{
			MaxMessages: 15,
			MaxChars:    4000,
			TTLDays:     7,
		},
		Governance: GovernanceConfig{
			ReviewThresholdDays: 180,
		},
		Store: StoreConfig{
			WriteMaxRetries:  3,
			WriteBackoffBase: 500 * time.Millisecond,
		},
	}
}
