// Package config provides configuration types and loading for coopdesk.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Channels, Providers, Router, Worker,
// Panel, Notify, Events.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Router    RouterConfig    `json:"router"`
	Worker    WorkerConfig    `json:"worker"`
	Panel     PanelConfig     `json:"panel"`
	Notify    NotifyConfig    `json:"notify"`
	Events    EventsConfig    `json:"events"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ModelConfig groups answer-generation settings.
type ModelConfig struct {
	Name         string `json:"name" envconfig:"MODEL"`
	Instructions string `json:"instructions" envconfig:"INSTRUCTIONS"`
}

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	Enabled bool   `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"WHATSAPP_DB_PATH"`
}

// ProvidersConfig contains answer-generator provider configurations.
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

// ProviderConfig holds the credentials for one provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase" envconfig:"API_BASE"`
}

// RouterConfig tunes the synchronous routing path.
type RouterConfig struct {
	HistoryWindow int           `json:"historyWindow" envconfig:"HISTORY_WINDOW"`
	AnswerTimeout time.Duration `json:"answerTimeout" envconfig:"ANSWER_TIMEOUT"`
	MaxInFlight   int           `json:"maxInFlight" envconfig:"MAX_IN_FLIGHT"`
}

// WorkerConfig tunes the heavy-query background pool.
type WorkerConfig struct {
	PoolSize      int           `json:"poolSize" envconfig:"POOL_SIZE"`
	QueueSize     int           `json:"queueSize" envconfig:"QUEUE_SIZE"`
	AnswerTimeout time.Duration `json:"answerTimeout" envconfig:"ANSWER_TIMEOUT"`
}

// PanelConfig configures the staff panel API listener.
type PanelConfig struct {
	Listen string `json:"listen" envconfig:"LISTEN"`
	Token  string `json:"token" envconfig:"TOKEN"`
}

// NotifyConfig groups staff notification settings.
type NotifyConfig struct {
	Slack SlackNotifyConfig `json:"slack"`
}

// SlackNotifyConfig configures escalation notices to a Slack channel.
type SlackNotifyConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	ChannelID string `json:"channelId" envconfig:"SLACK_CHANNEL_ID"`
}

// EventsConfig configures the conversation event stream.
type EventsConfig struct {
	Enabled bool   `json:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers string `json:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string `json:"topic" envconfig:"KAFKA_TOPIC"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name: "gpt-4o-mini",
			Instructions: "Sos el asistente virtual de la cooperativa. Respondé en español, " +
				"de forma breve y cordial, usando solo la información de la cooperativa.",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{Enabled: true},
		},
		Router: RouterConfig{
			HistoryWindow: 20,
			AnswerTimeout: 25 * time.Second,
			MaxInFlight:   8,
		},
		Worker: WorkerConfig{
			PoolSize:      2,
			QueueSize:     64,
			AnswerTimeout: 3 * time.Minute,
		},
		Panel: PanelConfig{
			Listen: "127.0.0.1:8321",
		},
		Events: EventsConfig{
			Topic: "coopdesk.conversations",
		},
	}
}
