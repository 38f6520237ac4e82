package config

type Config struct {
	Global  GlobalConfig `yaml:"global"`
	Targets []Target     `yaml:"targets"`
	Notify  NotifyConfig `yaml:"notify"`
}

type GlobalConfig struct {
	LogLevel          string `yaml:"log_level"`
	Title             string `yaml:"title"`
	Browser           string `yaml:"browser"` // "chromium" or "http" (validate)
	NavigationTimeout string `yaml:"navigation_timeout"`
	ContentTimeout    string `yaml:"content_timeout"`
	WorkerCount       int    `yaml:"worker_count"`
	ReportPath        string `yaml:"report_path"`
	MetricsPath       string `yaml:"metrics_path"`
	PushgatewayURL    string `yaml:"pushgateway_url"`
}

type Target struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type NotifyConfig struct {
	Disabled bool               `yaml:"disabled"`
	Telegram TelegramConfig     `yaml:"telegram"`
	Channels map[string]Channel `yaml:"channels"`
}

type TelegramConfig struct {
	APIBase   string `yaml:"api_base"`
	BotToken  string `yaml:"bot_token"`
	ChatID    string `yaml:"chat_id"`
	ParseMode string `yaml:"parse_mode"`
}

// Channel supports multiple types; keep a superset of fields.
type Channel struct {
	Type       string   `yaml:"type"` // "discord" | "slack" | "email"
	WebhookURL string   `yaml:"webhook_url"`
	SMTPHost   string   `yaml:"smtp_host"`
	SMTPPort   int      `yaml:"smtp_port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	To         []string `yaml:"to"`
}
