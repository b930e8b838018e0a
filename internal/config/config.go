package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/ObiAU/slotwatch/internal/auth"
	"github.com/ObiAU/slotwatch/internal/browser"
	"github.com/ObiAU/slotwatch/internal/extractor"
	"github.com/ObiAU/slotwatch/internal/models"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

// EnvPrefix prefixes every environment override, e.g. SLOTWATCH_SITE_EMAIL.
const EnvPrefix = "SLOTWATCH"

const minCheckInterval = 30 * time.Second

type Config struct {
	Telegram TelegramConfig   `mapstructure:"telegram"`
	Site     auth.Config      `mapstructure:"site"`
	Monitor  MonitorConfig    `mapstructure:"monitor"`
	Browser  browser.Options  `mapstructure:"browser"`
	Layout   extractor.Layout `mapstructure:"layout"`
	Store    StoreConfig      `mapstructure:"store"`
	HTTP     HTTPConfig       `mapstructure:"http"`
	Logger   LoggerConfig     `mapstructure:"logger"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
}

type MonitorConfig struct {
	CheckInterval          time.Duration `mapstructure:"check_interval"`
	CheckIntervalVariation time.Duration `mapstructure:"check_interval_variation"`
	ChallengeCooldown      time.Duration `mapstructure:"challenge_cooldown"`
	BackoffBase            time.Duration `mapstructure:"backoff_base"`
	BackoffMax             time.Duration `mapstructure:"backoff_max"`
	TargetMonth            int           `mapstructure:"target_month"`
	// Lists are read separately so env strings like "15,16,17" work.
	TargetDays     []int  `mapstructure:"-"`
	TargetWeekdays []int  `mapstructure:"-"`
	TimeStart      string `mapstructure:"time_start"`
	TimeEnd        string `mapstructure:"time_end"`
}

type StoreConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type HTTPConfig struct {
	// Listen is the status server address. Empty disables the server.
	Listen string `mapstructure:"listen"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_chat_id", 0)

	v.SetDefault("site.base_url", "")
	v.SetDefault("site.login_url", "")
	v.SetDefault("site.booking_url", "")
	v.SetDefault("site.email", "")
	v.SetDefault("site.password", "")

	v.SetDefault("monitor.check_interval", 5*time.Minute)
	v.SetDefault("monitor.check_interval_variation", time.Minute)
	v.SetDefault("monitor.challenge_cooldown", 10*time.Minute)
	v.SetDefault("monitor.backoff_base", time.Minute)
	v.SetDefault("monitor.backoff_max", 30*time.Minute)
	v.SetDefault("monitor.target_month", 0)
	v.SetDefault("monitor.target_days", []int{})
	v.SetDefault("monitor.target_weekdays", []int{})
	v.SetDefault("monitor.time_start", "")
	v.SetDefault("monitor.time_end", "")

	b := browser.DefaultOptions()
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.user_agent", b.UserAgent)
	v.SetDefault("browser.step_timeout", b.StepTimeout)
	v.SetDefault("browser.post_load_wait", b.PostLoadWait)
	v.SetDefault("browser.max_lifetime", b.MaxLifetime)
	v.SetDefault("browser.min_navigation_gap", b.MinNavigationGap)
	v.SetDefault("browser.humanize", b.Humanize)
	v.SetDefault("browser.exec_path", "")

	l := extractor.DefaultLayout()
	v.SetDefault("layout.calendar", l.Calendar)
	v.SetDefault("layout.cell", l.Cell)
	v.SetDefault("layout.date_attr", l.DateAttr)
	v.SetDefault("layout.time", l.Time)
	v.SetDefault("layout.empty", l.Empty)

	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("http.listen", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// Load reads the optional config file and environment into a validated
// Config. Defaults must already be set on v.
func Load(v *viper.Viper, file string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	var err error
	if cfg.Monitor.TargetDays, err = intList(v.Get("monitor.target_days")); err != nil {
		return nil, fmt.Errorf("monitor.target_days: %w", err)
	}
	if cfg.Monitor.TargetWeekdays, err = intList(v.Get("monitor.target_weekdays")); err != nil {
		return nil, fmt.Errorf("monitor.target_weekdays: %w", err)
	}
	if cfg.Store.DataDir, err = homedir.Expand(cfg.Store.DataDir); err != nil {
		return nil, fmt.Errorf("store.data_dir: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// intList accepts YAML lists as well as comma separated strings.
func intList(raw any) ([]int, error) {
	if s, ok := raw.(string); ok {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		return cast.ToIntSliceE(parts)
	}
	if raw == nil {
		return nil, nil
	}
	return cast.ToIntSliceE(raw)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	problem := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Telegram.Token == "" {
		problem("telegram.token is required")
	}
	if c.Telegram.AdminChatID == 0 {
		problem("telegram.admin_chat_id is required")
	}

	for key, raw := range map[string]string{
		"site.login_url":   c.Site.LoginURL,
		"site.booking_url": c.Site.BookingURL,
		"site.base_url":    c.Site.BaseURL,
	} {
		if raw == "" {
			if key != "site.base_url" {
				problem("%s is required", key)
			}
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problem("%s must be an absolute http(s) URL, got %q", key, raw)
		}
	}
	if c.Site.Email == "" {
		problem("site.email is required")
	}
	if c.Site.Password == "" {
		problem("site.password is required")
	}

	m := c.Monitor
	if m.CheckInterval < minCheckInterval {
		problem("monitor.check_interval must be at least %s, got %s", minCheckInterval, m.CheckInterval)
	}
	if m.CheckIntervalVariation < 0 || m.CheckIntervalVariation >= m.CheckInterval {
		problem("monitor.check_interval_variation must be in [0, check_interval), got %s", m.CheckIntervalVariation)
	}
	if m.ChallengeCooldown <= 0 {
		problem("monitor.challenge_cooldown must be positive")
	}
	if m.BackoffBase <= 0 {
		problem("monitor.backoff_base must be positive")
	}
	if m.BackoffMax < m.BackoffBase {
		problem("monitor.backoff_max must be at least backoff_base")
	}
	if m.TargetMonth < 0 || m.TargetMonth > 12 {
		problem("monitor.target_month must be 0 (any) or 1..12, got %d", m.TargetMonth)
	}
	for _, d := range m.TargetDays {
		if d < 1 || d > 31 {
			problem("monitor.target_days entries must be in 1..31, got %d", d)
		}
	}
	for _, d := range m.TargetWeekdays {
		if d < 1 || d > 7 {
			problem("monitor.target_weekdays entries must be in 1..7 (Monday=1), got %d", d)
		}
	}
	if _, err := m.window(); err != nil {
		errs = append(errs, err)
	}

	if c.Browser.StepTimeout <= 0 {
		problem("browser.step_timeout must be positive")
	}
	if c.Store.DataDir == "" {
		problem("store.data_dir is required")
	}
	if c.Logger.Format != "console" && c.Logger.Format != "json" {
		problem("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return errors.Join(errs...)
}

func (m MonitorConfig) window() (*models.TimeWindow, error) {
	if m.TimeStart == "" && m.TimeEnd == "" {
		return nil, nil
	}
	if m.TimeStart == "" || m.TimeEnd == "" {
		return nil, errors.New("monitor.time_start and monitor.time_end must be set together")
	}
	start, err := models.ParseTimeOfDay(m.TimeStart)
	if err != nil {
		return nil, fmt.Errorf("monitor.time_start: %w", err)
	}
	end, err := models.ParseTimeOfDay(m.TimeEnd)
	if err != nil {
		return nil, fmt.Errorf("monitor.time_end: %w", err)
	}
	if start == end {
		return nil, fmt.Errorf("monitor.time_start and monitor.time_end are both %s, which leaves an empty window", start)
	}
	return &models.TimeWindow{Start: start, End: end}, nil
}

// Criteria builds the slot filter. The config must have passed Validate.
func (c *Config) Criteria() models.FilterCriteria {
	w, _ := c.Monitor.window()
	return models.FilterCriteria{
		TargetMonth:    time.Month(c.Monitor.TargetMonth),
		TargetDays:     c.Monitor.TargetDays,
		TargetWeekdays: c.Monitor.TargetWeekdays,
		Window:         w,
	}
}

func (c *Config) Policy() monitor.Policy {
	return monitor.Policy{
		Interval:    c.Monitor.CheckInterval,
		Variation:   c.Monitor.CheckIntervalVariation,
		Cooldown:    c.Monitor.ChallengeCooldown,
		BackoffBase: c.Monitor.BackoffBase,
		BackoffMax:  c.Monitor.BackoffMax,
	}
}
