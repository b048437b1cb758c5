package worker_config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NordCoder/Zepatrol/internal/domain/policy"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/obs"
	pginfra "github.com/NordCoder/Zepatrol/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Scheduler struct {
	Cron         string        `mapstructure:"cron"`
	DailyCron    string        `mapstructure:"daily_cron"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Workers      int           `mapstructure:"workers"`
}

type Policy struct {
	Intervals map[string]policy.Intervals `mapstructure:"intervals"`
}

func (p *Policy) AsPolicy() policy.Policy {
	table := make(map[target.Category]policy.Intervals, len(p.Intervals))
	for k, v := range p.Intervals {
		table[target.Category(k)] = v
	}
	return policy.New(table)
}

const (
	DowntimeAccumulate   = "accumulate"
	DowntimeResetOnRaise = "reset_on_raise"
)

type Alerting struct {
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	StagnationThreshold int           `mapstructure:"stagnation_threshold"`
	DowntimeMode        string        `mapstructure:"downtime_mode"`
	NotifyTimeout       time.Duration `mapstructure:"notify_timeout"`
}

type Probe struct {
	UserAgent      string        `mapstructure:"user_agent"`
	VerifyTLS      bool          `mapstructure:"verify_tls"`
	PingDeadline   time.Duration `mapstructure:"ping_deadline"`
	PingPrivileged bool          `mapstructure:"ping_privileged"`
}

type SMTP struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

func (s SMTP) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type Telegram struct {
	BotToken   string        `mapstructure:"bot_token"`
	APIBase    string        `mapstructure:"api_base"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
}

func (t Telegram) Enabled() bool { return t.BotToken != "" }

type Kafka struct {
	Enable            bool     `mapstructure:"enable"`
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type Outbox struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	Wait          time.Duration `mapstructure:"wait"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	App       App            `mapstructure:"app"`
	Server    Server         `mapstructure:"server"`
	DB        pginfra.Config `mapstructure:"db"`
	Scheduler Scheduler      `mapstructure:"scheduler"`
	Policy    Policy         `mapstructure:"policy"`
	Alerting  Alerting       `mapstructure:"alerting"`
	Probe     Probe          `mapstructure:"probe"`
	SMTP      SMTP           `mapstructure:"smtp"`
	Telegram  Telegram       `mapstructure:"telegram"`
	Kafka     Kafka          `mapstructure:"kafka"`
	Outbox    Outbox         `mapstructure:"outbox"`
	OTEL      OTEL           `mapstructure:"otel"`
	Log       Log            `mapstructure:"log"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:      c.Log.Level,
		Pretty:     c.Log.Pretty,
		App:        c.App.Name,
		Env:        c.App.Env,
		Ver:        c.App.Version,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func (c *Config) Validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("scheduler.cron %q: %w", c.Scheduler.Cron, err)
	}
	if c.Scheduler.DailyCron != "" {
		if _, err := parser.Parse(c.Scheduler.DailyCron); err != nil {
			return fmt.Errorf("scheduler.daily_cron %q: %w", c.Scheduler.DailyCron, err)
		}
	}
	if c.Scheduler.ProbeTimeout <= 0 {
		return ErrConfig("scheduler.probe_timeout must be positive")
	}
	if c.Alerting.FailureThreshold <= 0 || c.Alerting.StagnationThreshold <= 0 {
		return ErrConfig("alerting thresholds must be positive")
	}
	switch c.Alerting.DowntimeMode {
	case DowntimeAccumulate, DowntimeResetOnRaise:
	default:
		return ErrConfig("alerting.downtime_mode must be accumulate or reset_on_raise")
	}
	if c.Kafka.Enable && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return ErrConfig("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	pol := c.Policy.AsPolicy()
	return pol.Validate()
}
