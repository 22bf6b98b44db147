package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"worker-transcribe/constant"
)

type Config struct {
	App         App
	Server      Server
	Postgres    Postgres
	Storage     Storage
	Queue       *RabbitMQ
	Redis       Redis
	Speech      Speech
	Diarization Diarization
	Trigger     Trigger
	Worker      Worker
}

type App struct {
	Environment string
}

func (a App) IsProduction() bool {
	return a.Environment == constant.EnvironmentProduction.String()
}

func (a App) IsDevelop() bool {
	return a.Environment == constant.EnvironmentDevelop.String()
}

type Server struct {
	HttpPort    string
	Workers     int
	MaxUploadMB int64
}

type Postgres struct {
	DSN          string
	MaxOpenConns int
}

type Storage struct {
	URL             string
	AccessID        string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

type RabbitMQ struct {
	Host       string
	Port       int
	User       string
	Pass       string
	Kind       string
	Exchange   string
	Queue      string
	RoutingKey string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type Speech struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	MaxRetries uint
	Timeout    time.Duration
}

type Diarization struct {
	Enabled    bool
	URL        string
	Token      string
	MaxRetries uint
	Timeout    time.Duration
	FFmpegPath string
}

type Trigger struct {
	Mode constant.TriggerMode
}

type Worker struct {
	PollInterval time.Duration
	BatchSize    int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("minio.bucket", "audio")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.kind", "direct")
	v.SetDefault("rabbitmq.exchange", "transcription_exchange")
	v.SetDefault("rabbitmq.queue", "transcription_trigger_queue")
	v.SetDefault("rabbitmq.routing_key", "transcription.trigger")
	v.SetDefault("redis.ttl", time.Hour)
	v.SetDefault("speech.model", "whisper-1")
	v.SetDefault("speech.max_retries", 3)
	v.SetDefault("speech.timeout", 10*time.Minute)
	v.SetDefault("diarization.enabled", true)
	v.SetDefault("diarization.max_retries", 3)
	v.SetDefault("diarization.timeout", 10*time.Minute)
	v.SetDefault("diarization.ffmpeg_path", "ffmpeg")
	v.SetDefault("trigger.mode", string(constant.TriggerModeLocal))
	v.SetDefault("worker.poll_interval", time.Minute)
	v.SetDefault("worker.batch_size", 0)
}

// Load reads config.yaml from path (if present) and layers environment variables on top.
// It opens no connections.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("diarization.token", "DIARIZATION_TOKEN", "HUGGINGFACE_TOKEN"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("speech.api_key", "SPEECH_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	mode := constant.TriggerMode(v.GetString("trigger.mode"))
	if mode != constant.TriggerModeLocal && mode != constant.TriggerModeAMQP {
		return nil, errors.New("trigger.mode must be local or amqp")
	}

	return &Config{
		App: App{
			Environment: v.GetString("app.environment"),
		},
		Server: Server{
			HttpPort:    v.GetString("server.port"),
			Workers:     v.GetInt("server.workers"),
			MaxUploadMB: v.GetInt64("server.max_upload_mb"),
		},
		Postgres: Postgres{
			DSN:          v.GetString("postgres.dsn"),
			MaxOpenConns: v.GetInt("postgres.max_open_conns"),
		},
		Storage: Storage{
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			UseSSL:          v.GetBool("minio.use_ssl"),
		},
		Queue: &RabbitMQ{
			Host:       v.GetString("rabbitmq.host"),
			Port:       v.GetInt("rabbitmq.port"),
			User:       v.GetString("rabbitmq.user"),
			Pass:       v.GetString("rabbitmq.pass"),
			Kind:       v.GetString("rabbitmq.kind"),
			Exchange:   v.GetString("rabbitmq.exchange"),
			Queue:      v.GetString("rabbitmq.queue"),
			RoutingKey: v.GetString("rabbitmq.routing_key"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Speech: Speech{
			APIKey:     v.GetString("speech.api_key"),
			BaseURL:    v.GetString("speech.base_url"),
			Model:      v.GetString("speech.model"),
			Language:   v.GetString("speech.language"),
			MaxRetries: v.GetUint("speech.max_retries"),
			Timeout:    v.GetDuration("speech.timeout"),
		},
		Diarization: Diarization{
			Enabled:    v.GetBool("diarization.enabled"),
			URL:        v.GetString("diarization.url"),
			Token:      v.GetString("diarization.token"),
			MaxRetries: v.GetUint("diarization.max_retries"),
			Timeout:    v.GetDuration("diarization.timeout"),
			FFmpegPath: v.GetString("diarization.ffmpeg_path"),
		},
		Trigger: Trigger{
			Mode: mode,
		},
		Worker: Worker{
			PollInterval: v.GetDuration("worker.poll_interval"),
			BatchSize:    v.GetInt("worker.batch_size"),
		},
	}, nil
}
