package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Console  ServerConfig   `mapstructure:"console"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	History  HistoryConfig  `mapstructure:"history"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера (трекинг и консоль).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr собирает адрес для http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig — отдельный listener для Prometheus.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, очереди, presence).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MQTTConfig — uplink с носимых устройств. Пустой Broker отключает консьюмер.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig — настройки конвейера геозонного движка.
type EngineConfig struct {
	Shards              int           `mapstructure:"shards"`       // Число воркеров; сэмплы одного агента всегда попадают в один шард
	ShardBuffer         int           `mapstructure:"shard_buffer"` // Емкость очереди шарда
	ZoneRefreshInterval time.Duration `mapstructure:"zone_refresh_interval"`
	DedupWindow         int           `mapstructure:"dedup_window"` // Сколько последних sample_id помним на агента
	MaxSampleAge        time.Duration `mapstructure:"max_sample_age"`
	MaxFutureSkew       time.Duration `mapstructure:"max_future_skew"`
	SubmitTimeout       time.Duration `mapstructure:"submit_timeout"` // Сколько вход ждет место в шарде до 503
	MaxBatchSize        int           `mapstructure:"max_batch_size"` // Лимит пакетной сдачи точек
}

// RulesConfig — настройки процессора правил.
type RulesConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

// DispatchConfig — WebSocket-доставка и офлайн-очереди.
type DispatchConfig struct {
	SendBuffer        int           `mapstructure:"send_buffer"` // Буфер исходящих кадров на соединение
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	QueueCap          int           `mapstructure:"queue_cap"` // Лимит офлайн-очереди информационных кадров
	QueueRetention    time.Duration `mapstructure:"queue_retention"`
	CriticalQueueCap  int           `mapstructure:"critical_queue_cap"` // Для нарушений: большой, чтобы не терять
	CriticalRetention time.Duration `mapstructure:"critical_retention"`
}

// NotifyConfig — надежность доставки уведомлений (Retry/CB/Rate Limit).
type NotifyConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RateLimit     float64       `mapstructure:"rate_limit"` // Запросов в секунду к провайдеру
	RateBurst     int           `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker для внешнего push-провайдера
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// HistoryConfig — буферы асинхронной записи трека и событий в PostgreSQL.
type HistoryConfig struct {
	SampleBuffer  int           `mapstructure:"sample_buffer"`
	EventBuffer   int           `mapstructure:"event_buffer"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	// Если нет — читаем файл по указанному пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("console.port", 8000)
	v.SetDefault("console.read_timeout", 5*time.Second)
	v.SetDefault("console.write_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("mqtt.topic", "agents/+/location")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.client_id", "trackd")

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("engine.shards", 8)
	v.SetDefault("engine.shard_buffer", 256)
	v.SetDefault("engine.zone_refresh_interval", 5*time.Minute)
	v.SetDefault("engine.dedup_window", 64)
	v.SetDefault("engine.max_sample_age", 24*time.Hour)
	v.SetDefault("engine.max_future_skew", 2*time.Minute)
	v.SetDefault("engine.submit_timeout", 2*time.Second)
	v.SetDefault("engine.max_batch_size", 100)

	v.SetDefault("rules.workers", 4)
	v.SetDefault("rules.queue_size", 1024)
	v.SetDefault("rules.action_timeout", 5*time.Second)

	v.SetDefault("dispatch.send_buffer", 64)
	v.SetDefault("dispatch.ping_interval", 30*time.Second)
	v.SetDefault("dispatch.write_timeout", 10*time.Second)
	v.SetDefault("dispatch.queue_cap", 200)
	v.SetDefault("dispatch.queue_retention", 4*time.Hour)
	v.SetDefault("dispatch.critical_queue_cap", 10000)
	v.SetDefault("dispatch.critical_retention", 72*time.Hour)

	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.retry_attempts", 3)
	v.SetDefault("notify.rate_limit", 100)
	v.SetDefault("notify.rate_burst", 20)
	v.SetDefault("notify.cb_max_requests", 3)
	v.SetDefault("notify.cb_interval", 5*time.Second)
	v.SetDefault("notify.cb_timeout", 30*time.Second)

	v.SetDefault("history.sample_buffer", 10000)
	v.SetDefault("history.event_buffer", 10000)
	v.SetDefault("history.batch_size", 100)
	v.SetDefault("history.flush_interval", 500*time.Millisecond)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource достает PEM-ключ из ENV или читает файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
