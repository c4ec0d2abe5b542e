package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lk2023060901/vision-backend/internal/image/classifier"
	"github.com/lk2023060901/vision-backend/internal/image/queue"
	"github.com/lk2023060901/vision-backend/internal/image/service"
	"github.com/lk2023060901/vision-backend/internal/image/storage"
	"github.com/lk2023060901/vision-backend/internal/pkg/database"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/metrics"
	pkgminio "github.com/lk2023060901/vision-backend/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/vision-backend/internal/pkg/redis"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 VISION_DATABASE_PASSWORD 覆盖 database.password
const EnvPrefix = "VISION"

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Log        logger.Config     `mapstructure:"log"`
	Database   database.Config   `mapstructure:"database"`
	Redis      pkgredis.Config   `mapstructure:"redis"`
	MinIO      pkgminio.Config   `mapstructure:"minio"`
	Kafka      queue.KafkaConfig `mapstructure:"kafka"`
	Storage    storage.Config    `mapstructure:"storage"`
	Intake     service.Config    `mapstructure:"intake"`
	Classifier classifier.Config `mapstructure:"classifier"`
	Queue      queue.Config      `mapstructure:"queue"`
	Metrics    metrics.Config    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr 返回 host:port
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default 配置文件和环境变量都未设置时使用的默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:        *logger.DefaultConfig(),
		Database:   *database.DefaultConfig(),
		Redis:      *pkgredis.DefaultConfig(),
		MinIO:      *pkgminio.DefaultConfig(),
		Kafka:      *queue.DefaultKafkaConfig(),
		Storage:    *storage.DefaultConfig(),
		Intake:     *service.DefaultConfig(),
		Classifier: *classifier.DefaultConfig(),
		Queue:      *queue.DefaultConfig(),
		Metrics:    *metrics.DefaultConfig(),
	}
}

// LoadConfig 读取配置文件。.env 先被加载，VISION_ 前缀的环境变量覆盖文件中的值。
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// setDefaults 注册所有可被环境变量覆盖的键
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]interface{}{
		"server.host":             d.Server.Host,
		"server.port":             d.Server.Port,
		"server.read_timeout":     d.Server.ReadTimeout,
		"server.write_timeout":    d.Server.WriteTimeout,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,

		"log.level":            d.Log.Level,
		"log.format":           d.Log.Format,
		"log.output":           d.Log.Output,
		"log.file.filename":    d.Log.File.Filename,
		"log.enablecaller":     d.Log.EnableCaller,
		"log.enablestacktrace": d.Log.EnableStacktrace,

		"database.driver":   d.Database.Driver,
		"database.host":     d.Database.Host,
		"database.port":     d.Database.Port,
		"database.user":     d.Database.User,
		"database.password": d.Database.Password,
		"database.dbname":   d.Database.DBName,
		"database.sslmode":  d.Database.SSLMode,
		"database.path":     d.Database.Path,
		"database.loglevel": d.Database.LogLevel,
		"database.migrate":  d.Database.Migrate,

		"redis.mode":     string(d.Redis.Mode),
		"redis.addr":     d.Redis.Addr,
		"redis.username": d.Redis.Username,
		"redis.password": d.Redis.Password,
		"redis.db":       d.Redis.DB,

		"minio.endpoint":          d.MinIO.Endpoint,
		"minio.access_key_id":     d.MinIO.AccessKeyID,
		"minio.secret_access_key": d.MinIO.SecretAccessKey,
		"minio.region":            d.MinIO.Region,
		"minio.use_ssl":           d.MinIO.UseSSL,

		"kafka.brokers":  d.Kafka.Brokers,
		"kafka.group_id": d.Kafka.GroupID,

		"storage.driver": d.Storage.Driver,
		"storage.root":   d.Storage.Root,
		"storage.bucket": d.Storage.Bucket,

		"intake.allowed_mime_types": d.Intake.AllowedMIMETypes,
		"intake.max_upload_bytes":   d.Intake.MaxUploadBytes,
		"intake.max_pixels":         d.Intake.MaxPixels,
		"intake.classify_timeout":   d.Intake.ClassifyTimeout,
		"intake.auto_classify":      d.Intake.AutoClassify,

		"classifier.provider":     d.Classifier.Provider,
		"classifier.endpoint":     d.Classifier.Endpoint,
		"classifier.model":        d.Classifier.Model,
		"classifier.api_key":      d.Classifier.APIKey,
		"classifier.timeout":      d.Classifier.Timeout,
		"classifier.labels_file":  d.Classifier.LabelsFile,
		"classifier.label_path":   d.Classifier.LabelPath,
		"classifier.index_path":   d.Classifier.IndexPath,
		"classifier.static_label": d.Classifier.StaticLabel,

		"queue.driver":        d.Queue.Driver,
		"queue.key":           d.Queue.Key,
		"queue.concurrency":   d.Queue.Concurrency,
		"queue.max_retries":   d.Queue.MaxRetries,
		"queue.buffer":        d.Queue.Buffer,
		"queue.poll_timeout":  d.Queue.PollTimeout,
		"queue.lock_ttl":      d.Queue.LockTTL,
		"queue.retry_backoff": d.Queue.RetryBackoff,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.path":    d.Metrics.Path,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate 校验各配置段。只校验当前选中的驱动实际需要的依赖。
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server: port must be between 1 and 65535")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Storage.Driver == storage.DriverMinIO {
		if err := c.MinIO.Validate(); err != nil {
			return fmt.Errorf("minio: %w", err)
		}
	}
	if err := c.Intake.Validate(); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if c.UsesRedis() {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if c.Queue.Driver == queue.DriverKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	return nil
}

// UsesRedis 当前队列驱动是否需要 Redis 连接
func (c *Config) UsesRedis() bool {
	return c.Queue.Driver == queue.DriverRedis
}

// LoggerConfig 返回日志配置
func (c *Config) LoggerConfig() *logger.Config {
	return &c.Log
}
