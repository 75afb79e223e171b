// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是服务的全部配置，来源优先级：环境变量 > YAML 文件 > 默认值。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	ServiceName string      `yaml:"serviceName"`
	Port        int         `yaml:"port"`
	LogLevel    string      `yaml:"logLevel"`
	Stock       StockConfig `yaml:"stock"`
}

// StockConfig 是库存预占引擎的业务参数。
type StockConfig struct {
	ReservationTTL time.Duration `yaml:"reservationTTL"`
	ReaperInterval time.Duration `yaml:"reaperInterval"`
	RPCTimeout     time.Duration `yaml:"rpcTimeout"`
	ReadModel      string        `yaml:"readModel"` // memory | redis
	EnableTestAPI  bool          `yaml:"enableTestApi"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"groupId"`
	// ConsumersPerTopic 是每个入站主题在同一消费组内的 reader 数，Kafka 在它们之间分配分区
	ConsumersPerTopic int `yaml:"consumersPerTopic"`
}

type MySQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	AutoMigrate  bool   `yaml:"autoMigrate"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

var current atomic.Pointer[Config]

// DefaultConfig 返回本地开发环境可直接运行的默认配置。
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ServiceName: "storage-service",
			Port:        8090,
			LogLevel:    "info",
			Stock: StockConfig{
				ReservationTTL: time.Minute,
				ReaperInterval: time.Minute,
				RPCTimeout:     5 * time.Second,
				ReadModel:      "memory",
			},
		},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			Kafka:  KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "storage-service", ConsumersPerTopic: 4},
			MySQL: MySQLConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "root",
				Database: "storagedb", MaxOpenConns: 20, AutoMigrate: true,
			},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		},
	}
}

// Load 读取 YAML 配置文件（不存在时忽略），再应用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置中会导致运行期异常的取值。
func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return fmt.Errorf("app.port must be positive, got %d", c.App.Port)
	}
	if c.App.Stock.ReservationTTL <= 0 {
		return fmt.Errorf("app.stock.reservationTTL must be positive")
	}
	if c.App.Stock.ReaperInterval <= 0 {
		return fmt.Errorf("app.stock.reaperInterval must be positive")
	}
	switch c.App.Stock.ReadModel {
	case "memory", "redis":
	default:
		return fmt.Errorf("app.stock.readModel must be memory or redis, got %q", c.App.Stock.ReadModel)
	}
	if len(c.Infra.Kafka.Brokers) == 0 {
		return fmt.Errorf("infra.kafka.brokers must not be empty")
	}
	if c.Infra.Kafka.ConsumersPerTopic <= 0 {
		return fmt.Errorf("infra.kafka.consumersPerTopic must be positive, got %d", c.Infra.Kafka.ConsumersPerTopic)
	}
	return nil
}

// Init 从 CONFIG_PATH（默认 configs/config.yaml）加载配置并设为当前配置。
func Init() (*Config, error) {
	cfg, err := Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		return nil, err
	}
	SetCurrentConfig(cfg)
	return cfg, nil
}

func SetCurrentConfig(cfg *Config) {
	current.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置；未初始化时返回默认配置。
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("SERVICE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVICE_PORT %q: %w", v, err)
		}
		cfg.App.Port = port
	}
	if v, ok := os.LookupEnv("RESERVATION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RESERVATION_TTL %q: %w", v, err)
		}
		cfg.App.Stock.ReservationTTL = d
	}
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.Stock.ReadModel = getEnv("READ_MODEL", cfg.App.Stock.ReadModel)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("KAFKA_CONSUMERS_PER_TOPIC"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KAFKA_CONSUMERS_PER_TOPIC %q: %w", v, err)
		}
		cfg.Infra.Kafka.ConsumersPerTopic = n
	}
	cfg.Infra.MySQL.Host = getEnv("DATABASE_HOST", cfg.Infra.MySQL.Host)
	if v, ok := os.LookupEnv("DATABASE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PORT %q: %w", v, err)
		}
		cfg.Infra.MySQL.Port = port
	}
	cfg.Infra.MySQL.User = getEnv("DATABASE_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("DATABASE_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Database = getEnv("DATABASE_NAME", cfg.Infra.MySQL.Database)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	if v := getEnv("ZOOKEEPER_SERVERS", ""); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	return nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
