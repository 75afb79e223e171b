package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9100
  stock:
    reservationTTL: 30s
    readModel: redis
infra:
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
  zookeeper:
    servers: ["zk:2181"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, 30*time.Second, cfg.App.Stock.ReservationTTL)
	assert.Equal(t, time.Minute, cfg.App.Stock.ReaperInterval)
	assert.Equal(t, "redis", cfg.App.Stock.ReadModel)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, []string{"zk:2181"}, cfg.Infra.Zookeeper.Servers)
	assert.Equal(t, "storage-service", cfg.App.ServiceName)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.App.Port)
	assert.Equal(t, time.Minute, cfg.App.Stock.ReservationTTL)
	assert.Equal(t, "storagedb", cfg.Infra.MySQL.Database)
	assert.Equal(t, 4, cfg.Infra.Kafka.ConsumersPerTopic)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "app:\n  port: 9100\n")
	t.Setenv("SERVICE_PORT", "9200")
	t.Setenv("RESERVATION_TTL", "2m")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("READ_MODEL", "redis")
	t.Setenv("ZOOKEEPER_SERVERS", "zk1:2181,zk2:2181")
	t.Setenv("KAFKA_CONSUMERS_PER_TOPIC", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.App.Port)
	assert.Equal(t, 2*time.Minute, cfg.App.Stock.ReservationTTL)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "redis", cfg.App.Stock.ReadModel)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.Infra.Zookeeper.Servers)
	assert.Equal(t, 8, cfg.Infra.Kafka.ConsumersPerTopic)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown read model", yaml: "app:\n  stock:\n    readModel: etcd\n"},
		{name: "zero ttl", yaml: "app:\n  stock:\n    reservationTTL: 0s\n"},
		{name: "no brokers", yaml: "infra:\n  kafka:\n    brokers: []\n"},
		{name: "zero consumers per topic", yaml: "infra:\n  kafka:\n    consumersPerTopic: 0\n"},
		{name: "bad consumers env", env: map[string]string{"KAFKA_CONSUMERS_PER_TOPIC": "many"}},
		{name: "malformed yaml", yaml: "app: [\n"},
		{name: "bad port env", env: map[string]string{"SERVICE_PORT": "http"}},
		{name: "bad ttl env", env: map[string]string{"RESERVATION_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestGetCurrentConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Port = 1234
	SetCurrentConfig(cfg)
	assert.Equal(t, 1234, GetCurrentConfig().App.Port)
}
