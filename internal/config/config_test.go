package config

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"AE_DB_HOST":        "localhost",
		"AE_MASTER_KEY":     base64.StdEncoding.EncodeToString(make([]byte, 32)),
		"AE_JWT_JWKS_URL":   "https://idp.example.com/jwks",
		"AE_REVOCATION_URL": "https://revocation.example.com/",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port = %d, ожидается 8040", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.StoreBackend != StoreBackendPostgres {
		t.Errorf("StoreBackend = %q, ожидается postgres", cfg.StoreBackend)
	}
	if cfg.DBName != "access_engine" || cfg.DBPort != 5432 {
		t.Errorf("DBName/DBPort = %q/%d", cfg.DBName, cfg.DBPort)
	}
	if len(cfg.MasterKey) != 32 {
		t.Errorf("MasterKey длиной %d, ожидается 32", len(cfg.MasterKey))
	}
	if cfg.RevocationURL != "https://revocation.example.com" {
		t.Errorf("RevocationURL = %q, ожидается без завершающего слэша", cfg.RevocationURL)
	}
	if cfg.RevocationTimeout != 3*time.Second {
		t.Errorf("RevocationTimeout = %v, ожидается 3s", cfg.RevocationTimeout)
	}
	if cfg.RequestFreshness != 5*time.Minute || cfg.NonceTTL != 10*time.Minute {
		t.Errorf("RequestFreshness/NonceTTL = %v/%v", cfg.RequestFreshness, cfg.NonceTTL)
	}
	if cfg.NonceCacheSize != 1_000_000 {
		t.Errorf("NonceCacheSize = %d", cfg.NonceCacheSize)
	}
	if cfg.EventsSink != EventsSinkLog {
		t.Errorf("EventsSink = %q, ожидается log", cfg.EventsSink)
	}
	if cfg.CryptoWorkers < 1 || cfg.OracleWorkers != 64 {
		t.Errorf("CryptoWorkers/OracleWorkers = %d/%d", cfg.CryptoWorkers, cfg.OracleWorkers)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 10 {
		t.Errorf("RateLimit = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoad_MemoryBackendWithoutDB(t *testing.T) {
	envs := minimalEnvs()
	delete(envs, "AE_DB_HOST")
	envs["AE_STORE_BACKEND"] = "memory"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Errorf("StoreBackend = %q, ожидается memory", cfg.StoreBackend)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	required := []string{"AE_DB_HOST", "AE_MASTER_KEY", "AE_JWT_JWKS_URL", "AE_REVOCATION_URL"}

	for _, key := range required {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, key)
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() без %s должен вернуть ошибку", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна содержать %s: %v", key, err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"короткий мастер-ключ", "AE_MASTER_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"мастер-ключ не base64", "AE_MASTER_KEY", "###"},
		{"неверный backend", "AE_STORE_BACKEND", "sqlite"},
		{"неверный уровень логов", "AE_LOG_LEVEL", "trace"},
		{"неверный sink", "AE_EVENTS_SINK", "nats"},
		{"kafka без брокеров", "AE_EVENTS_SINK", "kafka"},
		{"amqp без URL", "AE_EVENTS_SINK", "amqp"},
		{"короткий TTL nonce", "AE_NONCE_TTL", "1m"},
		{"нулевой пул", "AE_CRYPTO_WORKERS", "0"},
		{"неверный RPS", "AE_RATE_LIMIT_RPS", "-1"},
		{"неверный isentry", "DEPHEALTH_ISENTRY", "maybe"},
		{"неверный таймаут", "AE_REVOCATION_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() с %s=%q должен вернуть ошибку", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_KafkaSink(t *testing.T) {
	envs := minimalEnvs()
	envs["AE_EVENTS_SINK"] = "kafka"
	envs["AE_EVENTS_KAFKA_BROKERS"] = "kafka-1:9092, kafka-2:9092"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != "access-grants" {
		t.Errorf("KafkaTopic = %q, ожидается access-grants", cfg.KafkaTopic)
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5433, DBName: "ae", DBUser: "u", DBPassword: "p", DBSSLMode: "require",
	}
	want := "host=db port=5433 dbname=ae user=u password=p sslmode=require"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", got, want)
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("parseCSV = %v", got)
	}
	if parseCSV("") != nil {
		t.Error("parseCSV(\"\") должен вернуть nil")
	}
}
