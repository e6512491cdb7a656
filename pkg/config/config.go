// Package config loads TSKV's configuration from a YAML file (parsed
// with gopkg.in/yaml.v3) and applies environment overrides of the form
// CNOSDB_<SECTION>_<KEY>, dots replaced by underscores, per §6.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WALConfig controls the write-ahead log.
type WALConfig struct {
	Path        string `yaml:"path" env:"WAL_PATH"`
	Enabled     bool   `yaml:"enabled" env:"WAL_ENABLED"`
	Sync        bool   `yaml:"sync" env:"WAL_SYNC"`
	MaxFileSize int64  `yaml:"max_file_size" env:"WAL_MAX_FILE_SIZE"`
}

// CacheConfig controls the in-memory write buffer.
type CacheConfig struct {
	MaxBufferSize     int64 `yaml:"max_buffer_size" env:"CACHE_MAX_BUFFER_SIZE"`
	MaxImmutableNumber int  `yaml:"max_immutable_number" env:"CACHE_MAX_IMMUTABLE_NUMBER"`
}

// StorageConfig controls the LSM directory and level sizing.
type StorageConfig struct {
	Path            string `yaml:"path" env:"STORAGE_PATH"`
	MaxLevel        int    `yaml:"max_level" env:"STORAGE_MAX_LEVEL"`
	BaseFileSize    int64  `yaml:"base_file_size" env:"STORAGE_BASE_FILE_SIZE"`
	CompactTrigger  int    `yaml:"compact_trigger" env:"STORAGE_COMPACT_TRIGGER"`
	MaxCompactSize  int64  `yaml:"max_compact_size" env:"STORAGE_MAX_COMPACT_SIZE"`
	StrictWrite     bool   `yaml:"strict_write" env:"STORAGE_STRICT_WRITE"`
}

// QueryConfig controls coordinator timeouts and connection limits.
type QueryConfig struct {
	WriteTimeoutMs      int64 `yaml:"write_timeout_ms" env:"QUERY_WRITE_TIMEOUT_MS"`
	ReadTimeoutMs       int64 `yaml:"read_timeout_ms" env:"QUERY_READ_TIMEOUT_MS"`
	MaxServerConnections int  `yaml:"max_server_connections" env:"QUERY_MAX_SERVER_CONNECTIONS"`
}

// ClusterConfig controls network endpoints.
type ClusterConfig struct {
	GRPCListenPort    int    `yaml:"grpc_listen_port" env:"CLUSTER_GRPC_LISTEN_PORT"`
	FlightRPCListenPort int  `yaml:"flight_rpc_listen_port" env:"CLUSTER_FLIGHT_RPC_LISTEN_PORT"`
	TCPListenPort     int    `yaml:"tcp_listen_port" env:"CLUSTER_TCP_LISTEN_PORT"`
	HTTPListenPort    int    `yaml:"http_listen_port" env:"CLUSTER_HTTP_LISTEN_PORT"`
	MetaServiceAddr   string `yaml:"meta_service_addr" env:"CLUSTER_META_SERVICE_ADDR"`
}

// TLSConfig optionally configures RPC transport security. Absent
// certificate/key paths mean plaintext RPC; this is a deployment choice,
// not a protocol change (§9).
type TLSConfig struct {
	Certificate string `yaml:"certificate" env:"CERTIFICATE"`
	PrivateKey  string `yaml:"private_key" env:"PRIVATE_KEY"`
}

// SecurityConfig wraps TLSConfig under the §6 key path security.tls_config.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls_config"`
}

// NodeBasicConfig identifies this process within the cluster.
type NodeBasicConfig struct {
	NodeID uint64 `yaml:"node_id" env:"NODE_ID"`
	Host   string `yaml:"host" env:"HOST"`
}

// Config is the full set of options recognized by TSKV (§6).
type Config struct {
	WAL       WALConfig       `yaml:"wal"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Query     QueryConfig     `yaml:"query"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Security  SecurityConfig  `yaml:"security"`
	NodeBasic NodeBasicConfig `yaml:"node_basic"`
}

// EnvPrefix is the prefix every environment override key starts with.
const EnvPrefix = "CNOSDB"

// Default returns a Config populated with the engine's default tuning.
func Default() *Config {
	return &Config{
		WAL: WALConfig{
			Path:        "data/wal",
			Enabled:     true,
			Sync:        false,
			MaxFileSize: 1 << 30, // 1GiB
		},
		Cache: CacheConfig{
			MaxBufferSize:      128 << 20, // 128MiB
			MaxImmutableNumber: 4,
		},
		Storage: StorageConfig{
			Path:           "data",
			MaxLevel:       4,
			BaseFileSize:   16 << 20, // 16MiB
			CompactTrigger: 4,
			MaxCompactSize: 2 << 30, // 2GiB
			StrictWrite:    false,
		},
		Query: QueryConfig{
			WriteTimeoutMs:       3000,
			ReadTimeoutMs:        3000,
			MaxServerConnections: 1024,
		},
		Cluster: ClusterConfig{
			GRPCListenPort:      8911,
			FlightRPCListenPort: 8912,
			TCPListenPort:       8913,
			HTTPListenPort:      8902,
			MetaServiceAddr:     "127.0.0.1:8901",
		},
	}
}

// Load reads a YAML config file, falling back to defaults for anything it
// doesn't set, then applies CNOSDB_<SECTION>_<KEY> environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides walks every `env:"..."` tagged field of every nested
// struct in cfg and overwrites it from CNOSDB_<SECTION>_<KEY> when set,
// matching the dots-replaced-by-underscores rule in §6.
func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		section := strings.ToUpper(t.Field(i).Tag.Get("yaml"))
		if section == "" {
			section = strings.ToUpper(t.Field(i).Name)
		}
		applyEnvOverridesSection(v.Field(i), section)
	}
}

func applyEnvOverridesSection(sv reflect.Value, section string) {
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		field := sv.Field(i)
		tag := st.Field(i).Tag.Get("env")
		if tag == "" {
			if field.Kind() == reflect.Struct {
				applyEnvOverridesSection(field, section)
			}
			continue
		}
		// Most tags already start with their section name (WAL_PATH);
		// the section is prepended only to tags that don't (NODE_ID).
		key := EnvPrefix + "_" + tag
		if !strings.HasPrefix(tag, section+"_") {
			key = EnvPrefix + "_" + section + "_" + tag
		}
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		setFromString(field, raw)
	}
}

func setFromString(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			field.SetUint(n)
		}
	}
}

// WriteTimeout returns Query.WriteTimeoutMs as a time.Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Query.WriteTimeoutMs) * time.Millisecond
}

// ReadTimeout returns Query.ReadTimeoutMs as a time.Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Query.ReadTimeoutMs) * time.Millisecond
}
