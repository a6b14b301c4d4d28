package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"tiny_mvcc/pkg/txn"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
)

type Config struct {
	LogLevel string `toml:"log-level" json:"log-level"`

	Txn     TxnConfig     `toml:"txn" json:"txn"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Retry   RetryConfig   `toml:"retry" json:"retry"`
}

type TxnConfig struct {
	Isolation       txn.Isolation `toml:"isolation" json:"isolation"`
	MaxBatchSize    ByteSize      `toml:"max-batch-size" json:"max-batch-size"`
	MaxBatchEntries int           `toml:"max-batch-entries" json:"max-batch-entries"`
	// Number of store entries fetched per refill of a range scan.
	ScanBatchSize int `toml:"scan-batch-size" json:"scan-batch-size"`
}

type BackendConfig struct {
	Type string `toml:"type" json:"type"`
	// Directory of the leveldb files. Should exist and be writable.
	Path      string `toml:"path" json:"path"`
	SyncWrite bool   `toml:"sync-write" json:"sync-write"`
}

// RetryConfig bounds how often a conflicting update is re-run.
type RetryConfig struct {
	MaxRetries uint64   `toml:"max-retries" json:"max-retries"`
	BaseDelay  Duration `toml:"base-delay" json:"base-delay"`
	MaxDelay   Duration `toml:"max-delay" json:"max-delay"`
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		Txn: TxnConfig{
			Isolation:       txn.Serializable,
			MaxBatchSize:    16 * units.MiB,
			MaxBatchEntries: 100_000,
			ScanBatchSize:   128,
		},
		Backend: BackendConfig{
			Type: BackendMemory,
		},
		Retry: RetryConfig{
			MaxRetries: 10,
			BaseDelay:  NewDuration(time.Millisecond),
			MaxDelay:   NewDuration(100 * time.Millisecond),
		},
	}
}

// LoadFile reads a toml file over the defaults. Keys the file does not
// know about are an error.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, errors.Errorf("config %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Txn.MaxBatchSize <= 0 {
		return errors.New("txn.max-batch-size must be greater than 0")
	}
	if c.Txn.MaxBatchEntries <= 0 {
		return errors.New("txn.max-batch-entries must be greater than 0")
	}
	if c.Txn.ScanBatchSize <= 0 {
		return errors.New("txn.scan-batch-size must be greater than 0")
	}
	switch c.Backend.Type {
	case BackendMemory:
	case BackendLevelDB:
		if c.Backend.Path == "" {
			return errors.New("backend.path is required for the leveldb backend")
		}
	default:
		return errors.Errorf("unknown backend type %q", c.Backend.Type)
	}
	if c.Retry.BaseDelay.Duration <= 0 {
		return errors.New("retry.base-delay must be greater than 0")
	}
	if c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		return errors.New("retry.max-delay must not be less than retry.base-delay")
	}
	return nil
}

// TxnOptions maps the config onto transaction manager options.
func (c *Config) TxnOptions() txn.Options {
	return txn.Options{
		Isolation:       c.Txn.Isolation,
		MaxBatchSize:    int64(c.Txn.MaxBatchSize),
		MaxBatchEntries: c.Txn.MaxBatchEntries,
		ScanBatchSize:   c.Txn.ScanBatchSize,
	}
}

// ByteSize is a size that reads from "16MiB", "512KB" or a plain number of
// bytes.
type ByteSize int64

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	s := string(text)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*b = ByteSize(n)
		return nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return errors.WithStack(err)
	}
	*b = ByteSize(n)
	return nil
}

// Duration is a time.Duration that reads from "1ms", "2s" and the like.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}
