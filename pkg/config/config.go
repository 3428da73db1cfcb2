package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/rubiojr/volunteer/pkg/maintenance"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/rubiojr/volunteer/pkg/storage"
)

//go:embed config.toml.sample
var configTemplate string

// samplePathPlaceholder is replaced by the real database path when the
// template is written.
const samplePathPlaceholder = "/home/user/.local/share/volunteer/volunteer.db"

// DefaultListen is the address the API server binds to by default.
const DefaultListen = "127.0.0.1:8889"

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Search      SearchConfig      `toml:"search"`
	Notify      NotifyConfig      `toml:"notify"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Listen string `toml:"listen" validate:"required,hostname_port"`
	// RateLimit is the sustained requests per second the API accepts.
	// Zero disables rate limiting.
	RateLimit    float64  `toml:"rate_limit" validate:"gte=0"`
	RateBurst    int      `toml:"rate_burst" validate:"gte=0"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

type StorageConfig struct {
	Driver string `toml:"driver" validate:"oneof=sqlite postgres memory"`
	Path   string `toml:"path" validate:"required_if=Driver sqlite"`
	DSN    string `toml:"dsn" validate:"required_if=Driver postgres"`
	// ZipcodesFile is a GeoNames postal code dump loaded at startup when
	// set. Mostly useful with the memory driver.
	ZipcodesFile string `toml:"zipcodes_file"`
}

type SearchConfig struct {
	MaxSearchRange    float64  `toml:"max_search_range" validate:"gte=0,lte=90"`
	DefaultLimit      int      `toml:"default_limit" validate:"gte=0"`
	EarthRadiusKm     float64  `toml:"earth_radius_km" validate:"gte=0"`
	KmToMiles         float64  `toml:"km_to_miles" validate:"gte=0"`
	LookupTimeout     Duration `toml:"lookup_timeout"`
	ParallelThreshold int      `toml:"parallel_threshold"`
	Workers           int      `toml:"workers" validate:"gte=0"`
	BrowseBoundingBox bool     `toml:"browse_bounding_box"`
}

type NotifyConfig struct {
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic" validate:"required_with=KafkaBrokers"`
	HubBuffer    int      `toml:"hub_buffer" validate:"gte=0"`
}

type MaintenanceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() (*Config, error) {
	dbPath, err := GetDefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("getting default database path: %w", err)
	}
	d := search.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Listen:       DefaultListen,
			RateLimit:    20,
			RateBurst:    40,
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			Path:   dbPath,
		},
		Search: SearchConfig{
			MaxSearchRange:    d.MaxSearchRange,
			DefaultLimit:      d.DefaultLimit,
			EarthRadiusKm:     d.EarthRadiusKm,
			KmToMiles:         d.KmToMiles,
			LookupTimeout:     Duration{5 * time.Second},
			ParallelThreshold: d.ParallelThreshold,
		},
		Notify: NotifyConfig{
			KafkaTopic: "volunteer.events",
			HubBuffer:  32,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: maintenance.DefaultSchedule,
		},
	}, nil
}

// LoadConfig reads configPath on top of the defaults, applies VOLUNTEER_*
// environment overrides and validates the result. A missing file is not an
// error.
func LoadConfig(configPath string) (*Config, error) {
	config, err := GetDefaultConfig()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = storage.DriverSQLite
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VOLUNTEER_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("VOLUNTEER_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("VOLUNTEER_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("VOLUNTEER_DATABASE_URL"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("VOLUNTEER_ZIPCODES_FILE"); v != "" {
		c.Storage.ZipcodesFile = v
	}
	if v := os.Getenv("VOLUNTEER_KAFKA_BROKERS"); v != "" {
		c.Notify.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("VOLUNTEER_KAFKA_TOPIC"); v != "" {
		c.Notify.KafkaTopic = v
	}
	if v := os.Getenv("VOLUNTEER_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing VOLUNTEER_RATE_LIMIT: %w", err)
		}
		c.Server.RateLimit = f
	}
	return nil
}

// Validate checks field constraints and the maintenance schedule.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("validating config: %w", err)
	}
	if c.Maintenance.Enabled {
		if err := maintenance.ValidateSchedule(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid config: maintenance: %w", err)
		}
	}
	return nil
}

// SearchOptions converts the [search] section into a pipeline config.
func (c *Config) SearchOptions() search.Config {
	s := c.Search
	return search.Config{
		MaxSearchRange:    s.MaxSearchRange,
		DefaultLimit:      s.DefaultLimit,
		EarthRadiusKm:     s.EarthRadiusKm,
		KmToMiles:         s.KmToMiles,
		LookupTimeout:     s.LookupTimeout.Duration,
		ParallelThreshold: s.ParallelThreshold,
		Workers:           s.Workers,
		BrowseBoundingBox: s.BrowseBoundingBox,
	}
}

func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver: c.Storage.Driver,
		Path:   c.Storage.Path,
		DSN:    c.Storage.DSN,
	}
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveTemplateConfig writes the commented sample configuration, pointing
// the SQLite database at c.Storage.Path.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := c.Storage.Path
	if dbPath == "" {
		var err error
		dbPath, err = GetDefaultDBPath()
		if err != nil {
			return fmt.Errorf("getting default database path: %w", err)
		}
	}
	template := strings.Replace(configTemplate, samplePathPlaceholder, dbPath, 1)
	return os.WriteFile(configPath, []byte(template), 0644)
}

// GetDefaultStorageDir returns $XDG_DATA_HOME/volunteer, creating it if needed.
func GetDefaultStorageDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "volunteer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return dir, nil
}

func GetDefaultDBPath() (string, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(storageDir, "volunteer.db"), nil
}

// GetConfigDir returns $XDG_CONFIG_HOME/volunteer, creating it if needed.
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "volunteer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return dir, nil
}

func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
