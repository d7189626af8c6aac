package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/ditraheat/schluter"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "DITRAHEAT_"

type Config struct {
	Schluter    SchluterConfig    `koanf:"schluter"`
	Log         LogConfig         `koanf:"log"`
	Controllers ControllersConfig `koanf:"controllers"`
}

type SchluterConfig struct {
	BaseURL  string        `koanf:"base_url"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // "debug" | "info" | "warn" | "error"
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt"`
	Modbus ModbusConfig `koanf:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainState     bool          `koanf:"retain_state"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	CommandTimeout  time.Duration `koanf:"command_timeout"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Addr           string        `koanf:"addr"`
	Serials        []string      `koanf:"serials"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

func defaults() Config {
	return Config{
		Schluter: SchluterConfig{
			BaseURL: schluter.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Controllers: ControllersConfig{
			HTTP: HTTPConfig{Enabled: true, Addr: ":8080"},
			MQTT: MQTTConfig{
				BrokerURL:       "tcp://localhost:1883",
				BaseTopic:       "ditraheat",
				PublishInterval: 60 * time.Second,
				CommandTimeout:  10 * time.Second,
			},
			Modbus: ModbusConfig{
				Addr:           "127.0.0.1:1502",
				Serials:        []string{},
				RequestTimeout: 10 * time.Second,
			},
		},
	}
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig layers defaults, the optional config file and DITRAHEAT_*
// environment variables, in that order.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, err := parserFor(path)
			if err != nil {
				return Config{}, err
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Config file missing → defaults and env only
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

// Validate reports settings the process cannot start without.
func (c Config) Validate() error {
	if c.Schluter.Username == "" || c.Schluter.Password == "" {
		return errors.New("schluter.username and schluter.password are required")
	}
	if c.Schluter.BaseURL == "" {
		return errors.New("schluter.base_url must not be empty")
	}
	if !c.Controllers.HTTP.Enabled && !c.Controllers.MQTT.Enabled && !c.Controllers.Modbus.Enabled {
		return errors.New("no controller enabled")
	}
	if c.Controllers.MQTT.QoS > 1 {
		return fmt.Errorf("controllers.mqtt.qos must be 0 or 1, got %d", c.Controllers.MQTT.QoS)
	}
	return nil
}

// envKeyTransform maps an environment key (prefix already stripped) to a
// dotted koanf path:
//
//	CONTROLLERS_HTTP_ADDR → controllers.http.addr
//	SCHLUTER_BASE_URL     → schluter.base_url
//	LOG_LEVEL             → log.level
func envKeyTransform(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))

	if rest, ok := strings.CutPrefix(k, "controllers_"); ok {
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) < 2 {
			return k
		}
		return "controllers." + parts[0] + "." + parts[1]
	}

	for _, section := range []string{"schluter", "log"} {
		if rest, ok := strings.CutPrefix(k, section+"_"); ok {
			return section + "." + rest
		}
	}
	return k
}
