package flround

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"
)

// ConfigEnv names the variable pointing at an optional TOML config file.
const ConfigEnv = "FLROUND_CONFIG"

type Config struct {
	Broker      BrokerConfig      `toml:"broker"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Client      ClientConfig      `toml:"client"`
}

type BrokerConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	QoS      *uint8 `toml:"qos"`
}

type CoordinatorConfig struct {
	NumClients       uint16  `toml:"num_clients"`
	TotalRounds      uint64  `toml:"total_rounds"`
	FirstClientID    *uint16 `toml:"first_client_id"`
	TopicPrefix      string  `toml:"topic_prefix"`
	InitialModel     string  `toml:"initial_model"`
	ModelPath        string  `toml:"model_path"`
	ReadyTimeout     string  `toml:"ready_timeout"`
	RoundTimeout     string  `toml:"round_timeout"`
	DeadlinePolicy   string  `toml:"deadline_policy"`
	MinContributions int     `toml:"min_contributions"`
	StorageType      string  `toml:"storage_type"`
	BadgerPath       string  `toml:"badger_path"`
}

type ClientConfig struct {
	ClientID      *uint16 `toml:"client_id"`
	TopicPrefix   string  `toml:"topic_prefix"`
	Epochs        uint    `toml:"epochs"`
	ReadyInterval string  `toml:"ready_interval"`
	WasmFile      string  `toml:"wasm_file"`
	ModuleName    string  `toml:"module_name"`
	RegistryURL   string  `toml:"registry_url"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// CoordinatorEnv returns the file settings as variables under prefix,
// overlaid by the process environment so that set variables win.
func (c *Config) CoordinatorEnv(prefix string) map[string]string {
	vars := c.brokerVars()
	co := c.Coordinator
	put(vars, "NUM_CLIENTS", uintString(uint64(co.NumClients)))
	put(vars, "TOTAL_ROUNDS", uintString(co.TotalRounds))
	if co.FirstClientID != nil {
		put(vars, "FIRST_CLIENT_ID", strconv.FormatUint(uint64(*co.FirstClientID), 10))
	}
	put(vars, "TOPIC_PREFIX", co.TopicPrefix)
	put(vars, "INITIAL_MODEL", co.InitialModel)
	put(vars, "MODEL_PATH", co.ModelPath)
	put(vars, "READY_TIMEOUT", co.ReadyTimeout)
	put(vars, "ROUND_TIMEOUT", co.RoundTimeout)
	put(vars, "DEADLINE_POLICY", co.DeadlinePolicy)
	put(vars, "MIN_CONTRIBUTIONS", uintString(uint64(max(co.MinContributions, 0))))
	put(vars, "STORAGE_TYPE", co.StorageType)
	put(vars, "BADGER_PATH", co.BadgerPath)

	return environ(prefix, vars)
}

// ClientEnv is CoordinatorEnv for the client binary.
func (c *Config) ClientEnv(prefix string) map[string]string {
	vars := c.brokerVars()
	cl := c.Client
	if cl.ClientID != nil {
		put(vars, "CLIENT_ID", strconv.FormatUint(uint64(*cl.ClientID), 10))
	}
	put(vars, "TOPIC_PREFIX", cl.TopicPrefix)
	put(vars, "EPOCHS", uintString(uint64(cl.Epochs)))
	put(vars, "READY_INTERVAL", cl.ReadyInterval)
	put(vars, "WASM_FILE", cl.WasmFile)
	put(vars, "MODULE_NAME", cl.ModuleName)
	put(vars, "REGISTRY_URL", cl.RegistryURL)

	return environ(prefix, vars)
}

func (c *Config) brokerVars() map[string]string {
	vars := map[string]string{}
	put(vars, "MQTT_ADDRESS", c.Broker.URL)
	put(vars, "MQTT_USERNAME", c.Broker.Username)
	put(vars, "MQTT_PASSWORD", c.Broker.Password)
	if c.Broker.QoS != nil {
		put(vars, "MQTT_QOS", strconv.FormatUint(uint64(*c.Broker.QoS), 10))
	}

	return vars
}

func put(vars map[string]string, key, value string) {
	if value != "" {
		vars[key] = value
	}
}

func uintString(v uint64) string {
	if v == 0 {
		return ""
	}

	return strconv.FormatUint(v, 10)
}

func environ(prefix string, vars map[string]string) map[string]string {
	env := make(map[string]string, len(vars))
	for k, v := range vars {
		env[prefix+k] = v
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	return env
}
