package config

import (
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/imdario/mergo"
	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"sigs.k8s.io/yaml"
)

// environment variable → configuration path
var environmentKeys = map[string][]string{
	"AP_HOST":                 {"host"},
	"AP_PORT":                 {"port"},
	"AP_HANDSHAKE":            {"handshake"},
	"SL4A_CODEC":              {"codec"},
	"SL4A_LOG_LEVEL":          {"logLevel"},
	"SL4A_DIAL_TIMEOUT":       {"dialTimeout"},
	"SL4A_CALL_TIMEOUT":       {"callTimeout"},
	"SL4A_REGISTRY_ENDPOINTS": {"registry", "endpoints"},
	"SL4A_REGISTRY_SERVICE":   {"registry", "service"},
}

// Default returns the built-in settings as a configuration map
func Default() map[string]interface{} {
	return map[string]interface{}{
		"host":        "127.0.0.1",
		"port":        4321,
		"codec":       "json",
		"dialTimeout": "5s",
		"logLevel":    "info",
		"rateLimit": map[string]interface{}{
			"burst": 1,
		},
		"registry": map[string]interface{}{
			"service":  "sl4a",
			"balancer": "round-robin",
		},
	}
}

type Reader struct {
	lookupEnv func(string) (string, bool)
}

func NewReader() (*Reader, error) {
	return &Reader{
		lookupEnv: os.LookupEnv,
	}, nil
}

// Read resolves configuration from YAML in reader (may be nil) over the defaults,
// overlaid by the environment
func (r *Reader) Read(reader io.Reader, config *Config) error {
	fileAsMap := map[string]interface{}{}

	if reader != nil {
		configBytes, err := io.ReadAll(reader)
		if err != nil {
			return errors.Wrap(err, "Failed to read configuration")
		}

		if err := yaml.Unmarshal(configBytes, &fileAsMap); err != nil {
			return errors.Wrap(err, "Failed to parse configuration")
		}

		// an empty document unmarshals to nil
		if fileAsMap == nil {
			fileAsMap = map[string]interface{}{}
		}
	}

	// file values take precedence over defaults
	defaultsAsMap := Default()
	if err := mergo.Merge(&fileAsMap, &defaultsAsMap); err != nil {
		return errors.Wrap(err, "Failed to merge configuration with defaults")
	}

	// the environment takes precedence over both
	environmentAsMap := r.environment()
	if err := mergo.Merge(&fileAsMap, &environmentAsMap, mergo.WithOverride); err != nil {
		return errors.Wrap(err, "Failed to merge configuration with environment")
	}

	if err := decode(fileAsMap, config); err != nil {
		return errors.Wrap(err, "Failed to decode configuration")
	}

	return config.Validate()
}

// ReadFileOrDefault reads path when it is set, and the defaults and the environment
// alone otherwise. A path that is set but cannot be opened is an error.
func (r *Reader) ReadFileOrDefault(path string) (*Config, error) {
	var config Config

	if path == "" {
		if err := r.Read(nil, &config); err != nil {
			return nil, err
		}

		return &config, nil
	}

	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open configuration file %s", path)
	}

	defer configFile.Close() // nolint: errcheck

	if err := r.Read(configFile, &config); err != nil {
		return nil, errors.Wrapf(err, "Failed to read configuration file %s", path)
	}

	return &config, nil
}

func (r *Reader) environment() map[string]interface{} {
	environmentAsMap := map[string]interface{}{}

	for name, path := range environmentKeys {
		value, found := r.lookupEnv(name)
		if !found || value == "" {
			continue
		}

		// walk down, creating nested maps for sections
		section := environmentAsMap
		for _, key := range path[:len(path)-1] {
			child, ok := section[key].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				section[key] = child
			}
			section = child
		}

		section[path[len(path)-1]] = value
	}

	return environmentAsMap
}

func decode(input map[string]interface{}, config *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			trimmedStringToSliceHook,
		),
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

// trimmedStringToSliceHook splits "a, b" into ["a", "b"] for slice fields
func trimmedStringToSliceHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}

	raw := data.(string)
	if raw == "" {
		return []string{}, nil
	}

	parts := strings.Split(raw, ",")
	for index := range parts {
		parts[index] = strings.TrimSpace(parts[index])
	}

	return parts, nil
}
