package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoaderOptions configures where configuration is loaded from
type LoaderOptions struct {
	ConfigFile      string
	EnvironmentFile string
	// EnvPrefix, when set, lets PREFIX_<NAME> override <NAME>
	EnvPrefix string
}

// Loader fills a config struct from, in increasing priority: `default` struct
// tags, a YAML file, an env file (never overriding the real environment) and
// environment variables.
type Loader struct {
	opts LoaderOptions
}

// NewLoader creates a new configuration loader
func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{opts: opts}
}

// Load loads configuration into target, which must be a pointer to a struct.
func (l *Loader) Load(target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config target must be a pointer to a struct, got %T", target)
	}

	if err := walkFields(v, "", applyDefault); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}

	if l.opts.ConfigFile != "" {
		if err := loadYAML(target, l.opts.ConfigFile); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if l.opts.EnvironmentFile != "" {
		if err := loadEnvironmentFile(l.opts.EnvironmentFile); err != nil {
			return fmt.Errorf("failed to load environment file: %w", err)
		}
	}

	if err := walkFields(v, "", l.applyEnv); err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}
	return nil
}

// fieldFunc is called for every settable leaf field. envName is the variable
// derived from the `env` tag or from the section path.
type fieldFunc func(field reflect.Value, sf reflect.StructField, envName string) error

func walkFields(v reflect.Value, prefix string, fn fieldFunc) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if isSection(field) {
			nested := strings.ToUpper(sf.Name)
			if prefix != "" {
				nested = prefix + "_" + nested
			}
			if err := walkFields(field, nested, fn); err != nil {
				return err
			}
			continue
		}

		envName := sf.Tag.Get("env")
		if envName == "" {
			envName = strings.ToUpper(sf.Name)
			if prefix != "" {
				envName = prefix + "_" + envName
			}
		}
		if err := fn(field, sf, envName); err != nil {
			return err
		}
	}
	return nil
}

func isSection(field reflect.Value) bool {
	if field.Type() == reflect.TypeOf(time.Time{}) {
		return false
	}
	return field.Kind() == reflect.Struct || (field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct)
}

func applyDefault(field reflect.Value, sf reflect.StructField, _ string) error {
	def, ok := sf.Tag.Lookup("default")
	if !ok || def == "" {
		return nil
	}
	if err := setFieldValue(field, def); err != nil {
		return fmt.Errorf("failed to set default for field %s: %w", sf.Name, err)
	}
	return nil
}

func (l *Loader) applyEnv(field reflect.Value, sf reflect.StructField, envName string) error {
	names := []string{envName}
	if l.opts.EnvPrefix != "" && !strings.HasPrefix(envName, strings.ToUpper(l.opts.EnvPrefix)+"_") {
		names = append([]string{strings.ToUpper(l.opts.EnvPrefix) + "_" + envName}, names...)
	}

	for _, name := range names {
		value, exists := os.LookupEnv(name)
		if !exists {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", sf.Name, name, err)
		}
		return nil
	}
	return nil
}

func loadYAML(target interface{}, filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil // optional
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// loadEnvironmentFile exports KEY=VALUE lines that are not already set.
func loadEnvironmentFile(filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil // optional
	}
	if err != nil {
		return fmt.Errorf("failed to read environment file %s: %w", filename, err)
	}

	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid line %d in environment file %s", lineNum+1, filename)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", value)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			field.SetBool(true)
		case "false", "0", "no", "off":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean value: %s", value)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// FindConfigFile searches the working directory, ./config, /etc/<name> and
// ~/.<name> for <name>.yaml and returns the first match.
func FindConfigFile(serviceName string) string {
	configName := serviceName + ".yaml"

	searchPaths := []string{
		configName,
		filepath.Join("config", configName),
		filepath.Join("/etc", serviceName, configName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, "."+serviceName, configName))
	}
	return firstExisting(searchPaths)
}

// FindEnvironmentFile searches for .env or <name>.env
func FindEnvironmentFile(serviceName string) string {
	envName := serviceName + ".env"
	return firstExisting([]string{
		".env",
		envName,
		filepath.Join("config", ".env"),
		filepath.Join("config", envName),
	})
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
