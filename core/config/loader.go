// Package config loads service configuration from struct tag defaults, an
// optional YAML file, an optional dotenv file and the process environment,
// in that order of increasing precedence.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoaderConfig configures how configuration is loaded
type LoaderConfig struct {
	ConfigFile      string
	EnvironmentFile string
	// ServiceName enables "<SERVICE>_<VAR>" overrides that win over "<VAR>".
	ServiceName string
}

// ConfigLoader fills a tagged struct from the configured sources.
type ConfigLoader struct {
	config LoaderConfig
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader(cfg LoaderConfig) *ConfigLoader {
	return &ConfigLoader{config: cfg}
}

var durationType = reflect.TypeOf(time.Duration(0))

// Load populates target, which must be a pointer to a struct.
func (l *ConfigLoader) Load(target any) error {
	root := reflect.ValueOf(target)
	if root.Kind() != reflect.Ptr || root.IsNil() || root.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config target must be a non-nil pointer to a struct, got %T", target)
	}

	if err := walkFields(root, "", applyDefault); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}

	if l.config.ConfigFile != "" {
		if err := readYAML(l.config.ConfigFile, target); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if l.config.EnvironmentFile != "" {
		if err := importEnvironmentFile(l.config.EnvironmentFile); err != nil {
			return fmt.Errorf("failed to load environment file: %w", err)
		}
	}

	if err := walkFields(root, "", l.applyEnv); err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}
	return nil
}

type fieldVisitor func(field reflect.Value, meta reflect.StructField, envName string) error

// walkFields visits every settable leaf field, descending into nested
// structs. Nested struct names contribute an upper-cased prefix to the
// derived environment variable name; embedded structs do not.
func walkFields(v reflect.Value, prefix string, visit fieldVisitor) error {
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
	for i := 0; i < t.NumField(); i++ {
		field, meta := v.Field(i), t.Field(i)
		if !field.CanSet() {
			continue
		}

		if isStruct(field) {
			nested := prefix
			if !meta.Anonymous {
				nested = joinEnv(prefix, strings.ToUpper(meta.Name))
			}
			if err := walkFields(field, nested, visit); err != nil {
				return err
			}
			continue
		}

		envName := meta.Tag.Get("env")
		if envName == "" {
			envName = joinEnv(prefix, strings.ToUpper(meta.Name))
		}
		if err := visit(field, meta, envName); err != nil {
			return err
		}
	}
	return nil
}

func isStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Ptr {
		return v.Type().Elem().Kind() == reflect.Struct
	}
	return v.Kind() == reflect.Struct
}

func joinEnv(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func applyDefault(field reflect.Value, meta reflect.StructField, _ string) error {
	def, ok := meta.Tag.Lookup("default")
	if !ok || def == "" {
		return nil
	}
	if err := setFieldValue(field, def); err != nil {
		return fmt.Errorf("default for field %s: %w", meta.Name, err)
	}
	return nil
}

func (l *ConfigLoader) applyEnv(field reflect.Value, meta reflect.StructField, envName string) error {
	names := []string{envName}
	if l.config.ServiceName != "" {
		names = append([]string{strings.ToUpper(l.config.ServiceName) + "_" + envName}, names...)
	}

	for _, name := range names {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("field %s from env %s: %w", meta.Name, name, err)
		}
		return nil
	}
	return nil
}

func readYAML(filename string, target any) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// importEnvironmentFile exports KEY=VALUE lines into the process
// environment. Variables already present in the environment are kept.
func importEnvironmentFile(filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read environment file %s: %w", filename, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid line %d in environment file %s: %s", lineNum, filename, line)
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = unquote(strings.TrimSpace(value))

		if _, exists := os.LookupEnv(key); !exists {
			if err := os.Setenv(key, value); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// setFieldValue parses value into field. Durations use time.ParseDuration
// and string slices are comma separated.
func setFieldValue(field reflect.Value, value string) error {
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
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(d))
			return nil
		}
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
		field.Set(reflect.ValueOf(items).Convert(field.Type()))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}
