// Package config loads application configuration. The deployment contract
// is environment variables; the File source exists for local development
// where a JSON file is more convenient than an env block.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is a source from which application configuration can be loaded.
type Config interface {
	LoadConfig(c any) error
	Check() error
	Get(key string) (string, error)
}

// Load first ensures that the config source is valid and accessible, then
// loads the config into c.
func Load(cs Config, c any) error {
	if err := cs.Check(); err != nil {
		return err
	}
	return cs.LoadConfig(c)
}

// File loads configuration from a JSON file.
type File struct {
	ConfigFilePath string
	Config         map[string]interface{}
}

func (f *File) Check() error {
	if f.ConfigFilePath == "" {
		return fmt.Errorf("configFilePath cannot be empty")
	}
	return nil
}

func (f *File) LoadConfig(appConfig any) error {
	file, err := os.Open(f.ConfigFilePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(appConfig); err != nil {
		return err
	}

	// Keep a generic copy for Get.
	raw, err := os.ReadFile(f.ConfigFilePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &f.Config)
}

type ValueNotStringError struct {
	Key   string
	Value interface{}
}

func (e *ValueNotStringError) Error() string {
	return fmt.Sprintf("value for key %s is not a string: %v", e.Key, e.Value)
}

type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %s not found in config", e.Key)
}

// Get retrieves a value from the configuration by key. Non-string values are
// stringified and returned together with ValueNotStringError.
func (f *File) Get(key string) (string, error) {
	value, ok := f.Config[key]
	if !ok {
		return "", &KeyNotFoundError{Key: key}
	}

	strValueAsserted, ok := value.(string)
	if !ok {
		return fmt.Sprintf("%v", value), &ValueNotStringError{Key: key, Value: value}
	}
	return strValueAsserted, nil
}

// Env loads configuration from process environment variables.
type Env struct{}

func (e *Env) Check() error {
	return nil
}

func (e *Env) LoadConfig(appConfig any) error {
	cfg, ok := appConfig.(*AppConfig)
	if !ok {
		return fmt.Errorf("env source loads *AppConfig, got %T", appConfig)
	}
	*cfg = FromEnv()
	return nil
}

// Get returns the environment variable's value. An unset variable is
// KeyNotFoundError, matching the File source.
func (e *Env) Get(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", &KeyNotFoundError{Key: key}
	}
	return value, nil
}
