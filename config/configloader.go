package config

import (
	"fmt"
)

// LoadConfigFromFile loads appConfig from a JSON file.
func LoadConfigFromFile(filePath string, appConfig any) error {
	configSource := &File{ConfigFilePath: filePath}

	if err := Load(configSource, appConfig); err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}
	return nil
}

// LoadConfigFromEnv loads appConfig from the environment.
func LoadConfigFromEnv(appConfig *AppConfig) error {
	configSource := &Env{}

	if err := Load(configSource, appConfig); err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}
	return nil
}
