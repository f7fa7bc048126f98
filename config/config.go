// Package config loads the server's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// User is one entry in the users table. An empty Password means the
// account authenticates with no password check.
type User struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Config is the full set of server-tunable parameters, loaded once at
// startup and treated as read-only thereafter.
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	ServerPort uint16 `yaml:"server_port"`

	PasvEnable  bool   `yaml:"pasv_enable"`
	PasvPortMin uint16 `yaml:"pasv_port_min"`
	PasvPortMax uint16 `yaml:"pasv_port_max"`

	MaxClients int   `yaml:"max_clients"` // 0 = unlimited
	MaxSpeed   int64 `yaml:"max_speed"`   // bytes/second, <=0 = unlimited

	Admin User   `yaml:"admin"`
	Users []User `yaml:"users"`

	IdleTimeoutSecs   int `yaml:"idle_timeout_secs"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs"`

	Pidfile string `yaml:"pidfile"`
}

// Default returns a Config populated with SPEC_FULL.md §6's defaults.
func Default() Config {
	return Config{
		ServerAddr:        "0.0.0.0",
		ServerPort:        8089,
		PasvPortMin:       21000,
		PasvPortMax:       21999,
		IdleTimeoutSecs:   90,
		SweepIntervalSecs: 5,
		Pidfile:           "/var/run/miniftpd.pid",
	}
}

// Load reads and parses a YAML config file at path, filling unset fields
// with the result of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ServerPort == 0 {
		return fmt.Errorf("config: server_port must be nonzero")
	}
	if c.PasvEnable && c.PasvPortMin > c.PasvPortMax {
		return fmt.Errorf("config: pasv_port_min (%d) > pasv_port_max (%d)", c.PasvPortMin, c.PasvPortMax)
	}
	return nil
}
