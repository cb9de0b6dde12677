package main

import (
	"github.com/jinzhu/configor"

	"github.com/torchdeploy/tsm/scheduler"
)

// Config is tsmctl's on-disk configuration, loaded with configor the way
// the teacher loads its own manager config.
type Config struct {
	SessionName string                       `default:"tsmctl"`
	Local       scheduler.LocalSchedulerConfig `yaml:"local"`
}

// loadConfig reads path (if non-empty) over top of Config's defaults.
// A missing path is not an error: tsmctl runs against pure defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if path != "" {
		err = configor.Load(cfg, path)
	} else {
		err = configor.Load(cfg)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
