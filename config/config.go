// Copyright (c) 2022 The reactor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cf-sky/reactor/pkg/logging"
)

// Config is the top-level server configuration loaded from a YAML file.
type Config struct {
	Port           int    `yaml:"port"`
	WebPort        int    `yaml:"web_port"`
	ThreadNum      int    `yaml:"thread_num"`
	ReusePort      bool   `yaml:"reuse_port"`
	HighWaterMark  int    `yaml:"high_water_mark"`
	LogPath        string `yaml:"log_path"`
	LogLevel       string `yaml:"log_level"`
	LogExpireDay   int    `yaml:"log_expire_day"`
	IPAllowListDir string `yaml:"ip_allow_list_dir"`
	IPAllowListFile string `yaml:"ip_allow_list_file"`
}

func LoadConfig(fileName string) (*Config, error) {
	file, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file from %s", fileName)
	}
	var cfg Config
	if err = yaml.Unmarshal(file, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	if err = cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, ok := logging.LevelMapperRev[c.LogLevel]; !ok {
		return errors.Errorf("unknown log level %s", c.LogLevel)
	}
	if c.Port <= 0 {
		return errors.Errorf("invalid listen port %d", c.Port)
	}
	if c.ThreadNum < 0 {
		return errors.Errorf("thread_num must be >= 0, got %d", c.ThreadNum)
	}
	if c.HighWaterMark < 0 {
		return errors.Errorf("high_water_mark must be >= 0, got %d", c.HighWaterMark)
	}
	return nil
}
