// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// config holds the settings of a load run.
type config struct {
	Database     string
	Endpoint     string
	AccessToken  string
	Table        string
	Workers      int
	Duration     time.Duration
	PayloadBytes int
	MinSessions  uint64
	MaxSessions  uint64
	MetricsAddr  string
}

func addRunFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("database", "", "Database name: projects/P/instances/I/databases/D")
	fs.String("endpoint", "", "Override the Spanner endpoint")
	fs.String("access-token", "", "OAuth2 access token to send instead of default credentials")
	fs.String("table", "LoadTest", "Table receiving the rows; it needs the columns Id, Worker and Payload")
	fs.Int("workers", 8, "Number of concurrent committers")
	fs.Duration("duration", time.Minute, "How long to run")
	fs.Int("payload-bytes", 64, "Size of the Payload column of each row")
	fs.Uint64("min-sessions", 10, "SessionPoolConfig.MinOpened")
	fs.Uint64("max-sessions", 100, "SessionPoolConfig.MaxOpened")
	fs.String("metrics-addr", ":9464", "Address serving /metrics; empty disables it")
}

// loadConfig reads the run settings out of v, which must have the run flags
// bound.
func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		Database:     v.GetString("database"),
		Endpoint:     v.GetString("endpoint"),
		AccessToken:  v.GetString("access-token"),
		Table:        v.GetString("table"),
		Workers:      v.GetInt("workers"),
		Duration:     v.GetDuration("duration"),
		PayloadBytes: v.GetInt("payload-bytes"),
		MinSessions:  v.GetUint64("min-sessions"),
		MaxSessions:  v.GetUint64("max-sessions"),
		MetricsAddr:  v.GetString("metrics-addr"),
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.Table == "" {
		errs = append(errs, errors.New("table is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %v", c.Duration))
	}
	if c.PayloadBytes < 0 {
		errs = append(errs, fmt.Errorf("payload-bytes must not be negative, got %d", c.PayloadBytes))
	}
	if c.MaxSessions == 0 {
		errs = append(errs, errors.New("max-sessions must be positive"))
	}
	if c.MinSessions > c.MaxSessions {
		errs = append(errs, fmt.Errorf("min-sessions (%d) exceeds max-sessions (%d)", c.MinSessions, c.MaxSessions))
	}
	return errors.Join(errs...)
}
