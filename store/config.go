// Copyright 2023 The Cuber Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.
package store

import (
	"time"

	"github.com/epam/eco-schema-catalog-sub001/util/limiter"
)

const (
	defaultCatchUpTimeoutMs    = 60000
	defaultPollBatchSize       = 512
	defaultAppendRetryAttempts = 3
	defaultAppendRetryDelayMs  = 200
	defaultNotifyWorkers       = 4
	defaultNotifyQueueSize     = 1024
	defaultPollErrorBackoffMs  = 1000
	defaultParseCacheSize      = 1024
)

type Config struct {
	CatchUpTimeoutMs    int                 `json:"catch_up_timeout_ms"`
	PollBatchSize       int                 `json:"poll_batch_size"`
	AppendRetryAttempts int                 `json:"append_retry_attempts"`
	AppendRetryDelayMs  uint32              `json:"append_retry_delay_ms"`
	NotifyWorkers       int                 `json:"notify_workers"`
	PollErrorBackoffMs  int                 `json:"poll_error_backoff_ms"`
	ParseCacheSize      int                 `json:"parse_cache_size"`
	WriteLimit          limiter.LimitConfig `json:"write_limit"`
}

func initConfig(cfg *Config) {
	if cfg.CatchUpTimeoutMs <= 0 {
		cfg.CatchUpTimeoutMs = defaultCatchUpTimeoutMs
	}
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = defaultPollBatchSize
	}
	if cfg.AppendRetryAttempts <= 0 {
		cfg.AppendRetryAttempts = defaultAppendRetryAttempts
	}
	if cfg.AppendRetryDelayMs == 0 {
		cfg.AppendRetryDelayMs = defaultAppendRetryDelayMs
	}
	if cfg.NotifyWorkers <= 0 {
		cfg.NotifyWorkers = defaultNotifyWorkers
	}
	if cfg.PollErrorBackoffMs <= 0 {
		cfg.PollErrorBackoffMs = defaultPollErrorBackoffMs
	}
	if cfg.ParseCacheSize <= 0 {
		cfg.ParseCacheSize = defaultParseCacheSize
	}
}

func (cfg *Config) catchUpTimeout() time.Duration {
	return time.Duration(cfg.CatchUpTimeoutMs) * time.Millisecond
}

func (cfg *Config) pollErrorBackoff() time.Duration {
	return time.Duration(cfg.PollErrorBackoffMs) * time.Millisecond
}
