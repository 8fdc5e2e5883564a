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
package limiter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("limit exceeded")

type (
	// Limiter bounds the rate and concurrency of metadata writes.
	// Each write waits for one token per record it appends.
	Limiter interface {
		Acquire(ctx context.Context, records int) error
		Release()
		SetQPS(qps int)
		SetConcurrency(value uint32)
		Status() Status
	}
	CountLimit interface {
		Running() int
		Acquire() error
		Release()
		SetLimit(limit uint32)
	}
	LimitConfig struct {
		// QPS is records per second; zero disables rate limiting.
		QPS int `json:"qps"`
		// Concurrency caps in-flight writes; zero disables the cap.
		Concurrency int `json:"concurrency"`
	}
	Status struct {
		Config  LimitConfig
		Running int
		Wait    int
	}
	limiter struct {
		config     atomic.Value
		countLimit CountLimit
		rate       *rate.Limiter
	}
)

func NewLimiter(cfg LimitConfig) Limiter {
	l := &limiter{
		countLimit: NewCountLimit(cfg.Concurrency),
		rate:       rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.QPS > 0 {
		l.rate.SetLimit(rate.Limit(cfg.QPS))
		l.rate.SetBurst(cfg.QPS)
	}
	l.config.Store(cfg)
	return l
}

func (l *limiter) Acquire(ctx context.Context, records int) error {
	if err := l.countLimit.Acquire(); err != nil {
		return err
	}
	if burst := l.rate.Burst(); burst > 0 && records > burst {
		records = burst
	}
	if err := l.rate.WaitN(ctx, records); err != nil {
		l.countLimit.Release()
		return err
	}
	return nil
}

func (l *limiter) Release() {
	l.countLimit.Release()
}

func (l *limiter) SetQPS(qps int) {
	if qps > 0 {
		l.rate.SetLimit(rate.Limit(qps))
		l.rate.SetBurst(qps)
	} else {
		l.rate.SetLimit(rate.Inf)
	}
	cfg := l.getConfig()
	cfg.QPS = qps
	l.config.Store(cfg)
}

func (l *limiter) SetConcurrency(value uint32) {
	l.countLimit.SetLimit(value)
	cfg := l.getConfig()
	cfg.Concurrency = int(value)
	l.config.Store(cfg)
}

func (l *limiter) Status() Status {
	return Status{
		Config:  l.getConfig(),
		Running: l.countLimit.Running(),
		Wait:    rateWait(l.rate),
	}
}

func (l *limiter) getConfig() LimitConfig {
	return l.config.Load().(LimitConfig)
}

// rateWait reports in milliseconds how long a half-second burst would wait now.
func rateWait(r *rate.Limiter) int {
	if r.Limit() == rate.Inf {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns limiter with concurrent n, zero means unlimited
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	limit := atomic.LoadUint32(&l.limit)
	if atomic.AddUint32(&l.current, 1) > limit && limit > 0 {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
