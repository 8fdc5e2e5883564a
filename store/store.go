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
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/epam/eco-schema-catalog-sub001/doclang"
	apierrors "github.com/epam/eco-schema-catalog-sub001/errors"
	"github.com/epam/eco-schema-catalog-sub001/metalog"
	"github.com/epam/eco-schema-catalog-sub001/metrics"
	"github.com/epam/eco-schema-catalog-sub001/proto"
	"github.com/epam/eco-schema-catalog-sub001/util/limiter"
	"github.com/epam/eco-schema-catalog-sub001/versioned"
)

const (
	stateStopped int32 = iota
	stateStarting
	stateRunning
)

type (
	// Log is the durable ordered log the store materializes.
	Log interface {
		LastSeq() uint64
		Append(ctx context.Context, entries []metalog.Entry) (uint64, error)
		Subscribe(from uint64) Subscription
	}
	Subscription interface {
		Next(ctx context.Context, max int) ([]metalog.Record, error)
		Cursor() uint64
		Close()
	}

	Stats struct {
		Subjects   int
		AppliedSeq uint64
		LastSeq    uint64
		WriteLimit limiter.Status
	}

	metalogAdapter struct {
		*metalog.Log
	}
)

func (a metalogAdapter) Subscribe(from uint64) Subscription {
	return a.Log.Subscribe(from)
}

// Store materializes the metadata log into one versioned container per subject.
//
// A single RWMutex guards the subject map. Writers of both the synchronous
// write path and the log consumer take it exclusively. sync.RWMutex does not
// reenter, so code running under the lock only calls the *Locked helpers.
type Store struct {
	cfg     Config
	log     Log
	parser  *doclang.Parser
	limiter limiter.Limiter

	state      int32
	appliedSeq uint64

	lock       sync.RWMutex
	containers map[string]*versioned.Container

	listenerMu sync.RWMutex
	listeners  []Listener

	sub    Subscription
	pool   taskpool.TaskPool
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *Config, l *metalog.Log) *Store {
	return newStore(cfg, metalogAdapter{Log: l})
}

func newStore(cfg *Config, l Log) *Store {
	c := *cfg
	initConfig(&c)
	return &Store{
		cfg:        c,
		log:        l,
		parser:     doclang.NewParser(c.ParseCacheSize),
		limiter:    limiter.NewLimiter(c.WriteLimit),
		containers: make(map[string]*versioned.Container),
	}
}

// Parser is the documentation parser shared with renderers and indexers.
func (s *Store) Parser() *doclang.Parser {
	return s.parser
}

func (s *Store) Get(ctx context.Context, key proto.MetadataKey) (*proto.MetadataValue, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !s.isRunning() {
		return nil, apierrors.ErrStoreNotRunning
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	c := s.containers[key.Subject]
	if c == nil {
		return nil, apierrors.ErrNotFound
	}
	v := c.Get(key)
	if v == nil {
		return nil, apierrors.ErrNotFound
	}
	return v, nil
}

// GetCollection returns the metadata visible at version, each value keyed by
// the key it was written with.
func (s *Store) GetCollection(ctx context.Context, subject string, version int) (map[proto.MetadataKey]*proto.MetadataValue, error) {
	if err := validateSubjectVersion(subject, version); err != nil {
		return nil, err
	}
	if !s.isRunning() {
		return nil, apierrors.ErrStoreNotRunning
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	c := s.containers[subject]
	if c == nil {
		return nil, apierrors.ErrNotFound
	}
	coll, ok := c.GetCollection(version)
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return coll, nil
}

// Subjects lists the subjects holding metadata in ascending order.
func (s *Store) Subjects() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	ret := make([]string, 0, len(s.containers))
	for subject := range s.containers {
		ret = append(ret, subject)
	}
	sort.Strings(ret)
	return ret
}

// Versions lists the versions of subject that carry metadata.
func (s *Store) Versions(subject string) []int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if c := s.containers[subject]; c != nil {
		return c.Versions()
	}
	return nil
}

func (s *Store) Stats() Stats {
	s.lock.RLock()
	subjects := len(s.containers)
	s.lock.RUnlock()
	return Stats{
		Subjects:   subjects,
		AppliedSeq: atomic.LoadUint64(&s.appliedSeq),
		LastSeq:    s.log.LastSeq(),
		WriteLimit: s.limiter.Status(),
	}
}

// SetWriteLimit replaces the write throttling settings of a live store.
func (s *Store) SetWriteLimit(cfg limiter.LimitConfig) {
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	s.limiter.SetQPS(cfg.QPS)
	s.limiter.SetConcurrency(uint32(cfg.Concurrency))
}

func (s *Store) isRunning() bool {
	return atomic.LoadInt32(&s.state) == stateRunning
}

func (s *Store) putLocked(key proto.MetadataKey, value *proto.MetadataValue) error {
	c := s.containers[key.Subject]
	if c == nil {
		c = versioned.New(key.Subject)
		s.containers[key.Subject] = c
		metrics.Subjects.Set(float64(len(s.containers)))
	}
	_, err := c.Put(key, value)
	if err != nil && c.IsEmpty() {
		s.dropLocked(c)
	}
	return err
}

func (s *Store) removeLocked(key proto.MetadataKey) error {
	c := s.containers[key.Subject]
	if c == nil {
		return key.Validate()
	}
	if _, err := c.Remove(key); err != nil {
		return err
	}
	if c.IsEmpty() {
		s.dropLocked(c)
	}
	return nil
}

func (s *Store) dropLocked(c *versioned.Container) {
	delete(s.containers, c.Subject())
	metrics.Subjects.Set(float64(len(s.containers)))
}

func validateSubjectVersion(subject string, version int) error {
	if strings.TrimSpace(subject) == "" {
		return apierrors.ErrInvalidSubject
	}
	if version <= 0 {
		return apierrors.ErrInvalidVersion
	}
	return nil
}

// Start replays the log into memory, then keeps consuming it in the background.
// It fails with ErrCatchUpTimeout when the replay outlasts catch_up_timeout_ms.
func (s *Store) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateStopped, stateStarting) {
		return apierrors.ErrStoreAlreadyStarted
	}
	span := trace.SpanFromContextSafe(ctx)

	sub := s.log.Subscribe(atomic.LoadUint64(&s.appliedSeq))
	catchUpCtx, cancel := context.WithTimeout(ctx, s.cfg.catchUpTimeout())
	defer cancel()
	replayed, err := s.catchUp(catchUpCtx, sub)
	if err != nil {
		sub.Close()
		atomic.StoreInt32(&s.state, stateStopped)
		if catchUpCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			span.Errorf("metadata log catch up timeout after %d records", replayed)
			return apierrors.ErrCatchUpTimeout
		}
		span.Errorf("metadata log catch up failed: %s", err)
		return apierrors.Persistence(err)
	}
	span.Infof("metadata log caught up, replayed %d records, applied seq: %d, subjects: %d",
		replayed, sub.Cursor(), len(s.Subjects()))

	_, loopCtx := trace.StartSpanFromContext(context.Background(), "metadata-log-consumer")
	loopCtx, s.cancel = context.WithCancel(loopCtx)
	s.sub = sub
	s.pool = taskpool.New(s.cfg.NotifyWorkers, defaultNotifyQueueSize)
	s.done = make(chan struct{})
	go s.consume(loopCtx, sub)

	atomic.StoreInt32(&s.state, stateRunning)
	return nil
}

// Stop halts the consumer and waits for it to exit. Operations fail with
// ErrStoreNotRunning until the store is started again.
func (s *Store) Stop() {
	if !atomic.CompareAndSwapInt32(&s.state, stateRunning, stateStopped) {
		return
	}
	s.cancel()
	s.sub.Close()
	<-s.done
	s.pool.Close()
}
