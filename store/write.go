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
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/retry"

	"github.com/epam/eco-schema-catalog-sub001/doclang"
	apierrors "github.com/epam/eco-schema-catalog-sub001/errors"
	"github.com/epam/eco-schema-catalog-sub001/metalog"
	"github.com/epam/eco-schema-catalog-sub001/metrics"
	"github.com/epam/eco-schema-catalog-sub001/proto"
	"github.com/epam/eco-schema-catalog-sub001/util/limiter"
)

type mutation struct {
	key   proto.MetadataKey
	value *proto.MetadataValue
	entry metalog.Entry
}

func (s *Store) CreateOrReplace(ctx context.Context, key proto.MetadataKey, value *proto.MetadataValue) error {
	if value == nil {
		return apierrors.ErrInvalidValue
	}
	return s.ExecuteBatchUpdate(ctx, map[proto.MetadataKey]*proto.MetadataValue{key: value})
}

// Delete removes the value written at exactly key.Version.
func (s *Store) Delete(ctx context.Context, key proto.MetadataKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !s.isRunning() {
		return apierrors.ErrStoreNotRunning
	}

	s.lock.RLock()
	c := s.containers[key.Subject]
	exists := c != nil && c.Owns(key)
	s.lock.RUnlock()
	if !exists {
		return apierrors.ErrKeyNotFound
	}
	return s.ExecuteBatchUpdate(ctx, map[proto.MetadataKey]*proto.MetadataValue{key: nil})
}

// DeleteAll removes every key of subject written at version or below, as
// when the schema version or the whole subject is deleted upstream.
func (s *Store) DeleteAll(ctx context.Context, subject string, version int) error {
	if err := validateSubjectVersion(subject, version); err != nil {
		return err
	}
	if !s.isRunning() {
		return apierrors.ErrStoreNotRunning
	}

	s.lock.RLock()
	var keys []proto.MetadataKey
	if c := s.containers[subject]; c != nil {
		keys = c.ExplicitKeys(version)
	}
	s.lock.RUnlock()
	if len(keys) == 0 {
		return nil
	}

	batch := make(map[proto.MetadataKey]*proto.MetadataValue, len(keys))
	for _, k := range keys {
		batch[k] = nil
	}
	trace.SpanFromContextSafe(ctx).Infof("delete %d metadata keys of %s up to version %d", len(keys), subject, version)
	return s.ExecuteBatchUpdate(ctx, batch)
}

// ExecuteBatchUpdate appends all mutations as one log batch, nil values being
// deletions, then applies them in memory. Nothing is applied when validation
// or the append fails.
func (s *Store) ExecuteBatchUpdate(ctx context.Context, batch map[proto.MetadataKey]*proto.MetadataValue) error {
	if len(batch) == 0 {
		return apierrors.ErrEmptyBatch
	}
	mutations, err := s.prepare(batch)
	if err != nil {
		return err
	}
	if !s.isRunning() {
		return apierrors.ErrStoreNotRunning
	}

	span := trace.SpanFromContextSafe(ctx)
	if err := s.limiter.Acquire(ctx, len(mutations)); err != nil {
		if errors.Is(err, limiter.ErrLimitExceeded) {
			return apierrors.ErrWriteLimited
		}
		return err
	}
	defer s.limiter.Release()

	entries := make([]metalog.Entry, len(mutations))
	for i := range mutations {
		entries[i] = mutations[i].entry
	}
	seq, err := s.append(ctx, entries)
	if err != nil {
		metrics.AppendFailures.Inc()
		span.Errorf("append %d metadata records failed: %s", len(entries), err)
		return apierrors.Persistence(err)
	}
	metrics.AppendedRecords.Add(float64(len(entries)))

	s.lock.Lock()
	defer s.lock.Unlock()
	// the consumer already applied this batch and whatever followed it
	if seq <= atomic.LoadUint64(&s.appliedSeq) {
		span.Debugf("metadata mutations at seq %d already applied", seq)
		return nil
	}
	for _, m := range mutations {
		if m.value == nil {
			err = s.removeLocked(m.key)
		} else {
			err = s.putLocked(m.key, m.value)
		}
		if err != nil {
			return err
		}
	}
	span.Debugf("applied %d metadata mutations at seq %d", len(mutations), seq)
	return nil
}

// prepare validates and encodes batch in key order. Values are normalized
// through the codec so memory holds exactly what a replay would produce.
func (s *Store) prepare(batch map[proto.MetadataKey]*proto.MetadataValue) ([]mutation, error) {
	ret := make([]mutation, 0, len(batch))
	for key, value := range batch {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		rawKey, err := proto.EncodeKey(key)
		if err != nil {
			return nil, err
		}
		m := mutation{key: key, entry: metalog.Entry{Key: rawKey}}
		if value != nil {
			if err := validateValue(value); err != nil {
				return nil, err
			}
			if m.value, err = proto.Normalize(value); err != nil {
				return nil, err
			}
			if m.entry.Value, err = proto.EncodeValue(m.value); err != nil {
				return nil, err
			}
		}
		ret = append(ret, m)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].key.Less(ret[j].key) })
	return ret, nil
}

func validateValue(v *proto.MetadataValue) error {
	for k := range v.Attributes {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: blank attribute key", apierrors.ErrInvalidAttribute)
		}
		if doclang.IsAttributeKey(k) {
			return fmt.Errorf("%w: %q", apierrors.ErrAttributeKeyReserved, k)
		}
	}
	return nil
}

// append retries transient failures with a fixed backoff.
func (s *Store) append(ctx context.Context, entries []metalog.Entry) (seq uint64, err error) {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()
	defer func() { metrics.AppendDuration.Observe(time.Since(start).Seconds()) }()

	attempt := 0
	err = retry.Timed(s.cfg.AppendRetryAttempts, s.cfg.AppendRetryDelayMs).RuptOn(func() (bool, error) {
		if attempt > 0 {
			metrics.AppendRetries.Inc()
			span.Warnf("retry metadata log append, attempt %d", attempt+1)
		}
		attempt++
		var appendErr error
		seq, appendErr = s.log.Append(ctx, entries)
		if appendErr == nil {
			return true, nil
		}
		return !isTransient(ctx, appendErr), appendErr
	})
	return seq, err
}

// isTransient reports whether an append failure came from the log's storage
// and may succeed on retry. Anything else, a corrupt index included, is final.
func isTransient(ctx context.Context, err error) bool {
	return ctx.Err() == nil && errors.Is(err, metalog.ErrIO)
}
