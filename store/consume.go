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
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/epam/eco-schema-catalog-sub001/metalog"
	"github.com/epam/eco-schema-catalog-sub001/metrics"
	"github.com/epam/eco-schema-catalog-sub001/proto"
)

// catchUp applies every record up to the sequence that was last when it began.
// Replayed records raise no notification.
func (s *Store) catchUp(ctx context.Context, sub Subscription) (replayed int, err error) {
	span := trace.SpanFromContextSafe(ctx)
	target := s.log.LastSeq()
	for sub.Cursor() < target {
		records, err := sub.Next(ctx, s.cfg.PollBatchSize)
		if err != nil {
			return replayed, err
		}
		replayed += len(records)
		if _, err := s.apply(records, sub.Cursor()); err != nil {
			metrics.ApplyFailures.Inc()
			span.Errorf("apply replayed records(%d-%d) failed: %s",
				records[0].Seq, records[len(records)-1].Seq, err)
		}
	}
	return replayed, nil
}

func (s *Store) consume(ctx context.Context, sub Subscription) {
	defer close(s.done)
	span := trace.SpanFromContextSafe(ctx)

	for {
		records, err := sub.Next(ctx, s.cfg.PollBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, metalog.ErrClosed) {
				span.Warnf("metadata log closed, consumer exits")
				return
			}
			span.Errorf("poll metadata log failed: %s", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.pollErrorBackoff()):
			}
			continue
		}

		subjects, err := s.apply(records, sub.Cursor())
		if err != nil {
			metrics.ApplyFailures.Inc()
			span.Warnf("apply records(%d-%d) failed, skip notification: %s",
				records[0].Seq, records[len(records)-1].Seq, err)
			continue
		}
		metrics.AppliedBatches.Inc()
		span.Debugf("applied records(%d-%d) of subjects %v",
			records[0].Seq, records[len(records)-1].Seq, subjects)
		s.notify(ctx, subjects)
	}
}

// apply replays records under the write lock and advances the applied
// sequence to cursor before releasing it. Every record is attempted; the
// first failure is returned after the rest were applied.
func (s *Store) apply(records []metalog.Record, cursor uint64) (subjects []string, err error) {
	seen := make(map[string]struct{})

	s.lock.Lock()
	defer s.lock.Unlock()
	defer s.setAppliedSeq(cursor)
	for i := range records {
		subject, applyErr := s.applyRecordLocked(&records[i])
		if applyErr != nil {
			if err == nil {
				err = fmt.Errorf("record %d: %w", records[i].Seq, applyErr)
			}
			continue
		}
		if _, ok := seen[subject]; !ok {
			seen[subject] = struct{}{}
			subjects = append(subjects, subject)
		}
	}
	sort.Strings(subjects)
	return subjects, err
}

func (s *Store) applyRecordLocked(r *metalog.Record) (string, error) {
	key, err := proto.DecodeKey(r.Key)
	if err != nil {
		return "", err
	}
	if r.Tombstone {
		return key.Subject, s.removeLocked(key)
	}
	value, err := proto.DecodeValue(r.Value)
	if err != nil {
		return "", err
	}
	return key.Subject, s.putLocked(key, value)
}

func (s *Store) setAppliedSeq(seq uint64) {
	atomic.StoreUint64(&s.appliedSeq, seq)
	metrics.AppliedSeq.Set(float64(seq))
}
