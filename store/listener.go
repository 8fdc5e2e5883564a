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

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/epam/eco-schema-catalog-sub001/metrics"
)

// Listener is told which subjects changed once the in-memory view reflects
// the change. Delivery is at least once; a listener re-reads what it needs.
type Listener interface {
	OnMetadataSubjectsUpdated(ctx context.Context, subjects []string)
}

type ListenerFunc func(ctx context.Context, subjects []string)

func (f ListenerFunc) OnMetadataSubjectsUpdated(ctx context.Context, subjects []string) {
	f(ctx, subjects)
}

func (s *Store) RegisterListener(l Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

// notify hands subjects to every listener on the notification pool. Listeners
// run concurrently with each other and with the consumer.
func (s *Store) notify(ctx context.Context, subjects []string) {
	if len(subjects) == 0 {
		return
	}
	s.listenerMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	span := trace.SpanFromContextSafe(ctx)
	for _, l := range listeners {
		l := l
		s.pool.Run(func() {
			defer func() {
				if r := recover(); r != nil {
					span.Errorf("metadata listener panic on subjects %v: %v", subjects, r)
				}
			}()
			l.OnMetadataSubjectsUpdated(ctx, subjects)
			metrics.Notifications.Inc()
		})
	}
}
