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
package metalog

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/util/errors"
)

// Subscription tails a Log from a cursor. It is not safe for concurrent use.
type Subscription struct {
	log    *Log
	cursor uint64
	closeC chan struct{}
	once   sync.Once
}

// Cursor is the sequence of the last record delivered, or the starting point.
func (s *Subscription) Cursor() uint64 {
	return s.cursor
}

// Next blocks until records past the cursor are available and returns them.
// Records of one append are always returned together, so a result may exceed max.
func (s *Subscription) Next(ctx context.Context, max int) ([]Record, error) {
	if max <= 0 {
		max = 1
	}
	for {
		waitC := s.log.waitC()
		last := s.log.LastSeq()
		if last > s.cursor {
			records, next, err := s.log.read(ctx, s.cursor, last, max)
			if err == ErrClosed {
				return nil, err
			}
			if err != nil {
				return nil, errors.Info(err, "read metadata log")
			}
			s.cursor = next
			if len(records) > 0 {
				return records, nil
			}
			continue
		}

		select {
		case <-waitC:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeC:
			return nil, ErrClosed
		case <-s.log.closeC:
			return nil, ErrClosed
		}
	}
}

func (s *Subscription) Close() {
	s.once.Do(func() { close(s.closeC) })
}
