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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/epam/eco-schema-catalog-sub001/common/kvstore"
	"github.com/epam/eco-schema-catalog-sub001/util"
)

const (
	logCF   = kvstore.CF("log")
	indexCF = kvstore.CF("index")

	defaultRecordBufferSize = 4 << 10
)

var (
	ErrClosed = errors.New("metadata log is closed")
	// ErrIO marks a failed read or write of the underlying store. Such
	// failures may succeed on retry, other append errors will not.
	ErrIO = errors.New("metadata log io error")
)

type (
	Config struct {
		Path     string         `json:"path"`
		KVOption kvstore.Option `json:"kv_option"`
	}

	Stats struct {
		ID      string
		LastSeq uint64
		KV      kvstore.Stats
	}

	// Log is an ordered append-only log compacted per exact key.
	// Records live in the log column keyed by sequence; the index column
	// maps every key to the sequence of its latest record so an append can
	// drop the record it supersedes within the same write batch.
	Log struct {
		id      string
		kv      kvstore.Store
		lastSeq uint64

		appendMu sync.Mutex

		notifyMu sync.Mutex
		notifyC  chan struct{}

		closeMu  sync.RWMutex
		isClosed bool
		closeC   chan struct{}
		once     sync.Once
	}
)

func Open(ctx context.Context, cfg *Config) (*Log, error) {
	span := trace.SpanFromContextSafe(ctx)

	opt := cfg.KVOption
	opt.ColumnFamily = withColumns(opt.ColumnFamily, logCF, indexCF)
	kv, err := kvstore.NewKVStore(ctx, cfg.Path, kvstore.RocksdbLsmKVType, &opt)
	if err != nil {
		return nil, err
	}

	l := &Log{
		id:      uuid.NewString(),
		kv:      kv,
		notifyC: make(chan struct{}),
		closeC:  make(chan struct{}),
	}

	lr := kv.List(ctx, logCF, nil, nil)
	key, _, err := lr.ReadLastCopy()
	lr.Close()
	if err != nil {
		kv.Close()
		return nil, err
	}
	if key != nil {
		if l.lastSeq, err = decodeSeq(key); err != nil {
			kv.Close()
			return nil, err
		}
	}

	span.Infof("metadata log[%s] opened at %s, last seq: %d", l.id, cfg.Path, l.lastSeq)
	return l, nil
}

func (l *Log) ID() string {
	return l.id
}

func (l *Log) LastSeq() uint64 {
	return atomic.LoadUint64(&l.lastSeq)
}

// Append writes entries atomically in order and returns the sequence of
// the last one. Subscribers observe either none or all of the entries.
func (l *Log) Append(ctx context.Context, entries []Entry) (uint64, error) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.isClosed {
		return 0, ErrClosed
	}
	if len(entries) == 0 {
		return l.LastSeq(), nil
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	batch := l.kv.NewWriteBatch()
	defer batch.Close()
	w := util.GetBufferWriter(defaultRecordBufferSize)
	defer util.PutBufferWriter(w)

	seq := l.LastSeq()
	superseded := make(map[string]uint64, len(entries))
	for i := range entries {
		seq++
		key := entries[i].Key

		old, ok := superseded[string(key)]
		if !ok {
			raw, err := l.kv.GetRaw(ctx, indexCF, key)
			switch {
			case err == nil:
				if old, err = decodeSeq(raw); err != nil {
					return 0, err
				}
				ok = true
			case errors.Is(err, kvstore.ErrNotFound):
			default:
				return 0, ioError(err)
			}
		}
		if ok {
			batch.Delete(logCF, encodeSeq(old))
		}

		w.Reset()
		encodeRecord(w, entries[i], i == len(entries)-1)
		seqKey := encodeSeq(seq)
		batch.Put(logCF, seqKey, w.Bytes())
		batch.Put(indexCF, key, seqKey)
		superseded[string(key)] = seq
	}

	if err := l.kv.Write(ctx, batch); err != nil {
		return 0, ioError(err)
	}
	atomic.StoreUint64(&l.lastSeq, seq)
	l.broadcast()
	return seq, nil
}

// Subscribe returns a cursor delivering every surviving record after seq from.
func (l *Log) Subscribe(from uint64) *Subscription {
	return &Subscription{
		log:    l,
		cursor: from,
		closeC: make(chan struct{}),
	}
}

func (l *Log) Stats(ctx context.Context) (Stats, error) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.isClosed {
		return Stats{}, ErrClosed
	}
	kvStats, err := l.kv.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ID: l.id, LastSeq: l.LastSeq(), KV: kvStats}, nil
}

func (l *Log) Close() {
	l.once.Do(func() {
		close(l.closeC)
		l.closeMu.Lock()
		l.isClosed = true
		l.kv.Close()
		l.closeMu.Unlock()
	})
}

func (l *Log) broadcast() {
	l.notifyMu.Lock()
	close(l.notifyC)
	l.notifyC = make(chan struct{})
	l.notifyMu.Unlock()
}

func (l *Log) waitC() <-chan struct{} {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	return l.notifyC
}

// read returns records in (from, to], at least max unless exhausted, and never
// splits an append batch. next is the cursor to resume from.
func (l *Log) read(ctx context.Context, from, to uint64, max int) (records []Record, next uint64, err error) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.isClosed {
		return nil, from, ErrClosed
	}

	lr := l.kv.List(ctx, logCF, nil, encodeSeq(from+1))
	defer lr.Close()

	next = to
	for {
		key, value, err := lr.ReadNextCopy()
		if err != nil {
			return nil, from, err
		}
		if key == nil {
			return records, next, nil
		}
		seq, err := decodeSeq(key)
		if err != nil {
			return nil, from, err
		}
		if seq > to {
			return records, next, nil
		}
		r, err := decodeRecord(seq, value)
		if err != nil {
			return nil, from, err
		}
		records = append(records, r)
		if len(records) >= max && r.batchEnd {
			return records, seq, nil
		}
	}
}

func ioError(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}

func withColumns(cols []kvstore.CF, required ...kvstore.CF) []kvstore.CF {
	ret := append([]kvstore.CF(nil), cols...)
	for _, r := range required {
		found := false
		for _, c := range cols {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			ret = append(ret, r)
		}
	}
	return ret
}
