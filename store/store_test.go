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
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/epam/eco-schema-catalog-sub001/common/kvstore"
	apierrors "github.com/epam/eco-schema-catalog-sub001/errors"
	"github.com/epam/eco-schema-catalog-sub001/metalog"
	"github.com/epam/eco-schema-catalog-sub001/metrics"
	"github.com/epam/eco-schema-catalog-sub001/proto"
	"github.com/epam/eco-schema-catalog-sub001/util"
	"github.com/epam/eco-schema-catalog-sub001/util/limiter"
)

const subject = "orders-value"

func val(doc string) *proto.MetadataValue {
	return &proto.MetadataValue{Doc: doc, UpdatedAt: time.Unix(1700000000, 0).UTC(), UpdatedBy: "tester"}
}

func openLog(t *testing.T, path string) *metalog.Log {
	l, err := metalog.Open(context.TODO(), &metalog.Config{
		Path:     path,
		KVOption: kvstore.Option{CreateIfMissing: true, Sync: true},
	})
	require.NoError(t, err)
	return l
}

func newTestStore(t *testing.T) (*Store, *metalog.Log, string) {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(path) })

	l := openLog(t, path)
	s := New(&Config{AppendRetryDelayMs: 1}, l)
	require.NoError(t, s.Start(context.TODO()))
	t.Cleanup(func() {
		s.Stop()
		l.Close()
	})
	return s, l, path
}

type recorder struct {
	ch chan []string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan []string, 64)}
}

func (r *recorder) OnMetadataSubjectsUpdated(ctx context.Context, subjects []string) {
	r.ch <- subjects
}

func (r *recorder) next(t *testing.T) []string {
	select {
	case subjects := <-r.ch:
		return subjects
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
	return nil
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	select {
	case subjects := <-r.ch:
		t.Fatalf("unexpected notification %v", subjects)
	case <-time.After(wait):
	}
}

func docAt(t *testing.T, s *Store, key proto.MetadataKey, version int) string {
	coll, err := s.GetCollection(context.TODO(), key.Subject, version)
	if errors.Is(err, apierrors.ErrNotFound) {
		return ""
	}
	require.NoError(t, err)
	for k, v := range coll {
		if k.Logical() == key.Logical() {
			return v.Doc
		}
	}
	return ""
}

func TestStore_ReadYourOwnWrite(t *testing.T) {
	ctx := context.TODO()
	s, _, _ := newTestStore(t)

	k := proto.FieldKey(subject, 2, "com.acme.Order", "id")
	v := val("order id, see {@schema customers|customers-value|1}")
	v.Attributes = map[string]interface{}{"owner": "billing", "pii": false, "level": 3}
	require.NoError(t, s.CreateOrReplace(ctx, k, v))

	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	require.Equal(t, v.Doc, got.Doc)
	require.Equal(t, float64(3), got.Attributes["level"])
	require.True(t, v.UpdatedAt.Equal(got.UpdatedAt))

	got, err = s.Get(ctx, k.WithVersion(9))
	require.NoError(t, err)
	require.Equal(t, v.Doc, got.Doc)

	_, err = s.Get(ctx, k.WithVersion(1))
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = s.Get(ctx, proto.SchemaKey("missing", 1))
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = s.GetCollection(ctx, subject, 1)
	require.ErrorIs(t, err, apierrors.ErrNotFound)

	require.Equal(t, []string{subject}, s.Subjects())
	require.Equal(t, []int{2}, s.Versions(subject))
	require.Nil(t, s.Versions("missing"))
}

func TestStore_InheritanceAndRemoval(t *testing.T) {
	ctx := context.TODO()
	s, _, _ := newTestStore(t)
	k := proto.SchemaKey(subject, 1)

	require.NoError(t, s.CreateOrReplace(ctx, k, val("v1")))
	require.NoError(t, s.CreateOrReplace(ctx, k.WithVersion(4), val("v4")))
	require.Equal(t, "v1", docAt(t, s, k, 3))
	require.Equal(t, "v4", docAt(t, s, k, 5))

	require.NoError(t, s.Delete(ctx, k.WithVersion(4)))
	require.Equal(t, "v1", docAt(t, s, k, 5))

	require.ErrorIs(t, s.Delete(ctx, k.WithVersion(4)), apierrors.ErrKeyNotFound)
	require.ErrorIs(t, s.Delete(ctx, k.WithVersion(3)), apierrors.ErrKeyNotFound)

	require.NoError(t, s.Delete(ctx, k))
	require.Empty(t, s.Subjects())
}

func TestStore_BatchRaisesOneNotification(t *testing.T) {
	ctx := context.TODO()
	s, _, _ := newTestStore(t)
	r := newRecorder()
	s.RegisterListener(r)

	k1 := proto.SchemaKey(subject, 1)
	k2 := proto.FieldKey(subject, 1, "com.acme.Order", "id")
	require.NoError(t, s.ExecuteBatchUpdate(ctx, map[proto.MetadataKey]*proto.MetadataValue{
		k1: val("order"),
		k2: nil,
	}))

	_, err := s.Get(ctx, k1)
	require.NoError(t, err)
	_, err = s.Get(ctx, k2)
	require.ErrorIs(t, err, apierrors.ErrNotFound)

	require.Equal(t, []string{subject}, r.next(t))
	r.none(t, 200*time.Millisecond)
}

func TestStore_ConsumesForeignRecords(t *testing.T) {
	ctx := context.TODO()
	s, l, _ := newTestStore(t)
	r := newRecorder()
	s.RegisterListener(ListenerFunc(r.OnMetadataSubjectsUpdated))

	k := proto.SchemaKey("payments-value", 2)
	rawKey, err := proto.EncodeKey(k)
	require.NoError(t, err)
	rawValue, err := proto.EncodeValue(val("from another writer"))
	require.NoError(t, err)
	_, err = l.Append(ctx, []metalog.Entry{{Key: rawKey, Value: rawValue}})
	require.NoError(t, err)

	require.Equal(t, []string{"payments-value"}, r.next(t))
	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	require.Equal(t, "from another writer", got.Doc)
	require.Eventually(t, func() bool { return s.Stats().AppliedSeq == l.LastSeq() }, 5*time.Second, 10*time.Millisecond)
}

func TestStore_ApplyFailureSkipsNotification(t *testing.T) {
	ctx := context.TODO()
	s, l, _ := newTestStore(t)
	r := newRecorder()
	s.RegisterListener(r)

	failures := testutil.ToFloat64(metrics.ApplyFailures)
	_, err := l.Append(ctx, []metalog.Entry{{Key: []byte("garbage"), Value: []byte("x")}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ApplyFailures) > failures
	}, 5*time.Second, 10*time.Millisecond)
	r.none(t, 100*time.Millisecond)

	require.NoError(t, s.CreateOrReplace(ctx, proto.SchemaKey(subject, 1), val("v1")))
	require.Equal(t, []string{subject}, r.next(t))
}

func TestStore_CatchUpAfterReopen(t *testing.T) {
	ctx := context.TODO()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	l := openLog(t, path)
	s := New(&Config{}, l)
	require.NoError(t, s.Start(ctx))
	k := proto.SchemaKey(subject, 1)
	f := proto.FieldKey(subject, 3, "com.acme.Order", "id")
	require.NoError(t, s.CreateOrReplace(ctx, k, val("v1")))
	require.NoError(t, s.CreateOrReplace(ctx, k, val("v1 edited")))
	require.NoError(t, s.CreateOrReplace(ctx, k.WithVersion(5), val("v5")))
	require.NoError(t, s.CreateOrReplace(ctx, f, val("id")))
	require.NoError(t, s.Delete(ctx, k.WithVersion(5)))
	require.NoError(t, s.CreateOrReplace(ctx, proto.SchemaKey("gone", 1), val("x")))
	require.NoError(t, s.DeleteAll(ctx, "gone", 1))
	s.Stop()
	l.Close()

	l = openLog(t, path)
	defer l.Close()
	s = New(&Config{}, l)
	r := newRecorder()
	s.RegisterListener(r)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Equal(t, "v1 edited", docAt(t, s, k, 7))
	require.Equal(t, "id", docAt(t, s, f, 7))
	require.Equal(t, "", docAt(t, s, f, 2))
	require.Equal(t, []string{subject}, s.Subjects())
	require.Equal(t, l.LastSeq(), s.Stats().AppliedSeq)
	r.none(t, 100*time.Millisecond)
}

func TestStore_DeleteAll(t *testing.T) {
	ctx := context.TODO()
	s, _, _ := newTestStore(t)
	r := newRecorder()
	s.RegisterListener(r)

	k := proto.SchemaKey(subject, 1)
	f := proto.FieldKey(subject, 3, "com.acme.Order", "id")
	k5 := k.WithVersion(5)
	require.NoError(t, s.ExecuteBatchUpdate(ctx, map[proto.MetadataKey]*proto.MetadataValue{
		k: val("v1"), f: val("id"), k5: val("v5"),
	}))
	require.Equal(t, []string{subject}, r.next(t))

	require.NoError(t, s.DeleteAll(ctx, subject, 3))
	require.Equal(t, []string{subject}, r.next(t))
	require.Equal(t, "", docAt(t, s, k, 4))
	require.Equal(t, "v5", docAt(t, s, k, 5))
	require.Equal(t, "", docAt(t, s, f, 5))

	require.NoError(t, s.DeleteAll(ctx, subject, 10))
	require.Empty(t, s.Subjects())
	require.NoError(t, s.DeleteAll(ctx, subject, 10))
	require.ErrorIs(t, s.DeleteAll(ctx, " ", 1), apierrors.ErrInvalidSubject)
}

func TestStore_InvalidArguments(t *testing.T) {
	ctx := context.TODO()
	s, l, _ := newTestStore(t)
	last := l.LastSeq()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"blank subject", s.CreateOrReplace(ctx, proto.SchemaKey(" ", 1), val("x")), apierrors.ErrInvalidSubject},
		{"zero version", s.CreateOrReplace(ctx, proto.SchemaKey(subject, 0), val("x")), apierrors.ErrInvalidVersion},
		{"nil value", s.CreateOrReplace(ctx, proto.SchemaKey(subject, 1), nil), apierrors.ErrInvalidValue},
		{"field without name", s.CreateOrReplace(ctx, proto.FieldKey(subject, 1, "R", ""), val("x")), apierrors.ErrInvalidKey},
		{"empty batch", s.ExecuteBatchUpdate(ctx, nil), apierrors.ErrEmptyBatch},
		{"missing key", s.Delete(ctx, proto.SchemaKey(subject, 1)), apierrors.ErrKeyNotFound},
		{"bad version read", func() error { _, err := s.GetCollection(ctx, subject, -1); return err }(), apierrors.ErrInvalidVersion},
	}
	for _, c := range cases {
		require.ErrorIs(t, c.err, c.want, c.name)
		require.True(t, apierrors.IsInvalidArgument(c.err), c.name)
	}

	reserved := val("x")
	reserved.Attributes = map[string]interface{}{"schema.subject": "x"}
	err := s.CreateOrReplace(ctx, proto.SchemaKey(subject, 1), reserved)
	require.ErrorIs(t, err, apierrors.ErrAttributeKeyReserved)

	blank := val("x")
	blank.Attributes = map[string]interface{}{" ": "x"}
	require.ErrorIs(t, s.CreateOrReplace(ctx, proto.SchemaKey(subject, 1), blank), apierrors.ErrInvalidAttribute)

	unserializable := val("x")
	unserializable.Attributes = map[string]interface{}{"ch": make(chan int)}
	require.ErrorIs(t, s.CreateOrReplace(ctx, proto.SchemaKey(subject, 1), unserializable), apierrors.ErrInvalidAttribute)

	// a rejected batch appends and applies nothing
	err = s.ExecuteBatchUpdate(ctx, map[proto.MetadataKey]*proto.MetadataValue{
		proto.SchemaKey(subject, 1): val("ok"),
		proto.SchemaKey("", 1):      val("bad"),
	})
	require.ErrorIs(t, err, apierrors.ErrInvalidSubject)
	require.Equal(t, last, l.LastSeq())
	require.Empty(t, s.Subjects())
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.TODO()
	s, _, _ := newTestStore(t)
	require.ErrorIs(t, s.Start(ctx), apierrors.ErrStoreAlreadyStarted)

	k := proto.SchemaKey(subject, 1)
	require.NoError(t, s.CreateOrReplace(ctx, k, val("v1")))
	s.Stop()
	s.Stop()

	_, err := s.Get(ctx, k)
	require.ErrorIs(t, err, apierrors.ErrStoreNotRunning)
	require.ErrorIs(t, s.CreateOrReplace(ctx, k, val("v2")), apierrors.ErrStoreNotRunning)

	require.NoError(t, s.Start(ctx))
	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	require.Equal(t, "v1", got.Doc)
}

func TestStore_ConcurrentReadWrite(t *testing.T) {
	ctx := context.TODO()
	s, _, _ := newTestStore(t)
	k := proto.SchemaKey(subject, 1)
	require.NoError(t, s.CreateOrReplace(ctx, k, val("v0")))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				require.NoError(t, s.CreateOrReplace(ctx, k.WithVersion(i+1), val("w")))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := s.Get(ctx, k.WithVersion(10))
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, []int{1, 2, 3, 4}, s.Versions(subject))
}

type fakeLog struct {
	mu        sync.Mutex
	records   []metalog.Record
	appendErr error
	appends   int
	blockNext bool
	appending chan struct{}
	release   chan struct{}
	// called once an append is recorded, before it returns
	appended func(seq uint64)
}

type fakeSubscription struct {
	log    *fakeLog
	cursor uint64
	closeC chan struct{}
	once   sync.Once
}

func (f *fakeLog) LastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return 0
	}
	return f.records[len(f.records)-1].Seq
}

func (f *fakeLog) Append(ctx context.Context, entries []metalog.Entry) (uint64, error) {
	if f.appending != nil {
		f.appending <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	f.appends++
	if err := f.appendErr; err != nil {
		f.mu.Unlock()
		return 0, err
	}
	seq := uint64(len(f.records))
	for _, e := range entries {
		seq++
		f.records = append(f.records, metalog.Record{Seq: seq, Key: e.Key, Value: e.Value, Tombstone: e.Value == nil})
	}
	f.mu.Unlock()
	if f.appended != nil {
		f.appended(seq)
	}
	return seq, nil
}

func (f *fakeLog) Subscribe(from uint64) Subscription {
	return &fakeSubscription{log: f, cursor: from, closeC: make(chan struct{})}
}

func (s *fakeSubscription) Next(ctx context.Context, max int) ([]metalog.Record, error) {
	for {
		s.log.mu.Lock()
		block := s.log.blockNext
		var ret []metalog.Record
		if !block && uint64(len(s.log.records)) > s.cursor {
			ret = append(ret, s.log.records[s.cursor:]...)
			s.cursor = ret[len(ret)-1].Seq
		}
		s.log.mu.Unlock()
		if len(ret) > 0 {
			return ret, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeC:
			return nil, metalog.ErrClosed
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *fakeSubscription) Cursor() uint64 {
	return s.cursor
}

func (s *fakeSubscription) Close() {
	s.once.Do(func() { close(s.closeC) })
}

func TestStore_AppendFailure(t *testing.T) {
	ctx := context.TODO()
	f := &fakeLog{appendErr: fmt.Errorf("%w: disk failure", metalog.ErrIO)}
	s := newStore(&Config{AppendRetryAttempts: 3, AppendRetryDelayMs: 1}, f)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	k := proto.SchemaKey(subject, 1)
	err := s.CreateOrReplace(ctx, k, val("v1"))
	require.ErrorIs(t, err, apierrors.ErrPersistence)
	require.ErrorIs(t, err, f.appendErr)
	require.False(t, apierrors.IsInvalidArgument(err))
	require.Equal(t, 3, f.appends)
	_, err = s.Get(ctx, k)
	require.ErrorIs(t, err, apierrors.ErrNotFound)

	f.mu.Lock()
	f.appendErr, f.appends = metalog.ErrClosed, 0
	f.mu.Unlock()
	require.ErrorIs(t, s.CreateOrReplace(ctx, k, val("v1")), metalog.ErrClosed)
	require.Equal(t, 1, f.appends)

	corrupt := errors.New("corrupt index record")
	f.mu.Lock()
	f.appendErr, f.appends = corrupt, 0
	f.mu.Unlock()
	err = s.CreateOrReplace(ctx, k, val("v1"))
	require.ErrorIs(t, err, apierrors.ErrPersistence)
	require.ErrorIs(t, err, corrupt)
	require.Equal(t, 1, f.appends)

	f.mu.Lock()
	f.appendErr = nil
	f.mu.Unlock()
	require.NoError(t, s.CreateOrReplace(ctx, k, val("v1")))
}

func TestStore_LateWriterKeepsLatestRecord(t *testing.T) {
	ctx := context.TODO()
	first, resume := make(chan struct{}), make(chan struct{})
	f := &fakeLog{}
	f.appended = func(seq uint64) {
		if seq == 1 {
			close(first)
			<-resume
		}
	}
	s := newStore(&Config{}, f)
	r := newRecorder()
	s.RegisterListener(r)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	k := proto.SchemaKey(subject, 1)
	done := make(chan error)
	go func() { done <- s.CreateOrReplace(ctx, k, val("a")) }()
	<-first

	require.NoError(t, s.CreateOrReplace(ctx, k, val("b")))
	require.Eventually(t, func() bool { return s.Stats().AppliedSeq == 2 }, 5*time.Second, time.Millisecond)
	close(resume)
	require.NoError(t, <-done)

	v, err := s.Get(ctx, k)
	require.NoError(t, err)
	require.Equal(t, "b", v.Doc)
	require.Equal(t, []string{subject}, r.next(t))
}

func TestStore_CatchUpTimeout(t *testing.T) {
	ctx := context.TODO()
	f := &fakeLog{blockNext: true}
	_, err := f.Append(ctx, []metalog.Entry{{Key: []byte("k"), Value: []byte("v")}})
	require.NoError(t, err)

	s := newStore(&Config{CatchUpTimeoutMs: 50}, f)
	require.ErrorIs(t, s.Start(ctx), apierrors.ErrCatchUpTimeout)
	_, err = s.Get(ctx, proto.SchemaKey(subject, 1))
	require.ErrorIs(t, err, apierrors.ErrStoreNotRunning)
	require.ErrorIs(t, s.Start(ctx), apierrors.ErrCatchUpTimeout)

	// an undecodable record is logged during catch up, not fatal
	f.mu.Lock()
	f.blockNext = false
	f.mu.Unlock()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	require.Equal(t, uint64(1), s.Stats().AppliedSeq)
}

func TestStore_WriteLimit(t *testing.T) {
	ctx := context.TODO()
	f := &fakeLog{appending: make(chan struct{}), release: make(chan struct{})}
	s := newStore(&Config{WriteLimit: limiter.LimitConfig{Concurrency: 1}}, f)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	done := make(chan error)
	go func() {
		done <- s.CreateOrReplace(ctx, proto.SchemaKey(subject, 1), val("v1"))
	}()
	<-f.appending

	err := s.CreateOrReplace(ctx, proto.SchemaKey(subject, 2), val("v2"))
	require.ErrorIs(t, err, apierrors.ErrWriteLimited)
	require.Equal(t, 1, s.Stats().WriteLimit.Running)
	require.Equal(t, 1, s.Stats().WriteLimit.Config.Concurrency)

	s.SetWriteLimit(limiter.LimitConfig{Concurrency: 2})
	go func() {
		done <- s.CreateOrReplace(ctx, proto.SchemaKey(subject, 2), val("v2"))
	}()
	<-f.appending
	require.Equal(t, 2, s.Stats().WriteLimit.Running)
	close(f.release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	require.Equal(t, 0, s.Stats().WriteLimit.Running)
	require.Equal(t, limiter.LimitConfig{Concurrency: 2}, s.Stats().WriteLimit.Config)
}

func TestStore_StopReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.TODO()
	f := &fakeLog{}
	s := newStore(&Config{NotifyWorkers: 2}, f)
	r := newRecorder()
	s.RegisterListener(r)
	require.NoError(t, s.Start(ctx))

	keys := []proto.MetadataKey{proto.SchemaKey("b", 1), proto.SchemaKey("a", 1), proto.SchemaKey(subject, 1)}
	batch := make(map[proto.MetadataKey]*proto.MetadataValue)
	for _, k := range keys {
		batch[k] = val(k.String())
	}
	require.NoError(t, s.ExecuteBatchUpdate(ctx, batch))
	subjects := r.next(t)
	require.True(t, sort.StringsAreSorted(subjects))
	require.Equal(t, []string{"a", "b", subject}, subjects)

	s.Stop()
}
