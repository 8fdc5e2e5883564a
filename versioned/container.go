// Copyright 2023 The CubeFS Authors.
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

package versioned

import (
	"sort"

	"github.com/cubefs/cubefs/util/btree"

	apierrors "github.com/epam/eco-schema-catalog-sub001/errors"
	"github.com/epam/eco-schema-catalog-sub001/proto"
)

const treeDegree = 8

type entry struct {
	// key is stamped with the version the value was written at
	key   proto.MetadataKey
	value *proto.MetadataValue
}

// bucket holds the complete metadata visible at version, inherited entries included.
type bucket struct {
	version int
	entries map[proto.LogicalKey]entry
}

func (b *bucket) Less(than btree.Item) bool {
	return b.version < than.(*bucket).version
}

func (b *bucket) Copy() btree.Item {
	return b.clone(b.version)
}

func (b *bucket) clone(version int) *bucket {
	ret := &bucket{version: version, entries: make(map[proto.LogicalKey]entry, len(b.entries))}
	for k, e := range b.entries {
		ret.entries[k] = e
	}
	return ret
}

func (b *bucket) owns(e entry) bool {
	return e.key.Version == b.version
}

// Container keeps the metadata of one subject across its versions. Inheritance
// is materialized on write so reads resolve with a single floor lookup.
// Container is not safe for concurrent use; the owning store serializes access.
type Container struct {
	subject string
	tree    *btree.BTree
}

func New(subject string) *Container {
	return &Container{subject: subject, tree: btree.New(treeDegree)}
}

func (c *Container) Subject() string {
	return c.subject
}

// Get returns the value of key's logical key visible at key.Version.
func (c *Container) Get(key proto.MetadataKey) *proto.MetadataValue {
	if key.Subject != c.subject {
		return nil
	}
	b := c.floor(key.Version)
	if b == nil {
		return nil
	}
	if e, ok := b.entries[key.Logical()]; ok {
		return e.value
	}
	return nil
}

// GetCollection returns everything visible at version, keyed by the key each
// value was written with. The second result is false when nothing is visible.
func (c *Container) GetCollection(version int) (map[proto.MetadataKey]*proto.MetadataValue, bool) {
	b := c.floor(version)
	if b == nil {
		return nil, false
	}
	ret := make(map[proto.MetadataKey]*proto.MetadataValue, len(b.entries))
	for _, e := range b.entries {
		ret[e.key] = e.value
	}
	return ret, true
}

// Put sets key at key.Version and carries the value forward through later
// versions until one that overrides the same logical key.
func (c *Container) Put(key proto.MetadataKey, value *proto.MetadataValue) (*proto.MetadataValue, error) {
	if err := c.check(key); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, apierrors.ErrInvalidValue
	}

	lk := key.Logical()
	b := c.get(key.Version)
	if b == nil {
		b = c.newBucket(key.Version)
		c.tree.ReplaceOrInsert(b)
	}

	prev, existed := b.entries[lk]
	e := entry{key: key, value: value}
	b.entries[lk] = e
	if existed && prev.key == key && prev.value.Equal(value) {
		return prev.value, nil
	}
	c.propagate(key.Version, lk, e)

	if !existed {
		return nil, nil
	}
	return prev.value, nil
}

// Remove deletes the value written at exactly key.Version. Versions that
// inherited it fall back to the nearest lower value, or lose the key.
//
// A version that only inherits the logical key is left untouched: the
// tombstone of an exact key must not erase a value written at another version,
// whatever order the log replays them in.
func (c *Container) Remove(key proto.MetadataKey) (*proto.MetadataValue, error) {
	if err := c.check(key); err != nil {
		return nil, err
	}

	lk := key.Logical()
	b := c.get(key.Version)
	if b == nil {
		return nil, nil
	}
	removed, ok := b.entries[lk]
	if !ok || !b.owns(removed) {
		return nil, nil
	}
	delete(b.entries, lk)
	c.dropIfEmpty(b)

	for h := c.higher(key.Version); h != nil; {
		e, ok := h.entries[lk]
		if !ok || e.key != removed.key {
			break
		}
		delete(h.entries, lk)
		next := c.higher(h.version)
		c.dropIfEmpty(h)
		h = next
	}

	if l := c.lower(key.Version); l != nil {
		if e, ok := l.entries[lk]; ok {
			c.propagate(l.version, lk, e)
		}
	}
	return removed.value, nil
}

// Owns reports whether a value was written at exactly key.Version.
func (c *Container) Owns(key proto.MetadataKey) bool {
	b := c.get(key.Version)
	if b == nil || key.Subject != c.subject {
		return false
	}
	e, ok := b.entries[key.Logical()]
	return ok && b.owns(e)
}

func (c *Container) IsEmpty() bool {
	return c.tree.Len() == 0
}

// Versions lists the stored versions in ascending order.
func (c *Container) Versions() []int {
	ret := make([]int, 0, c.tree.Len())
	c.tree.Ascend(func(i btree.Item) bool {
		ret = append(ret, i.(*bucket).version)
		return true
	})
	return ret
}

// ExplicitKeys returns the keys written at versions up to and including upTo.
func (c *Container) ExplicitKeys(upTo int) []proto.MetadataKey {
	var ret []proto.MetadataKey
	c.tree.Ascend(func(i btree.Item) bool {
		b := i.(*bucket)
		if b.version > upTo {
			return false
		}
		for _, e := range b.entries {
			if b.owns(e) {
				ret = append(ret, e.key)
			}
		}
		return true
	})
	sort.Slice(ret, func(i, j int) bool { return ret[i].Less(ret[j]) })
	return ret
}

func (c *Container) check(key proto.MetadataKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if key.Subject != c.subject {
		return apierrors.ErrKeySubjectMismatch
	}
	return nil
}

func (c *Container) newBucket(version int) *bucket {
	if l := c.lower(version); l != nil {
		return l.clone(version)
	}
	return &bucket{version: version, entries: make(map[proto.LogicalKey]entry)}
}

// propagate overwrites the inherited copies of lk in the versions after from,
// stopping at the first version that holds its own value for lk.
func (c *Container) propagate(from int, lk proto.LogicalKey, e entry) {
	for b := c.higher(from); b != nil; b = c.higher(b.version) {
		if cur, ok := b.entries[lk]; ok && b.owns(cur) {
			return
		}
		b.entries[lk] = e
	}
}

func (c *Container) dropIfEmpty(b *bucket) {
	if len(b.entries) == 0 {
		c.tree.Delete(b)
	}
}

func (c *Container) get(version int) *bucket {
	if found := c.tree.Get(&bucket{version: version}); found != nil {
		return found.(*bucket)
	}
	return nil
}

func (c *Container) floor(version int) (ret *bucket) {
	c.tree.DescendLessOrEqual(&bucket{version: version}, func(i btree.Item) bool {
		ret = i.(*bucket)
		return false
	})
	return
}

func (c *Container) lower(version int) *bucket {
	return c.floor(version - 1)
}

func (c *Container) higher(version int) (ret *bucket) {
	c.tree.AscendGreaterOrEqual(&bucket{version: version + 1}, func(i btree.Item) bool {
		ret = i.(*bucket)
		return false
	})
	return
}
