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

package kvstore

import (
	"context"
	"errors"
)

const (
	defaultCF = "default"

	RocksdbLsmKVType = LsmKVType("rocksdb")

	LevelStyle     = CompactionStyle("level")
	UniversalStyle = CompactionStyle("universal")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
	ErrEmptyPath      = errors.New("path is empty")
)

type (
	CF              string
	LsmKVType       string
	CompactionStyle string

	Store interface {
		GetRaw(ctx context.Context, col CF, key []byte) (value []byte, err error)
		// List iterates col in key order, starting at marker when set, else at prefix.
		List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader
		Write(ctx context.Context, batch WriteBatch) error
		NewWriteBatch() WriteBatch
		Stats(ctx context.Context) (Stats, error)
		Close()
	}
	ListReader interface {
		// ReadNextCopy returns nil key and value once the range is exhausted.
		ReadNextCopy() (key []byte, value []byte, err error)
		ReadLastCopy() (key []byte, value []byte, err error)
		Close()
	}
	WriteBatch interface {
		Put(col CF, key, value []byte)
		Delete(col CF, key []byte)
		Close()
	}

	Stats struct {
		Used          uint64
		MemtableUsage uint64
		EstimatedKeys uint64
	}
	Option struct {
		Sync                        bool            `json:"sync"`
		CreateIfMissing             bool            `json:"create_if_missing"`
		ColumnFamily                []CF            `json:"column_family"`
		BlockSize                   int             `json:"block_size"`
		BlockCache                  uint64          `json:"block_cache"`
		MaxOpenFiles                int             `json:"max_open_files"`
		MaxBackgroundCompactions    int             `json:"max_background_compactions"`
		MaxWriteBufferNumber        int             `json:"max_write_buffer_number"`
		WriteBufferSize             int             `json:"write_buffer_size"`
		TargetFileSizeBase          uint64          `json:"target_file_size_base"`
		KeepLogFileNum              int             `json:"keep_log_file_num"`
		MaxLogFileSize              int             `json:"max_log_file_size"`
		MaxWalLogSize               uint64          `json:"max_wal_log_size"`
		CompactionStyle             CompactionStyle `json:"compaction_style"`
		Level0SlowdownWritesTrigger int             `json:"level0_slowdown_writes_trigger"`
		Level0StopWritesTrigger     int             `json:"level0_stop_writes_trigger"`
	}
)

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	switch lsmType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}

func (cf CF) String() string {
	return string(cf)
}
