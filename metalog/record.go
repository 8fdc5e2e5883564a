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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	flagTombstone = byte(1 << iota)
	flagBatchEnd
)

var errCorruptRecord = errors.New("corrupt metadata log record")

type (
	// Entry is one mutation handed to Append. A nil Value is a tombstone.
	Entry struct {
		Key   []byte
		Value []byte
	}
	// Record is an Entry as stored in the log, stamped with its sequence.
	Record struct {
		Seq       uint64
		Key       []byte
		Value     []byte
		Tombstone bool

		batchEnd bool
	}
)

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid sequence length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeRecord(w *bytes.Buffer, e Entry, batchEnd bool) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(e.Key)))
	w.Write(lenBuf[:n])
	w.Write(e.Key)

	flag := byte(0)
	if e.Value == nil {
		flag |= flagTombstone
	}
	if batchEnd {
		flag |= flagBatchEnd
	}
	w.WriteByte(flag)
	w.Write(e.Value)
}

func decodeRecord(seq uint64, raw []byte) (Record, error) {
	l, n := binary.Uvarint(raw)
	if n <= 0 || uint64(len(raw)-n) < l+1 {
		return Record{}, errCorruptRecord
	}
	raw = raw[n:]
	r := Record{Seq: seq, Key: raw[:l]}
	flag := raw[l]
	r.Tombstone = flag&flagTombstone != 0
	r.batchEnd = flag&flagBatchEnd != 0
	if !r.Tombstone {
		r.Value = raw[l+1:]
		if r.Value == nil {
			r.Value = []byte{}
		}
	}
	return r, nil
}
