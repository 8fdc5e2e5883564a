/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */


/*

# Schema catalog metadata: documentation overlay for a schema registry

## What it does

1, attach human-written documentation and attributes to a subject, a schema version or a single field

2, metadata set at one version is inherited by later versions until overridden

3, every mutation is durable and raises a "subjects changed" event for search indexing

## Data Model

* Metadata key, schema key <subject, version> or field key <subject, version, schema full name, field>

* Logical key, a metadata key with the version ignored, the same entity across versions

* Metadata value, doc + attributes + updatedAt + updatedBy, always replaced whole

* Doc, free text with tags such as {@schema text|subject|version} or {@link text|url}

* Derived attributes, "<TAGTYPE>.<param>" -> values, extracted from the tags of a doc

## Architecture

* doclang, parses docs into text and tags, renders them (identity, HTML) and extracts attributes

* versioned, per-subject container keeping every stored version's complete inherited view

* metalog, ordered append log on rocksdb, compacted to the latest record per exact key

* store, materializes the log into containers, serves reads under a shared lock and notifies listeners

### Write path

append to the log, then apply in memory under the write lock: read-your-own-write without waiting for the echo

### Consumer

one goroutine tails the log, re-applies records idempotently and notifies listeners per batch

## Building Blocks

* Rocksdb
* Prometheus
* Protobuf (structpb)

*/

package metadata
