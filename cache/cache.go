// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is a pluggable multi-tier cache substrate: a Backend
// contract implemented by an in-memory map, a content-addressed disk shard
// store, and a remote KV adapter, fronted by a stats/metrics pipeline.
package cache

import (
	"context"
	"time"

	"github.com/pingcap/errors"
)

// Entry is one cached value plus its bookkeeping metadata.
type Entry struct {
	Value    []byte
	Metadata Metadata
}

// Metadata tracks everything a backend needs to answer expiry, LRU, and
// tag-invalidation queries without re-reading the value itself.
type Metadata struct {
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	TTL          time.Duration // zero means no expiry
	Size         int64
	Tags         map[string]bool
}

// Expired reports whether now is past CreatedAt+TTL. A zero TTL never
// expires.
func (m Metadata) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.After(m.CreatedAt.Add(m.TTL))
}

// HasAnyTag reports whether m carries at least one of tags.
func (m Metadata) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if m.Tags[t] {
			return true
		}
	}
	return false
}

// Options configures a single Set call.
type Options struct {
	TTL  time.Duration
	Tags []string
}

// ErrorKind enumerates the backend-contract failure modes a Backend
// implementation can report; a missing key is never one of them; it is
// success with an empty result.
type ErrorKind int

const (
	// ErrBackend covers I/O failures talking to the underlying medium
	// (disk, network).
	ErrBackend ErrorKind = iota
	// ErrSerialization covers metadata/index marshal or unmarshal failures.
	ErrSerialization
	// ErrCapacityExceeded is returned when eviction could not free enough
	// room for an incoming value.
	ErrCapacityExceeded
	// ErrInvalidKey covers a malformed key or pattern (e.g. an unparseable
	// glob).
	ErrInvalidKey
	// ErrConfiguration covers a backend misconfigured at construction time.
	ErrConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBackend:
		return "backend"
	case ErrSerialization:
		return "serialization"
	case ErrCapacityExceeded:
		return "capacity_exceeded"
	case ErrInvalidKey:
		return "invalid_key"
	case ErrConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the enumerated, human-readable error type every Backend method
// returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Message }

func newError(kind ErrorKind, format string, args ...interface{}) error {
	return errors.Trace(&Error{Kind: kind, Message: errors.Errorf(format, args...).Error()})
}

// Backend is the contract every cache tier implements. A Get/mget miss
// returns (nil, false, nil): a missing key is success with an empty
// result, never an error. Backend methods may suspend on I/O; MemoryBackend
// never does.
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, opts Options) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	DeletePattern(ctx context.Context, pattern string) (int, error)
	DeleteByTags(ctx context.Context, tags []string) (int, error)
	Size(ctx context.Context) (int64, error)
	Len(ctx context.Context) (int, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	MGet(ctx context.Context, keys []string) ([]*Entry, error)
	MSet(ctx context.Context, entries map[string][]byte, opts Options) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	Stats() Stats
}
