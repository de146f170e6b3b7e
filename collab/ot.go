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

// Package collab implements the collaboration core: operational-transform
// document editing, bounded-history sessions, and the client/server state
// synchronization protocol that keeps concurrent editors converged.
package collab

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// ReplicaID identifies one participant in a collaborative session. Ties
// between concurrent insertions at the same position are broken by
// lexicographic comparison of two ReplicaIDs' string form.
type ReplicaID struct {
	id uuid.UUID
}

// NewReplicaID generates a fresh, random ReplicaID.
func NewReplicaID() ReplicaID {
	return ReplicaID{id: uuid.New()}
}

// ReplicaIDFromString parses s (a canonical UUID string) into a ReplicaID.
func ReplicaIDFromString(s string) (ReplicaID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ReplicaID{}, errors.Trace(err)
	}
	return ReplicaID{id: id}, nil
}

// String renders the ReplicaID's canonical UUID form.
func (r ReplicaID) String() string { return r.id.String() }

// Less reports whether r sorts before other lexicographically; used to
// break ties between concurrent Insert operations at the same position.
func (r ReplicaID) Less(other ReplicaID) bool { return r.id.String() < other.id.String() }

// VersionVector tracks, per replica, the number of operations from that
// replica that have been incorporated. Comparing two version vectors
// establishes happens-before or concurrent ordering between two points in a
// document's history.
type VersionVector struct {
	counters map[string]uint64
}

// NewVersionVector returns an empty version vector.
func NewVersionVector() VersionVector {
	return VersionVector{counters: make(map[string]uint64)}
}

// Increment bumps replica's counter by one.
func (v *VersionVector) Increment(replica ReplicaID) {
	if v.counters == nil {
		v.counters = make(map[string]uint64)
	}
	v.counters[replica.String()]++
}

// Get returns replica's counter, 0 if the replica has never been seen.
func (v VersionVector) Get(replica ReplicaID) uint64 {
	return v.counters[replica.String()]
}

// Merge returns the pointwise maximum of v and other, the standard version
// vector join used when two replicas' histories are reconciled.
func (v VersionVector) Merge(other VersionVector) VersionVector {
	out := NewVersionVector()
	for k, n := range v.counters {
		out.counters[k] = n
	}
	for k, n := range other.counters {
		if n > out.counters[k] {
			out.counters[k] = n
		}
	}
	return out
}

// HappensBefore reports whether v causally precedes other: every one of v's
// counters is no greater than other's matching counter, and at least one is
// strictly smaller.
func (v VersionVector) HappensBefore(other VersionVector) bool {
	strictlyLess := false
	for k, n := range v.counters {
		if n > other.counters[k] {
			return false
		}
		if n < other.counters[k] {
			strictlyLess = true
		}
	}
	for k, n := range other.counters {
		if _, ok := v.counters[k]; !ok && n > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// ConcurrentWith reports whether neither v nor other happens-before the
// other; i.e. they reflect divergent, unordered edit histories.
func (v VersionVector) ConcurrentWith(other VersionVector) bool {
	return !v.HappensBefore(other) && !other.HappensBefore(v) && !v.Equal(other)
}

// Equal reports whether v and other carry identical counters.
func (v VersionVector) Equal(other VersionVector) bool {
	if len(v.counters) != len(other.counters) {
		return false
	}
	for k, n := range v.counters {
		if other.counters[k] != n {
			return false
		}
	}
	return true
}

// opKind distinguishes the three component shapes an Operation is built
// from.
type opKind int

const (
	opRetain opKind = iota
	opInsert
	opDelete
)

// opComponent is one element of an Operation's component sequence: a Retain
// of n characters, an Insert of text, or a Delete of n characters.
type opComponent struct {
	kind opKind
	n    int
	text string
}

// Operation is an ordered sequence of Retain/Insert/Delete components
// describing an edit to a document. BaseLen is the character length of the
// document the operation applies to (the sum of every Retain and Delete
// component's length); TargetLen is the resulting document's length (the
// sum of every Retain and Insert component's length).
type Operation struct {
	components []opComponent
}

// NewOperation returns an empty operation, ready to be built up with
// Retain/Insert/Delete.
func NewOperation() *Operation {
	return &Operation{}
}

// Retain appends a retain-n-characters component, merging with a trailing
// retain component if one is already last.
func (o *Operation) Retain(n int) *Operation {
	if n <= 0 {
		return o
	}
	if last := o.lastComponent(); last != nil && last.kind == opRetain {
		last.n += n
		return o
	}
	o.components = append(o.components, opComponent{kind: opRetain, n: n})
	return o
}

// Insert appends an insert-text component, merging with a trailing insert
// component if one is already last.
func (o *Operation) Insert(text string) *Operation {
	if text == "" {
		return o
	}
	if last := o.lastComponent(); last != nil && last.kind == opInsert {
		last.text += text
		return o
	}
	o.components = append(o.components, opComponent{kind: opInsert, text: text})
	return o
}

// Delete appends a delete-n-characters component, merging with a trailing
// delete component if one is already last.
func (o *Operation) Delete(n int) *Operation {
	if n <= 0 {
		return o
	}
	if last := o.lastComponent(); last != nil && last.kind == opDelete {
		last.n += n
		return o
	}
	o.components = append(o.components, opComponent{kind: opDelete, n: n})
	return o
}

func (o *Operation) lastComponent() *opComponent {
	if len(o.components) == 0 {
		return nil
	}
	return &o.components[len(o.components)-1]
}

// BaseLen is the length of document this operation expects to be applied
// to: every Retain plus every Delete component's length.
func (o *Operation) BaseLen() int {
	n := 0
	for _, c := range o.components {
		switch c.kind {
		case opRetain, opDelete:
			n += c.n
		}
	}
	return n
}

// TargetLen is the length of the document that results from applying this
// operation: every Retain plus every Insert component's length.
func (o *Operation) TargetLen() int {
	n := 0
	for _, c := range o.components {
		switch c.kind {
		case opRetain:
			n += c.n
		case opInsert:
			n += len([]rune(c.text))
		}
	}
	return n
}

// ErrBaseLenMismatch reports an operation applied to a document whose
// length does not match the operation's expected base length.
type ErrBaseLenMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrBaseLenMismatch) Error() string {
	return errors.Errorf("operation base length mismatch: expected %d, got %d", e.Expected, e.Actual).Error()
}

// Apply runs o against document, returning the resulting document. It
// fails if document's rune length does not equal o.BaseLen().
func (o *Operation) Apply(document string) (string, error) {
	runes := []rune(document)
	if len(runes) != o.BaseLen() {
		return "", errors.Trace(&ErrBaseLenMismatch{Expected: o.BaseLen(), Actual: len(runes)})
	}
	var b strings.Builder
	pos := 0
	for _, c := range o.components {
		switch c.kind {
		case opRetain:
			b.WriteString(string(runes[pos : pos+c.n]))
			pos += c.n
		case opInsert:
			b.WriteString(c.text)
		case opDelete:
			pos += c.n
		}
	}
	return b.String(), nil
}

// ErrComposeMismatch reports two operations that cannot be composed because
// the first's target length does not match the second's base length.
type ErrComposeMismatch struct {
	TargetLen int
	BaseLen   int
}

func (e *ErrComposeMismatch) Error() string {
	return errors.Errorf("cannot compose: first operation's target length %d does not match second's base length %d",
		e.TargetLen, e.BaseLen).Error()
}

// unit is one character's worth of a decomposed Operation: a single
// retained or deleted base character, or a single inserted rune. Compose
// and Transform both work over this per-character decomposition rather
// than over raw components, since aligning partially-consumed multi-rune
// components between two operations is where off-by-one bugs live; at one
// character per step the alignment is trivial to get right, and the
// component-merging Retain/Insert/Delete builders re-coalesce the result.
type unit struct {
	kind opKind
	r    rune
}

func (o *Operation) units() []unit {
	var out []unit
	for _, c := range o.components {
		switch c.kind {
		case opRetain:
			for i := 0; i < c.n; i++ {
				out = append(out, unit{kind: opRetain})
			}
		case opDelete:
			for i := 0; i < c.n; i++ {
				out = append(out, unit{kind: opDelete})
			}
		case opInsert:
			for _, r := range c.text {
				out = append(out, unit{kind: opInsert, r: r})
			}
		}
	}
	return out
}

// Compose combines a then b into a single operation with the same effect as
// applying a and then b in sequence. It is defined only when a.TargetLen()
// equals b.BaseLen().
func Compose(a, b *Operation) (*Operation, error) {
	if a.TargetLen() != b.BaseLen() {
		return nil, errors.Trace(&ErrComposeMismatch{TargetLen: a.TargetLen(), BaseLen: b.BaseLen()})
	}
	au, bu := a.units(), b.units()
	result := NewOperation()
	i, j := 0, 0
	for i < len(au) || j < len(bu) {
		switch {
		case j < len(bu) && bu[j].kind == opInsert:
			// b inserts text with no counterpart in a; passes straight
			// through to the composed result.
			result.Insert(string(bu[j].r))
			j++
		case i < len(au) && au[i].kind == opDelete:
			// a deletes base text with no counterpart in b; the delete
			// survives into the composed result unchanged.
			result.Delete(1)
			i++
		case i < len(au) && au[i].kind == opInsert:
			// a's inserted character is then either kept (b retains it)
			// or removed (b deletes it); either way b's pointer advances
			// in lockstep with a's.
			if j < len(bu) && bu[j].kind == opDelete {
				i++
				j++
			} else {
				result.Insert(string(au[i].r))
				i++
				j++
			}
		default:
			// both sides are positioned on base characters: a retains,
			// b either retains (survives) or deletes (removed).
			if j < len(bu) && bu[j].kind == opDelete {
				result.Delete(1)
			} else {
				result.Retain(1)
			}
			i++
			j++
		}
	}
	return result, nil
}

// Transform produces (a', b') such that applying b then a' has the same
// effect as applying a then b': apply(apply(x,a),b') == apply(apply(x,b),a'),
// the TP1 convergence property. When a and b both insert at the same
// position, the operation authored by the replica that sorts first under
// ReplicaID.Less is ordered first in both transformed results, so every
// replica that applies both operations (in either order) converges on the
// same document.
func Transform(a, b *Operation, aAuthor, bAuthor ReplicaID) (aPrime, bPrime *Operation, err error) {
	if a.BaseLen() != b.BaseLen() {
		return nil, nil, errors.Errorf(
			"cannot transform operations with different base lengths: %d vs %d", a.BaseLen(), b.BaseLen())
	}
	au, bu := a.units(), b.units()
	aPrime, bPrime = NewOperation(), NewOperation()
	aFirst := aAuthor.Less(bAuthor)
	i, j := 0, 0
	for i < len(au) || j < len(bu) {
		aIns := i < len(au) && au[i].kind == opInsert
		bIns := j < len(bu) && bu[j].kind == opInsert
		switch {
		case aIns && (!bIns || aFirst):
			aPrime.Insert(string(au[i].r))
			bPrime.Retain(1)
			i++
		case bIns:
			bPrime.Insert(string(bu[j].r))
			aPrime.Retain(1)
			j++
		case au[i].kind == opDelete && bu[j].kind == opDelete:
			// both sides delete the same base character; neither needs
			// to delete it again against the other's transformed op.
			i++
			j++
		case au[i].kind == opDelete:
			aPrime.Delete(1)
			i++
			j++
		case bu[j].kind == opDelete:
			bPrime.Delete(1)
			i++
			j++
		default:
			aPrime.Retain(1)
			bPrime.Retain(1)
			i++
			j++
		}
	}
	return aPrime, bPrime, nil
}

// sortReplicaIDs orders ids lexicographically under ReplicaID.Less.
func sortReplicaIDs(ids []ReplicaID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
