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

package collab_test

import (
	"testing"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/collab"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testOTSuite{})

type testOTSuite struct{}

func (s *testOTSuite) TestApplyRetainInsert(c *C) {
	op := collab.NewOperation().Retain(5).Insert(" World")
	out, err := op.Apply("Hello")
	c.Assert(err, IsNil)
	c.Assert(out, Equals, "Hello World")
}

func (s *testOTSuite) TestApplyDelete(c *C) {
	op := collab.NewOperation().Retain(2).Delete(3).Retain(0)
	out, err := op.Apply("Hello")
	c.Assert(err, IsNil)
	c.Assert(out, Equals, "He")
}

func (s *testOTSuite) TestApplyBaseLenMismatch(c *C) {
	op := collab.NewOperation().Retain(10)
	_, err := op.Apply("Hello")
	c.Assert(err, NotNil)
}

func (s *testOTSuite) TestComposeSequential(c *C) {
	a := collab.NewOperation().Retain(5).Insert(" World")
	b := collab.NewOperation().Retain(11).Insert("!")
	composed, err := collab.Compose(a, b)
	c.Assert(err, IsNil)
	out, err := composed.Apply("Hello")
	c.Assert(err, IsNil)
	c.Assert(out, Equals, "Hello World!")
}

func (s *testOTSuite) TestComposeWithDelete(c *C) {
	a := collab.NewOperation().Insert("Hello")
	b := collab.NewOperation().Delete(5)
	composed, err := collab.Compose(a, b)
	c.Assert(err, IsNil)
	out, err := composed.Apply("")
	c.Assert(err, IsNil)
	c.Assert(out, Equals, "")
}

func (s *testOTSuite) TestComposeMismatch(c *C) {
	a := collab.NewOperation().Retain(5)
	b := collab.NewOperation().Retain(3)
	_, err := collab.Compose(a, b)
	c.Assert(err, NotNil)
}

// TestTransformConvergence is the seed convergence scenario: two replicas
// concurrently edit "Hello" (one appending "!", the other prepending
// "Hi, "), and must converge on identical content regardless of which
// operation each replica applies first.
func (s *testOTSuite) TestTransformConvergence(c *C) {
	replica1 := collab.NewReplicaID()
	replica2 := collab.NewReplicaID()

	opA := collab.NewOperation().Retain(5).Insert("!")
	opB := collab.NewOperation().Insert("Hi, ").Retain(5)

	aPrime, bPrime, err := collab.Transform(opA, opB, replica1, replica2)
	c.Assert(err, IsNil)

	doc1, err := opA.Apply("Hello")
	c.Assert(err, IsNil)
	doc1, err = bPrime.Apply(doc1)
	c.Assert(err, IsNil)

	doc2, err := opB.Apply("Hello")
	c.Assert(err, IsNil)
	doc2, err = aPrime.Apply(doc2)
	c.Assert(err, IsNil)

	c.Assert(doc1, Equals, doc2)
	c.Assert(doc1, Equals, "Hi, Hello!")
}

// TestTransformConcurrentInsertTieBreak verifies that two concurrent
// same-position inserts are ordered identically by both transformed
// results, with the lexicographically smaller ReplicaID's text first.
func (s *testOTSuite) TestTransformConcurrentInsertTieBreak(c *C) {
	r1, err := collab.ReplicaIDFromString("00000000-0000-0000-0000-000000000001")
	c.Assert(err, IsNil)
	r2, err := collab.ReplicaIDFromString("00000000-0000-0000-0000-000000000002")
	c.Assert(err, IsNil)
	c.Assert(r1.Less(r2), Equals, true)

	opA := collab.NewOperation().Insert("A")
	opB := collab.NewOperation().Insert("B")

	aPrime, bPrime, err := collab.Transform(opA, opB, r1, r2)
	c.Assert(err, IsNil)

	doc1, err := opA.Apply("")
	c.Assert(err, IsNil)
	doc1, err = bPrime.Apply(doc1)
	c.Assert(err, IsNil)

	doc2, err := opB.Apply("")
	c.Assert(err, IsNil)
	doc2, err = aPrime.Apply(doc2)
	c.Assert(err, IsNil)

	c.Assert(doc1, Equals, doc2)
	c.Assert(doc1, Equals, "AB")
}

func (s *testOTSuite) TestTransformBaseLenMismatch(c *C) {
	opA := collab.NewOperation().Retain(5)
	opB := collab.NewOperation().Retain(3)
	_, _, err := collab.Transform(opA, opB, collab.NewReplicaID(), collab.NewReplicaID())
	c.Assert(err, NotNil)
}

func (s *testOTSuite) TestVersionVectorMergeAndOrdering(c *C) {
	r1 := collab.NewReplicaID()
	r2 := collab.NewReplicaID()

	v1 := collab.NewVersionVector()
	v1.Increment(r1)
	v1.Increment(r1)

	v2 := v1.Merge(collab.NewVersionVector())
	v2.Increment(r2)

	c.Assert(v1.HappensBefore(v2), Equals, true)
	c.Assert(v2.HappensBefore(v1), Equals, false)
	c.Assert(v1.ConcurrentWith(v2), Equals, false)

	merged := v1.Merge(v2)
	c.Assert(merged.Get(r1), Equals, uint64(2))
	c.Assert(merged.Get(r2), Equals, uint64(1))
}

func (s *testOTSuite) TestVersionVectorConcurrent(c *C) {
	r1 := collab.NewReplicaID()
	r2 := collab.NewReplicaID()

	v1 := collab.NewVersionVector()
	v1.Increment(r1)

	v2 := collab.NewVersionVector()
	v2.Increment(r2)

	c.Assert(v1.ConcurrentWith(v2), Equals, true)
	c.Assert(v1.HappensBefore(v2), Equals, false)
	c.Assert(v2.HappensBefore(v1), Equals, false)
}
