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
	"time"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/collab"
)

var _ = Suite(&testSessionSuite{})

type testSessionSuite struct{}

func (s *testSessionSuite) TestSessionCreation(c *C) {
	session := collab.NewCollaborationSession("doc1", "Hello World")
	c.Assert(session.Version(), Equals, uint64(0))
	c.Assert(session.GetContent(), Equals, "Hello World")
	c.Assert(session.DocumentID, Equals, "doc1")
}

func (s *testSessionSuite) TestApplyOperation(c *C) {
	session := collab.NewCollaborationSession("doc1", "Hello")
	op := collab.NewOperation().Retain(5).Insert(" World")
	replica := collab.NewReplicaID()

	err := session.ApplyOperation(op, replica)
	c.Assert(err, IsNil)
	c.Assert(session.GetContent(), Equals, "Hello World")
	c.Assert(session.Version(), Equals, uint64(1))
	c.Assert(session.GetOperationsSince(0), HasLen, 1)
}

func (s *testSessionSuite) TestApplyOperationInvalidBaseLen(c *C) {
	session := collab.NewCollaborationSession("doc1", "Hello")
	op := collab.NewOperation().Retain(10)
	err := session.ApplyOperation(op, collab.NewReplicaID())
	c.Assert(err, NotNil)
	c.Assert(err, ErrorMatches, ".*invalid operation.*")
}

func (s *testSessionSuite) TestSessionHistoryOrdering(c *C) {
	session := collab.NewCollaborationSession("doc1", "")
	replica := collab.NewReplicaID()

	for i, text := range []string{"a", "b", "c"} {
		op := collab.NewOperation().Retain(i).Insert(text)
		c.Assert(session.ApplyOperation(op, replica), IsNil)
	}

	c.Assert(session.GetContent(), Equals, "abc")
	since := session.GetOperationsSince(1)
	c.Assert(since, HasLen, 2)
	c.Assert(since[0].Version, Equals, uint64(2))
	c.Assert(since[1].Version, Equals, uint64(3))
}

// TestMaxHistoryTrimming mirrors the original's own test of applying more
// operations than a session's configured history bound retains.
func (s *testSessionSuite) TestMaxHistoryTrimming(c *C) {
	session := collab.NewCollaborationSession("doc1", "")
	session.SetMaxHistory(5)
	replica := collab.NewReplicaID()

	for i := 0; i < 10; i++ {
		op := collab.NewOperation().Retain(i).Insert("X")
		c.Assert(session.ApplyOperation(op, replica), IsNil)
	}

	c.Assert(session.GetOperationsSince(0), HasLen, 5)
}

func (s *testSessionSuite) TestSessionSnapshotRestore(c *C) {
	session := collab.NewCollaborationSession("doc1", "Hello")
	op := collab.NewOperation().Retain(5).Insert(" World")
	c.Assert(session.ApplyOperation(op, collab.NewReplicaID()), IsNil)

	snap := session.Snapshot()
	c.Assert(snap.Content, Equals, "Hello World")
	c.Assert(snap.Version, Equals, uint64(1))

	other := collab.NewCollaborationSession("doc1", "")
	other.RestoreFromSnapshot(snap)
	c.Assert(other.GetContent(), Equals, "Hello World")
	c.Assert(other.Version(), Equals, uint64(1))
}

func (s *testSessionSuite) TestSessionStats(c *C) {
	session := collab.NewCollaborationSession("doc1", "Hello")
	session.AddUser("alice")
	session.AddUser("bob")
	stats := session.Stats()
	c.Assert(stats.ParticipantCount, Equals, 2)
	c.Assert(stats.ContentLength, Equals, 5)

	session.RemoveUser("alice")
	c.Assert(session.Stats().ParticipantCount, Equals, 1)
}

func (s *testSessionSuite) TestSessionIdle(c *C) {
	session := collab.NewCollaborationSession("doc1", "Hello")
	c.Assert(session.IsIdle(-time.Second), Equals, true)
	c.Assert(session.IsIdle(time.Hour), Equals, false)
}

func (s *testSessionSuite) TestGetOperationAtVersion(c *C) {
	session := collab.NewCollaborationSession("doc1", "")
	replica := collab.NewReplicaID()
	op := collab.NewOperation().Insert("a")
	c.Assert(session.ApplyOperation(op, replica), IsNil)

	record, ok := session.GetOperationAtVersion(1)
	c.Assert(ok, Equals, true)
	c.Assert(record.Author, Equals, replica)

	_, ok = session.GetOperationAtVersion(99)
	c.Assert(ok, Equals, false)
}

func (s *testSessionSuite) TestSessionManagerCRUD(c *C) {
	mgr := collab.NewSessionManager()
	id := mgr.CreateSession("doc1", "Hello")
	c.Assert(mgr.SessionCount(), Equals, 1)

	session, ok := mgr.GetSession(id)
	c.Assert(ok, Equals, true)
	c.Assert(session.GetContent(), Equals, "Hello")

	sessions := mgr.GetSessionsForDocument("doc1")
	c.Assert(sessions, HasLen, 1)

	removed, ok := mgr.RemoveSession(id)
	c.Assert(ok, Equals, true)
	c.Assert(removed.ID, Equals, id)
	c.Assert(mgr.SessionCount(), Equals, 0)

	_, ok = mgr.GetSession(id)
	c.Assert(ok, Equals, false)
}

func (s *testSessionSuite) TestSessionManagerCleanupIdle(c *C) {
	mgr := collab.NewSessionManager()
	id := mgr.CreateSession("doc1", "Hello")

	mgr.CleanupIdleSessions(-time.Second)
	c.Assert(mgr.SessionCount(), Equals, 0)

	_, ok := mgr.GetSession(id)
	c.Assert(ok, Equals, false)
}
