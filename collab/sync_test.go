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
	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/collab"
)

var _ = Suite(&testSyncSuite{})

type testSyncSuite struct{}

func (s *testSyncSuite) TestClientApplyLocalOperation(c *C) {
	client := collab.NewClientSyncState(collab.NewReplicaID(), "Hello")
	op := collab.NewOperation().Retain(5).Insert(" World")

	c.Assert(client.ApplyLocalOperation(op), IsNil)
	c.Assert(client.Content, Equals, "Hello World")
	c.Assert(client.LocalVersion, Equals, uint64(1))
	c.Assert(client.HasPendingOperations(), Equals, true)
}

func (s *testSyncSuite) TestServerApplyClientOperation(c *C) {
	server := collab.NewServerSyncState("Hello")
	op := collab.NewOperation().Retain(5).Insert(" World")

	_, err := server.ApplyClientOperation(op, collab.NewReplicaID(), 0)
	c.Assert(err, IsNil)
	c.Assert(server.Content, Equals, "Hello World")
	c.Assert(server.Version, Equals, uint64(1))
	c.Assert(server.GetOperationsSince(0), HasLen, 1)
}

func (s *testSyncSuite) TestClientServerRoundTrip(c *C) {
	clientID := collab.NewReplicaID()
	client := collab.NewClientSyncState(clientID, "Hello")
	server := collab.NewServerSyncState("Hello")

	op := collab.NewOperation().Retain(5).Insert(" World")
	c.Assert(client.ApplyLocalOperation(op), IsNil)

	_, err := server.ApplyClientOperation(op, clientID, 0)
	c.Assert(err, IsNil)

	c.Assert(client.ReceiveAck(1, nil), IsNil)

	c.Assert(client.Content, Equals, "Hello World")
	c.Assert(server.Content, Equals, "Hello World")
	c.Assert(client.HasPendingOperations(), Equals, false)
}

// TestConcurrentClientsConverge mirrors the OT convergence seed scenario at
// the sync-protocol layer: two clients edit concurrently and the server,
// transforming each against the other, ends up with both edits applied.
func (s *testSyncSuite) TestConcurrentClientsConverge(c *C) {
	client1ID := collab.NewReplicaID()
	client2ID := collab.NewReplicaID()

	client1 := collab.NewClientSyncState(client1ID, "Hello")
	client2 := collab.NewClientSyncState(client2ID, "Hello")
	server := collab.NewServerSyncState("Hello")

	op1 := collab.NewOperation().Retain(5).Insert("!")
	c.Assert(client1.ApplyLocalOperation(op1), IsNil)

	op2 := collab.NewOperation().Insert("Hi, ").Retain(5)
	c.Assert(client2.ApplyLocalOperation(op2), IsNil)

	_, err := server.ApplyClientOperation(op1, client1ID, 0)
	c.Assert(err, IsNil)
	_, err = server.ApplyClientOperation(op2, client2ID, 0)
	c.Assert(err, IsNil)

	c.Assert(server.Content, Equals, "Hi, Hello!")
}

func (s *testSyncSuite) TestSyncStatus(c *C) {
	client := collab.NewClientSyncState(collab.NewReplicaID(), "Hello")
	status := client.SyncStatus()
	c.Assert(status.LocalVersion, Equals, uint64(0))
	c.Assert(status.ServerVersion, Equals, uint64(0))
	c.Assert(status.IsSynced, Equals, true)
}

func (s *testSyncSuite) TestDeltaSync(c *C) {
	server := collab.NewServerSyncState("")
	clientID := collab.NewReplicaID()

	for i := 0; i < 5; i++ {
		op := collab.NewOperation().Retain(i).Insert("X")
		_, err := server.ApplyClientOperation(op, clientID, uint64(i))
		c.Assert(err, IsNil)
	}

	delta := server.GetDelta(2)
	c.Assert(delta, HasLen, 3)
}

func (s *testSyncSuite) TestHistoryTrimming(c *C) {
	server := collab.NewServerSyncState("")
	server.SetMaxHistory(5)
	clientID := collab.NewReplicaID()

	for i := 0; i < 10; i++ {
		op := collab.NewOperation().Retain(i).Insert("X")
		_, err := server.ApplyClientOperation(op, clientID, uint64(i))
		c.Assert(err, IsNil)
	}

	c.Assert(server.History, HasLen, 5)
}

func (s *testSyncSuite) TestCleanupInactiveClients(c *C) {
	server := collab.NewServerSyncState("Hello")
	op := collab.NewOperation().Retain(5)
	_, err := server.ApplyClientOperation(op, collab.NewReplicaID(), 0)
	c.Assert(err, IsNil)
	c.Assert(server.ActiveClientCount(), Equals, 1)

	server.CleanupInactiveClients(-1)
	c.Assert(server.ActiveClientCount(), Equals, 0)
}
