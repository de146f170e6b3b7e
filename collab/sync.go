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

package collab

import (
	"time"

	"github.com/pingcap/errors"
)

// OperationMessage pairs an Operation with the metadata a peer needs to
// place it in its own history: the version it was assigned, who authored
// it, and when.
type OperationMessage struct {
	Operation *Operation
	Version   uint64
	Author    ReplicaID
	Timestamp time.Time
}

// StateRequest asks a server for the full current state of a session, as
// known by a client that last saw ClientVersion.
type StateRequest struct {
	SessionID     string
	ClientVersion uint64
}

// StateResponse carries a session's full state: content, version and
// version vector, enough for a client to start fresh or recover from a
// version mismatch it cannot resolve incrementally.
type StateResponse struct {
	SessionID     string
	Content       string
	Version       uint64
	VersionVector VersionVector
}

// DeltaRequest asks a server for every operation applied since FromVersion.
type DeltaRequest struct {
	SessionID     string
	FromVersion   uint64
	VersionVector VersionVector
}

// DeltaResponse carries the operations a client missed, plus the server's
// resulting current version.
type DeltaResponse struct {
	SessionID      string
	Operations     []OperationMessage
	CurrentVersion uint64
}

// ClientOperation is a client's proposed edit, sent to the server for
// transformation and application.
type ClientOperation struct {
	SessionID   string
	Operation   *Operation
	BaseVersion uint64
	ClientID    ReplicaID
}

// ServerAck acknowledges a ClientOperation, reporting the version it was
// committed at and, if the server had to transform it against concurrent
// operations, the transformed operation actually applied.
type ServerAck struct {
	SessionID            string
	Version              uint64
	TransformedOperation *Operation
}

// Heartbeat keeps a client's presence alive in the server's sync state
// between edits.
type Heartbeat struct {
	SessionID string
	ClientID  ReplicaID
	Timestamp time.Time
}

// SyncStatus summarizes a client's synchronization state for display or
// diagnostics.
type SyncStatus struct {
	LocalVersion  uint64
	ServerVersion uint64
	PendingCount  int
	IsSynced      bool
	LastSync      time.Time
}

// ErrVersionMismatch reports a sync operation that expected one version
// but observed another.
type ErrVersionMismatch struct {
	Expected uint64
	Actual   uint64
}

func (e *ErrVersionMismatch) Error() string {
	return errors.Errorf("version mismatch: expected %d, got %d", e.Expected, e.Actual).Error()
}

// ClientSyncState tracks one client's view of a document: its local
// content, which local edits are still awaiting server acknowledgment, and
// how to fold in operations broadcast by the server.
type ClientSyncState struct {
	ClientID      ReplicaID
	Content       string
	LocalVersion  uint64
	ServerVersion uint64
	LastSync      time.Time

	pendingOps []*Operation
	now        func() time.Time
}

// NewClientSyncState starts a client's sync state from initialContent, with
// no pending local operations.
func NewClientSyncState(clientID ReplicaID, initialContent string) *ClientSyncState {
	now := time.Now()
	return &ClientSyncState{
		ClientID: clientID,
		Content:  initialContent,
		LastSync: now,
		now:      time.Now,
	}
}

// ApplyLocalOperation applies a locally authored operation to the client's
// content immediately (optimistic local echo), and queues it (composed
// with any already-pending operation) to be sent to the server.
func (c *ClientSyncState) ApplyLocalOperation(op *Operation) error {
	newContent, err := op.Apply(c.Content)
	if err != nil {
		return errors.Trace(err)
	}
	c.Content = newContent

	if n := len(c.pendingOps); n > 0 {
		if composed, err := Compose(c.pendingOps[n-1], op); err == nil {
			c.pendingOps[n-1] = composed
		} else {
			c.pendingOps = append(c.pendingOps, op)
		}
	} else {
		c.pendingOps = append(c.pendingOps, op)
	}

	c.LocalVersion++
	return nil
}

// ReceiveAck processes the server's acknowledgment of the oldest pending
// operation: it is popped off the pending queue, the server version is
// updated, and if the server returned a transformed operation (because it
// had to reconcile the client's edit against concurrent ones), that
// operation is applied to local content.
func (c *ClientSyncState) ReceiveAck(version uint64, transformedOp *Operation) error {
	if len(c.pendingOps) > 0 {
		c.pendingOps = c.pendingOps[1:]
	}

	c.ServerVersion = version
	c.LastSync = c.now()

	if transformedOp != nil {
		newContent, err := transformedOp.Apply(c.Content)
		if err != nil {
			return errors.Trace(err)
		}
		c.Content = newContent
	}
	return nil
}

// ReceiveRemoteOperation folds an operation broadcast by the server into
// local content, transforming it against every locally pending (not yet
// acknowledged) operation first so the local echo of those pending edits
// is preserved.
func (c *ClientSyncState) ReceiveRemoteOperation(op *Operation, author ReplicaID) error {
	transformed := op
	for _, pending := range c.pendingOps {
		var err error
		transformed, _, err = Transform(transformed, pending, author, c.ClientID)
		if err != nil {
			return errors.Trace(err)
		}
	}

	newContent, err := transformed.Apply(c.Content)
	if err != nil {
		return errors.Trace(err)
	}
	c.Content = newContent

	c.ServerVersion++
	c.LastSync = c.now()
	return nil
}

// GetPendingOperation returns the oldest operation still awaiting server
// acknowledgment, if any.
func (c *ClientSyncState) GetPendingOperation() (*Operation, bool) {
	if len(c.pendingOps) == 0 {
		return nil, false
	}
	return c.pendingOps[0], true
}

// HasPendingOperations reports whether any local operation is still
// awaiting server acknowledgment.
func (c *ClientSyncState) HasPendingOperations() bool { return len(c.pendingOps) > 0 }

// SyncStatus summarizes the client's current synchronization state.
func (c *ClientSyncState) SyncStatus() SyncStatus {
	return SyncStatus{
		LocalVersion:  c.LocalVersion,
		ServerVersion: c.ServerVersion,
		PendingCount:  len(c.pendingOps),
		IsSynced:      len(c.pendingOps) == 0,
		LastSync:      c.LastSync,
	}
}

// clientActivity tracks when a client was last heard from, for
// CleanupInactiveClients.
type clientActivity struct {
	lastSeenVersion uint64
	lastActivity    time.Time
}

// ServerSyncState is the authoritative, server-side half of the sync
// protocol for one document: the current content, full operation history
// (bounded), and the version vector used to transform a client's operation
// forward past whatever it missed.
type ServerSyncState struct {
	Content       string
	Version       uint64
	History       []OperationMessage
	VersionVector VersionVector

	maxHistory int
	clients    map[ReplicaID]*clientActivity
	now        func() time.Time
}

// NewServerSyncState starts server-side sync state from initialContent.
func NewServerSyncState(initialContent string) *ServerSyncState {
	return &ServerSyncState{
		Content:       initialContent,
		VersionVector: NewVersionVector(),
		maxHistory:    1000,
		clients:       make(map[ReplicaID]*clientActivity),
		now:           time.Now,
	}
}

// SetMaxHistory bounds the retained operation history, trimming immediately
// if the server already holds more than max records.
func (s *ServerSyncState) SetMaxHistory(max int) {
	s.maxHistory = max
	s.trimHistory()
}

// ApplyClientOperation transforms op (authored by clientID, built against
// baseVersion) against every operation the server has recorded since
// baseVersion, applies the result to the server's content, advances the
// server's version and version vector, and records the transformed
// operation in history. It returns the transformed operation actually
// applied, which the caller typically broadcasts to other clients and
// returns to the author as a ServerAck.
func (s *ServerSyncState) ApplyClientOperation(op *Operation, clientID ReplicaID, baseVersion uint64) (*Operation, error) {
	missing := s.GetOperationsSince(baseVersion)

	transformed := op
	for _, msg := range missing {
		var err error
		transformed, _, err = Transform(transformed, msg.Operation, clientID, msg.Author)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	newContent, err := transformed.Apply(s.Content)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.Content = newContent

	s.Version++
	s.VersionVector.Increment(clientID)

	now := s.now()
	s.History = append(s.History, OperationMessage{
		Operation: transformed,
		Version:   s.Version,
		Author:    clientID,
		Timestamp: now,
	})
	s.trimHistory()

	s.clients[clientID] = &clientActivity{lastSeenVersion: s.Version, lastActivity: now}

	return transformed, nil
}

// GetOperationsSince returns every recorded operation with a version
// strictly greater than version, oldest first.
func (s *ServerSyncState) GetOperationsSince(version uint64) []OperationMessage {
	var out []OperationMessage
	for _, msg := range s.History {
		if msg.Version > version {
			out = append(out, msg)
		}
	}
	return out
}

// GetDelta is an alias for GetOperationsSince, named to match the
// DeltaResponse it populates.
func (s *ServerSyncState) GetDelta(fromVersion uint64) []OperationMessage {
	return s.GetOperationsSince(fromVersion)
}

func (s *ServerSyncState) trimHistory() {
	if over := len(s.History) - s.maxHistory; over > 0 {
		s.History = s.History[over:]
	}
}

// CleanupInactiveClients drops every client not heard from within
// threshold of now.
func (s *ServerSyncState) CleanupInactiveClients(threshold time.Duration) {
	cutoff := s.now().Add(-threshold)
	for id, activity := range s.clients {
		if activity.lastActivity.Before(cutoff) {
			delete(s.clients, id)
		}
	}
}

// ActiveClientCount returns the number of clients the server has heard from
// recently enough to not have been cleaned up.
func (s *ServerSyncState) ActiveClientCount() int { return len(s.clients) }

// SyncProtocol is a thin handle over exactly one of a ClientSyncState or a
// ServerSyncState, mirroring the single process that hosts either the
// client or the server half of a session's sync protocol, never both.
type SyncProtocol struct {
	client *ClientSyncState
	server *ServerSyncState
}

// NewClientSyncProtocol wraps a freshly created client-side sync state.
func NewClientSyncProtocol(clientID ReplicaID, initialContent string) *SyncProtocol {
	return &SyncProtocol{client: NewClientSyncState(clientID, initialContent)}
}

// NewServerSyncProtocol wraps a freshly created server-side sync state.
func NewServerSyncProtocol(initialContent string) *SyncProtocol {
	return &SyncProtocol{server: NewServerSyncState(initialContent)}
}

// ClientState returns the wrapped client state, if this protocol is
// client-side.
func (p *SyncProtocol) ClientState() (*ClientSyncState, bool) { return p.client, p.client != nil }

// ServerState returns the wrapped server state, if this protocol is
// server-side.
func (p *SyncProtocol) ServerState() (*ServerSyncState, bool) { return p.server, p.server != nil }
