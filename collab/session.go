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

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// SessionID identifies one collaboration session.
type SessionID struct {
	id uuid.UUID
}

// NewSessionID generates a fresh, random SessionID.
func NewSessionID() SessionID { return SessionID{id: uuid.New()} }

// String renders the SessionID's canonical UUID form.
func (s SessionID) String() string { return s.id.String() }

// OperationRecord is one applied operation retained in a session's history,
// used to transform a late client's operation forward to the session's
// current version.
type OperationRecord struct {
	Version   uint64
	Operation *Operation
	Author    ReplicaID
	Timestamp time.Time
}

// SessionMetadata carries a session's bookkeeping fields that aren't part
// of the document content itself.
type SessionMetadata struct {
	CreatedAt        time.Time
	LastModified     time.Time
	ParticipantCount int
	Custom           map[string]string
}

func newSessionMetadata(now time.Time) SessionMetadata {
	return SessionMetadata{CreatedAt: now, LastModified: now, Custom: make(map[string]string)}
}

// SessionStats is a point-in-time summary of a session's size and activity.
type SessionStats struct {
	Version          uint64
	ContentLength    int
	OperationCount   int
	ParticipantCount int
	CreatedAt        time.Time
	LastModified     time.Time
}

// SessionSnapshot is a serializable capture of a session's document state,
// sufficient to restore the session (but not its operation history) later.
type SessionSnapshot struct {
	SessionID     SessionID
	DocumentID    string
	Content       string
	Version       uint64
	VersionVector VersionVector
	Timestamp     time.Time
}

// ErrInvalidOperation reports an operation whose base length does not match
// the session's current content length.
type ErrInvalidOperation struct {
	ExpectedLen int
	ActualLen   int
}

func (e *ErrInvalidOperation) Error() string {
	return errors.Errorf("invalid operation: expected base length %d, got %d", e.ExpectedLen, e.ActualLen).Error()
}

// ErrUserNotFound reports an operation on a participant the session has no
// record of.
type ErrUserNotFound struct{ UserID string }

func (e *ErrUserNotFound) Error() string {
	return errors.Errorf("user not found: %s", e.UserID).Error()
}

// ErrSessionNotFound reports a lookup for a session ID the manager does not
// hold.
type ErrSessionNotFound struct{ SessionID string }

func (e *ErrSessionNotFound) Error() string {
	return errors.Errorf("session not found: %s", e.SessionID).Error()
}

// CollaborationSession holds one document's live, editable state: its
// current content, the version vector and bounded operation history needed
// to transform late operations forward, and a roster of active
// participants.
type CollaborationSession struct {
	ID         SessionID
	DocumentID string

	content       string
	version       uint64
	history       []OperationRecord
	maxHistory    int
	versionVector VersionVector
	metadata      SessionMetadata

	participants map[string]bool

	now func() time.Time
}

// NewCollaborationSession creates a session over initialContent, with a
// freshly generated SessionID.
func NewCollaborationSession(documentID, initialContent string) *CollaborationSession {
	return NewCollaborationSessionWithID(NewSessionID(), documentID, initialContent)
}

// NewCollaborationSessionWithID creates a session with a caller-chosen ID,
// for restoring a session that previously existed under a known ID.
func NewCollaborationSessionWithID(id SessionID, documentID, initialContent string) *CollaborationSession {
	now := time.Now()
	return &CollaborationSession{
		ID:            id,
		DocumentID:    documentID,
		content:       initialContent,
		maxHistory:    1000,
		versionVector: NewVersionVector(),
		metadata:      newSessionMetadata(now),
		participants:  make(map[string]bool),
		now:           time.Now,
	}
}

// SetMaxHistory bounds the retained operation history, trimming immediately
// if the session already holds more than max records.
func (s *CollaborationSession) SetMaxHistory(max int) {
	s.maxHistory = max
	s.trimHistory()
}

// ApplyOperation validates op against the session's current content length,
// applies it, advances the version and version vector, and appends an
// OperationRecord to the bounded history. Callers responsible for
// reconciling concurrent edits (the sync protocol) are expected to
// transform op against any missed history themselves before calling this;
// ApplyOperation only guards that the base length actually matches.
func (s *CollaborationSession) ApplyOperation(op *Operation, author ReplicaID) error {
	contentLen := len([]rune(s.content))
	if op.BaseLen() != contentLen {
		return errors.Trace(&ErrInvalidOperation{ExpectedLen: contentLen, ActualLen: op.BaseLen()})
	}

	newContent, err := op.Apply(s.content)
	if err != nil {
		return errors.Trace(err)
	}
	s.content = newContent

	s.version++
	s.versionVector.Increment(author)

	now := s.now()
	s.history = append(s.history, OperationRecord{
		Version:   s.version,
		Operation: op,
		Author:    author,
		Timestamp: now,
	})
	s.trimHistory()

	s.metadata.LastModified = now
	return nil
}

// AddUser registers userID as an active participant.
func (s *CollaborationSession) AddUser(userID string) {
	s.participants[userID] = true
	s.metadata.ParticipantCount = len(s.participants)
}

// RemoveUser removes userID from the active participant roster.
func (s *CollaborationSession) RemoveUser(userID string) {
	delete(s.participants, userID)
	s.metadata.ParticipantCount = len(s.participants)
}

// GetOperationsSince returns every retained operation with a version
// strictly greater than version, oldest first.
func (s *CollaborationSession) GetOperationsSince(version uint64) []OperationRecord {
	var out []OperationRecord
	for _, r := range s.history {
		if r.Version > version {
			out = append(out, r)
		}
	}
	return out
}

// GetContent returns the session's current document content.
func (s *CollaborationSession) GetContent() string { return s.content }

// Version returns the session's current version number.
func (s *CollaborationSession) Version() uint64 { return s.version }

// VersionVector returns a copy of the session's current version vector.
func (s *CollaborationSession) VersionVector() VersionVector {
	return s.versionVector.Merge(NewVersionVector())
}

// Stats summarizes the session's current size and activity.
func (s *CollaborationSession) Stats() SessionStats {
	return SessionStats{
		Version:          s.version,
		ContentLength:    len(s.content),
		OperationCount:   len(s.history),
		ParticipantCount: s.metadata.ParticipantCount,
		CreatedAt:        s.metadata.CreatedAt,
		LastModified:     s.metadata.LastModified,
	}
}

func (s *CollaborationSession) trimHistory() {
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = s.history[over:]
	}
}

// Snapshot captures the session's content, version and version vector,
// sufficient to restore its document state later.
func (s *CollaborationSession) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		SessionID:     s.ID,
		DocumentID:    s.DocumentID,
		Content:       s.content,
		Version:       s.version,
		VersionVector: s.versionVector,
		Timestamp:     s.now(),
	}
}

// RestoreFromSnapshot overwrites the session's content, version, and
// version vector from snap. It does not restore operation history: a
// restored session starts with an empty history from snap's version
// forward.
func (s *CollaborationSession) RestoreFromSnapshot(snap SessionSnapshot) {
	s.content = snap.Content
	s.version = snap.Version
	s.versionVector = snap.VersionVector
	s.metadata.LastModified = snap.Timestamp
}

// IsIdle reports whether the session has had no modifications for longer
// than threshold.
func (s *CollaborationSession) IsIdle(threshold time.Duration) bool {
	return s.now().Sub(s.metadata.LastModified) > threshold
}

// GetOperationAtVersion returns the operation record applied at version, if
// still retained in history.
func (s *CollaborationSession) GetOperationAtVersion(version uint64) (OperationRecord, bool) {
	for _, r := range s.history {
		if r.Version == version {
			return r, true
		}
	}
	return OperationRecord{}, false
}

// SessionManager owns the set of live collaboration sessions a server
// process is hosting, keyed by SessionID.
type SessionManager struct {
	sessions map[SessionID]*CollaborationSession
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[SessionID]*CollaborationSession)}
}

// CreateSession starts a new session over initialContent and registers it.
func (m *SessionManager) CreateSession(documentID, initialContent string) SessionID {
	session := NewCollaborationSession(documentID, initialContent)
	m.sessions[session.ID] = session
	return session.ID
}

// GetSession returns the session registered under id, if any.
func (m *SessionManager) GetSession(id SessionID) (*CollaborationSession, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// RemoveSession unregisters and returns the session under id, if any.
func (m *SessionManager) RemoveSession(id SessionID) (*CollaborationSession, bool) {
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

// GetSessionsForDocument returns every live session editing documentID.
func (m *SessionManager) GetSessionsForDocument(documentID string) []*CollaborationSession {
	var out []*CollaborationSession
	for _, s := range m.sessions {
		if s.DocumentID == documentID {
			out = append(out, s)
		}
	}
	return out
}

// SessionCount returns the number of live sessions.
func (m *SessionManager) SessionCount() int { return len(m.sessions) }

// CleanupIdleSessions drops every session that has been idle longer than
// threshold.
func (m *SessionManager) CleanupIdleSessions(threshold time.Duration) {
	for id, s := range m.sessions {
		if s.IsIdle(threshold) {
			delete(m.sessions, id)
		}
	}
}

// SessionIDs returns the IDs of every currently live session.
func (m *SessionManager) SessionIDs() []SessionID {
	out := make([]SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}
