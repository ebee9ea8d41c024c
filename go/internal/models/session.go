package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle state of a game session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusPaused SessionStatus = "paused"
	SessionStatusEnded  SessionStatus = "ended"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusPaused, SessionStatusEnded:
		return true
	}
	return false
}

// Session is the record of one live game. Status transitions are the only
// mutation after creation.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Teams     []string      `json:"teams"`
	Status    SessionStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	PausedAt  *time.Time    `json:"pausedAt,omitempty"`
}

// HasTeam reports whether teamID is registered in the session.
func (s *Session) HasTeam(teamID string) bool {
	for _, t := range s.Teams {
		if t == teamID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with s.
func (s *Session) Clone() Session {
	c := *s
	c.Teams = append([]string(nil), s.Teams...)
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.PausedAt != nil {
		t := *s.PausedAt
		c.PausedAt = &t
	}
	return c
}
