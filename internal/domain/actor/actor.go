// Package actor models the principal a mutation is attributed to.
package actor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindHuman  Kind = "human"
	KindAgent  Kind = "agent"
	KindSystem Kind = "system"
)

// Actor is a closed sum type: Human, Agent or System.
type Actor interface {
	Kind() Kind
	// RefID is the principal reference recorded on revisions; nil for System.
	RefID() *uuid.UUID
	String() string
	isActor()
}

type Human struct {
	UserID uuid.UUID
}

func (Human) Kind() Kind { return KindHuman }
func (h Human) RefID() *uuid.UUID {
	id := h.UserID
	return &id
}
func (h Human) String() string { return "human:" + h.UserID.String() }
func (Human) isActor()         {}

type Agent struct {
	TaskID uuid.UUID
}

func (Agent) Kind() Kind { return KindAgent }
func (a Agent) RefID() *uuid.UUID {
	id := a.TaskID
	return &id
}
func (a Agent) String() string { return "agent:" + a.TaskID.String() }
func (Agent) isActor()         {}

type System struct{}

func (System) Kind() Kind        { return KindSystem }
func (System) RefID() *uuid.UUID { return nil }
func (System) String() string    { return "system" }
func (System) isActor()          {}

// Parse rebuilds an Actor from its stored kind and reference.
func Parse(kind string, ref *uuid.UUID) (Actor, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindHuman:
		if ref == nil || *ref == uuid.Nil {
			return nil, fmt.Errorf("human actor requires a user id")
		}
		return Human{UserID: *ref}, nil
	case KindAgent:
		if ref == nil || *ref == uuid.Nil {
			return nil, fmt.Errorf("agent actor requires a task id")
		}
		return Agent{TaskID: *ref}, nil
	case KindSystem:
		return System{}, nil
	default:
		return nil, fmt.Errorf("unknown actor kind %q", kind)
	}
}
