package services

import (
	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/domain/actor"
)

// Principal is the authenticated caller. UserID scopes ownership and
// visibility; Actor is what revisions are attributed to. An agent working on
// a user's behalf carries that user's id and an Agent actor.
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Actor     actor.Actor
}

func HumanPrincipal(userID uuid.UUID) Principal {
	return Principal{UserID: userID, Actor: actor.Human{UserID: userID}}
}

func AgentPrincipal(userID, taskID uuid.UUID) Principal {
	return Principal{UserID: userID, Actor: actor.Agent{TaskID: taskID}}
}

func (p Principal) actor() actor.Actor {
	if p.Actor != nil {
		return p.Actor
	}
	return actor.Human{UserID: p.UserID}
}
