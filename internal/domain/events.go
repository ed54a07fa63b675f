/**
 * @description
 * Event envelope published after every committed state transition. Consumers use these
 * to follow circle, goal and reputation changes without polling the API.
 */
package domain

import "time"

// Event routing keys.
const (
	EventCircleCreated       = "circle.created"
	EventCircleInvited       = "circle.members_invited"
	EventCircleMemberJoined  = "circle.member_joined"
	EventCircleVotingOpened  = "circle.voting_opened"
	EventCircleVoteCast      = "circle.vote_cast"
	EventCircleActivated     = "circle.activated"
	EventCircleContribution  = "circle.contribution_made"
	EventCircleForfeited     = "circle.member_forfeited"
	EventCirclePayout        = "circle.payout_made"
	EventCircleCompleted     = "circle.completed"
	EventCircleCancelled     = "circle.cancelled"
	EventGoalCreated         = "goal.created"
	EventGoalContribution    = "goal.contribution_made"
	EventGoalWithdrawn       = "goal.withdrawn"
	EventGoalCompleted       = "goal.completed"
	EventReputationChanged   = "reputation.changed"
	EventReputationCallerSet = "reputation.caller_updated"
)

// Event is the envelope written to the event log and published to the broker.
type Event struct {
	ID          string         `json:"event_id"`
	Type        string         `json:"event_type"`
	AggregateID int64          `json:"aggregate_id,omitempty"`
	Actor       Address        `json:"actor,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
