package api

import (
	"net/http"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

type createGoalRequest struct {
	Name               string    `json:"name"`
	TargetAmount       string    `json:"target_amount"`
	ContributionAmount string    `json:"contribution_amount"`
	Frequency          string    `json:"frequency"`
	Deadline           time.Time `json:"deadline"`
}

type completeGoalResponse struct {
	Goal   domain.Goal `json:"goal"`
	Amount int64       `json:"amount"`
}

func (h *Handlers) CreateGoalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createGoalRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := h.amount(w, "target_amount", req.TargetAmount)
	if !ok {
		return
	}
	contribution, ok := h.amount(w, "contribution_amount", req.ContributionAmount)
	if !ok {
		return
	}
	frequency, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		h.writeDomainError(w, r, "create_goal", err)
		return
	}
	goal, err := h.goals.CreateGoal(r.Context(), caller, domain.CreateGoalParams{
		Name:               req.Name,
		TargetAmount:       target,
		ContributionAmount: contribution,
		Frequency:          frequency,
		Deadline:           req.Deadline,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_goal", err)
		return
	}
	writeJSON(w, http.StatusCreated, goal)
}

// ListGoalsHandler lists the caller's goals.
func (h *Handlers) ListGoalsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	goals, err := h.goals.ListGoals(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, r, "list_goals", err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (h *Handlers) GetGoalHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "goalID")
	if !ok {
		return
	}
	goal, err := h.goals.GetGoal(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "get_goal", err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

// GoalPenaltyHandler quotes an early withdrawal without performing it.
func (h *Handlers) GoalPenaltyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "goalID")
	if !ok {
		return
	}
	quote, err := h.goals.PenaltyFor(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "goal_penalty", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handlers) ContributeToGoalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "goalID")
	if !ok {
		return
	}
	goal, err := h.goals.ContributeToGoal(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "contribute_to_goal", err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func (h *Handlers) WithdrawFromGoalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "goalID")
	if !ok {
		return
	}
	quote, err := h.goals.WithdrawFromGoal(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "withdraw_from_goal", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handlers) CompleteGoalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "goalID")
	if !ok {
		return
	}
	goal, paid, err := h.goals.CompleteGoal(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "complete_goal", err)
		return
	}
	writeJSON(w, http.StatusOK, completeGoalResponse{Goal: goal, Amount: paid})
}
