package api

import (
	"net/http"
	"strconv"

	"github.com/circlepot/rosca-service/internal/app"
	"github.com/circlepot/rosca-service/internal/domain"
)

type createCircleRequest struct {
	Name string `json:"name"`
	// ContributionAmount is in whole currency units, e.g. "10.00".
	ContributionAmount string `json:"contribution_amount"`
	Frequency          string `json:"frequency"`
	MaxMembers         int    `json:"max_members"`
	Visibility         string `json:"visibility"`
}

type addressesRequest struct {
	Addresses []string `json:"addresses"`
}

type forfeitRequest struct {
	Members []string `json:"members"`
}

// CreateCircleHandler creates a circle with the caller as creator.
func (h *Handlers) CreateCircleHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createCircleRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := h.amount(w, "contribution_amount", req.ContributionAmount)
	if !ok {
		return
	}
	frequency, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		h.writeDomainError(w, r, "create_circle", err)
		return
	}
	visibility := domain.VisibilityPrivate
	if req.Visibility != "" {
		if visibility, err = domain.ParseVisibility(req.Visibility); err != nil {
			h.writeDomainError(w, r, "create_circle", err)
			return
		}
	}

	circle, err := h.circles.CreateCircle(r.Context(), caller, domain.CreateCircleParams{
		Name:               req.Name,
		ContributionAmount: amount,
		Frequency:          frequency,
		MaxMembers:         req.MaxMembers,
		Visibility:         visibility,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_circle", err)
		return
	}
	writeJSON(w, http.StatusCreated, circle)
}

// ListCirclesHandler lists circles, optionally filtered by ?state= and ?member=.
// ?mine=true restricts the list to circles the caller belongs to.
func (h *Handlers) ListCirclesHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := app.CircleFilter{
		State:  domain.CircleState(q.Get("state")),
		Member: domain.NormalizeAddress(q.Get("member")),
	}
	if q.Get("mine") == "true" {
		filter.Member = caller
	}
	circles, err := h.circles.ListCircles(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "list_circles", err)
		return
	}
	writeJSON(w, http.StatusOK, circles)
}

func (h *Handlers) GetCircleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	circle, err := h.circles.GetCircle(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "get_circle", err)
		return
	}
	writeJSON(w, http.StatusOK, circle)
}

func (h *Handlers) ListMembersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	members, err := h.circles.Members(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "list_members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handlers) RoundStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	status, err := h.circles.RoundStatus(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "round_status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) AccountingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	acc, err := h.circles.Accounting(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "accounting", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handlers) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	payouts, err := h.circles.Payouts(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "list_payouts", err)
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

// RequiredCollateralHandler quotes the collateral the caller would lock to join.
func (h *Handlers) RequiredCollateralHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	collateral, err := h.circles.RequiredCollateral(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "required_collateral", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"circle_id":  id,
		"address":    caller,
		"collateral": collateral,
	})
}

// ListContributionsHandler lists the contributions of ?round= (default: the current round).
func (h *Handlers) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	round := 0
	if raw := r.URL.Query().Get("round"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid round")
			return
		}
		round = n
	}
	if round == 0 {
		circle, err := h.circles.GetCircle(r.Context(), id)
		if err != nil {
			h.writeDomainError(w, r, "list_contributions", err)
			return
		}
		round = circle.CurrentRound
	}
	contributions, err := h.circles.Contributions(r.Context(), id, round)
	if err != nil {
		h.writeDomainError(w, r, "list_contributions", err)
		return
	}
	if contributions == nil {
		contributions = []domain.Contribution{}
	}
	writeJSON(w, http.StatusOK, contributions)
}

// ListCircleEventsHandler returns the newest events recorded for a circle.
func (h *Handlers) ListCircleEventsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	if _, err := h.circles.GetCircle(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "list_circle_events", err)
		return
	}
	events := []domain.Event{}
	if h.events != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		listed, err := h.events.ListEvents(r.Context(), "circle.", id, limit)
		if err != nil {
			h.writeDomainError(w, r, "list_circle_events", err)
			return
		}
		events = append(events, listed...)
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) InviteMembersHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	var req addressesRequest
	if !decode(w, r, &req) {
		return
	}
	added, err := h.circles.InviteMembers(r.Context(), id, caller, parseAddresses(req.Addresses))
	if err != nil {
		h.writeDomainError(w, r, "invite_members", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"circle_id": id, "invited": added})
}

func (h *Handlers) JoinCircleHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	member, err := h.circles.JoinCircle(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "join_circle", err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *Handlers) CancelCircleHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	circle, err := h.circles.CancelCircle(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "cancel_circle", err)
		return
	}
	writeJSON(w, http.StatusOK, circle)
}

func (h *Handlers) InitiateVotingHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	circle, err := h.circles.InitiateVoting(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "initiate_voting", err)
		return
	}
	writeJSON(w, http.StatusOK, circle)
}

func (h *Handlers) VoteToStartHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	circle, err := h.circles.VoteToStart(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "vote_to_start", err)
		return
	}
	writeJSON(w, http.StatusOK, circle)
}

func (h *Handlers) ContributeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	contribution, err := h.circles.Contribute(r.Context(), id, caller)
	if err != nil {
		h.writeDomainError(w, r, "contribute", err)
		return
	}
	writeJSON(w, http.StatusCreated, contribution)
}

// ForfeitMembersHandler forfeits the listed members. An empty list forfeits every
// member still outstanding in the current round.
func (h *Handlers) ForfeitMembersHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "circleID")
	if !ok {
		return
	}
	var req forfeitRequest
	if !decode(w, r, &req) {
		return
	}
	members := parseAddresses(req.Members)
	if len(members) == 0 {
		status, err := h.circles.RoundStatus(r.Context(), id)
		if err != nil {
			h.writeDomainError(w, r, "forfeit_members", err)
			return
		}
		members = status.Outstanding
	}
	result, err := h.circles.ForfeitMember(r.Context(), id, caller, members)
	if err != nil {
		h.writeDomainError(w, r, "forfeit_members", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
