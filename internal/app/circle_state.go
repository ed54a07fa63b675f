package app

import (
	"sort"

	"github.com/circlepot/rosca-service/internal/domain"
)

// roundKey addresses per-round records. Records are never cleared; once the circle
// advances, the keys of older rounds are simply no longer consulted.
type roundKey struct {
	round  int
	member domain.Address
}

// circleState is the in-memory arena entry for one circle.
type circleState struct {
	circle        domain.Circle
	members       []*domain.Member
	invited       map[domain.Address]bool
	voters        map[domain.Address]bool
	contributions map[roundKey]domain.Contribution
	forfeitures   map[roundKey]domain.Forfeiture
	payouts       []domain.Payout
}

func newCircleState(circle domain.Circle) *circleState {
	return &circleState{
		circle:        circle,
		invited:       make(map[domain.Address]bool),
		voters:        make(map[domain.Address]bool),
		contributions: make(map[roundKey]domain.Contribution),
		forfeitures:   make(map[roundKey]domain.Forfeiture),
	}
}

func (st *circleState) clone() *circleState {
	cp := newCircleState(st.circle)
	cp.members = make([]*domain.Member, len(st.members))
	for i, m := range st.members {
		mm := *m
		cp.members[i] = &mm
	}
	for k, v := range st.invited {
		cp.invited[k] = v
	}
	for k, v := range st.voters {
		cp.voters[k] = v
	}
	for k, v := range st.contributions {
		cp.contributions[k] = v
	}
	for k, v := range st.forfeitures {
		cp.forfeitures[k] = v
	}
	cp.payouts = append([]domain.Payout(nil), st.payouts...)
	return cp
}

func (st *circleState) member(addr domain.Address) *domain.Member {
	for _, m := range st.members {
		if m.Address == addr {
			return m
		}
	}
	return nil
}

// recipient is the member whose position matches the current round.
func (st *circleState) recipient() *domain.Member {
	for _, m := range st.members {
		if m.Position == st.circle.CurrentRound {
			return m
		}
	}
	return nil
}

func (st *circleState) contributed(round int, addr domain.Address) bool {
	_, ok := st.contributions[roundKey{round: round, member: addr}]
	return ok
}

func (st *circleState) forfeited(round int, addr domain.Address) bool {
	_, ok := st.forfeitures[roundKey{round: round, member: addr}]
	return ok
}

// outstanding lists the non-recipient members that have neither paid nor been
// forfeited in the current round, in payout order.
func (st *circleState) outstanding() []domain.Address {
	round := st.circle.CurrentRound
	var out []domain.Address
	for _, m := range st.byPosition() {
		if m.Position == round {
			continue
		}
		if st.contributed(round, m.Address) || st.forfeited(round, m.Address) {
			continue
		}
		out = append(out, m.Address)
	}
	return out
}

func (st *circleState) collateralTotal() int64 {
	var total int64
	for _, m := range st.members {
		total += m.CollateralLocked
	}
	return total
}

func (st *circleState) byPosition() []*domain.Member {
	out := append([]*domain.Member(nil), st.members...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// assignPositions orders members by weight (highest first), then by join order, and
// numbers them 1..n.
func (st *circleState) assignPositions(weight func(int64) int64) {
	ordered := append([]*domain.Member(nil), st.members...)
	sort.SliceStable(ordered, func(i, j int) bool {
		wi, wj := weight(ordered[i].ReputationScore), weight(ordered[j].ReputationScore)
		if wi != wj {
			return wi > wj
		}
		return ordered[i].JoinSeq < ordered[j].JoinSeq
	})
	for i, m := range ordered {
		m.Position = i + 1
	}
}

func (st *circleState) aggregate() domain.CircleAggregate {
	agg := domain.CircleAggregate{Circle: st.circle}
	for _, m := range st.members {
		agg.Members = append(agg.Members, *m)
	}
	for addr, ok := range st.invited {
		if ok {
			agg.Invited = append(agg.Invited, addr)
		}
	}
	for addr, ok := range st.voters {
		if ok {
			agg.Voters = append(agg.Voters, addr)
		}
	}
	for _, c := range st.contributions {
		agg.Contributions = append(agg.Contributions, c)
	}
	for _, f := range st.forfeitures {
		agg.Forfeitures = append(agg.Forfeitures, f)
	}
	agg.Payouts = append(agg.Payouts, st.payouts...)

	sort.Slice(agg.Invited, func(i, j int) bool { return agg.Invited[i] < agg.Invited[j] })
	sort.Slice(agg.Voters, func(i, j int) bool { return agg.Voters[i] < agg.Voters[j] })
	sort.Slice(agg.Contributions, func(i, j int) bool {
		a, b := agg.Contributions[i], agg.Contributions[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Member < b.Member
	})
	sort.Slice(agg.Forfeitures, func(i, j int) bool {
		a, b := agg.Forfeitures[i], agg.Forfeitures[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Member < b.Member
	})
	return agg
}

func stateFromAggregate(agg domain.CircleAggregate) *circleState {
	st := newCircleState(agg.Circle)
	for i := range agg.Members {
		m := agg.Members[i]
		st.members = append(st.members, &m)
	}
	sort.SliceStable(st.members, func(i, j int) bool { return st.members[i].JoinSeq < st.members[j].JoinSeq })
	for _, addr := range agg.Invited {
		st.invited[addr] = true
	}
	for _, addr := range agg.Voters {
		st.voters[addr] = true
	}
	for _, c := range agg.Contributions {
		st.contributions[roundKey{round: c.Round, member: c.Member}] = c
	}
	for _, f := range agg.Forfeitures {
		st.forfeitures[roundKey{round: f.Round, member: f.Member}] = f
	}
	st.payouts = append(st.payouts, agg.Payouts...)
	return st
}
