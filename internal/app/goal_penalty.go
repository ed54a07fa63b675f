package app

import "github.com/circlepot/rosca-service/internal/domain"

// penaltyBuckets maps progress (in bps of target, lower bound inclusive) to the
// withdrawal penalty in bps of the current amount.
var penaltyBuckets = []struct {
	from int64
	bps  int64
}{
	{from: 10000, bps: 0},
	{from: 7500, bps: 10},
	{from: 5000, bps: 30},
	{from: 2500, bps: 60},
	{from: 0, bps: 100},
}

// PenaltyBps returns the early-withdrawal penalty for the given progress.
func PenaltyBps(progressBps int64) int64 {
	for _, b := range penaltyBuckets {
		if progressBps >= b.from {
			return b.bps
		}
	}
	return penaltyBuckets[len(penaltyBuckets)-1].bps
}

// QuoteWithdrawal splits a goal's balance into penalty and payout.
func QuoteWithdrawal(g domain.Goal) domain.WithdrawalQuote {
	progress := g.ProgressBps()
	bps := PenaltyBps(progress)
	penalty := g.CurrentAmount * bps / 10000
	return domain.WithdrawalQuote{
		GoalID:      g.ID,
		Current:     g.CurrentAmount,
		ProgressBps: progress,
		PenaltyBps:  bps,
		Penalty:     penalty,
		Payout:      g.CurrentAmount - penalty,
	}
}
