/**
 * @description
 * Keeper jobs. The circle engine never acts on its own when a deadline passes; these
 * jobs play the external caller that forfeits late members and cancels circles that
 * never filled.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

// CircleKeeper is the part of the circle engine the jobs drive.
type CircleKeeper interface {
	OverdueCircles(ctx context.Context, now time.Time) ([]int64, error)
	AbandonedCircles(ctx context.Context, now time.Time) ([]int64, error)
	RoundStatus(ctx context.Context, circleID int64) (domain.RoundStatus, error)
	ForfeitMember(ctx context.Context, circleID int64, caller domain.Address, lateMembers []domain.Address) (domain.ForfeitResult, error)
	CancelCircle(ctx context.Context, circleID int64, caller domain.Address) (domain.Circle, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	circles CircleKeeper
	keeper  domain.Address
	logger  *slog.Logger
	now     func() time.Time
}

func NewJobs(circles CircleKeeper, keeper domain.Address, logger *slog.Logger) *Jobs {
	return &Jobs{
		circles: circles,
		keeper:  keeper,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessOverdueRounds forfeits every outstanding member of rounds past their grace window.
func (j *Jobs) ProcessOverdueRounds() {
	j.logger.Info("starting overdue rounds job")
	ctx := context.Background()

	ids, err := j.circles.OverdueCircles(ctx, j.now())
	if err != nil {
		j.logger.Error("failed to list overdue circles", "error", err)
		return
	}
	if len(ids) == 0 {
		j.logger.Info("no overdue rounds to process")
		return
	}

	j.logger.Info("found overdue circles", "count", len(ids))
	for _, id := range ids {
		status, err := j.circles.RoundStatus(ctx, id)
		if err != nil {
			j.logger.Error("failed to read round status", "circle_id", id, "error", err)
			continue
		}
		result, err := j.circles.ForfeitMember(ctx, id, j.keeper, status.Outstanding)
		if err != nil {
			j.logger.Error("failed to forfeit late members", "circle_id", id, "round", status.Round, "error", err)
			continue
		}
		j.logger.Info("forfeited late members", "circle_id", id, "round", result.Round, "forfeited", len(result.Forfeited), "deducted", result.Deducted, "round_resolved", result.RoundResolved)
	}

	j.logger.Info("overdue rounds job finished")
}

// ProcessAbandonedCircles cancels circles that stayed in enrollment past the timeout.
func (j *Jobs) ProcessAbandonedCircles() {
	j.logger.Info("starting abandoned circles job")
	ctx := context.Background()

	ids, err := j.circles.AbandonedCircles(ctx, j.now())
	if err != nil {
		j.logger.Error("failed to list abandoned circles", "error", err)
		return
	}
	if len(ids) == 0 {
		j.logger.Info("no abandoned circles to process")
		return
	}

	for _, id := range ids {
		circle, err := j.circles.CancelCircle(ctx, id, j.keeper)
		if err != nil {
			j.logger.Error("failed to cancel abandoned circle", "circle_id", id, "error", err)
			continue
		}
		j.logger.Info("cancelled abandoned circle", "circle_id", id, "refunded", circle.TotalRefunded)
	}

	j.logger.Info("abandoned circles job finished")
}
