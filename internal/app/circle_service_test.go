package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

var testStart = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

const (
	testOwner   domain.Address = "owner"
	testEngine  domain.Address = "circle-engine"
	testKeeper  domain.Address = "keeper"
	testCustody domain.Address = "circle-custody"

	alice domain.Address = "alice"
	bob   domain.Address = "bob"
	carol domain.Address = "carol"
	dave  domain.Address = "dave"
	erin  domain.Address = "erin"
)

const testFunding int64 = 10_000

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MinContribution = 1
	p.MinMembers = 2
	p.VotingDelay = 0
	return p
}

type memoryCircleStore struct {
	CircleStore
	saved   map[int64]domain.CircleAggregate
	saveErr error
}

func newMemoryCircleStore() *memoryCircleStore {
	return &memoryCircleStore{saved: make(map[int64]domain.CircleAggregate)}
}

func (m *memoryCircleStore) SaveCircle(ctx context.Context, agg domain.CircleAggregate) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[agg.Circle.ID] = agg
	return nil
}

func (m *memoryCircleStore) LoadCircles(ctx context.Context) ([]domain.CircleAggregate, error) {
	out := make([]domain.CircleAggregate, 0, len(m.saved))
	for _, agg := range m.saved {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Circle.ID < out[j].Circle.ID })
	return out, nil
}

func (m *memoryCircleStore) SaveAuthorization(ctx context.Context, role string, addr domain.Address, authorized bool) error {
	return nil
}

func (m *memoryCircleStore) LoadAuthorizations(ctx context.Context, role string) ([]domain.Address, error) {
	return nil, nil
}

type circleFixture struct {
	clock      *testClock
	bank       *MemoryBank
	store      *memoryCircleStore
	reputation *ReputationService
	circles    *CircleService
}

func newCircleFixture(t *testing.T, policy Policy, funded ...domain.Address) *circleFixture {
	t.Helper()
	ctx := context.Background()
	logger := newTestLogger()
	clock := &testClock{now: testStart}

	bank := NewMemoryBank()
	for _, addr := range funded {
		if err := bank.Deposit(ctx, addr, testFunding); err != nil {
			t.Fatalf("failed to fund %s: %v", addr, err)
		}
	}

	reputation := NewReputationService(testOwner, DefaultReputationDeltas(), nil, nil, logger)
	reputation.now = clock.Now
	if err := reputation.Authorize(ctx, testOwner, testEngine); err != nil {
		t.Fatalf("failed to authorize circle engine: %v", err)
	}

	store := newMemoryCircleStore()
	circles := NewCircleService(CircleServiceConfig{
		Address: testEngine,
		Owner:   testOwner,
		Keepers: []domain.Address{testKeeper},
		Policy:  policy,
	}, NewCustodyLedger(bank, testCustody), reputation, store, nil, nil, logger)
	circles.now = clock.Now

	return &circleFixture{clock: clock, bank: bank, store: store, reputation: reputation, circles: circles}
}

func (f *circleFixture) create(t *testing.T, creator domain.Address, maxMembers int, visibility domain.Visibility) domain.Circle {
	t.Helper()
	c, err := f.circles.CreateCircle(context.Background(), creator, domain.CreateCircleParams{
		Name:               "test circle",
		ContributionAmount: 100,
		Frequency:          domain.FrequencyWeekly,
		MaxMembers:         maxMembers,
		Visibility:         visibility,
	})
	if err != nil {
		t.Fatalf("CreateCircle returned error: %v", err)
	}
	return c
}

func (f *circleFixture) join(t *testing.T, circleID int64, members ...domain.Address) {
	t.Helper()
	for _, m := range members {
		if _, err := f.circles.JoinCircle(context.Background(), circleID, m); err != nil {
			t.Fatalf("JoinCircle(%s) returned error: %v", m, err)
		}
	}
}

func (f *circleFixture) contribute(t *testing.T, circleID int64, members ...domain.Address) {
	t.Helper()
	for _, m := range members {
		if _, err := f.circles.Contribute(context.Background(), circleID, m); err != nil {
			t.Fatalf("Contribute(%s) returned error: %v", m, err)
		}
	}
}

func (f *circleFixture) balance(t *testing.T, addr domain.Address) int64 {
	t.Helper()
	b, err := f.bank.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("Balance(%s) returned error: %v", addr, err)
	}
	return b
}

func (f *circleFixture) circle(t *testing.T, circleID int64) domain.Circle {
	t.Helper()
	c, err := f.circles.GetCircle(context.Background(), circleID)
	if err != nil {
		t.Fatalf("GetCircle returned error: %v", err)
	}
	return c
}

func (f *circleFixture) member(t *testing.T, circleID int64, addr domain.Address) domain.Member {
	t.Helper()
	m, err := f.circles.Member(context.Background(), circleID, addr)
	if err != nil {
		t.Fatalf("Member(%s) returned error: %v", addr, err)
	}
	return m
}

// assertBalanced checks that custody holds exactly the locked collateral plus the pot.
func (f *circleFixture) assertBalanced(t *testing.T, circleID int64) {
	t.Helper()
	acc, err := f.circles.Accounting(context.Background(), circleID)
	if err != nil {
		t.Fatalf("Accounting returned error: %v", err)
	}
	if !acc.Balanced {
		t.Fatalf("expected balanced accounting, got %+v", acc)
	}
	if custody := f.balance(t, testCustody); custody != acc.Held {
		t.Fatalf("expected custody balance %d to equal held %d", custody, acc.Held)
	}
}

func TestCircleLifecycleWithForfeit(t *testing.T) {
	ctx := context.Background()
	members := []domain.Address{alice, bob, carol, dave, erin}
	f := newCircleFixture(t, testPolicy(), members...)

	c := f.create(t, alice, 5, domain.VisibilityPublic)
	if c.State != domain.CircleCreated || c.CurrentMembers != 1 {
		t.Fatalf("expected CREATED circle with 1 member, got %s with %d", c.State, c.CurrentMembers)
	}
	if got := f.member(t, c.ID, alice); got.Position != 1 || got.CollateralLocked != 200 {
		t.Fatalf("expected creator at position 1 with 200 locked, got %+v", got)
	}
	if got := f.balance(t, alice); got != testFunding-200 {
		t.Fatalf("expected creator balance %d, got %d", testFunding-200, got)
	}

	f.join(t, c.ID, bob, carol, dave, erin)
	c = f.circle(t, c.ID)
	if c.State != domain.CircleActive || c.CurrentRound != 1 {
		t.Fatalf("expected ACTIVE circle in round 1 once full, got %s round %d", c.State, c.CurrentRound)
	}
	ordered, err := f.circles.Members(ctx, c.ID)
	if err != nil {
		t.Fatalf("Members returned error: %v", err)
	}
	for i, m := range ordered {
		if m.Address != members[i] || m.Position != i+1 {
			t.Fatalf("expected %s at position %d, got %s at %d", members[i], i+1, m.Address, m.Position)
		}
	}
	f.assertBalanced(t, c.ID)

	f.contribute(t, c.ID, bob, carol, dave)
	status, err := f.circles.RoundStatus(ctx, c.ID)
	if err != nil {
		t.Fatalf("RoundStatus returned error: %v", err)
	}
	if len(status.Outstanding) != 1 || status.Outstanding[0] != erin || status.Recipient != alice {
		t.Fatalf("expected erin outstanding for alice's round, got %+v", status)
	}

	if _, err := f.circles.ForfeitMember(ctx, c.ID, bob, []domain.Address{erin}); !errors.Is(err, domain.ErrGracePeriodActive) {
		t.Fatalf("expected ErrGracePeriodActive, got %v", err)
	}

	f.clock.Advance(9*24*time.Hour + time.Second)
	result, err := f.circles.ForfeitMember(ctx, c.ID, bob, []domain.Address{alice, erin, erin})
	if err != nil {
		t.Fatalf("ForfeitMember returned error: %v", err)
	}
	if len(result.Forfeited) != 1 || result.Forfeited[0] != erin {
		t.Fatalf("expected only erin forfeited, got %v", result.Forfeited)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != alice {
		t.Fatalf("expected the recipient to be skipped, got %v", result.Skipped)
	}
	if result.Deducted != 101 || !result.RoundResolved {
		t.Fatalf("expected 101 deducted and the round resolved, got %+v", result)
	}
	if got := f.member(t, c.ID, alice); got.CollateralLocked != 200 || got.LatePayments != 0 || got.Forfeits != 0 {
		t.Fatalf("expected the recipient's collateral and record untouched, got %+v", got)
	}
	if paid, err := f.circles.HasContributed(ctx, c.ID, 1, alice); err != nil || paid {
		t.Fatalf("expected no contribution recorded for the recipient, got %v %v", paid, err)
	}
	if got := f.member(t, c.ID, erin); got.CollateralLocked != 99 || got.Forfeits != 1 {
		t.Fatalf("expected erin to keep 99 collateral with one forfeit, got %+v", got)
	}
	if got := f.balance(t, alice); got != testFunding-200+401 {
		t.Fatalf("expected alice to receive a 401 pot, balance %d", got)
	}
	if got := f.reputation.Reputation(erin).Score; got != 180 {
		t.Fatalf("expected erin score 180 after late and forfeit, got %d", got)
	}
	f.assertBalanced(t, c.ID)

	lastRound := f.circle(t, c.ID).CurrentRound
	for round := 2; round <= len(members); round++ {
		recipient := members[round-1]
		if _, err := f.circles.Contribute(ctx, c.ID, recipient); !errors.Is(err, domain.ErrRecipientCannotContribute) {
			t.Fatalf("round %d: expected ErrRecipientCannotContribute, got %v", round, err)
		}
		first := true
		for _, m := range members {
			if m == recipient {
				continue
			}
			f.contribute(t, c.ID, m)
			if first {
				if _, err := f.circles.Contribute(ctx, c.ID, m); !errors.Is(err, domain.ErrAlreadyContributed) {
					t.Fatalf("round %d: expected ErrAlreadyContributed, got %v", round, err)
				}
				first = false
			}
		}
		current := f.circle(t, c.ID).CurrentRound
		if current <= lastRound {
			t.Fatalf("expected round to advance past %d, got %d", lastRound, current)
		}
		lastRound = current
		f.assertBalanced(t, c.ID)
	}

	c = f.circle(t, c.ID)
	if c.State != domain.CircleCompleted || c.ClosedAt == nil {
		t.Fatalf("expected COMPLETED circle, got %s", c.State)
	}
	if got := f.balance(t, testCustody); got != 0 {
		t.Fatalf("expected empty custody after completion, got %d", got)
	}
	want := map[domain.Address]int64{alice: 10_001, bob: 10_000, carol: 10_000, dave: 10_000, erin: 9_999}
	var total int64
	for addr, expected := range want {
		got := f.balance(t, addr)
		if got != expected {
			t.Fatalf("expected %s final balance %d, got %d", addr, expected, got)
		}
		total += got
	}
	if total != testFunding*int64(len(members)) {
		t.Fatalf("expected value to be conserved, total %d", total)
	}
	if got := f.reputation.Reputation(alice).Score; got != 283 {
		t.Fatalf("expected alice score 283 with on-time and completion bonuses, got %d", got)
	}
	if got := f.reputation.Reputation(erin).Score; got != 186 {
		t.Fatalf("expected erin score 186 without completion bonus, got %d", got)
	}
	if _, err := f.circles.Contribute(ctx, c.ID, bob); !errors.Is(err, domain.ErrCircleNotActive) {
		t.Fatalf("expected ErrCircleNotActive after completion, got %v", err)
	}
}

func TestContributeAfterDueIsLate(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob)
	c := f.create(t, alice, 2, domain.VisibilityPublic)
	f.join(t, c.ID, bob)

	f.clock.Advance(7*24*time.Hour + time.Second)
	made, err := f.circles.Contribute(ctx, c.ID, bob)
	if err != nil {
		t.Fatalf("Contribute returned error: %v", err)
	}
	if !made.Late {
		t.Fatal("expected contribution after the due date to be late")
	}
	if got := f.member(t, c.ID, bob).LatePayments; got != 1 {
		t.Fatalf("expected one late payment, got %d", got)
	}
	rep := f.reputation.Reputation(bob)
	if rep.Score != 230 || rep.LatePayments != 1 {
		t.Fatalf("expected bob score 230 with one late payment, got %+v", rep)
	}
}

func TestForfeitRequiresMemberOrKeeper(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob, carol)
	c := f.create(t, alice, 2, domain.VisibilityPublic)
	f.join(t, c.ID, bob)
	f.clock.Advance(10 * 24 * time.Hour)

	if _, err := f.circles.ForfeitMember(ctx, c.ID, carol, []domain.Address{bob}); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("expected ErrNotMember for an outsider, got %v", err)
	}
	result, err := f.circles.ForfeitMember(ctx, c.ID, testKeeper, []domain.Address{bob, carol})
	if err != nil {
		t.Fatalf("keeper ForfeitMember returned error: %v", err)
	}
	if len(result.Forfeited) != 1 || len(result.Skipped) != 1 || result.Skipped[0] != carol {
		t.Fatalf("expected bob forfeited and carol skipped, got %+v", result)
	}
}

func TestForfeitSkipsRecipientWhileRoundOpen(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob, carol)
	c := f.create(t, alice, 3, domain.VisibilityPublic)
	f.join(t, c.ID, bob, carol)
	f.contribute(t, c.ID, bob)

	f.clock.Advance(9*24*time.Hour + time.Second)
	result, err := f.circles.ForfeitMember(ctx, c.ID, bob, []domain.Address{alice})
	if err != nil {
		t.Fatalf("ForfeitMember returned error: %v", err)
	}
	if len(result.Forfeited) != 0 || len(result.Skipped) != 1 || result.Skipped[0] != alice {
		t.Fatalf("expected only the recipient skipped, got %+v", result)
	}
	if result.Deducted != 0 || result.RoundResolved {
		t.Fatalf("expected nothing deducted and the round left open, got %+v", result)
	}

	if got := f.member(t, c.ID, alice); got.CollateralLocked != 200 || got.LatePayments != 0 || got.Forfeits != 0 || got.HasReceived {
		t.Fatalf("expected the recipient untouched, got %+v", got)
	}
	if paid, err := f.circles.HasContributed(ctx, c.ID, 1, alice); err != nil || paid {
		t.Fatalf("expected no contribution recorded for the recipient, got %v %v", paid, err)
	}
	if got := f.reputation.Reputation(alice).Score; got != 250 {
		t.Fatalf("expected the recipient's score unchanged, got %d", got)
	}

	status, err := f.circles.RoundStatus(ctx, c.ID)
	if err != nil {
		t.Fatalf("RoundStatus returned error: %v", err)
	}
	if status.Round != 1 || len(status.Outstanding) != 1 || status.Outstanding[0] != carol {
		t.Fatalf("expected round 1 still waiting on carol, got %+v", status)
	}
	if got := f.circle(t, c.ID); got.Pot != 100 || got.CurrentRound != 1 {
		t.Fatalf("expected pot 100 in round 1, got pot %d round %d", got.Pot, got.CurrentRound)
	}
	f.assertBalanced(t, c.ID)
}

func TestCreateCircleValidation(t *testing.T) {
	valid := domain.CreateCircleParams{
		ContributionAmount: 100,
		Frequency:          domain.FrequencyDaily,
		MaxMembers:         5,
		Visibility:         domain.VisibilityPrivate,
	}
	tests := []struct {
		name    string
		creator domain.Address
		mutate  func(p *domain.CreateCircleParams)
		want    error
	}{
		{name: "missing creator", creator: "", want: domain.ErrInvalidAddress},
		{name: "zero contribution", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.ContributionAmount = 0 }, want: domain.ErrInvalidContributionAmount},
		{name: "contribution above maximum", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.ContributionAmount = domain.MaxAmount + 1 }, want: domain.ErrInvalidContributionAmount},
		{name: "contribution that would overflow collateral", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.ContributionAmount = 500_000_000_000_000 }, want: domain.ErrInvalidContributionAmount},
		{name: "too few members", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.MaxMembers = 1 }, want: domain.ErrInvalidMemberCount},
		{name: "too many members", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.MaxMembers = 101 }, want: domain.ErrInvalidMemberCount},
		{name: "unknown frequency", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.Frequency = "YEARLY" }, want: domain.ErrInvalidFrequency},
		{name: "unknown visibility", creator: alice, mutate: func(p *domain.CreateCircleParams) { p.Visibility = "" }, want: domain.ErrInvalidVisibility},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCircleFixture(t, testPolicy(), alice)
			params := valid
			if tt.mutate != nil {
				tt.mutate(&params)
			}
			if _, err := f.circles.CreateCircle(context.Background(), tt.creator, params); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := f.balance(t, alice); got != testFunding {
				t.Fatalf("expected no collateral taken, balance %d", got)
			}
		})
	}
}

func TestJoinPrivateCircleRequiresInvite(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob, carol)
	c := f.create(t, alice, 4, domain.VisibilityPrivate)

	if _, err := f.circles.JoinCircle(ctx, c.ID, bob); !errors.Is(err, domain.ErrNotInvited) {
		t.Fatalf("expected ErrNotInvited, got %v", err)
	}
	if _, err := f.circles.InviteMembers(ctx, c.ID, bob, []domain.Address{carol}); !errors.Is(err, domain.ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator for a non-creator invite, got %v", err)
	}
	added, err := f.circles.InviteMembers(ctx, c.ID, alice, []domain.Address{bob, bob, alice, carol})
	if err != nil {
		t.Fatalf("InviteMembers returned error: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 new invitees, got %d", added)
	}
	f.join(t, c.ID, bob)
	if _, err := f.circles.JoinCircle(ctx, c.ID, bob); !errors.Is(err, domain.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestJoinWithoutFundsLeavesCircleUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice)
	c := f.create(t, alice, 4, domain.VisibilityPublic)

	if _, err := f.circles.JoinCircle(ctx, c.ID, bob); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.circle(t, c.ID).CurrentMembers; got != 1 {
		t.Fatalf("expected the failed join to leave 1 member, got %d", got)
	}
	f.assertBalanced(t, c.ID)
}

func TestPositionsFollowReputation(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob, dave, erin)
	if err := f.reputation.IncreaseReputation(ctx, testEngine, dave, 400, "seed"); err != nil {
		t.Fatalf("IncreaseReputation returned error: %v", err)
	}
	if err := f.reputation.IncreaseReputation(ctx, testEngine, erin, 50, "seed"); err != nil {
		t.Fatalf("IncreaseReputation returned error: %v", err)
	}

	c := f.create(t, alice, 5, domain.VisibilityPublic)
	f.join(t, c.ID, bob, dave, erin)

	ordered, err := f.circles.Members(ctx, c.ID)
	if err != nil {
		t.Fatalf("Members returned error: %v", err)
	}
	want := []domain.Address{dave, erin, alice, bob}
	seen := make(map[int]bool)
	for i, m := range ordered {
		if m.Address != want[i] {
			t.Fatalf("expected %s at position %d, got %s", want[i], i+1, m.Address)
		}
		if m.Position < 1 || m.Position > len(ordered) || seen[m.Position] {
			t.Fatalf("positions must be a permutation of 1..%d, got %d", len(ordered), m.Position)
		}
		seen[m.Position] = true
	}
	if got := f.member(t, c.ID, dave).CollateralLocked; got != 150 {
		t.Fatalf("expected gold tier collateral 150, got %d", got)
	}
	if got := f.member(t, c.ID, erin).CollateralLocked; got != 180 {
		t.Fatalf("expected silver tier collateral 180, got %d", got)
	}
}

type failingPayoutLedger struct {
	AssetLedger
	failPayee domain.Address
}

func (l *failingPayoutLedger) Transfer(ctx context.Context, payee domain.Address, amount int64) error {
	if payee == l.failPayee {
		return errors.New("custody wallet offline")
	}
	return l.AssetLedger.Transfer(ctx, payee, amount)
}

func TestPayoutFailureRestoresRound(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob)
	ledger := &failingPayoutLedger{AssetLedger: NewCustodyLedger(f.bank, testCustody)}
	f.circles.ledger = ledger

	c := f.create(t, alice, 2, domain.VisibilityPublic)
	f.join(t, c.ID, bob)
	before := f.balance(t, bob)

	ledger.failPayee = alice
	if _, err := f.circles.Contribute(ctx, c.ID, bob); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	c = f.circle(t, c.ID)
	if c.CurrentRound != 1 || c.Pot != 0 || c.TotalPaidOut != 0 {
		t.Fatalf("expected round 1 untouched, got round %d pot %d paid %d", c.CurrentRound, c.Pot, c.TotalPaidOut)
	}
	paid, err := f.circles.HasContributed(ctx, c.ID, 1, bob)
	if err != nil {
		t.Fatalf("HasContributed returned error: %v", err)
	}
	if paid {
		t.Fatal("expected the failed contribution to be rolled back")
	}
	if got := f.balance(t, bob); got != before {
		t.Fatalf("expected bob refunded to %d, got %d", before, got)
	}
	if saved := f.store.saved[c.ID].Circle; saved.CurrentRound != 1 || saved.Pot != 0 {
		t.Fatalf("expected the stored circle restored, got %+v", saved)
	}
	f.assertBalanced(t, c.ID)

	ledger.failPayee = ""
	f.contribute(t, c.ID, bob)
	if got := f.circle(t, c.ID).CurrentRound; got != 2 {
		t.Fatalf("expected the retried contribution to resolve the round, got round %d", got)
	}
}

func TestSaveFailureRefundsCollateral(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice)
	f.store.saveErr = errors.New("disk full")

	_, err := f.circles.CreateCircle(ctx, alice, domain.CreateCircleParams{
		ContributionAmount: 100,
		Frequency:          domain.FrequencyWeekly,
		MaxMembers:         3,
		Visibility:         domain.VisibilityPublic,
	})
	if err == nil {
		t.Fatal("expected CreateCircle to fail when the circle cannot be saved")
	}
	if got := f.balance(t, alice); got != testFunding {
		t.Fatalf("expected collateral refunded, balance %d", got)
	}
	if _, err := f.circles.GetCircle(ctx, 1); !errors.Is(err, domain.ErrCircleNotFound) {
		t.Fatalf("expected no circle to exist, got %v", err)
	}
}

type reentrantReputation struct {
	ReputationEngine
	circles *CircleService
	errs    []error
}

func (r *reentrantReputation) GetReputation(ctx context.Context, user domain.Address) (int64, error) {
	if r.circles != nil {
		_, err := r.circles.GetCircle(ctx, 1)
		r.errs = append(r.errs, err)
	}
	return domain.DefaultReputationScore, nil
}

func TestReentrantCallIsRejected(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()
	for _, addr := range []domain.Address{alice, bob} {
		if err := bank.Deposit(ctx, addr, testFunding); err != nil {
			t.Fatalf("Deposit returned error: %v", err)
		}
	}
	reputation := &reentrantReputation{}
	circles := NewCircleService(CircleServiceConfig{Address: testEngine, Owner: testOwner, Policy: testPolicy()},
		NewCustodyLedger(bank, testCustody), reputation, nil, nil, nil, newTestLogger())
	reputation.circles = circles

	c, err := circles.CreateCircle(ctx, alice, domain.CreateCircleParams{
		ContributionAmount: 100,
		Frequency:          domain.FrequencyWeekly,
		MaxMembers:         4,
		Visibility:         domain.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("CreateCircle returned error: %v", err)
	}
	if _, err := circles.JoinCircle(ctx, c.ID, bob); err != nil {
		t.Fatalf("JoinCircle returned error: %v", err)
	}

	if len(reputation.errs) != 2 {
		t.Fatalf("expected 2 nested calls, got %d", len(reputation.errs))
	}
	for _, err := range reputation.errs {
		if !errors.Is(err, domain.ErrReentrantCall) {
			t.Fatalf("expected ErrReentrantCall, got %v", err)
		}
	}
	if _, err := circles.GetCircle(ctx, c.ID); err != nil {
		t.Fatalf("expected the engine to be usable after rejecting re-entry, got %v", err)
	}
}

func TestRestoreRebuildsCircles(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob, carol)
	c := f.create(t, alice, 3, domain.VisibilityPrivate)
	if _, err := f.circles.InviteMembers(ctx, c.ID, alice, []domain.Address{bob, carol}); err != nil {
		t.Fatalf("InviteMembers returned error: %v", err)
	}
	f.join(t, c.ID, bob, carol)
	f.contribute(t, c.ID, bob)

	restored := NewCircleService(CircleServiceConfig{Address: testEngine, Owner: testOwner, Policy: testPolicy()},
		NewCustodyLedger(f.bank, testCustody), f.reputation, f.store, nil, nil, newTestLogger())
	restored.now = f.clock.Now
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}

	got, err := restored.GetCircle(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCircle returned error: %v", err)
	}
	if got.State != domain.CircleActive || got.Pot != 100 || got.CurrentMembers != 3 {
		t.Fatalf("expected restored active circle with pot 100, got %+v", got)
	}
	paid, err := restored.HasContributed(ctx, c.ID, 1, bob)
	if err != nil || !paid {
		t.Fatalf("expected bob's contribution to survive restore, got %v %v", paid, err)
	}
	if _, err := restored.Contribute(ctx, c.ID, carol); err != nil {
		t.Fatalf("Contribute after restore returned error: %v", err)
	}
	if got := restored.Policy().MinContribution; got != 1 {
		t.Fatalf("expected policy to carry over, got min contribution %d", got)
	}

	next, err := restored.CreateCircle(ctx, bob, domain.CreateCircleParams{
		ContributionAmount: 100,
		Frequency:          domain.FrequencyDaily,
		MaxMembers:         2,
		Visibility:         domain.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("CreateCircle returned error: %v", err)
	}
	if next.ID != c.ID+1 {
		t.Fatalf("expected the next circle ID %d, got %d", c.ID+1, next.ID)
	}
}

func TestListCirclesFilters(t *testing.T) {
	ctx := context.Background()
	f := newCircleFixture(t, testPolicy(), alice, bob)
	first := f.create(t, alice, 2, domain.VisibilityPublic)
	second := f.create(t, bob, 3, domain.VisibilityPublic)
	f.join(t, first.ID, bob)

	active, err := f.circles.ListCircles(ctx, CircleFilter{State: domain.CircleActive})
	if err != nil {
		t.Fatalf("ListCircles returned error: %v", err)
	}
	if len(active) != 1 || active[0].ID != first.ID {
		t.Fatalf("expected only the first circle active, got %+v", active)
	}
	mine, err := f.circles.ListCircles(ctx, CircleFilter{Member: alice})
	if err != nil {
		t.Fatalf("ListCircles returned error: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != first.ID {
		t.Fatalf("expected alice in one circle, got %+v", mine)
	}
	all, err := f.circles.ListCircles(ctx, CircleFilter{})
	if err != nil {
		t.Fatalf("ListCircles returned error: %v", err)
	}
	if len(all) != 2 || all[1].ID != second.ID {
		t.Fatalf("expected both circles ordered by ID, got %+v", all)
	}
}
