/*
xp.go - Per-user XP account

PURPOSE:
  Holds the running XP total (points) and the progress toward the current
  weekly goal (periodProgress) in the users/{uid} document.

RULES:
  - Only increments. There is no decrement or overwrite path.
  - A zero credit is a no-op; a negative credit is ErrInvalidAmount.
  - The account is created lazily by the first credit.

CONCURRENCY:
  Increment is atomic in the store, so concurrent credits never lose an
  update. The lazy create is a CreateIfAbsent; the loser of that race
  retries the increment once against the document the winner created.

SEE ALSO:
  - eventlog/eventlog.go: Every credit is mirrored by one event
*/
package xp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/progress-ledger/generic"
)

const (
	fieldPoints         = "points"
	fieldPeriodProgress = "periodProgress"
)

// DefaultWeeklyGoal is the period goal used when none is configured.
const DefaultWeeklyGoal = 350

// Account is the users/{uid} document.
type Account struct {
	Points         int64      `json:"points"`
	PeriodProgress int64      `json:"periodProgress"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
	LastActiveAt   *time.Time `json:"lastActiveAt,omitempty"`
}

// GoalPercent is periodProgress as a percentage of goal, one decimal place,
// capped at 100.
func (a Account) GoalPercent(goal int64) decimal.Decimal {
	if goal <= 0 {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	pct := decimal.NewFromInt(a.PeriodProgress).Mul(hundred).Div(decimal.NewFromInt(goal)).Round(1)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// Accounts credits and reads XP accounts.
type Accounts struct {
	Store generic.Store
	Clock generic.Clock
}

func New(store generic.Store, clock generic.Clock) *Accounts {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Accounts{Store: store, Clock: clock}
}

// Credit adds amount to points and periodProgress in one write.
func (a *Accounts) Credit(ctx context.Context, uid generic.UserID, amount int64) error {
	if !uid.Valid() {
		return generic.ErrUnauthenticated
	}
	if amount < 0 {
		return fmt.Errorf("%w: %d", generic.ErrInvalidAmount, amount)
	}
	if amount == 0 {
		return nil
	}

	key := generic.UserKey(uid)
	err := a.increment(ctx, key, amount)
	if !errors.Is(err, generic.ErrNotFound) {
		return err
	}

	now := a.Clock.Now()
	err = a.Store.CreateIfAbsent(ctx, key, generic.MustEncode(Account{
		Points:         amount,
		PeriodProgress: amount,
		UpdatedAt:      &now,
		LastActiveAt:   &now,
	}))
	if errors.Is(err, generic.ErrAlreadyExists) {
		return a.increment(ctx, key, amount)
	}
	return err
}

func (a *Accounts) increment(ctx context.Context, key generic.DocKey, amount int64) error {
	now := a.Clock.Now()
	return a.Store.Increment(ctx, key,
		map[string]int64{fieldPoints: amount, fieldPeriodProgress: amount},
		generic.MustEncode(map[string]any{"updatedAt": now, "lastActiveAt": now}),
	)
}

// Get returns the account, or a zero Account when the user has none yet.
func (a *Accounts) Get(ctx context.Context, uid generic.UserID) (Account, error) {
	if !uid.Valid() {
		return Account{}, generic.ErrUnauthenticated
	}
	doc, err := a.Store.Get(ctx, generic.UserKey(uid))
	if errors.Is(err, generic.ErrNotFound) {
		return Account{}, nil
	}
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := generic.Decode(doc, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}
