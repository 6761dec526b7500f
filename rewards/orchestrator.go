package rewards

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/progress-ledger/achievements"
	"github.com/warp/progress-ledger/eventlog"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/logging"
	"github.com/warp/progress-ledger/progress"
	"github.com/warp/progress-ledger/xp"
)

const tracerName = "github.com/warp/progress-ledger/rewards"

// Orchestrator composes the ledger components. All four share one store.
type Orchestrator struct {
	Progress     *progress.Tracker
	Achievements *achievements.Registry
	XP           *xp.Accounts
	Events       *eventlog.Log
	Logger       *logging.Logger
	Tracer       trace.Tracer
}

// New builds an orchestrator and its components over store.
func New(store generic.Store, clock generic.Clock, logger *logging.Logger) *Orchestrator {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		Progress:     progress.New(store, clock, logger),
		Achievements: achievements.New(store, clock),
		XP:           xp.New(store, clock),
		Events:       eventlog.New(store, clock, logger),
		Logger:       logger,
		Tracer:       otel.Tracer(tracerName),
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// EnterScreen records a visit and pays entry XP on the first open (or
// RepeatXP on later ones).
func (o *Orchestrator) EnterScreen(ctx context.Context, uid generic.UserID, screenKey string, cfg EnterConfig) (res Result, err error) {
	ctx, span := o.start(ctx, "rewards.EnterScreen", uid, attribute.String("ledger.screen", screenKey))
	defer func() { o.end(span, res, err) }()

	if !uid.Valid() {
		return Result{}, generic.ErrUnauthenticated
	}
	if cfg.XPOnEnter < 0 || cfg.RepeatXP < 0 {
		return Result{}, generic.ErrInvalidAmount
	}

	rec, first, err := o.Progress.Touch(ctx, uid, screenKey)
	if err != nil {
		return Result{}, err
	}
	res = Result{FirstTime: first, Visits: rec.Visits}
	meta := withMeta(cfg.Meta, "screenKey", screenKey)

	switch {
	case first && cfg.XPOnEnter > 0:
		o.reward(ctx, uid, eventlog.ScreenOpenFirst, cfg.XPOnEnter, meta, &res)
	case !first && cfg.RepeatXP > 0:
		o.reward(ctx, uid, eventlog.ScreenOpenRepeat, cfg.RepeatXP, meta, &res)
	}

	if cfg.AchievementID != "" {
		g := achievements.Grant{Sub: cfg.AchievementSub, Meta: meta}
		if err := o.unlock(ctx, uid, cfg.AchievementID, g, &res); err != nil {
			o.Logger.Warn("entry achievement grant failed",
				"user_id", uid, "screen", screenKey, "achievement", cfg.AchievementID, "error", err)
			res.warn(err)
		}
	}
	return res, nil
}

// CompleteScreen flips the screen to Succeeded and pays success XP once.
// The achievement, when configured, is granted on every call; only its
// first grant pays.
func (o *Orchestrator) CompleteScreen(ctx context.Context, uid generic.UserID, screenKey string, cfg CompleteConfig) (res Result, err error) {
	ctx, span := o.start(ctx, "rewards.CompleteScreen", uid, attribute.String("ledger.screen", screenKey))
	defer func() { o.end(span, res, err) }()

	if !uid.Valid() {
		return Result{}, generic.ErrUnauthenticated
	}
	if cfg.XPOnSuccess < 0 || cfg.AchievementXP < 0 {
		return Result{}, generic.ErrInvalidAmount
	}

	rec, first, err := o.Progress.MarkSuccess(ctx, uid, screenKey)
	if err != nil {
		return Result{}, err
	}
	res = Result{FirstTime: first, Visits: rec.Visits}
	meta := withMeta(cfg.Meta, "screenKey", screenKey)

	if first && cfg.XPOnSuccess > 0 {
		o.reward(ctx, uid, eventlog.ScreenSuccess, cfg.XPOnSuccess, meta, &res)
	}

	if cfg.AchievementID != "" {
		g := achievements.Grant{XP: cfg.AchievementXP, Sub: cfg.AchievementSub, Meta: meta}
		if err := o.unlock(ctx, uid, cfg.AchievementID, g, &res); err != nil {
			o.Logger.Warn("completion achievement grant failed",
				"user_id", uid, "screen", screenKey, "achievement", cfg.AchievementID, "error", err)
			res.warn(err)
		}
	}
	return res, nil
}

// GrantAchievement unlocks a named achievement and pays its XP once.
func (o *Orchestrator) GrantAchievement(ctx context.Context, uid generic.UserID, achievementID string, cfg AchievementConfig) (res Result, err error) {
	ctx, span := o.start(ctx, "rewards.GrantAchievement", uid, attribute.String("ledger.achievement", achievementID))
	defer func() { o.end(span, res, err) }()

	if !uid.Valid() {
		return Result{}, generic.ErrUnauthenticated
	}

	g := achievements.Grant{XP: cfg.XP, Sub: cfg.Sub, Meta: cfg.Meta}
	if err := o.unlock(ctx, uid, achievementID, g, &res); err != nil {
		return Result{}, err
	}
	res.FirstTime = res.Achievement.FirstGrant
	return res, nil
}

// GetAchievement returns the unlock, or nil when not granted.
func (o *Orchestrator) GetAchievement(ctx context.Context, uid generic.UserID, achievementID string) (*achievements.Record, error) {
	ctx, span := o.start(ctx, "rewards.GetAchievement", uid, attribute.String("ledger.achievement", achievementID))
	defer span.End()

	if !uid.Valid() {
		return nil, generic.ErrUnauthenticated
	}
	rec, err := o.Achievements.Get(ctx, uid, achievementID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

// unlock grants the achievement and, on the first grant only, credits its
// XP and appends achievement_unlocked (even for 0 XP).
func (o *Orchestrator) unlock(ctx context.Context, uid generic.UserID, id string, g achievements.Grant, res *Result) error {
	first, err := o.Achievements.Grant(ctx, uid, id, g)
	if err != nil {
		return err
	}
	res.Achievement = &AchievementResult{ID: id, FirstGrant: first}
	if !first {
		return nil
	}

	meta := withMeta(g.Meta, "achievementId", id)
	if g.Sub != "" {
		meta["sub"] = g.Sub
	}
	before := res.XPCredited
	o.reward(ctx, uid, eventlog.AchievementUnlocked, g.XP, meta, res)
	res.Achievement.XPCredited = res.XPCredited - before
	return nil
}

// reward credits amount and appends the matching event. If the credit
// fails no event is written, so the log never shows XP the account lacks.
func (o *Orchestrator) reward(ctx context.Context, uid generic.UserID, typ eventlog.Type, amount int64, meta map[string]any, res *Result) {
	if err := o.XP.Credit(ctx, uid, amount); err != nil {
		o.Logger.Warn("xp credit failed after state flip",
			"user_id", uid, "cause", typ, "amount", amount, "error", err)
		res.warn(&generic.AuditError{UserID: uid, Step: "credit", Cause: string(typ), Amount: amount, Err: err})
		return
	}
	res.XPCredited += amount

	if _, err := o.Events.Append(ctx, uid, typ, amount, meta); err != nil {
		res.warn(&generic.AuditError{UserID: uid, Step: "event", Cause: string(typ), Amount: amount, Err: err})
	}
}

func withMeta(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

// =============================================================================
// TRACING
// =============================================================================

func (o *Orchestrator) start(ctx context.Context, name string, uid generic.UserID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := o.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	attrs = append(attrs, attribute.String("ledger.user", uid.String()))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Orchestrator) end(span trace.Span, res Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Bool("ledger.first_time", res.FirstTime),
			attribute.Int64("ledger.xp_credited", res.XPCredited),
			attribute.Int("ledger.warnings", len(res.Warnings)),
		)
	}
	span.End()
}
