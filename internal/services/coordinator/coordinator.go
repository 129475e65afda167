// Package coordinator discovers active campaigns and runs one independent
// execution loop per campaign, isolating and restarting failures.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brostafa/trading-bot/internal/entity"
	"github.com/Brostafa/trading-bot/internal/gateway"
	"github.com/Brostafa/trading-bot/internal/ledger"
	"github.com/Brostafa/trading-bot/internal/services/orchestrator"
	"github.com/Brostafa/trading-bot/internal/services/signal"
	"github.com/Brostafa/trading-bot/internal/storage/events"
)

const (
	defaultDiscoveryInterval = 10 * time.Second
	defaultRestartDelay      = 30 * time.Second
)

// Coordinator owns the registry of running campaign loops. Campaigns are
// added when discovery sees them active and cancelled when they disappear
// from the active set, so a manually deactivated campaign tears down its
// watchers instead of leaking them.
type Coordinator struct {
	logger *zap.Logger
	store  ledger.Store
	gw     gateway.Gateway
	events *events.WALStore
	params signal.Params

	discoveryInterval time.Duration
	restartDelay      time.Duration

	mu      sync.Mutex
	running map[uint]context.CancelFunc
	wg      sync.WaitGroup

	// loop runs one full campaign day; overridable in tests
	loop func(ctx context.Context, campaign entity.Campaign) error
	now  func() time.Time
}

// New creates a coordinator over the given gateway and stores.
func New(logger *zap.Logger, gw gateway.Gateway, store ledger.Store, eventLog *events.WALStore) *Coordinator {
	c := &Coordinator{
		logger:            logger,
		store:             store,
		gw:                gw,
		events:            eventLog,
		params:            signal.DefaultParams(),
		discoveryInterval: defaultDiscoveryInterval,
		restartDelay:      defaultRestartDelay,
		running:           make(map[uint]context.CancelFunc),
		now:               time.Now,
	}
	c.loop = c.runCampaignDay
	return c
}

// SetParams overrides the default strategy thresholds for all campaigns.
func (c *Coordinator) SetParams(params signal.Params) {
	c.params = params
}

// SetTiming overrides the discovery poll interval and the restart delay.
func (c *Coordinator) SetTiming(discovery, restart time.Duration) {
	if discovery > 0 {
		c.discoveryInterval = discovery
	}
	if restart > 0 {
		c.restartDelay = restart
	}
}

// Run polls the ledger for active campaigns and keeps one loop per campaign
// alive until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.discoveryInterval)
	defer ticker.Stop()

	c.discover(ctx)
	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			c.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			c.discover(ctx)
		}
	}
}

// discover reconciles the registry against the ledger's active set.
func (c *Coordinator) discover(ctx context.Context) {
	campaigns, err := c.store.ActiveCampaigns(ctx)
	if err != nil {
		c.logger.Error("failed to list active campaigns", zap.Error(err))
		return
	}

	active := make(map[uint]entity.Campaign, len(campaigns))
	for _, campaign := range campaigns {
		active[campaign.ID] = campaign
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, cancel := range c.running {
		if _, ok := active[id]; !ok {
			c.logger.Info("campaign no longer active, stopping its loop", zap.Uint("campaign_id", id))
			cancel()
			delete(c.running, id)
		}
	}

	for id, campaign := range active {
		if _, ok := c.running[id]; ok {
			continue
		}
		campaignCtx, cancel := context.WithCancel(ctx)
		c.running[id] = cancel

		c.wg.Add(1)
		go func(campaign entity.Campaign) {
			defer c.wg.Done()
			defer c.forget(campaign.ID)
			c.runCampaign(campaignCtx, campaign)
		}(campaign)

		c.logger.Info("campaign loop started",
			zap.Uint("campaign_id", id),
			zap.String("pair", campaign.Pair.String()))
	}
}

func (c *Coordinator) forget(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.running[id]; ok {
		cancel()
		delete(c.running, id)
	}
}

func (c *Coordinator) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.running {
		cancel()
		delete(c.running, id)
	}
}

// runCampaign keeps one campaign alive indefinitely: transient failures
// restart the loop after a fixed delay, a day without a setup sleeps until
// the next daily boundary. Only context cancellation ends it.
func (c *Coordinator) runCampaign(ctx context.Context, campaign entity.Campaign) {
	logger := c.logger.With(
		zap.Uint("campaign_id", campaign.ID),
		zap.String("pair", campaign.Pair.String()))

	for {
		err := c.loop(ctx, campaign)

		if ctx.Err() != nil {
			logger.Info("campaign loop stopped")
			return
		}

		switch {
		case errors.Is(err, errCampaignInactive):
			logger.Info("campaign deactivated, loop exiting")
			return
		case errors.Is(err, signal.ErrNoBullishCandle):
			logger.Warn("no setup today, sleeping until next day")
			if !c.sleepUntilNextDay(ctx) {
				return
			}
		case err != nil:
			logger.Error("campaign loop failed, restarting", zap.Error(err))
			if !c.sleep(ctx, c.restartDelay) {
				return
			}
		default:
			// day completed cleanly; next setup check at the daily boundary
			if !c.sleepUntilNextDay(ctx) {
				return
			}
		}
	}
}

var errCampaignInactive = errors.New("campaign is inactive")

// runCampaignDay executes one full decision cycle: engine init, restart
// reattachment, then run/dispatch/wait until the engine terminates.
func (c *Coordinator) runCampaignDay(ctx context.Context, campaign entity.Campaign) error {
	logger := c.logger.With(
		zap.Uint("campaign_id", campaign.ID),
		zap.String("pair", campaign.Pair.String()))

	current, err := c.store.CampaignByID(ctx, campaign.ID)
	if err != nil {
		return errors.Wrap(err, "reload campaign")
	}
	if current.Status != entity.CampaignStatusActive {
		return errCampaignInactive
	}

	engine := signal.NewEngine(logger, c.gw, current.Pair, c.params)
	orch := orchestrator.New(logger, c.gw, c.store, engine)

	if err := engine.Init(ctx); err != nil {
		return err
	}

	if err := c.reattach(ctx, engine, orch, current); err != nil {
		return err
	}

	for engine.CanRun() {
		decision, err := engine.Run(ctx)
		if err != nil {
			return err
		}

		if err := c.dispatch(ctx, orch, current.ID, decision); err != nil {
			return err
		}

		if !engine.CanRun() {
			break
		}
		if err := engine.WaitNextCandle(ctx); err != nil {
			return err
		}
	}

	logger.Info("campaign day finished", zap.String("reason", engine.Reason()))
	return nil
}

// reattach restores in-memory state from a persisted mid-trade campaign:
// the engine learns the pending order's state and the orchestrator resumes
// the watchers that died with the previous process.
func (c *Coordinator) reattach(ctx context.Context, engine *signal.Engine, orch *orchestrator.Orchestrator, campaign entity.Campaign) error {
	if campaign.ActiveOrder == nil {
		return nil
	}
	active := *campaign.ActiveOrder

	engine.SetPlan(campaign.TradePlan)
	if err := engine.SetOrderStatus(active.Side, active.Status); err != nil {
		return errors.Wrap(err, "restore engine state")
	}

	c.logger.Info("re-attached persisted order",
		zap.Uint("campaign_id", campaign.ID),
		zap.Int64("order_id", active.OrderID),
		zap.String("side", string(active.Side)),
		zap.String("status", string(active.Status)))

	switch {
	case active.Status == entity.OrderStatusPlaced:
		orch.Reattach(ctx, campaign.ID, active)
		if active.Side == entity.SideSell && campaign.TradePlan != nil {
			return orch.ArmStopLoss(ctx, campaign.ID, active.Symbol, campaign.TradePlan.StopLoss)
		}
	case active.Side == entity.SideBuy && active.Status == entity.OrderStatusFilled:
		// position opened but exits were never armed
		if campaign.TradePlan == nil {
			c.logger.Warn("open position without trade plan, exits not armed",
				zap.Uint("campaign_id", campaign.ID))
			return nil
		}
		if err := orch.HandleTakeProfit(ctx, campaign.ID, active, campaign.TradePlan.TakeProfit); err != nil {
			return errors.Wrap(err, "restore take profit")
		}
		return orch.ArmStopLoss(ctx, campaign.ID, active.Symbol, campaign.TradePlan.StopLoss)
	}

	return nil
}

// dispatch routes one decision to the orchestrator and records executed
// actions in the audit log.
func (c *Coordinator) dispatch(ctx context.Context, orch *orchestrator.Orchestrator, campaignID uint, decision entity.Decision) error {
	switch decision.Action {
	case entity.ActionBuy:
		if err := orch.HandleBuy(ctx, campaignID, decision.Plan); err != nil {
			return err
		}
	case entity.ActionCancelBuy:
		if err := orch.HandleCancel(ctx, campaignID); err != nil {
			return err
		}
	case entity.ActionSell:
		if err := orch.HandleSell(ctx, campaignID); err != nil {
			return err
		}
	case entity.ActionWait, entity.ActionWaitForTradeTime, entity.ActionEnd:
		return nil
	default:
		return errors.Errorf("unknown action %q", decision.Action)
	}

	return c.recordEvent(campaignID, decision)
}

// recordEvent appends one executed decision to the audit log. Audit failures
// are logged, not fatal; the trade already happened.
func (c *Coordinator) recordEvent(campaignID uint, decision entity.Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return errors.Wrap(err, "encode decision")
	}

	if err := c.events.Append(entity.Event{
		CampaignID: campaignID,
		Action:     decision.Action,
		Payload:    payload,
		Timestamp:  c.now(),
	}); err != nil {
		c.logger.Error("failed to append audit event", zap.Error(err))
	}
	return nil
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Coordinator) sleepUntilNextDay(ctx context.Context) bool {
	now := c.now().UTC()
	next := now.Truncate(24 * time.Hour).Add(24*time.Hour + time.Minute)
	return c.sleep(ctx, next.Sub(now))
}
