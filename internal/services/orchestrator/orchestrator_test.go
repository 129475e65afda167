package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brostafa/trading-bot/internal/entity"
	"github.com/Brostafa/trading-bot/internal/gateway"
	"github.com/Brostafa/trading-bot/internal/ledger"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeExchange struct {
	mu sync.Mutex

	placeRequests []gateway.OrderRequest
	placeFn       func(gateway.OrderRequest) entity.Order

	statusQueue   []entity.Order
	statusDefault entity.Order
	statusCalls   int

	cancelFn    func(symbol string, orderID int64, clientOrderID string) entity.Order
	cancelCalls int

	tickFn     func(decimal.Decimal)
	unsubCalls int

	budget      gateway.Budget
	minNotional decimal.Decimal
	lotSize     decimal.Decimal
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		budget:      gateway.Budget{Used: 0, Max: 1200, Reset: time.Minute},
		minNotional: d("10.5"),
		lotSize:     d("0.01"),
	}
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req gateway.OrderRequest) (entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeRequests = append(f.placeRequests, req)
	return f.placeFn(req), nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, symbol string, orderID int64, clientOrderID string) (entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelFn(symbol, orderID, clientOrderID), nil
}

func (f *fakeExchange) GetOrderStatus(_ context.Context, _ string, _ int64) (entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statusQueue) > 0 {
		next := f.statusQueue[0]
		f.statusQueue = f.statusQueue[1:]
		return next, nil
	}
	return f.statusDefault, nil
}

func (f *fakeExchange) SubscribePriceTicks(_ string, fn func(price decimal.Decimal)) (gateway.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickFn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubCalls++
	}, nil
}

func (f *fakeExchange) RateLimitBudget() gateway.Budget {
	return f.budget
}

func (f *fakeExchange) RoundToLotSize(_ string, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount.Div(f.lotSize).Floor().Mul(f.lotSize), nil
}

func (f *fakeExchange) MinNotional(string) (decimal.Decimal, error) {
	return f.minNotional, nil
}

func (f *fakeExchange) placeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placeRequests)
}

type fakeEngine struct {
	mu          sync.Mutex
	transitions []string
}

func (f *fakeEngine) SetOrderStatus(side entity.Side, status entity.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, string(side)+"/"+string(status))
	return nil
}

func (f *fakeEngine) count(transition string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.transitions {
		if t == transition {
			n++
		}
	}
	return n
}

type fixture struct {
	orch     *Orchestrator
	exchange *fakeExchange
	engine   *fakeEngine
	store    ledger.Store
	campaign *entity.Campaign
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()

	store, err := ledger.NewGormStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	campaign := &entity.Campaign{
		Name:           "btc-breakout",
		Pair:           entity.Pair{From: "BTC", To: "USDT"},
		InitialBalance: d(balance),
		Balance:        d(balance),
		Status:         entity.CampaignStatusActive,
	}
	require.NoError(t, store.CreateCampaign(context.Background(), campaign))

	exch := newFakeExchange()
	engine := &fakeEngine{}

	orch := New(zap.NewNop(), exch, store, engine)
	orch.pollInterval = time.Millisecond
	orch.newClientOrderID = func() string { return "coid-test" }

	return &fixture{orch: orch, exchange: exch, engine: engine, store: store, campaign: campaign}
}

func placedFromRequest(req gateway.OrderRequest) entity.Order {
	return entity.Order{
		OrderID:         1,
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          entity.OrderStatusPlaced,
		OrderPrice:      req.Price,
		OrderAmount:     req.Amount,
		RemainingAmount: req.Amount,
		SubmittedAt:     time.Now(),
	}
}

func filledBuy(clientOrderID, amount, total string) entity.Order {
	return entity.Order{
		OrderID:        1,
		ClientOrderID:  clientOrderID,
		Symbol:         "BTCUSDT",
		Side:           entity.SideBuy,
		Status:         entity.OrderStatusFilled,
		ExecutedAmount: d(amount),
		CashAmount:     d(total),
		Total:          d(total),
		FilledAt:       time.Now(),
	}
}

func filledSell(clientOrderID, amount, total string) entity.Order {
	return entity.Order{
		OrderID:        2,
		ClientOrderID:  clientOrderID,
		Symbol:         "BTCUSDT",
		Side:           entity.SideSell,
		Status:         entity.OrderStatusFilled,
		ExecutedAmount: d(amount),
		CashAmount:     d(total),
		Total:          d(total),
		FilledAt:       time.Now(),
	}
}

func testPlan() *entity.TradePlan {
	return &entity.TradePlan{
		EntryPrice: d("101.1"),
		TakeProfit: d("109.9"),
		StopLoss:   d("99.9"),
	}
}

func TestHandleBuy_PlacesStopLimitEntry(t *testing.T) {
	f := newFixture(t, "1000")
	ctx, cancel := context.WithCancel(context.Background())

	f.exchange.placeFn = placedFromRequest
	f.exchange.statusDefault = placedFromRequest(gateway.OrderRequest{
		Symbol: "BTCUSDT", Side: entity.SideBuy, Price: d("101.1"), Amount: d("9.89"),
	})

	require.NoError(t, f.orch.HandleBuy(ctx, f.campaign.ID, testPlan()))
	cancel()
	f.orch.Wait()

	require.Equal(t, 1, f.exchange.placeCount())
	req := f.exchange.placeRequests[0]
	assert.Equal(t, gateway.OrderTypeStopLimit, req.Type)
	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.True(t, req.Amount.Equal(d("9.89")), "amount %s", req.Amount)
	assert.True(t, req.Price.Equal(d("101.1")))
	assert.Equal(t, "coid-test", req.ClientOrderID)

	loaded, err := f.store.CampaignByID(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.ActiveOrder)
	assert.Equal(t, entity.OrderStatusPlaced, loaded.ActiveOrder.Status)
	require.NotNil(t, loaded.TradePlan)
	assert.Equal(t, 1, f.engine.count("buy/placed"))
}

func TestHandleBuy_ReattachesInsteadOfDuplicating(t *testing.T) {
	f := newFixture(t, "1000")
	ctx, cancel := context.WithCancel(context.Background())

	active := placedFromRequest(gateway.OrderRequest{
		Symbol: "BTCUSDT", Side: entity.SideBuy, Price: d("101.1"), Amount: d("9.89"), ClientOrderID: "coid-prev",
	})
	f.campaign.ActiveOrder = &active
	require.NoError(t, f.store.UpdateCampaign(ctx, f.campaign))
	f.exchange.statusDefault = active

	require.NoError(t, f.orch.HandleBuy(ctx, f.campaign.ID, testPlan()))
	cancel()
	f.orch.Wait()

	assert.Equal(t, 0, f.exchange.placeCount())
}

func TestHandleBuy_DeactivatesBelowMinNotional(t *testing.T) {
	f := newFixture(t, "10.4")

	// 10.4 / 101.1 rounds down to 0.1 coins = 10.11 quote, under the 10.5 floor
	require.NoError(t, f.orch.HandleBuy(context.Background(), f.campaign.ID, testPlan()))

	assert.Equal(t, 0, f.exchange.placeCount())
	loaded, err := f.store.CampaignByID(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CampaignStatusInactive, loaded.Status)
}

func TestHandleOrderUpdate_Idempotent(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	buy := filledBuy("coid-rt", "1", "100")
	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, buy))
	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, buy))

	loaded, err := f.store.CampaignByID(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(d("900")), "balance %s", loaded.Balance)
	assert.True(t, loaded.CoinAmount.Equal(d("1")))
	assert.Equal(t, 1, f.engine.count("buy/filled"))
}

func TestRoundTrip_CreatesOneTrade(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, filledBuy("coid-rt", "1", "100")))

	sell := filledSell("coid-rt", "1", "105.5")
	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, sell))

	loaded, err := f.store.CampaignByID(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.ActiveOrder)
	assert.Nil(t, loaded.TradePlan)
	assert.True(t, loaded.Balance.Equal(d("1005.5")), "balance %s", loaded.Balance)
	assert.True(t, loaded.CoinAmount.IsZero())
	assert.True(t, loaded.ProfitLoss.Equal(d("5.5")))
	assert.True(t, loaded.ProfitLossPct.Equal(d("0.55")))

	trades, err := f.store.TradesByCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].ProfitLoss.Equal(d("5.5")), "profit loss %s", trades[0].ProfitLoss)
	assert.True(t, trades[0].WinRate.Equal(d("1")))

	// replay of the same filled sell must not double-book
	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, sell))
	trades, err = f.store.TradesByCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	loaded, err = f.store.CampaignByID(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(d("1005.5")))
}

func TestFilledSell_BelowMinNotionalDeactivates(t *testing.T) {
	f := newFixture(t, "104.9")
	ctx := context.Background()

	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, filledBuy("coid-rt", "1", "100")))
	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, filledSell("coid-rt", "1", "5.5")))

	loaded, err := f.store.CampaignByID(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(d("10.4")), "balance %s", loaded.Balance)
	assert.Equal(t, entity.CampaignStatusInactive, loaded.Status)
}

func TestWatchOrderTillFill_PollsUntilTerminal(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, f.campaign.ID, filledBuy("coid-rt", "1", "100")))

	placed := entity.Order{
		OrderID: 2, ClientOrderID: "coid-rt", Symbol: "BTCUSDT",
		Side: entity.SideSell, Status: entity.OrderStatusPlaced,
		OrderAmount: d("1"), RemainingAmount: d("1"),
	}
	f.campaign.ActiveOrder = &placed
	require.NoError(t, f.store.UpdateCampaign(ctx, f.campaign))

	filled := filledSell("coid-rt", "1", "105")
	f.exchange.statusQueue = []entity.Order{placed, placed, placed, placed, filled}

	f.orch.WatchOrderTillFill(ctx, f.campaign.ID, placed)

	assert.Equal(t, 5, f.exchange.statusCalls)
	assert.Equal(t, 1, f.engine.count("sell/filled"))

	trades, err := f.store.TradesByCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	// the losing racer replays the same observation and must be a no-op
	require.NoError(t, f.orch.HandleOrderUpdate(ctx, f.campaign.ID, filled))
	trades, err = f.store.TradesByCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, 1, f.engine.count("sell/filled"))
}

func TestHandleCancel_SkipsCancelWhenAlreadyFilled(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	placed := placedFromRequest(gateway.OrderRequest{
		Symbol: "BTCUSDT", Side: entity.SideBuy, Price: d("101.1"), Amount: d("1"), ClientOrderID: "coid-rt",
	})
	f.campaign.ActiveOrder = &placed
	require.NoError(t, f.store.UpdateCampaign(ctx, f.campaign))

	// the order filled between the decision and the cancel attempt
	f.exchange.statusDefault = filledBuy("coid-rt", "1", "100")

	require.NoError(t, f.orch.HandleCancel(ctx, f.campaign.ID))

	assert.Equal(t, 0, f.exchange.cancelCalls)
	assert.Equal(t, 1, f.engine.count("buy/filled"))

	loaded, err := f.store.CampaignByID(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(d("900")))
}

func TestHandleSell_CancelsTakeProfitFirst(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, f.campaign.ID, filledBuy("coid-rt", "1", "100")))

	takeProfit := entity.Order{
		OrderID: 2, ClientOrderID: "coid-rt", Symbol: "BTCUSDT",
		Side: entity.SideSell, Status: entity.OrderStatusPlaced,
		OrderPrice: d("109.9"), OrderAmount: d("1"), RemainingAmount: d("1"),
	}
	f.campaign.Balance = d("900")
	f.campaign.CoinAmount = d("1")
	f.campaign.ActiveOrder = &takeProfit
	require.NoError(t, f.store.UpdateCampaign(ctx, f.campaign))

	f.exchange.statusDefault = takeProfit
	f.exchange.cancelFn = func(_ string, _ int64, _ string) entity.Order {
		cancelled := takeProfit
		cancelled.Status = entity.OrderStatusCancelled
		return cancelled
	}
	f.exchange.placeFn = func(req gateway.OrderRequest) entity.Order {
		return filledSell(req.ClientOrderID, "1", "95")
	}

	require.NoError(t, f.orch.HandleSell(ctx, f.campaign.ID))

	assert.Equal(t, 1, f.exchange.cancelCalls)
	require.Equal(t, 1, f.exchange.placeCount())
	req := f.exchange.placeRequests[0]
	assert.Equal(t, gateway.OrderTypeMarket, req.Type)
	assert.Equal(t, entity.SideSell, req.Side)
	assert.Equal(t, "coid-rt", req.ClientOrderID)

	loaded, err := f.store.CampaignByID(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(d("995")), "balance %s", loaded.Balance)
	assert.Nil(t, loaded.ActiveOrder)

	trades, err := f.store.TradesByCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].ProfitLoss.Equal(d("-5")))
}

func TestArmStopLoss_FiresExactlyOnce(t *testing.T) {
	f := newFixture(t, "1000")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.store.CreateOrder(ctx, f.campaign.ID, filledBuy("coid-rt", "1", "100")))

	buy := filledBuy("coid-rt", "1", "100")
	f.campaign.Balance = d("900")
	f.campaign.CoinAmount = d("1")
	f.campaign.ActiveOrder = &buy
	require.NoError(t, f.store.UpdateCampaign(ctx, f.campaign))

	f.exchange.placeFn = func(req gateway.OrderRequest) entity.Order {
		return filledSell(req.ClientOrderID, "1", "95")
	}

	require.NoError(t, f.orch.ArmStopLoss(ctx, f.campaign.ID, "BTCUSDT", d("99.9")))
	require.NotNil(t, f.exchange.tickFn)

	f.exchange.tickFn(d("100.5")) // above the stop, no action
	assert.Equal(t, 0, f.exchange.placeCount())

	f.exchange.tickFn(d("99.9")) // at the stop, fires
	f.exchange.tickFn(d("99.0")) // duplicate tick racing the unsubscribe

	assert.Equal(t, 1, f.exchange.placeCount())

	trades, err := f.store.TradesByCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	cancel()
	f.orch.Wait()

	f.exchange.mu.Lock()
	defer f.exchange.mu.Unlock()
	assert.Equal(t, 1, f.exchange.unsubCalls)
}

func TestComputeStats(t *testing.T) {
	approx := func(t *testing.T, got decimal.Decimal, want string) {
		t.Helper()
		assert.True(t, got.Sub(d(want)).Abs().LessThan(d("0.0001")), "got %s want %s", got, want)
	}

	winRate, expectancy := computeStats(nil, d("5"))
	approx(t, winRate, "1")
	approx(t, expectancy, "5")

	prior := []entity.Trade{{ProfitLoss: d("5")}}
	winRate, expectancy = computeStats(prior, d("-3"))
	approx(t, winRate, "0.5")
	approx(t, expectancy, "1")

	prior = []entity.Trade{{ProfitLoss: d("5")}, {ProfitLoss: d("-3")}}
	winRate, expectancy = computeStats(prior, d("4"))
	approx(t, winRate, "0.6667")
	approx(t, expectancy, "2")
}
