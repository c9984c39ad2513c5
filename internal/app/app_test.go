package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/hive/internal/clients/hive"
	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
	"github.com/bobmcallan/hive/internal/services/connection"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// upstream is an in-process trading server speaking the push protocol.
type upstream struct {
	srv      *httptest.Server
	frames   chan string
	commands chan models.InboundMessage
	paths    chan string
	done     chan struct{}
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		frames:   make(chan string, 32),
		commands: make(chan models.InboundMessage, 32),
		paths:    make(chan string, 4),
		done:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}

	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		u.paths <- r.URL.Path

		go func() {
			for {
				_, data, err := c.ReadMessage()
				if err != nil {
					return
				}
				var msg models.InboundMessage
				if json.Unmarshal(data, &msg) == nil {
					u.commands <- msg
				}
			}
		}()

		for {
			select {
			case f := <-u.frames:
				if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
					return
				}
			case <-u.done:
				return
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(u.done)
		u.srv.Close()
	})
	return u
}

func (u *upstream) wsURL() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http") + "/ws"
}

func (u *upstream) push(typ, payload string) {
	u.frames <- fmt.Sprintf(`{"type":%q,"payload":%s}`, typ, payload)
}

// nextCommand waits for the next command frame of the given type.
func (u *upstream) nextCommand(t *testing.T, typ string) models.InboundMessage {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg := <-u.commands:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s command received", typ)
			return models.InboundMessage{}
		}
	}
}

// stubClient serves pull results from memory. When block is set,
// GetSimulationWallet signals entered and waits for block to close.
type stubClient struct {
	mu        sync.Mutex
	status    *models.BotStatus
	stats     *models.TradingStats
	signals   []models.Signal
	wallet    *models.WalletSnapshot
	holdings  []models.Holding
	statusErr error

	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (c *stubClient) GetBotStatus(ctx context.Context) (*models.BotStatus, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	if c.status == nil {
		return &models.BotStatus{}, nil
	}
	st := *c.status
	return &st, nil
}

func (c *stubClient) GetSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Signal(nil), c.signals...), nil
}

func (c *stubClient) GetTradingStats(ctx context.Context) (*models.TradingStats, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil {
		return &models.TradingStats{}, nil
	}
	s := *c.stats
	return &s, nil
}

func (c *stubClient) GetSimulationWallet(ctx context.Context) (*models.WalletSnapshot, error) {
	c.calls.Add(1)
	if c.block != nil {
		close(c.entered)
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wallet == nil {
		return &models.WalletSnapshot{}, nil
	}
	w := *c.wallet
	return &w, nil
}

func (c *stubClient) GetWallet(ctx context.Context, id string) (*models.WalletSnapshot, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wallet == nil {
		return nil, &hive.APIError{StatusCode: 404, Message: "wallet not found", Endpoint: "/api/wallets/" + id}
	}
	w := *c.wallet
	return &w, nil
}

func (c *stubClient) GetWalletHoldings(ctx context.Context, id string) ([]models.Holding, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Holding(nil), c.holdings...), nil
}

// eventRecorder collects bus events.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) record(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofType(typ models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func testConfig(wsURL string) *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Upstream.WSURL = wsURL
	cfg.Connection.MaxAttempts = 1
	cfg.Connection.BaseDelay = "10ms"
	cfg.Sync = common.SyncConfig{
		Bootstrap:       false,
		StatusInterval:  "0",
		StatsInterval:   "0",
		SignalsInterval: "0",
		WalletInterval:  "0",
		Jitter:          "0",
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *common.Config, client *stubClient) (*App, *eventRecorder) {
	t.Helper()
	if client == nil {
		client = &stubClient{}
	}
	a, err := NewApp(cfg, common.NewSilentLogger(),
		WithClient(client),
		WithConnectionOptions(connection.WithSleep(func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		})),
	)
	require.NoError(t, err)

	rec := &eventRecorder{}
	a.Bus.Subscribe(rec.record)
	t.Cleanup(a.Close)
	return a, rec
}

// startConnected starts the app and waits until the upstream has seen the
// opening request_prices command.
func startConnected(t *testing.T, a *App, u *upstream) {
	t.Helper()
	require.NoError(t, a.Start())
	u.nextCommand(t, models.CmdRequestPrices)
	require.Eventually(t, func() bool {
		return a.Connection.State() == models.ConnectionConnected
	}, waitFor, 5*time.Millisecond)
}

func TestNewApp_InitializesAllComponents(t *testing.T) {
	a, _ := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), nil)

	assert.NotNil(t, a.Config)
	assert.NotNil(t, a.Logger)
	assert.NotNil(t, a.Bus)
	assert.NotNil(t, a.Client)
	assert.NotNil(t, a.Connection)
	assert.NotNil(t, a.Router)
	assert.NotNil(t, a.Signals)
	assert.NotNil(t, a.Ledger)
	assert.NotNil(t, a.Reconcile)
	assert.NotNil(t, a.Status)
	assert.NotNil(t, a.Scheduler)
	assert.Equal(t, models.ConnectionDisconnected, a.Connection.State())

	for _, typ := range []string{
		models.MsgPriceUpdate, models.MsgNewSignal, models.MsgWalletUpdate,
		models.MsgTradesHistory, models.MsgStatsUpdate, models.MsgBotStatus,
		models.MsgTradingDecision, models.MsgChatResponse, models.MsgError,
	} {
		assert.Contains(t, a.Router.Types(), typ)
	}
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("")
	_, err := NewApp(cfg, common.NewSilentLogger(), WithClient(&stubClient{}))
	assert.Error(t, err)
}

func TestApp_ConnectsWithClientID(t *testing.T) {
	u := newUpstream(t)
	a, rec := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	select {
	case p := <-u.paths:
		assert.True(t, strings.HasPrefix(p, "/ws/"))
		assert.Greater(t, len(p), len("/ws/"))
	case <-time.After(waitFor):
		t.Fatal("upstream saw no connection")
	}
	assert.NotEmpty(t, rec.ofType(models.EventConnected))
}

func TestApp_SignalsNewestFirst(t *testing.T) {
	u := newUpstream(t)
	a, rec := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	for _, ticker := range []string{"aaa", "bbb", "ccc"} {
		u.push(models.MsgNewSignal, fmt.Sprintf(`{"ticker":%q,"action":"buy","confidence":70}`, ticker))
	}

	require.Eventually(t, func() bool { return a.Signals.Len() == 3 }, waitFor, 5*time.Millisecond)
	all := a.Signals.All()
	assert.Equal(t, []string{"CCC", "BBB", "AAA"}, []string{all[0].Ticker, all[1].Ticker, all[2].Ticker})
	assert.Len(t, rec.ofType(models.EventSignalsChanged), 3)
}

func TestApp_WalletAndPricesProduceValuation(t *testing.T) {
	u := newUpstream(t)
	a, rec := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	u.push(models.MsgWalletUpdate, `{"wallet_name":"sim","cash_balance":1000,"total_trades":"26,10",
		"holdings":[{"symbol":"BTC","quantity":2,"avg_buy_price":30000}]}`)
	u.push(models.MsgPriceUpdate, `{"bitcoin":{"usd":35000,"usd_24h_change":1.5}}`)

	require.Eventually(t, func() bool {
		return a.Ledger.Valuation().TotalPnL == 10000
	}, waitFor, 5*time.Millisecond)

	v := a.Ledger.Valuation()
	assert.Equal(t, 70000.0, v.HoldingsValue)
	assert.Equal(t, 60000.0, v.TotalCost)
	assert.InDelta(t, 16.6667, v.TotalPnLPercent, 0.001)
	assert.NotEmpty(t, rec.ofType(models.EventValuationChanged))
}

func TestApp_TradeCountReconciliation(t *testing.T) {
	u := newUpstream(t)
	a, rec := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	u.push(models.MsgWalletUpdate, `{"wallet_name":"sim","total_trades":"26,10","holdings":[]}`)
	require.Eventually(t, func() bool {
		n, _ := a.TradesCount("sim")
		return n == 26
	}, waitFor, 5*time.Millisecond)
	_, authoritative := a.TradesCount("sim")
	assert.False(t, authoritative)

	trades := make([]string, 31)
	for i := range trades {
		trades[i] = fmt.Sprintf(`{"id":%d,"symbol":"BTC","side":"buy"}`, i)
	}
	u.push(models.MsgTradesHistory, `{"wallet_name":"sim","trades":[`+strings.Join(trades, ",")+`]}`)
	require.Eventually(t, func() bool {
		n, ok := a.TradesCount("sim")
		return n == 31 && ok
	}, waitFor, 5*time.Millisecond)

	// A later approximate count never displaces the authoritative one.
	u.push(models.MsgWalletUpdate, `{"wallet_name":"sim","total_trades":"26","holdings":[]}`)
	u.push(models.MsgNewSignal, `{"ticker":"SYNC"}`)
	require.Eventually(t, func() bool { return a.Signals.Len() == 1 }, waitFor, 5*time.Millisecond)

	n, ok := a.TradesCount("sim")
	assert.Equal(t, 31, n)
	assert.True(t, ok)

	events := rec.ofType(models.EventTradesCountChanged)
	require.NotEmpty(t, events)
	last := events[len(events)-1].Payload.(models.TradesCountEvent)
	assert.Equal(t, 31, last.Count)
	assert.True(t, last.Authoritative)
}

func TestApp_FetchTradeHistorySendsWalletName(t *testing.T) {
	u := newUpstream(t)
	a, _ := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	require.NoError(t, a.FetchTradeHistory("sim"))
	msg := u.nextCommand(t, models.CmdRequestTradesHistory)

	var req models.TradesHistoryRequest
	require.NoError(t, json.Unmarshal(msg.Payload, &req))
	assert.Equal(t, "sim", req.WalletName)

	assert.Error(t, a.FetchTradeHistory("  "))
}

func TestApp_ChatCommands(t *testing.T) {
	u := newUpstream(t)
	a, _ := newTestApp(t, testConfig(u.wsURL()), nil)

	assert.ErrorIs(t, a.SendChat("hello"), connection.ErrNotConnected)

	startConnected(t, a, u)

	assert.ErrorIs(t, a.SendChat("   "), ErrEmptyMessage)
	require.NoError(t, a.SendChat("what is the bot doing?"))
	msg := u.nextCommand(t, models.CmdChatMessage)
	var p models.ChatMessagePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "what is the bot doing?", p.Message)

	require.NoError(t, a.ClearConversation())
	u.nextCommand(t, models.CmdClearConversation)

	require.NoError(t, a.RequestPrices())
	u.nextCommand(t, models.CmdRequestPrices)
}

func TestApp_MalformedFrameDoesNotBlockLaterFrames(t *testing.T) {
	u := newUpstream(t)
	a, _ := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	u.frames <- `{not json`
	u.push(models.MsgNewSignal, `{"confidence":50}`)
	u.push("mystery_type", `{}`)
	u.push(models.MsgNewSignal, `{"ticker":"eth","action":"SELL"}`)

	require.Eventually(t, func() bool { return a.Signals.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "ETH", a.Signals.All()[0].Ticker)

	require.Eventually(t, func() bool {
		st := a.Router.Stats()
		return st.Malformed == 1 && st.Rejected == 1 && st.Unknown == 1
	}, waitFor, 5*time.Millisecond)
}

func TestApp_PresentationFramesForwarded(t *testing.T) {
	u := newUpstream(t)
	a, rec := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	u.push(models.MsgChatResponse, `{"message":"hi"}`)
	u.push(models.MsgError, `{"message":"wallet locked"}`)

	require.Eventually(t, func() bool {
		return len(rec.ofType(models.EventPresentation)) == 1 && len(rec.ofType(models.EventNotification)) == 1
	}, waitFor, 5*time.Millisecond)

	pe := rec.ofType(models.EventPresentation)[0].Payload.(models.PresentationEvent)
	assert.Equal(t, models.MsgChatResponse, pe.MessageType)
	assert.JSONEq(t, `{"message":"hi"}`, string(pe.Payload))

	ne := rec.ofType(models.EventNotification)[0].Payload.(models.NotificationEvent)
	assert.Equal(t, "wallet locked", ne.Message)
}

func TestApp_BotStatusPush(t *testing.T) {
	u := newUpstream(t)
	a, _ := newTestApp(t, testConfig(u.wsURL()), nil)
	startConnected(t, a, u)

	u.push(models.MsgBotStatus, `{"is_running":true,"mode":"simulation"}`)
	require.Eventually(t, func() bool {
		bot := a.Status.Snapshot().Bot
		return bot != nil && bot.Running
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "simulation", a.Status.Snapshot().Bot.Mode)
}

func TestApp_ApplicationErrorBecomesNotification(t *testing.T) {
	client := &stubClient{statusErr: &hive.APIError{StatusCode: 200, Message: "bot offline", Endpoint: "/api/bot/status", Application: true}}
	a, rec := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), client)

	a.Bootstrap(context.Background())

	notes := rec.ofType(models.EventNotification)
	require.Len(t, notes, 1)
	ne := notes[0].Payload.(models.NotificationEvent)
	assert.Equal(t, "bot-status", ne.Source)
	assert.Contains(t, ne.Message, "bot offline")
	assert.Nil(t, a.Status.Snapshot().Bot)
}

func TestApp_TransportErrorIsNotNotified(t *testing.T) {
	client := &stubClient{statusErr: &hive.APIError{StatusCode: 502, Message: "bad gateway", Endpoint: "/api/bot/status"}}
	a, rec := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), client)

	err := a.RefreshStatus(context.Background())
	require.Error(t, err)
	assert.False(t, hive.IsApplicationError(err))

	a.Bootstrap(context.Background())
	assert.Empty(t, rec.ofType(models.EventNotification))
}

func TestApp_PullsApplyThroughStores(t *testing.T) {
	client := &stubClient{
		status:  &models.BotStatus{Running: true, State: "running"},
		stats:   &models.TradingStats{TotalTrades: 12},
		signals: []models.Signal{{Ticker: "BTC", Action: models.ActionBuy}, {Ticker: "ETH", Action: models.ActionSell}},
		wallet: &models.WalletSnapshot{
			WalletName:  "sim",
			Cash:        500,
			TotalTrades: "7",
			Holdings:    []models.Holding{{Symbol: "ETH", Quantity: 1, AvgBuyPrice: 2000}},
		},
	}
	a, _ := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), client)

	a.Bootstrap(context.Background())

	snap := a.Snapshot()
	require.NotNil(t, snap.Status.Bot)
	assert.True(t, snap.Status.Bot.Running)
	require.NotNil(t, snap.Status.Stats)
	assert.Equal(t, 2, snap.Signals.Count)
	assert.Equal(t, "BTC", snap.Signals.Signals[0].Ticker)
	assert.Equal(t, "sim", snap.Wallet.WalletName)
	assert.Equal(t, 2500.0, snap.Valuation.TotalValue)
	assert.Equal(t, 7, snap.TradesCounts["sim"])
	assert.Equal(t, uint64(0), snap.Epoch)
}

func TestApp_RefreshWalletByIDFillsHoldings(t *testing.T) {
	client := &stubClient{
		wallet:   &models.WalletSnapshot{WalletName: "alt", Cash: 10},
		holdings: []models.Holding{{Symbol: "SOL", Quantity: 3, AvgBuyPrice: 100}},
	}
	a, _ := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), client)

	require.NoError(t, a.RefreshWalletByID(context.Background(), "alt"))
	w := a.Ledger.Snapshot()
	assert.Equal(t, "alt", w.WalletName)
	require.Len(t, w.Holdings, 1)
	assert.Equal(t, 1, w.HoldingsCount)
}

func TestApp_StalePullDiscardedAfterClose(t *testing.T) {
	client := &stubClient{
		wallet:  &models.WalletSnapshot{WalletName: "late", Cash: 1},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	a, _ := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), client)

	result := make(chan error, 1)
	go func() { result <- a.RefreshWallet(context.Background()) }()

	select {
	case <-client.entered:
	case <-time.After(waitFor):
		t.Fatal("pull never started")
	}
	a.Close()
	close(client.block)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStaleResult)
	case <-time.After(waitFor):
		t.Fatal("pull did not return")
	}
	assert.Empty(t, a.Ledger.Snapshot().WalletName)
	assert.Equal(t, uint64(1), a.Epoch())
}

func TestApp_ScheduledPullRuns(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(u.wsURL())
	cfg.Sync.StatusInterval = "20ms"
	client := &stubClient{status: &models.BotStatus{Running: true}}
	a, _ := newTestApp(t, cfg, client)

	require.NoError(t, a.Start())
	require.Eventually(t, func() bool {
		bot := a.Status.Snapshot().Bot
		return bot != nil && bot.Running
	}, waitFor, 5*time.Millisecond)

	calls := client.calls.Load()
	require.Eventually(t, func() bool { return client.calls.Load() > calls }, waitFor, 5*time.Millisecond)
}

func TestApp_BootstrapOnConnect(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(u.wsURL())
	cfg.Sync.Bootstrap = true
	client := &stubClient{signals: []models.Signal{{Ticker: "DOGE", Action: models.ActionHold}}}
	a, _ := newTestApp(t, cfg, client)

	startConnected(t, a, u)
	require.Eventually(t, func() bool { return a.Signals.Len() == 1 }, waitFor, 5*time.Millisecond)
}

func TestApp_CommandsAfterClose(t *testing.T) {
	a, _ := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), nil)
	a.Close()

	assert.ErrorIs(t, a.RequestPrices(), ErrClosed)
	assert.ErrorIs(t, a.Reconnect(), ErrClosed)
	assert.ErrorIs(t, a.Start(), ErrClosed)

	// Snapshot still reads the stores directly.
	snap := a.Snapshot()
	assert.Equal(t, models.ConnectionDisconnected, snap.Connection.State)
}

func TestApp_SetSignalPage(t *testing.T) {
	client := &stubClient{}
	for i := 0; i < 12; i++ {
		client.signals = append(client.signals, models.Signal{Ticker: fmt.Sprintf("T%02d", i)})
	}
	a, _ := newTestApp(t, testConfig("ws://127.0.0.1:1/ws"), client)
	require.NoError(t, a.RefreshSignals(context.Background()))

	view := a.SetSignalPage(9)
	assert.Equal(t, 2, view.Page)
	assert.Equal(t, 3, view.TotalPages)
	assert.Len(t, view.Signals, 2)
	assert.Equal(t, 2, a.Signals.CurrentPage())
}
