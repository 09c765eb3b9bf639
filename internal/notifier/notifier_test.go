package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buyxanbot/internal/chain"
	"buyxanbot/internal/storage"
	"buyxanbot/internal/transport"
	"buyxanbot/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
	opt    *transport.SendOptions
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sent
	gifs   []string
	failOn map[string]error // substring of text -> error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub, err := range f.failOn {
		if strings.Contains(text, sub) {
			return transport.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, sent{chatID: to.ChatID, text: text, opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) SendAnimation(_ context.Context, _ transport.ChatTarget, url string) error {
	f.mu.Lock()
	f.gifs = append(f.gifs, url)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	subs     map[string][]storage.Subscriber
	disabled map[int64]string
}

func (f *fakeStore) Subscribers(_ context.Context, chainID, address string) ([]storage.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Subscriber
	for _, s := range f.subs[chainID+"/"+address] {
		if _, off := f.disabled[s.ChatID]; !off {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) DisableChat(_ context.Context, chatID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled == nil {
		f.disabled = map[int64]string{}
	}
	f.disabled[chatID] = reason
	return nil
}

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	r := chain.NewRegistry()
	meta, _ := chain.Builtin("ETH")
	noop := chain.ScannerFunc(func(context.Context, chain.Config) (chain.Result, error) { return chain.Result{}, nil })
	require.NoError(t, r.Register(meta, noop))
	return r
}

func newTestDispatcher(t *testing.T, s transport.Sender, st Store) *Dispatcher {
	t.Helper()
	return New(Config{RatePerSec: 1000, Burst: 100, DedupWindow: time.Hour, SendTimeout: time.Second}, s, st, testRegistry(t), logx.Nop())
}

func ev(ref string, pos uint64) chain.Event {
	return chain.Event{Chain: "ETH", Ref: ref, Position: pos, TxHash: "0x" + ref, Token: "0xtoken", TokenSymbol: "PEW", TokenName: "Pew " + ref, Amount: decimal.NewFromInt(1000)}
}

func TestDispatchSendsInOrderToEverySubscriber(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	st := &fakeStore{subs: map[string][]storage.Subscriber{"ETH/0xtoken": {{ChatID: 1, Emoji: "🚀"}, {ChatID: 2, GIFURL: "https://example.org/a.gif"}}}}
	d := newTestDispatcher(t, s, st)

	n, err := d.Dispatch(context.Background(), []chain.Event{ev("101", 101), ev("102", 102)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	texts := s.texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[0], "Pew 101")
	assert.Contains(t, texts[1], "Pew 101")
	assert.Contains(t, texts[2], "Pew 102")
	assert.Equal(t, []string{"https://example.org/a.gif", "https://example.org/a.gif"}, s.gifs)
	assert.Equal(t, "HTML", s.sent[0].opt.ParseMode)
	assert.Len(t, d.Recent(), 4)
}

func TestDispatchWithoutSubscribersCountsAsDelivered(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := newTestDispatcher(t, s, &fakeStore{})
	n, err := d.Dispatch(context.Background(), []chain.Event{ev("1", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, s.texts())
}

func TestDispatchPermanentFailureStopsBatchAndDisablesChat(t *testing.T) {
	t.Parallel()

	s := &fakeSender{failOn: map[string]error{"Pew 102": transport.Permanent(errors.New("telegram: Forbidden: bot was blocked by the user (403)"))}}
	st := &fakeStore{subs: map[string][]storage.Subscriber{"ETH/0xtoken": {{ChatID: 7}}}}
	d := newTestDispatcher(t, s, st)

	events := []chain.Event{ev("101", 101), ev("102", 102), ev("103", 103)}
	n, err := d.Dispatch(context.Background(), events)
	require.Error(t, err)
	assert.True(t, transport.IsPermanent(err))
	assert.Equal(t, 1, n)
	assert.Len(t, s.texts(), 1)
	assert.Contains(t, st.disabled[7], "blocked")

	// Rescan of the undelivered tail: the disabled chat has no subscribers left.
	n, err = d.Dispatch(context.Background(), events[n:])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, s.texts(), 1)
}

func TestDispatchTransientFailureRedeliversOnlyTheTail(t *testing.T) {
	t.Parallel()

	s := &fakeSender{failOn: map[string]error{"Pew 102": transport.Transient(errors.New("connection reset"), 0)}}
	st := &fakeStore{subs: map[string][]storage.Subscriber{"ETH/0xtoken": {{ChatID: 1}, {ChatID: 2}}}}
	d := newTestDispatcher(t, s, st)

	events := []chain.Event{ev("101", 101), ev("102", 102)}
	n, err := d.Dispatch(context.Background(), events)
	require.Error(t, err)
	assert.True(t, transport.IsTransient(err))
	assert.Equal(t, 1, n)
	assert.Len(t, s.texts(), 2)
	assert.Empty(t, st.disabled)

	s.mu.Lock()
	s.failOn = nil
	s.mu.Unlock()

	// The whole window comes back; 101 is already in the dedup set.
	n, err = d.Dispatch(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	texts := s.texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[2], "Pew 102")
	assert.Contains(t, texts[3], "Pew 102")
}

func TestDispatchRetryAfterPausesLaterSends(t *testing.T) {
	t.Parallel()

	s := &fakeSender{failOn: map[string]error{"Pew 1": transport.Transient(errors.New("Too Many Requests: retry after 5"), 5*time.Second)}}
	st := &fakeStore{subs: map[string][]storage.Subscriber{"ETH/0xtoken": {{ChatID: 1}}}}
	d := newTestDispatcher(t, s, st)

	_, err := d.Dispatch(context.Background(), []chain.Event{ev("1", 1)})
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := d.Dispatch(ctx, []chain.Event{ev("2", 2)})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDedupSetEvictsOldest(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := newDedupSet(time.Minute, 2, func() time.Time { return now })
	d.mark("a")
	now = now.Add(time.Second)
	d.mark("b")
	now = now.Add(time.Second)
	d.mark("c")
	assert.Equal(t, 2, d.len())
	assert.False(t, d.seen("a"))
	assert.True(t, d.seen("c"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.seen("c"))
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	meta, _ := chain.Builtin("ETH")
	e := chain.Event{
		Chain:        "ETH",
		Ref:          "r",
		TxHash:       "0xabc",
		Token:        "0x1234567890abcdef1234567890abcdef12345678",
		TokenName:    "Pew <Coin>",
		TokenSymbol:  "PEW",
		Buyer:        "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb1234",
		Amount:       decimal.NewFromInt(12345),
		NativeAmount: decimal.RequireFromString("0.5"),
	}
	a := Format(meta, e, "🚀", "https://t.me/example")

	assert.True(t, strings.HasPrefix(a.Text, "<b>Pew &lt;Coin&gt;</b> (PEW) Buy!\n\n"))
	// 0.5 ETH * 3500 = $1,750 -> 17 emojis
	assert.Contains(t, a.Text, "\n\n"+strings.Repeat("🚀", 17)+"\n\n")
	assert.Contains(t, a.Text, "💵 0.500 ETH ($1,750.00)")
	assert.Contains(t, a.Text, "🪙 12,345 PEW")
	assert.Contains(t, a.Text, `<a href="https://etherscan.io/address/0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb1234">0xbbbb...1234</a>`)
	assert.Contains(t, a.Text, `Txn <a href="https://etherscan.io/tx/0xabc">🔗</a>`)
	assert.Contains(t, a.Text, "https://www.geckoterminal.com/eth/pools/0x1234567890abcdef1234567890abcdef12345678")
	assert.Contains(t, a.Text, "Join Community")
	require.Len(t, a.Buttons, 2)
	assert.Equal(t, "https://app.uniswap.org/swap?chain=ethereum&outputCurrency=0x1234567890abcdef1234567890abcdef12345678", a.Buttons[1].URL)
}

func TestEmojiCountClamp(t *testing.T) {
	t.Parallel()

	cases := map[string]int{"0": 1, "99.99": 1, "100": 1, "250": 2, "2000": 20, "999999": 20}
	for in, want := range cases {
		assert.Equal(t, want, EmojiCount(decimal.RequireFromString(in)), in)
	}
}
