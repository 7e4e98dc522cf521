package feed

import (
	"testing"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBinanceParseBookTicker(t *testing.T) {
	t.Parallel()
	f := NewBinance("wss://example.invalid", "BTC", discardLogger()).(*wsFeed)
	sample, ok := f.parse([]byte(`{"u":1,"s":"BTCUSDT","b":"100.0","B":"1","a":"101.0","A":"1"}`))
	if !ok {
		t.Fatal("expected parse ok")
	}
	if !sample.BestBid.Equal(dec("100.0")) || !sample.BestAsk.Equal(dec("101.0")) {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if !sample.Mid.Equal(dec("100.5")) {
		t.Fatalf("mid = %s, want 100.5", sample.Mid)
	}
}

func TestBinanceParseIgnoresGarbage(t *testing.T) {
	t.Parallel()
	f := NewBinance("wss://example.invalid", "BTC", discardLogger()).(*wsFeed)
	if _, ok := f.parse([]byte(`not json`)); ok {
		t.Fatal("expected parse failure for garbage input")
	}
	if _, ok := f.parse([]byte(`{"s":"BTCUSDT"}`)); ok {
		t.Fatal("expected parse failure for missing bid/ask")
	}
}

func TestCoinbaseParseTicker(t *testing.T) {
	t.Parallel()
	f := NewCoinbase("wss://example.invalid", "BTC", discardLogger()).(*wsFeed)
	sample, ok := f.parse([]byte(`{"type":"ticker","best_bid":"100","best_ask":"102"}`))
	if !ok {
		t.Fatal("expected parse ok")
	}
	if !sample.Mid.Equal(dec("101")) {
		t.Fatalf("mid = %s, want 101", sample.Mid)
	}
}

func TestCoinbaseParseIgnoresNonTicker(t *testing.T) {
	t.Parallel()
	f := NewCoinbase("wss://example.invalid", "BTC", discardLogger()).(*wsFeed)
	if _, ok := f.parse([]byte(`{"type":"subscriptions"}`)); ok {
		t.Fatal("expected non-ticker message to be dropped")
	}
}

func TestNoneFeedEchoesLocalMid(t *testing.T) {
	t.Parallel()
	f := NewNone().(*noneFeed)
	var got types.MidPrice
	f.OnPrice(func(m types.MidPrice) { got = m })

	mid := types.MidPrice{Mid: dec("100"), BestBid: dec("99"), BestAsk: dec("101"), TimestampMs: 1}
	f.SetLocalMid(mid)

	if latest, ok := f.Latest(); !ok || !latest.Mid.Equal(dec("100")) {
		t.Fatalf("Latest() = %+v, %v", latest, ok)
	}
	if !got.Mid.Equal(dec("100")) {
		t.Fatalf("callback did not receive sample: %+v", got)
	}
}
