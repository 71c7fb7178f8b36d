// Package sources supplies the per-exchange wire-format glue the generic
// adapter needs: a ParseFunc that turns one raw frame into a domain.PriceUpdate
// and a SubscribeFunc that builds the subscription frames to send after
// connecting. Each exchange's message shape is grounded on its public
// streaming API. Symbol translation in both directions goes through
// internal/symbol's Mapper, parameterized per exchange by a Conventions
// value, rather than each parser hand-rolling its own token substitution.
package sources

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flarenet/ftso-feed-provider/internal/adapter"
	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/symbol"
)

var mapper = symbol.NewMapper()

// Wire dialects for the four default exchanges. Binance's wire symbols carry
// no separator ("BTCUSDT"); symbol.splitRaw treats an empty Separator as "/",
// so the caller is responsible for inserting that slash at the base/quote
// boundary before calling Normalize (see binanceCanonicalSymbol).
var (
	binanceConventions = symbol.Conventions{
		Separator: "",
		BaseFirst: true,
		Case:      symbol.CaseLower,
	}
	coinbaseConventions = symbol.Conventions{
		Separator: "-",
		BaseFirst: true,
		Case:      symbol.CaseUpper,
	}
	krakenConventions = symbol.Conventions{
		Separator:       "/",
		BaseFirst:       true,
		Case:            symbol.CaseUpper,
		InverseMappings: map[string]string{"XBT": "BTC"},
		TokenMap:        map[string]string{"BTC": "XBT"},
	}
	okxConventions = symbol.Conventions{
		Separator: "-",
		BaseFirst: true,
		Case:      symbol.CaseUpper,
	}
)

// referenceTradeSize normalizes a trade's volume into Confidence's
// normalizedVolume input. Exchanges report wildly different unit sizes for
// the same underlying asset, so this is a rough per-unit scale, not a
// calibrated figure.
const referenceTradeSize = 1.0

// confidenceFor scores one update with the adapter's latency/spread/volume
// formula. Trade streams carry no bid/ask, so spread is always zero.
func confidenceFor(timestampMs int64, volume float64) float64 {
	latencyMs := float64(time.Now().UnixMilli() - timestampMs)
	if latencyMs < 0 {
		latencyMs = 0
	}
	return adapter.Confidence(latencyMs, 0, volume/referenceTradeSize)
}

// Capability returns the Capability value for a known source id, so callers
// building adapters don't repeat the category list at each call site.
func Capability(sourceId string) adapter.Capability {
	return adapter.Capability{
		SourceId:       sourceId,
		Categories:     []domain.Category{domain.CategoryCrypto},
		SupportsTrades: true,
	}
}

// --- Binance ---

type binanceTrade struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	TimeMs int64  `json:"T"`
}

// binanceQuoteSuffixes are tried longest-first so "BUSD" doesn't get split
// as if it were "USD" with a stray "B" left on the base token.
var binanceQuoteSuffixes = []string{"USDT", "BUSD", "USD"}

// binanceCanonicalSymbol locates the base/quote boundary in Binance's
// separator-less wire symbol (e.g. "BTCUSDT") and hands the result to the
// shared Mapper for the actual canonicalization.
func binanceCanonicalSymbol(raw string) (string, error) {
	raw = strings.ToUpper(raw)
	for _, quote := range binanceQuoteSuffixes {
		if strings.HasSuffix(raw, quote) && len(raw) > len(quote) {
			wire := raw[:len(raw)-len(quote)] + "/" + quote
			return mapper.Normalize(wire, binanceConventions)
		}
	}
	return "", fmt.Errorf("unrecognized quote suffix in %q", raw)
}

// BinanceParse decodes a combined-stream trade event:
// {"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"100.50","q":"0.01","T":1700000000000}}
func BinanceParse(raw []byte) (domain.PriceUpdate, error) {
	var envelope struct {
		Data binanceTrade `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("binance: decode trade: %w", err)
	}
	sym, err := binanceCanonicalSymbol(envelope.Data.Symbol)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("binance: %w", err)
	}
	price, err := strconv.ParseFloat(envelope.Data.Price, 64)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("binance: parse price: %w", err)
	}
	qty, _ := strconv.ParseFloat(envelope.Data.Qty, 64)
	return domain.PriceUpdate{
		Symbol:      sym,
		Price:       price,
		TimestampMs: envelope.Data.TimeMs,
		Source:      "binance",
		Volume:      qty,
		HasVolume:   qty > 0,
		Confidence:  confidenceFor(envelope.Data.TimeMs, qty),
	}, nil
}

// BinanceSubscribe builds the combined-stream subscribe frame for symbols
// like "BTC/USD" -> "btcusd@trade".
func BinanceSubscribe(symbols []string) [][]byte {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		wire, err := mapper.ToExchange(s, binanceConventions)
		if err != nil {
			continue
		}
		streams = append(streams, wire+"@trade")
	}
	frame, _ := json.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	})
	return [][]byte{frame}
}

// --- Coinbase ---

type coinbaseMatch struct {
	Type      string `json:"type"`
	ProductId string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Time      string `json:"time"`
}

// CoinbaseParse decodes a "match" channel message:
// {"type":"match","product_id":"BTC-USD","price":"100.50","size":"0.01","time":"2024-01-01T00:00:00.000000Z"}
func CoinbaseParse(raw []byte) (domain.PriceUpdate, error) {
	var m coinbaseMatch
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("coinbase: decode message: %w", err)
	}
	if m.Type != "match" && m.Type != "last_match" {
		return domain.PriceUpdate{}, fmt.Errorf("coinbase: unhandled message type %q", m.Type)
	}
	sym, err := mapper.Normalize(m.ProductId, coinbaseConventions)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("coinbase: %w", err)
	}
	price, err := strconv.ParseFloat(m.Price, 64)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("coinbase: parse price: %w", err)
	}
	size, _ := strconv.ParseFloat(m.Size, 64)
	ts, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		ts = time.Now()
	}
	return domain.PriceUpdate{
		Symbol:      sym,
		Price:       price,
		TimestampMs: ts.UnixMilli(),
		Source:      "coinbase",
		Volume:      size,
		HasVolume:   size > 0,
		Confidence:  confidenceFor(ts.UnixMilli(), size),
	}, nil
}

// CoinbaseSubscribe builds the "subscribe" frame for the matches channel.
func CoinbaseSubscribe(symbols []string) [][]byte {
	products := make([]string, 0, len(symbols))
	for _, s := range symbols {
		wire, err := mapper.ToExchange(s, coinbaseConventions)
		if err != nil {
			continue
		}
		products = append(products, wire)
	}
	frame, _ := json.Marshal(map[string]any{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"matches"},
	})
	return [][]byte{frame}
}

// --- Kraken ---

// KrakenParse decodes a channel trade array:
// [channelID, [[price, volume, time, side, orderType, misc], ...], "trade", pair]
func KrakenParse(raw []byte) (domain.PriceUpdate, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: decode frame: %w", err)
	}
	if len(frame) < 4 {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: short frame")
	}
	var channel string
	if err := json.Unmarshal(frame[2], &channel); err == nil && channel != "trade" {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: unhandled channel %q", channel)
	}
	var trades [][]string
	if err := json.Unmarshal(frame[1], &trades); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: decode trades: %w", err)
	}
	if len(trades) == 0 {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: empty trade batch")
	}
	var pair string
	_ = json.Unmarshal(frame[3], &pair)

	sym, err := mapper.Normalize(pair, krakenConventions)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: %w", err)
	}

	last := trades[len(trades)-1]
	if len(last) < 3 {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: malformed trade entry")
	}
	price, err := strconv.ParseFloat(last[0], 64)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("kraken: parse price: %w", err)
	}
	volume, _ := strconv.ParseFloat(last[1], 64)
	seconds, err := strconv.ParseFloat(last[2], 64)
	tsMs := time.Now().UnixMilli()
	if err == nil {
		tsMs = int64(seconds * 1000)
	}

	return domain.PriceUpdate{
		Symbol:      sym,
		Price:       price,
		TimestampMs: tsMs,
		Source:      "kraken",
		Volume:      volume,
		HasVolume:   volume > 0,
		Confidence:  confidenceFor(tsMs, volume),
	}, nil
}

// KrakenSubscribe builds the event-style subscribe frame trades channel.
func KrakenSubscribe(symbols []string) [][]byte {
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		wire, err := mapper.ToExchange(s, krakenConventions)
		if err != nil {
			continue
		}
		pairs = append(pairs, wire)
	}
	frame, _ := json.Marshal(map[string]any{
		"event": "subscribe",
		"pair":  pairs,
		"subscription": map[string]string{
			"name": "trade",
		},
	})
	return [][]byte{frame}
}

// --- OKX ---

type okxTrade struct {
	InstId string `json:"instId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Ts     string `json:"ts"`
}

// OKXParse decodes a public trades channel push:
// {"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","px":"100.5","sz":"0.01","ts":"1700000000000"}]}
func OKXParse(raw []byte) (domain.PriceUpdate, error) {
	var msg struct {
		Data []okxTrade `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("okx: decode message: %w", err)
	}
	if len(msg.Data) == 0 {
		return domain.PriceUpdate{}, fmt.Errorf("okx: no trade entries")
	}
	t := msg.Data[len(msg.Data)-1]
	sym, err := mapper.Normalize(t.InstId, okxConventions)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("okx: %w", err)
	}
	price, err := strconv.ParseFloat(t.Px, 64)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("okx: parse price: %w", err)
	}
	size, _ := strconv.ParseFloat(t.Sz, 64)
	tsMs, _ := strconv.ParseInt(t.Ts, 10, 64)
	if tsMs == 0 {
		tsMs = time.Now().UnixMilli()
	}
	return domain.PriceUpdate{
		Symbol:      sym,
		Price:       price,
		TimestampMs: tsMs,
		Source:      "okx",
		Volume:      size,
		HasVolume:   size > 0,
		Confidence:  confidenceFor(tsMs, size),
	}, nil
}

// OKXSubscribe builds the args-style subscribe frame for the trades channel.
func OKXSubscribe(symbols []string) [][]byte {
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		wire, err := mapper.ToExchange(s, okxConventions)
		if err != nil {
			continue
		}
		args = append(args, map[string]string{"channel": "trades", "instId": wire})
	}
	frame, _ := json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": args,
	})
	return [][]byte{frame}
}

// ParseFunc resolves a known source id to its ParseFunc, or false if unknown.
func ParseFunc(sourceId string) (adapter.ParseFunc, bool) {
	switch sourceId {
	case "binance":
		return BinanceParse, true
	case "coinbase":
		return CoinbaseParse, true
	case "kraken":
		return KrakenParse, true
	case "okx":
		return OKXParse, true
	default:
		return nil, false
	}
}

// SubscribeFunc resolves a known source id to its SubscribeFunc, or false if
// unknown.
func SubscribeFunc(sourceId string) (adapter.SubscribeFunc, bool) {
	switch sourceId {
	case "binance":
		return BinanceSubscribe, true
	case "coinbase":
		return CoinbaseSubscribe, true
	case "kraken":
		return KrakenSubscribe, true
	case "okx":
		return OKXSubscribe, true
	default:
		return nil, false
	}
}
