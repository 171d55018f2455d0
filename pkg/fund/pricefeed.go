package fund

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the exchange rate between two assets at a point in time.
type PriceQuote struct {
	Base      string
	Quote     string
	Rate      decimal.Decimal
	UpdatedAt time.Time
}

// PriceSource supplies current exchange rates between registered assets.
// The source's own update mechanism is external to the core; the core only
// reads rates and update timestamps.
type PriceSource interface {
	Quote(base, quote string) (PriceQuote, error)
	LastUpdate() time.Time
}

// FeedPriceSource is an in-memory PriceSource fed by SetRate calls.
type FeedPriceSource struct {
	rates      map[string]PriceQuote // base|quote -> quote
	lastUpdate time.Time
	clock      func() time.Time
	mu         sync.RWMutex
}

// NewFeedPriceSource creates an empty feed.
func NewFeedPriceSource() *FeedPriceSource {
	return &FeedPriceSource{
		rates: make(map[string]PriceQuote),
		clock: time.Now,
	}
}

func rateKey(base, quote string) string {
	return base + "|" + quote
}

// SetRate records the current rate of one unit of base in units of quote.
func (f *FeedPriceSource) SetRate(base, quote string, rate decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock()
	f.rates[rateKey(base, quote)] = PriceQuote{
		Base:      base,
		Quote:     quote,
		Rate:      rate,
		UpdatedAt: now,
	}
	f.lastUpdate = now
}

// Quote implements PriceSource. Identity pairs always resolve to rate 1.
func (f *FeedPriceSource) Quote(base, quote string) (PriceQuote, error) {
	if base == quote {
		return PriceQuote{Base: base, Quote: quote, Rate: decimal.NewFromInt(1), UpdatedAt: f.clock()}, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.rates[rateKey(base, quote)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("no quote for %s/%s", base, quote)
	}
	return q, nil
}

// LastUpdate implements PriceSource.
func (f *FeedPriceSource) LastUpdate() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

var bigTen = big.NewInt(10)

// valueAtRate converts balance units of the quote's base asset into quote
// units. The decimal rate is applied exactly: balance * coefficient scaled
// by the decimal exponent, truncating toward zero on division.
func valueAtRate(balance *big.Int, rate decimal.Decimal) *big.Int {
	v := new(big.Int).Mul(balance, rate.Coefficient())
	exp := int64(rate.Exponent())
	if exp == 0 {
		return v
	}
	scale := new(big.Int).Exp(bigTen, big.NewInt(absInt64(exp)), nil)
	if exp > 0 {
		return v.Mul(v, scale)
	}
	return v.Quo(v, scale)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
