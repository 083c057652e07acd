// Package marketdata fetches the latest spot price for a symbol.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"papertrader/internal/breaker"
	"papertrader/internal/model"
)

// BinanceSource reads the public ticker price endpoint. No API key needed.
type BinanceSource struct {
	client  *binance.Client
	breaker *breaker.Breaker
	timeout time.Duration
}

// Option configures a BinanceSource.
type Option func(*BinanceSource)

// WithBaseURL overrides the REST endpoint (testnet, mirrors, tests).
func WithBaseURL(url string) Option {
	return func(s *BinanceSource) {
		if url != "" {
			s.client.BaseURL = url
		}
	}
}

// WithTimeout bounds each request. Zero leaves the caller's context alone.
func WithTimeout(d time.Duration) Option {
	return func(s *BinanceSource) { s.timeout = d }
}

// WithBreaker routes requests through b.
func WithBreaker(b *breaker.Breaker) Option {
	return func(s *BinanceSource) { s.breaker = b }
}

// NewBinanceSource creates a price source. Without WithBreaker a default
// breaker (5 failures, 30s cool-down) is used.
func NewBinanceSource(opts ...Option) *BinanceSource {
	s := &BinanceSource{
		client:  binance.NewClient("", ""),
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = breaker.New("binance", 5, 30*time.Second)
		s.breaker.OnStateChange = func(name string, from, to breaker.State) {
			log.Printf("[marketdata] %s breaker %s -> %s", name, from, to)
		}
	}
	return s
}

// GetPrice implements model.MarketDataSource. Every failure, including a
// rejected call while the breaker is open, wraps model.ErrUnavailable.
func (s *BinanceSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := s.breaker.Execute(func() error {
		p, err := s.fetch(ctx, symbol)
		price = p
		return err
	})
	if errors.Is(err, breaker.ErrOpen) {
		return 0, fmt.Errorf("price %s: %w: %w", symbol, err, model.ErrUnavailable)
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (s *BinanceSource) fetch(ctx context.Context, symbol string) (float64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("price %s: %v: %w", symbol, err, model.ErrUnavailable)
	}
	for _, p := range prices {
		if p == nil || p.Symbol != symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("price %s: invalid price %q: %w", symbol, p.Price, model.ErrUnavailable)
		}
		return v, nil
	}
	return 0, fmt.Errorf("price %s: symbol missing from response: %w", symbol, model.ErrUnavailable)
}
