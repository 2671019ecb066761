// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package budget

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Clock abstracts time for billing-period computation in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// PeriodKey returns the billing-period identifier for t. Billing periods
// are calendar months in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Usage is one provider's spend position for the current billing period,
// exposed through the admin surface.
type Usage struct {
	Provider string  `json:"provider"`
	Period   string  `json:"period"`
	Spend    float64 `json:"spend_usd"`
	Ceiling  float64 `json:"ceiling_usd"`
}

// Ledger tracks cumulative spend per provider per billing period and
// enforces the configured ceilings.
//
// # Description
//
// Admit is a pessimistic pre-check, not a reservation: overshoot by one
// in-flight call is tolerated to avoid cross-request locking overhead. Debit is the only mutation and is atomic under the ledger
// mutex; when a BadgerDB handle is present, every debit is also written
// through so spend survives restarts within the period.
//
// # Thread Safety
//
// Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	spend    map[string]float64
	ceilings map[string]float64
	period   string
	db       *badger.DB
	clock    Clock
}

// NewLedger creates a ledger with the given per-provider ceilings. A nil
// db keeps the ledger purely in memory; a nil clock uses the system clock.
// Persisted spend for the current billing period is loaded on startup.
func NewLedger(ceilings map[string]float64, db *badger.DB, clock Clock) (*Ledger, error) {
	if clock == nil {
		clock = systemClock{}
	}
	l := &Ledger{
		spend:    make(map[string]float64),
		ceilings: make(map[string]float64, len(ceilings)),
		period:   PeriodKey(clock.Now()),
		db:       db,
		clock:    clock,
	}
	for provider, ceiling := range ceilings {
		l.ceilings[provider] = ceiling
	}
	if db != nil {
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) key(provider string) []byte {
	return []byte("budget/" + l.period + "/" + provider)
}

// load restores persisted spend for the current period.
func (l *Ledger) load() error {
	prefix := []byte("budget/" + l.period + "/")
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			provider := strings.TrimPrefix(string(item.Key()), string(prefix))
			err := item.Value(func(val []byte) error {
				amount, perr := strconv.ParseFloat(string(val), 64)
				if perr != nil {
					return fmt.Errorf("corrupt spend record %s: %w", item.Key(), perr)
				}
				l.spend[provider] = amount
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load budget ledger: %w", err)
	}
	if len(l.spend) > 0 {
		slog.Info("restored budget ledger", "period", l.period, "providers", len(l.spend))
	}
	return nil
}

// rolloverLocked resets spend when the billing period changed. Caller
// holds l.mu.
func (l *Ledger) rolloverLocked() {
	current := PeriodKey(l.clock.Now())
	if current == l.period {
		return
	}
	slog.Info("billing period rollover", "from", l.period, "to", current)
	l.period = current
	l.spend = make(map[string]float64)
}

// Admit reports whether a call with the given estimated cost fits under
// the provider's ceiling. A provider with no configured ceiling is never
// admitted; an explicit zero ceiling disables the provider.
func (l *Ledger) Admit(provider string, estimatedCost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	ceiling, ok := l.ceilings[provider]
	if !ok {
		return false
	}
	return l.spend[provider]+estimatedCost <= ceiling
}

// Debit adds actual cost to the provider's cumulative spend. Called after
// a completed call, success or billable failure.
func (l *Ledger) Debit(provider string, actualCost float64) {
	if actualCost <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	l.spend[provider] += actualCost
	total := l.spend[provider]

	if l.db == nil {
		return
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(l.key(provider), []byte(strconv.FormatFloat(total, 'f', -1, 64)))
	})
	if err != nil {
		// The in-memory position stays authoritative for this process.
		slog.Error("failed to persist budget debit", "provider", provider, "error", err)
	}
}

// Reset clears a provider's spend for the current period. Admin operation.
func (l *Ledger) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	delete(l.spend, provider)
	if l.db == nil {
		return
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(l.key(provider))
	})
	if err != nil {
		slog.Error("failed to clear persisted spend", "provider", provider, "error", err)
	}
	slog.Info("budget reset by admin", "provider", provider, "period", l.period)
}

// Utilization returns the spend position of every configured provider.
func (l *Ledger) Utilization() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	usages := make([]Usage, 0, len(l.ceilings))
	for provider, ceiling := range l.ceilings {
		usages = append(usages, Usage{
			Provider: provider,
			Period:   l.period,
			Spend:    l.spend[provider],
			Ceiling:  ceiling,
		})
	}
	sort.Slice(usages, func(i, j int) bool { return usages[i].Provider < usages[j].Provider })
	return usages
}

// SetCeilings replaces the ceiling table. Used by config hot reload.
func (l *Ledger) SetCeilings(ceilings map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ceilings = make(map[string]float64, len(ceilings))
	for provider, ceiling := range ceilings {
		l.ceilings[provider] = ceiling
	}
}
