package balance

import (
	"context"
	"encoding/json"
	"time"

	"broker-client/pkg/storage"

	"go.uber.org/zap"
)

// persistedSnapshot is the stored form of a Snapshot under
// storage.KeyBalanceDataCache. The timestamp is in Unix milliseconds.
type persistedSnapshot struct {
	Timestamp       int64               `json:"timestamp"`
	BalanceData     *BalanceRecord      `json:"balanceData"`
	SummaryData     *SummaryRecord      `json:"summaryData"`
	TransactionData []TransactionRecord `json:"transactionData"`
}

func (c *Cache) save(ctx context.Context, snap Snapshot) {
	if c.persist == nil {
		return
	}

	blob, err := json.Marshal(persistedSnapshot{
		Timestamp:       snap.Timestamp.UnixMilli(),
		BalanceData:     snap.Balance,
		SummaryData:     snap.Summary,
		TransactionData: snap.Transactions,
	})
	if err == nil {
		err = c.persist.Write(ctx, storage.KeyBalanceDataCache, blob)
	}
	if err != nil {
		c.logger.Warn("failed to persist snapshot", zap.Error(err))
	}

	// An empty list removes the key so Restore cannot bring back an older one.
	if len(snap.Transactions) == 0 {
		err = c.persist.Delete(ctx, storage.KeyTransactions)
	} else if blob, err = json.Marshal(snap.Transactions); err == nil {
		err = c.persist.Write(ctx, storage.KeyTransactions, blob)
	}
	if err != nil {
		c.logger.Warn("failed to persist transactions", zap.Error(err))
	}
}

// Restore loads the persisted transactions, and the persisted balance and
// summary when they are still inside the expiration window. Missing or
// corrupt entries are skipped.
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	var restored Snapshot
	txRaw, err := c.store.Get(ctx, storage.KeyTransactions)
	switch {
	case err == nil:
		var txs []TransactionRecord
		if err := json.Unmarshal(txRaw, &txs); err != nil {
			c.logger.Warn("discarding corrupt persisted transactions", zap.Error(err))
		} else {
			restored.Transactions = txs
		}
	case !storage.IsNotFound(err):
		return err
	}

	raw, err := c.store.Get(ctx, storage.KeyBalanceDataCache)
	switch {
	case err == nil:
		var p persistedSnapshot
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Warn("discarding corrupt persisted snapshot", zap.Error(err))
			break
		}
		if p.Timestamp == 0 {
			break
		}
		ts := time.UnixMilli(p.Timestamp)
		if c.classify(c.now().Sub(ts)) == Expired {
			c.logger.Debug("persisted snapshot expired", zap.Time("timestamp", ts))
			break
		}
		restored.Timestamp = ts
		restored.Balance = p.BalanceData
		if p.BalanceData != nil {
			restored.Balances = []BalanceRecord{*p.BalanceData}
		}
		restored.Summary = p.SummaryData
		if restored.Transactions == nil {
			restored.Transactions = p.TransactionData
		}
	case !storage.IsNotFound(err):
		return err
	}

	sortNewestFirst(restored.Transactions)

	c.mu.Lock()
	c.snap = restored
	c.mu.Unlock()
	if !restored.Timestamp.IsZero() {
		c.view.apply(event{kind: eventRefreshSucceeded, updated: restored.Timestamp})
	}
	c.logger.Debug("snapshot restored",
		zap.Bool("fresh", !restored.Timestamp.IsZero()),
		zap.Int("transactions", len(restored.Transactions)),
	)
	return nil
}
