// Package whale implements connector.WhaleConnector for each tracked
// blockchain, plus the shared exchange-address tagging and threshold
// logic every chain-specific tracker needs, grounded on
// connectors/blockchain_base.py's BlockchainConnector base class.
package whale

import (
	"context"
	"strings"

	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
)

// Thresholds holds the whale/anomaly amount cutoffs for one chain (or
// one token on that chain), matching whale_threshold/anomaly_threshold
// in blockchain_base.py's config.
type Thresholds struct {
	WhaleAmount   float64
	AnomalyAmount float64
}

// ExchangeAddresses maps a known exchange wallet address (lowercased)
// to the exchange's display name, matching the exchange_addresses
// dict BlockchainConnector.is_exchange_address scans.
type ExchangeAddresses map[string]string

// Direction classifies from/to against the known exchange address set,
// the Go equivalent of determine_transaction_direction.
func Direction(from, to string, exchanges ExchangeAddresses) (isInflow, isOutflow bool, exchangeName string, direction domain.TxDirection) {
	fromName, fromIsExchange := lookup(from, exchanges)
	toName, toIsExchange := lookup(to, exchanges)

	switch {
	case toIsExchange && !fromIsExchange:
		return true, false, toName, domain.DirectionInflow
	case fromIsExchange && !toIsExchange:
		return false, true, fromName, domain.DirectionOutflow
	default:
		return false, false, "", domain.DirectionNeutral
	}
}

func lookup(address string, exchanges ExchangeAddresses) (string, bool) {
	lower := strings.ToLower(address)
	for addr, name := range exchanges {
		if strings.ToLower(addr) == lower {
			return name, true
		}
	}
	return "", false
}

// EnrichTransaction tags tx with exchange direction and, if it lacks a
// USD value, fills one in via conn.GetUSDPrice. It is a free function
// over the WhaleConnector interface rather than a method, mirroring
// BlockchainConnector.enrich_transaction's concrete (non-abstract)
// status in the Python base class.
func EnrichTransaction(ctx context.Context, conn connector.WhaleConnector, tx domain.WhaleTransaction, exchanges ExchangeAddresses) domain.WhaleTransaction {
	isIn, isOut, exchangeName, direction := Direction(tx.FromAddress, tx.ToAddress, exchanges)
	tx.IsExchangeIn = isIn
	tx.IsExchangeOut = isOut
	tx.Direction = direction
	if exchangeName != "" {
		tx.ExchangeName = &exchangeName
	}

	if tx.AmountUSD == nil {
		symbol := ""
		if tx.TokenSymbol != nil {
			symbol = *tx.TokenSymbol
		}
		price, err := conn.GetUSDPrice(ctx, symbol)
		if err == nil && !price.IsZero() {
			usd := tx.Amount.Mul(price)
			tx.AmountUSD = &usd
		}
	}

	tx.IsWhale, tx.IsAnomaly = conn.ClassifyTransaction(tx.Amount, derefOrEmpty(tx.TokenSymbol))

	return tx
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
