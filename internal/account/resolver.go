package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replydesk/replydesk/internal/resilience"
)

// Resolver maps a webhook routing identifier to its tenant account,
// caching hits so the ack path avoids a datastore round trip.
type Resolver struct {
	store   Store
	cache   *resilience.Cache
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// NewResolver creates a resolver. The breaker guards datastore reads
// and may be nil in tests.
func NewResolver(log *slog.Logger, store Store, cache *resilience.Cache, datastoreBreaker *resilience.Breaker) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:   store,
		cache:   cache,
		breaker: datastoreBreaker,
		logger:  log.With(slog.String("service", "account_resolver")),
	}
}

func cacheKey(routingID string) string { return "account:routing:" + routingID }

// Resolve returns the active account for routingID. A miss returns
// ErrNotFound after logging the full routing context; the caller is
// expected to ack and drop.
func (r *Resolver) Resolve(ctx context.Context, routingID string) (Account, error) {
	routingID = strings.TrimSpace(routingID)
	if routingID == "" {
		return Account{}, fmt.Errorf("routing id is empty: %w", ErrNotFound)
	}

	acct, err := resilience.GetOrCompute(ctx, r.cache, cacheKey(routingID), func(ctx context.Context) (Account, error) {
		return r.lookup(ctx, routingID)
	})
	if errors.Is(err, ErrNotFound) {
		r.logMiss(ctx, routingID)
		return Account{}, err
	}
	if err != nil {
		return Account{}, fmt.Errorf("resolve account %s: %w", routingID, err)
	}
	return acct, nil
}

func (r *Resolver) lookup(ctx context.Context, routingID string) (Account, error) {
	var acct Account
	var missErr error
	run := func(ctx context.Context) error {
		var err error
		acct, err = r.store.GetActiveByRoutingID(ctx, routingID)
		if errors.Is(err, ErrNotFound) {
			// A miss is an answer from the datastore, not a failure of
			// it; counting it would let unknown routing ids open the
			// breaker for every tenant.
			missErr = err
			return nil
		}
		return err
	}
	if r.breaker == nil {
		if err := run(ctx); err != nil {
			return Account{}, err
		}
		return acct, missErr
	}
	if err := r.breaker.Do(ctx, run); err != nil {
		return Account{}, err
	}
	return acct, missErr
}

// Invalidate drops the cached entry for routingID, called by anything
// that mutates account credentials or active state.
func (r *Resolver) Invalidate(routingID string) {
	r.cache.Invalidate(cacheKey(routingID))
}

// logMiss records the unknown routing identifier together with every
// known active one, so provisioning gaps are diagnosable from logs.
func (r *Resolver) logMiss(ctx context.Context, routingID string) {
	known, err := r.store.ListActiveRoutingIDs(ctx)
	if err != nil {
		r.logger.Warn("account not found; listing known routing ids failed",
			slog.String("routing_id", routingID),
			slog.Any("error", err),
		)
		return
	}
	r.logger.Warn("account not found for inbound webhook",
		slog.String("routing_id", routingID),
		slog.Any("known_routing_ids", known),
	)
}
