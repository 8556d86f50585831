package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/logger"
)

// flowEntry caches a lookup result; a nil flow remembers a miss.
type flowEntry struct {
	flow *domain.Flow
}

type flowKey struct {
	botID   string
	trigger string
}

// Cached puts a TTL cache in front of the read-mostly bot and flow lookups.
// Writes made through it evict the affected entries; writes made elsewhere
// become visible once the TTL runs out.
type Cached struct {
	Store
	bots  otter.Cache[string, domain.Bot]
	flows otter.Cache[flowKey, flowEntry]
}

// NewCached wraps next with caches of the given capacity and TTL.
func NewCached(next Store, capacity int, ttl time.Duration) (*Cached, error) {
	bots, err := otter.MustBuilder[string, domain.Bot](capacity).WithTTL(ttl).Build()
	if err != nil {
		return nil, fmt.Errorf("bot cache with capacity %d: %w", capacity, err)
	}
	flows, err := otter.MustBuilder[flowKey, flowEntry](capacity).WithTTL(ttl).Build()
	if err != nil {
		bots.Close()
		return nil, fmt.Errorf("flow cache with capacity %d: %w", capacity, err)
	}
	return &Cached{Store: next, bots: bots, flows: flows}, nil
}

// Close releases the cache goroutines.
func (c *Cached) Close() {
	c.bots.Close()
	c.flows.Close()
}

func (c *Cached) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	if b, ok := c.bots.Get(id); ok {
		logger.Debug(ctx, logger.CompStore, "bot.lookup", slog.String("cache", "hit"))
		return &b, nil
	}
	b, err := c.Store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	c.bots.Set(id, *b)
	logger.Debug(ctx, logger.CompStore, "bot.lookup", slog.String("cache", "miss"))
	return b, nil
}

func (c *Cached) CreateBot(ctx context.Context, b *domain.Bot) error {
	if err := c.Store.CreateBot(ctx, b); err != nil {
		return err
	}
	c.bots.Delete(b.ID)
	return nil
}

func (c *Cached) SetWebhook(ctx context.Context, id string, set bool, url string) error {
	defer c.bots.Delete(id)
	return c.Store.SetWebhook(ctx, id, set, url)
}

func (c *Cached) DefaultFlow(ctx context.Context, botID string) (*domain.Flow, error) {
	return c.flow(ctx, flowKey{botID: botID}, func() (*domain.Flow, error) {
		return c.Store.DefaultFlow(ctx, botID)
	})
}

func (c *Cached) FlowByTrigger(ctx context.Context, botID, trigger string) (*domain.Flow, error) {
	if trigger == "" {
		return nil, ErrNotFound
	}
	return c.flow(ctx, flowKey{botID: botID, trigger: trigger}, func() (*domain.Flow, error) {
		return c.Store.FlowByTrigger(ctx, botID, trigger)
	})
}

func (c *Cached) flow(ctx context.Context, key flowKey, load func() (*domain.Flow, error)) (*domain.Flow, error) {
	if e, ok := c.flows.Get(key); ok {
		if e.flow == nil {
			return nil, ErrNotFound
		}
		f := *e.flow
		return &f, nil
	}
	f, err := load()
	switch {
	case errors.Is(err, ErrNotFound):
		c.flows.Set(key, flowEntry{})
		return nil, err
	case err != nil:
		return nil, err
	}
	cp := *f
	c.flows.Set(key, flowEntry{flow: &cp})
	return f, nil
}

func (c *Cached) CreateFlow(ctx context.Context, f *domain.Flow) error {
	if err := c.Store.CreateFlow(ctx, f); err != nil {
		return err
	}
	c.flows.DeleteByFunc(func(k flowKey, _ flowEntry) bool { return k.botID == f.BotID })
	return nil
}
