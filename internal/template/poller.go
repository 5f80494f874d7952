package template

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/platform"
)

// Poller periodically asks the provider for the approval status of
// every pending template and records transitions.
type Poller struct {
	store    Store
	accounts account.Store
	sender   platform.Sender
	cron     *cron.Cron
	interval int
	logger   *slog.Logger
}

// NewPoller creates a poller ticking every intervalMinutes.
func NewPoller(log *slog.Logger, store Store, accounts account.Store, sender platform.Sender, intervalMinutes int) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		store:    store,
		accounts: accounts,
		sender:   sender,
		cron:     cron.New(),
		interval: intervalMinutes,
		logger:   log.With(slog.String("service", "template_poller")),
	}
}

// Start schedules the poll loop. It returns after registering the
// cron entry; polling happens on the cron goroutine.
func (p *Poller) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %dm", p.interval)
	if _, err := p.cron.AddFunc(spec, func() { p.PollOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule template poll: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// PollOnce checks every pending template once. Per-record failures are
// logged and skipped so one broken account cannot stall the rest.
func (p *Poller) PollOnce(ctx context.Context) {
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		p.logger.Error("listing pending templates failed", slog.Any("error", err))
		return
	}

	for _, record := range pending {
		acct, err := p.accounts.GetByID(ctx, record.AccountID)
		if err != nil {
			p.logger.Warn("template poll skipped, account lookup failed",
				slog.String("template_id", record.ID.String()),
				slog.Any("error", err),
			)
			continue
		}

		status, err := p.sender.TemplateStatus(ctx, acct.AccessToken, record.ProviderTemplateID)
		if err != nil {
			p.logger.Warn("template status fetch failed",
				slog.String("provider_template_id", record.ProviderTemplateID),
				slog.Any("error", err),
			)
			continue
		}
		if status == StatusPending || status == record.Status {
			continue
		}

		if err := p.store.UpdateStatus(ctx, record.ID, status); err != nil {
			p.logger.Error("template status update failed",
				slog.String("template_id", record.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		p.logger.Info("template approval state changed",
			slog.String("account_id", record.AccountID.String()),
			slog.String("provider_template_id", record.ProviderTemplateID),
			slog.String("status", status),
		)
	}
}
