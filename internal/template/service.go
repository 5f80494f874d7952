package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/platform"
)

// SendCounter reports how many sends carried a template hash recently.
type SendCounter interface {
	CountTemplateSends(ctx context.Context, accountID uuid.UUID, templateHash string, since time.Time) (int, error)
}

// Service registers templates with the provider, reusing any record
// created for the same normalized content within the lookback window.
type Service struct {
	store    Store
	sender   platform.Sender
	counter  SendCounter
	lookback time.Duration
	spamWin  time.Duration
	spamMax  int
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a template service.
func NewService(log *slog.Logger, store Store, sender platform.Sender, counter SendCounter, cfg config.TemplateConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		sender:   sender,
		counter:  counter,
		lookback: cfg.Lookback(),
		spamWin:  cfg.SpamWindow(),
		spamMax:  cfg.SpamThreshold,
		logger:   log.With(slog.String("service", "template")),
		now:      time.Now,
	}
}

// FindOrCreate returns the template record for the content, registering
// it with the provider only when no non-rejected record with the same
// hash exists inside the lookback window.
func (s *Service) FindOrCreate(ctx context.Context, acct account.Account, content string) (Record, bool, error) {
	hash := Hash(content)

	existing, err := s.store.GetByHashSince(ctx, acct.ID, hash, s.now().Add(-s.lookback))
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, false, fmt.Errorf("template lookup: %w", err)
	}

	providerID, err := s.sender.CreateTemplate(ctx, acct.AccessToken, templateName(hash), content)
	if err != nil {
		return Record{}, false, fmt.Errorf("register template: %w", err)
	}

	record, err := s.store.Insert(ctx, Record{
		AccountID:          acct.ID,
		TemplateHash:       hash,
		ProviderTemplateID: providerID,
		Status:             StatusPending,
	})
	if err != nil {
		return Record{}, false, err
	}
	s.logger.Info("template submitted for approval",
		slog.String("account_id", acct.ID.String()),
		slog.String("template_hash", hash),
		slog.String("provider_template_id", providerID),
	)
	return record, false, nil
}

// CheckSpam logs a warning when the account has pushed the same
// template content past the threshold inside the window. It is a
// signal only; the send proceeds either way.
func (s *Service) CheckSpam(ctx context.Context, accountID uuid.UUID, templateHash string) {
	count, err := s.counter.CountTemplateSends(ctx, accountID, templateHash, s.now().Add(-s.spamWin))
	if err != nil {
		s.logger.Warn("template send count unavailable",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err),
		)
		return
	}
	if count > s.spamMax {
		s.logger.Warn("template send volume exceeds spam threshold",
			slog.String("account_id", accountID.String()),
			slog.String("template_hash", templateHash),
			slog.Int("sends_in_window", count),
			slog.Int("threshold", s.spamMax),
		)
	}
}

// templateName derives a stable provider-facing name from the hash.
func templateName(hash string) string {
	return "auto_" + hash[:16]
}
