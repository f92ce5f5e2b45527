// Package classifier turns raw bounce messages into bounce log records and
// suppression entries. Each message is classified against the domain's rule
// set, de-duplicated by (domain, message id), and — for terminal categories —
// upserted into the suppression list so the address is blocked account-wide.
package classifier

import (
	"context"
	"fmt"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/pkg/logger"
	"github.com/ignite/deliverability-guard/internal/rules"
	"github.com/ignite/deliverability-guard/internal/service/bouncelog"
	"github.com/ignite/deliverability-guard/internal/service/suppression"
)

// Classifier processes fetched bounce messages for one or more domains.
// Safe for concurrent use across domain cycles: all writes are keyed
// upserts.
type Classifier struct {
	log  *bouncelog.Service
	supp *suppression.Service
}

// New creates a classifier writing to the given bounce log and suppression
// list.
func New(log *bouncelog.Service, supp *suppression.Service) *Classifier {
	return &Classifier{log: log, supp: supp}
}

// Process classifies one raw message for a domain. Parse failures still
// produce a (failed) record so the cycle continues; only persistence
// failures return an error, which aborts the cycle for retry next tick.
// Returns the written record, or nil if the message was already processed.
func (c *Classifier) Process(ctx context.Context, domainID string, rs rules.RuleSet, msg domain.RawBounceMessage) (*domain.BounceRecord, error) {
	record := &domain.BounceRecord{
		DomainID:    domainID,
		MessageID:   msg.MessageID,
		RawMessage:  msg.Raw,
		ProcessedAt: msg.ReceivedAt,
	}

	env, err := extractEnvelope(msg.Raw)
	if err != nil {
		record.Status = domain.BounceFailed
		record.Category = domain.BounceUnknown
		record.Error = err.Error()
	} else {
		record.Status = domain.BounceProcessed
		record.Sender = env.Sender
		record.Recipient = suppression.Normalize(env.Recipient)
		record.Reason = env.Diagnostic
		record.Category = rs.Classify(env.Diagnostic)
	}

	inserted, err := c.log.Record(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("record bounce %s: %w", msg.MessageID, err)
	}

	// The upsert runs for duplicates too: a redelivered message is the retry
	// for a suppression write that failed after the original record insert.
	if record.Status == domain.BounceProcessed && record.Category.Terminal() && record.Recipient != "" {
		if err := c.supp.Suppress(ctx, record.Recipient, suppressionType(record.Category), domain.SourceBounceMailbox, record.Reason, map[string]string{
			"domain_id":  domainID,
			"message_id": msg.MessageID,
		}); err != nil {
			return nil, fmt.Errorf("suppress %s: %w", logger.RedactEmail(record.Recipient), err)
		}
	}

	if !inserted {
		logger.Debug("duplicate bounce skipped", "domain_id", domainID, "message_id", msg.MessageID)
		return nil, nil
	}

	logger.Debug("bounce classified",
		"domain_id", domainID,
		"message_id", msg.MessageID,
		"category", string(record.Category),
		"recipient", record.Recipient,
	)
	return record, nil
}

// suppressionType maps a terminal bounce category to the suppression type
// recorded on the list.
func suppressionType(c domain.BounceCategory) domain.SuppressionType {
	if c == domain.BounceSpam {
		return domain.SuppressionComplaint
	}
	return domain.SuppressionBounce
}
