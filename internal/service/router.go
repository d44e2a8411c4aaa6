package service

import (
	"context"
	"errors"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/features"
	"autoforwardx/internal/models"
	"autoforwardx/internal/privacy"
	"autoforwardx/internal/session"

	"github.com/sirupsen/logrus"
)

// RecoveryReport summarises a startup recovery pass.
type RecoveryReport struct {
	Accounts       int `json:"accounts"`
	AccountsFailed int `json:"accounts_failed"`
	Pairs          int `json:"pairs"`
	Replayed       int `json:"replayed"`
}

// Attach routes every message the session manager observes into the queue.
func (s *Service) Attach() {
	s.sessions.SetHandler(s.HandleInbound)
}

// HandleInbound dispatches one observed message to the pairs listening on its chat.
func (s *Service) HandleInbound(ctx context.Context, msg models.InboundMessage) {
	enqueued, err := s.dispatcher.Dispatch(ctx, msg)
	fields := logrus.Fields{
		constants.LogFieldAccountID: msg.AccountID,
		constants.LogFieldChatID:    privacy.MaskChatID(msg.ChatID),
		constants.LogFieldMessageID: msg.MessageID,
	}
	if err != nil {
		s.errLog.LogWarn(err, "Inbound message dispatch incomplete", fields)
		return
	}
	if enqueued > 0 {
		s.logger.WithFields(fields).WithField("tasks", enqueued).Debug("Inbound message dispatched")
	}
}

// Recover restores state after a restart: it rebuilds the match index,
// reconnects every stored account and, when history recovery is enabled,
// replays messages each active pair missed since its checkpoint.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	pairs, err := s.pairs.Load(ctx)
	if err != nil {
		return report, err
	}
	report.Pairs = len(pairs)

	accounts, err := s.store.ListAccounts(ctx, "")
	if err != nil {
		return report, err
	}
	connected := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		report.Accounts++
		if err := s.sessions.Register(ctx, account); err != nil {
			report.AccountsFailed++
			s.errLog.LogWarn(err, "Account did not reconnect on startup", logrus.Fields{
				constants.LogFieldAccountID: account.ID,
				constants.LogFieldPlatform:  account.Platform,
			})
			continue
		}
		connected[account.ID] = true
	}

	if !s.flags.IsEnabled(features.FlagHistoryRecovery) {
		s.logger.WithFields(logrus.Fields(reportFields(report))).Info("Recovery finished without history replay")
		return report, nil
	}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if pair.Status != models.PairActive || pair.LastSourceMessageID == "" || !connected[pair.SourceAccountID] {
			continue
		}
		report.Replayed += s.replayPair(ctx, pair)
	}

	s.logger.WithFields(logrus.Fields(reportFields(report))).Info("Recovery finished")
	return report, nil
}

func (s *Service) replayPair(ctx context.Context, pair models.ForwardingPair) int {
	fields := logrus.Fields{
		constants.LogFieldPairID:    pair.ID,
		constants.LogFieldAccountID: pair.SourceAccountID,
	}
	limit := s.backfillLimit
	if limit <= 0 {
		limit = constants.DefaultHistoryBackfillLimit
	}

	msgs, err := s.sessions.History(ctx, pair.SourceAccountID, pair.SourceChatID, pair.LastSourceMessageID, limit)
	if errors.Is(err, session.ErrUnsupported) {
		return 0
	}
	if err != nil {
		s.errLog.LogWarn(err, "History recovery failed for pair", fields)
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}

	n, err := s.dispatcher.Replay(ctx, pair, msgs)
	if err != nil {
		s.errLog.LogWarn(err, "History replay incomplete for pair", fields)
	}
	s.logger.WithFields(fields).WithField("tasks", n).Info("Replayed missed messages")
	return n
}

func reportFields(r RecoveryReport) map[string]interface{} {
	return map[string]interface{}{
		"accounts":        r.Accounts,
		"accounts_failed": r.AccountsFailed,
		"pairs":           r.Pairs,
		"replayed":        r.Replayed,
	}
}
