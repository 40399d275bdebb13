// Package submitter feeds resolved external outcomes into the guided
// oracle contract, at most once per market id.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/pkg/txsign"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// ServiceConfig holds configuration for the oracle submitter.
type ServiceConfig struct {
	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// Deps are the submitter's outbound dependencies. Alerts and Metrics are
// optional.
type Deps struct {
	Reader      *contracts.Reader
	Registry    *contracts.Registry
	Sender      *txsign.Sender
	Markets     outbound.MarketRepository
	Submissions outbound.SubmissionRepository
	Alerts      outbound.AlertSink
	Metrics     outbound.MetricsRecorder
}

// Service submits resolved outcomes through submitOutcome.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService creates the oracle submitter.
func NewService(config ServiceConfig, deps Deps) (*Service, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("contract reader cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("contract registry cannot be nil")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("transaction sender cannot be nil")
	}
	if deps.Markets == nil {
		return nil, fmt.Errorf("market repository cannot be nil")
	}
	if deps.Submissions == nil {
		return nil, fmt.Errorf("submission repository cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		logger: logger.With("component", "oracle-submitter"),
	}, nil
}

// VerifyBotKey checks the signing key against the contract's configured
// oracle bot. A mismatch is fatal: submissions from any other key revert,
// so the service must not start.
func (s *Service) VerifyBotKey(ctx context.Context) error {
	bot, err := s.deps.Reader.OracleBot(ctx)
	if err != nil {
		return fmt.Errorf("reading oracleBot: %w", err)
	}
	from := s.deps.Sender.From()
	if bot == from {
		return nil
	}

	s.alert(ctx, outbound.Alert{
		Severity:  outbound.AlertFatal,
		Component: "oracle-submitter",
		Message:   "signing key is not the configured oracle bot",
		Details: map[string]string{
			"configured": bot.Hex(),
			"signer":     from.Hex(),
		},
	})
	return fmt.Errorf("signing key %s is not the oracle bot %s", from.Hex(), bot.Hex())
}

// SubmitPending submits every resolved market without a confirmed
// submission. Individual failures are collected; the rest of the batch
// proceeds.
func (s *Service) SubmitPending(ctx context.Context) error {
	pending, err := s.deps.Markets.ListSubmittable(ctx)
	if err != nil {
		return fmt.Errorf("listing submittable markets: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	s.logger.Info("submitting outcomes", "count", len(pending))

	var errs []error
	for _, m := range pending {
		if err := s.submitOne(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("market %s: %w", m.MarketID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) submitOne(ctx context.Context, m outbound.MarketSubmittable) error {
	// The outcome may already be on-chain from a run that died before its
	// database commit; record it instead of sending a duplicate.
	outcome, err := s.deps.Reader.Outcome(ctx, m.MarketID)
	if err != nil {
		return fmt.Errorf("reading outcome: %w", err)
	}
	if outcome.IsSet {
		return s.recordExisting(ctx, m.MarketID, outcome)
	}

	resultBytes := []byte(m.Outcome)
	receipt, err := s.deps.Sender.Send(ctx, s.deps.Registry.GuidedOracleAddress(),
		s.deps.Registry.GuidedOracleABI(), "submitOutcome", m.MarketID, resultBytes)
	switch {
	case err == nil:
	case errors.Is(err, txsign.ErrOutcomeAlreadyExists):
		existing, readErr := s.deps.Reader.Outcome(ctx, m.MarketID)
		if readErr != nil {
			return fmt.Errorf("reading existing outcome: %w", readErr)
		}
		return s.recordExisting(ctx, m.MarketID, existing)
	case errors.Is(err, txsign.ErrInsufficientFunds):
		s.alert(ctx, outbound.Alert{
			Severity:  outbound.AlertCritical,
			Component: "oracle-submitter",
			Message:   "oracle bot wallet cannot cover gas",
			Details:   map[string]string{"marketId": m.MarketID},
		})
		return err
	default:
		return fmt.Errorf("sending submitOutcome: %w", err)
	}

	submission, err := entity.NewOracleSubmission(m.MarketID, resultBytes,
		receipt.TxHash.Bytes(), receipt.BlockNumber.Uint64(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("building submission: %w", err)
	}
	if _, err := s.deps.Submissions.Insert(ctx, submission); err != nil {
		return fmt.Errorf("recording submission: %w", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOutcomeSubmitted(ctx)
	}
	s.logger.Info("outcome submitted",
		"marketId", m.MarketID, "poolId", m.PoolID,
		"outcome", m.Outcome, "tx", receipt.TxHash)
	return nil
}

// recordExisting mirrors an outcome that reached the contract through a
// transaction this process never confirmed. The transaction hash is unknown
// and stored as zero.
func (s *Service) recordExisting(ctx context.Context, marketID string, outcome *contracts.OracleOutcome) error {
	submission, err := entity.NewOracleSubmission(marketID, outcome.Result,
		make([]byte, 32), 0, outcome.Timestamp)
	if err != nil {
		return fmt.Errorf("building submission: %w", err)
	}
	inserted, err := s.deps.Submissions.Insert(ctx, submission)
	if err != nil {
		return fmt.Errorf("recording existing submission: %w", err)
	}
	if inserted {
		s.logger.Info("recorded pre-existing outcome", "marketId", marketID)
	}
	return nil
}

func (s *Service) alert(ctx context.Context, alert outbound.Alert) {
	if s.deps.Alerts == nil {
		return
	}
	if err := s.deps.Alerts.Publish(ctx, alert); err != nil {
		s.logger.Error("publishing alert failed", "error", err)
	}
}
