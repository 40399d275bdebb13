package oddyssey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/ports/outbound"
	"github.com/bitredict/relayer/internal/services/indexer"
)

var _ indexer.LogHandler = (*Handler)(nil)

// StreamName is the indexer cursor stream for the Oddyssey contract.
const StreamName = "oddyssey"

// HandlerConfig holds configuration for the Oddyssey event handler.
type HandlerConfig struct {
	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// HandlerDeps are the handler's outbound dependencies.
type HandlerDeps struct {
	Reader   *contracts.Reader
	Registry *contracts.Registry
	Cycles   outbound.CycleRepository
	Slips    outbound.SlipRepository
}

// Handler mirrors Oddyssey contract events: slips, prize claims and cycle
// resolutions that happened outside this process.
type Handler struct {
	deps   HandlerDeps
	logger *slog.Logger
}

// NewHandler creates the Oddyssey event handler.
func NewHandler(config HandlerConfig, deps HandlerDeps) (*Handler, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("contract reader cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("contract registry cannot be nil")
	}
	if deps.Cycles == nil {
		return nil, fmt.Errorf("cycle repository cannot be nil")
	}
	if deps.Slips == nil {
		return nil, fmt.Errorf("slip repository cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:   deps,
		logger: logger.With("component", "oddyssey-handler"),
	}, nil
}

// Stream implements indexer.LogHandler.
func (h *Handler) Stream() string { return StreamName }

// Address implements indexer.LogHandler.
func (h *Handler) Address() common.Address {
	return h.deps.Registry.OddysseyAddress()
}

// HandleLog implements indexer.LogHandler.
func (h *Handler) HandleLog(ctx context.Context, tx pgx.Tx, log types.Log) error {
	name, ok := h.deps.Registry.EventName(log)
	if !ok {
		return nil
	}
	switch name {
	case contracts.EventSlipPlaced:
		return h.handleSlipPlaced(ctx, tx, log)
	case contracts.EventCycleResolved:
		return h.handleCycleResolved(ctx, log)
	case contracts.EventPrizeClaimed:
		return h.handlePrizeClaimed(ctx, tx, log)
	default:
		// CycleStarted and SlipEvaluated originate from this process's
		// own transactions; the driver and evaluator own that state.
		return nil
	}
}

// handleSlipPlaced mirrors a slip. The event carries only ids, so the full
// predictions come from the getSlip view.
func (h *Handler) handleSlipPlaced(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := h.deps.Registry.ParseSlipPlaced(log)
	if err != nil {
		return err
	}
	slip, err := h.deps.Reader.Slip(ctx, event.SlipID)
	if err != nil {
		return fmt.Errorf("reading slip %d: %w", event.SlipID, err)
	}
	if slip.CycleID != event.CycleID {
		return fmt.Errorf("slip %d cycle mismatch: event %d, view %d",
			event.SlipID, event.CycleID, slip.CycleID)
	}

	inserted, err := h.deps.Slips.InsertSlip(ctx, tx, slip)
	if err != nil {
		return fmt.Errorf("inserting slip %d: %w", event.SlipID, err)
	}
	if inserted {
		h.logger.Info("slip mirrored",
			"slipId", event.SlipID, "cycleId", event.CycleID, "player", event.Player)
	}
	return nil
}

// handleCycleResolved reconciles a resolution this process did not perform
// (an operator or a second deployment resolved the cycle).
func (h *Handler) handleCycleResolved(ctx context.Context, log types.Log) error {
	event, err := h.deps.Registry.ParseCycleResolved(log)
	if err != nil {
		return err
	}
	cycle, err := h.deps.Cycles.GetCycle(ctx, event.CycleID)
	if err != nil {
		return fmt.Errorf("loading cycle %d: %w", event.CycleID, err)
	}
	if cycle == nil {
		h.logger.Warn("resolution for unknown cycle", "cycleId", event.CycleID)
		return nil
	}
	if cycle.State == entity.CycleResolved {
		return nil
	}

	if cycle.State == entity.CycleActive {
		err := h.deps.Cycles.TransitionState(ctx, event.CycleID,
			entity.CycleActive, entity.CycleEnded)
		if err != nil {
			return fmt.Errorf("marking cycle %d ended: %w", event.CycleID, err)
		}
	}
	resolvedAt := time.Unix(event.Timestamp, 0).UTC()
	if err := h.deps.Cycles.MarkResolved(ctx, event.CycleID, log.TxHash.Bytes(), resolvedAt); err != nil {
		return fmt.Errorf("marking cycle %d resolved: %w", event.CycleID, err)
	}
	err = h.deps.Cycles.TransitionState(ctx, event.CycleID,
		entity.CycleEnded, entity.CycleResolved)
	if err != nil {
		return fmt.Errorf("transitioning cycle %d: %w", event.CycleID, err)
	}
	h.logger.Info("cycle resolution reconciled", "cycleId", event.CycleID)
	return nil
}

func (h *Handler) handlePrizeClaimed(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := h.deps.Registry.ParsePrizeClaimed(log)
	if err != nil {
		return err
	}
	if err := h.deps.Slips.MarkPrizeClaimed(ctx, tx, event.SlipID); err != nil {
		return fmt.Errorf("marking slip %d claimed: %w", event.SlipID, err)
	}
	h.logger.Info("prize claim mirrored",
		"slipId", event.SlipID, "player", event.Player, "amount", event.Amount)
	return nil
}
