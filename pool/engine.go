// Package pool implements the BondMM state machine: a singleton pool of cash
// and present-value bonds quoting two-sided lend/borrow prices off a
// closed-form invariant. The transactional host serialises operations and
// supplies the block clock; the engine itself performs no locking beyond a
// reentrancy guard.
package pool

import (
	"errors"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"bondmm/events"
	"bondmm/fixedpoint"
	"bondmm/ledger"
	"bondmm/observability"
	"bondmm/oracle"
	"bondmm/pricing"
)

var (
	ErrNotInitialized     = errors.New("pool engine: not initialized")
	ErrAlreadyInitialized = errors.New("pool engine: already initialized")
	ErrPaused             = errors.New("pool engine: paused")
	ErrReentrancy         = errors.New("pool engine: reentrant call rejected")
	ErrFlashLoanDetected  = errors.New("pool engine: caller already mutated in this block")
	ErrInvalidAmount      = errors.New("pool engine: amount must be positive")
	ErrInvalidMaturity    = errors.New("pool engine: maturity outside configured bounds")
	ErrCollateralTooLow   = errors.New("pool engine: collateral below required ratio")
	ErrInsufficientCash   = errors.New("pool engine: insufficient pool cash")
	ErrNotOwner           = errors.New("pool engine: caller does not own position")
	ErrWrongPositionKind  = errors.New("pool engine: operation does not match position kind")
	ErrNotActive          = errors.New("pool engine: position is not active")
	ErrNotMature          = errors.New("pool engine: position has not matured")
	ErrGraceNotExpired    = errors.New("pool engine: grace period has not expired")
	ErrInsolvent          = errors.New("pool engine: solvency floor violated")
	ErrLedgerTransfer     = errors.New("pool engine: ledger transfer failed")
	ErrNilCollaborator    = errors.New("pool engine: collaborator not configured")
)

// Engine is the central pool state machine. It is not safe for concurrent
// use: the host executes one operation at a time and supplies the block
// context before each call.
type Engine struct {
	entered bool

	cash        fixedpoint.Dec
	pvBonds     fixedpoint.Dec
	liabilities fixedpoint.Dec
	initialCash fixedpoint.Dec
	lastAccrual uint64
	initialized bool
	paused      bool

	params Params

	store   *PositionStore
	ledger  ledger.Ledger
	oracle  *oracle.Adapter
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.PoolMetricsRegistry

	poolAccount  common.Address
	blockHeight  uint64
	blockTime    uint64
	lastMutation map[common.Address]uint64
}

// NewEngine constructs an engine bound to the pool's ledger account and its
// collaborators. Initialize must be called before any trade.
func NewEngine(poolAccount common.Address, store *PositionStore, lgr ledger.Ledger, orc *oracle.Adapter) *Engine {
	return &Engine{
		params:       DefaultParams(),
		store:        store,
		ledger:       lgr,
		oracle:       orc,
		emitter:      events.NoopEmitter{},
		logger:       slog.Default(),
		metrics:      observability.PoolMetrics(),
		poolAccount:  poolAccount,
		lastMutation: make(map[common.Address]uint64),
	}
}

// SetEmitter wires the event sink shared with the gateway.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
	if e.oracle != nil {
		e.oracle.SetEmitter(emitter)
	}
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetBlockContext records the host block height and timestamp used by the
// next operation. The host clock is monotone.
func (e *Engine) SetBlockContext(height, timestamp uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
	e.blockTime = timestamp
}

func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrancy
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() { e.entered = false }

// prePhase runs the shared mutation preamble: initialization, pause policy,
// the per-block flash-loan guard, and liability accrual.
func (e *Engine) prePhase(caller common.Address, pauseBlocked bool) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if pauseBlocked && e.paused {
		return ErrPaused
	}
	if last, ok := e.lastMutation[caller]; ok && last == e.blockHeight {
		return ErrFlashLoanDetected
	}
	return e.accrue()
}

// accrue advances the liability aggregate from the last accrual point to the
// current block time: L <- L * e^{r*dt/Y}. A stale oracle skips the growth
// but still advances the clock so a feed outage cannot compound debt
// retroactively once it recovers.
func (e *Engine) accrue() error {
	now := e.blockTime
	if now <= e.lastAccrual {
		return nil
	}
	if e.liabilities.IsZero() {
		e.lastAccrual = now
		return nil
	}
	if e.oracle == nil || e.oracle.Stale() {
		e.lastAccrual = now
		return nil
	}
	anchor, err := e.oracle.CurrentRate()
	if err != nil {
		e.lastAccrual = now
		return nil
	}
	rate, err := pricing.Rate(e.pvBonds, e.cash, anchor)
	if err != nil {
		return err
	}
	span := pricing.YearFraction(now - e.lastAccrual)
	exponent, err := rate.Mul(span)
	if err != nil {
		return err
	}
	growth, err := exponent.Exp()
	if err != nil {
		return err
	}
	grown, err := e.liabilities.Mul(growth)
	if err != nil {
		return err
	}
	e.liabilities = grown
	e.lastAccrual = now
	e.metrics.ObserveAccrual(decToFloat(growth))
	return nil
}

// solvencyOK evaluates cash + liabilities >= threshold * initialCash for a
// prospective state.
func (e *Engine) solvencyOK(cash, liabilities fixedpoint.Dec) bool {
	floor, err := e.params.SolvencyThreshold.Mul(e.initialCash)
	if err != nil {
		return false
	}
	total, err := cash.Add(liabilities)
	if err != nil {
		return false
	}
	return total.Cmp(floor) >= 0
}

func (e *Engine) recordMutation(caller common.Address) {
	e.lastMutation[caller] = e.blockHeight
}

func (e *Engine) publishSolvency() {
	total, err := e.cash.Add(e.liabilities)
	if err != nil || e.initialCash.IsZero() {
		return
	}
	ratio, _ := new(big.Rat).SetFrac(total.Big(), e.initialCash.Big()).Float64()
	e.metrics.SetSolvencyRatio(ratio)
}

func decToFloat(d fixedpoint.Dec) float64 {
	f, _ := new(big.Rat).SetFrac(d.Big(), big.NewInt(1_000_000_000_000_000_000)).Float64()
	return f
}

// Initialize seeds the pool with its initial cash basis, transferring the
// amount from the caller. One-time.
func (e *Engine) Initialize(caller common.Address, initialCash fixedpoint.Dec) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	err := e.initialize(caller, initialCash)
	e.metrics.ObserveOperation("initialize", err)
	return err
}

func (e *Engine) initialize(caller common.Address, initialCash fixedpoint.Dec) error {
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if initialCash.IsZero() {
		return ErrInvalidAmount
	}
	if e.store == nil || e.ledger == nil || e.oracle == nil {
		return ErrNilCollaborator
	}
	if err := e.ledger.TransferFrom(caller, e.poolAccount, initialCash); err != nil {
		return errors.Join(ErrLedgerTransfer, err)
	}
	e.cash = initialCash
	e.pvBonds = initialCash
	e.liabilities = fixedpoint.Zero()
	e.initialCash = initialCash
	e.lastAccrual = e.blockTime
	e.initialized = true
	e.emitter.Emit(events.Initialized{InitialCash: initialCash})
	e.logger.Info("pool initialized", "initialCash", initialCash.String())
	e.publishSolvency()
	return nil
}

// Lend deposits cash against a claim on future cash: the caller pays amount
// now and receives a position paying its face value at maturity.
func (e *Engine) Lend(caller common.Address, amount fixedpoint.Dec, maturity uint64) (uint64, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.exit()
	id, err := e.lend(caller, amount, maturity)
	e.metrics.ObserveOperation("lend", err)
	return id, err
}

func (e *Engine) lend(caller common.Address, amount fixedpoint.Dec, maturity uint64) (uint64, error) {
	if err := e.prePhase(caller, true); err != nil {
		return 0, err
	}
	if amount.IsZero() {
		return 0, ErrInvalidAmount
	}
	span, err := e.maturitySpan(maturity)
	if err != nil {
		return 0, err
	}
	anchor, err := e.oracle.CurrentRate()
	if err != nil {
		return 0, err
	}

	faceValue, err := pricing.SolveBond(amount, e.pvBonds, e.cash, span, anchor, true)
	if err != nil {
		return 0, err
	}
	rate, err := pricing.Rate(e.pvBonds, e.cash, anchor)
	if err != nil {
		return 0, err
	}
	price, err := pricing.Discount(span, rate)
	if err != nil {
		return 0, err
	}
	// Floor keeps the bond reserve from being over-debited.
	deltaPV, err := faceValue.Mul(price)
	if err != nil {
		return 0, err
	}

	nextCash, err := e.cash.Add(amount)
	if err != nil {
		return 0, err
	}
	nextBonds, err := e.pvBonds.Sub(deltaPV)
	if err != nil {
		return 0, pricing.ErrInvalidTrade
	}
	if !e.solvencyOK(nextCash, e.liabilities) {
		return 0, ErrInsolvent
	}

	if err := e.ledger.TransferFrom(caller, e.poolAccount, amount); err != nil {
		return 0, errors.Join(ErrLedgerTransfer, err)
	}

	id, err := e.store.Allocate(Position{
		Owner:     caller,
		FaceValue: faceValue,
		Maturity:  maturity,
		InitialPV: deltaPV,
		CreatedAt: e.blockTime,
		Active:    true,
	})
	if err != nil {
		// Undo the deposit; pool state has not been touched yet.
		_ = e.ledger.Transfer(caller, amount)
		return 0, err
	}

	e.cash = nextCash
	e.pvBonds = nextBonds
	e.recordMutation(caller)
	e.emitter.Emit(events.Lend{
		Owner:      caller,
		PositionID: id,
		Amount:     amount,
		FaceValue:  faceValue,
		Maturity:   maturity,
	})
	e.logger.Info("lend",
		"position", id,
		"owner", caller.Hex(),
		"amount", amount.String(),
		"faceValue", faceValue.String(),
	)
	e.publishSolvency()
	e.refreshActiveGauge()
	return id, nil
}

// Borrow draws cash against posted collateral: the caller receives amount now
// and owes the position's face value at maturity.
func (e *Engine) Borrow(caller common.Address, amount fixedpoint.Dec, maturity uint64, collateral fixedpoint.Dec) (uint64, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.exit()
	id, err := e.borrow(caller, amount, maturity, collateral)
	e.metrics.ObserveOperation("borrow", err)
	return id, err
}

func (e *Engine) borrow(caller common.Address, amount fixedpoint.Dec, maturity uint64, collateral fixedpoint.Dec) (uint64, error) {
	if err := e.prePhase(caller, true); err != nil {
		return 0, err
	}
	if amount.IsZero() {
		return 0, ErrInvalidAmount
	}
	span, err := e.maturitySpan(maturity)
	if err != nil {
		return 0, err
	}
	required, err := e.params.CollateralRatio.MulUp(amount)
	if err != nil {
		return 0, err
	}
	if collateral.Lt(required) {
		return 0, ErrCollateralTooLow
	}
	if e.cash.Lt(amount) {
		return 0, ErrInsufficientCash
	}
	anchor, err := e.oracle.CurrentRate()
	if err != nil {
		return 0, err
	}

	faceValue, err := pricing.SolveBond(amount, e.pvBonds, e.cash, span, anchor, false)
	if err != nil {
		return 0, err
	}
	rate, err := pricing.Rate(e.pvBonds, e.cash, anchor)
	if err != nil {
		return 0, err
	}
	price, err := pricing.Discount(span, rate)
	if err != nil {
		return 0, err
	}
	deltaPV, err := faceValue.Mul(price)
	if err != nil {
		return 0, err
	}

	nextCash, err := e.cash.Sub(amount)
	if err != nil {
		return 0, ErrInsufficientCash
	}
	nextBonds, err := e.pvBonds.Add(deltaPV)
	if err != nil {
		return 0, err
	}
	nextLiabilities, err := e.liabilities.Add(deltaPV)
	if err != nil {
		return 0, err
	}
	if !e.solvencyOK(nextCash, nextLiabilities) {
		return 0, ErrInsolvent
	}

	if err := e.ledger.TransferFrom(caller, e.poolAccount, collateral); err != nil {
		return 0, errors.Join(ErrLedgerTransfer, err)
	}
	if err := e.ledger.Transfer(caller, amount); err != nil {
		_ = e.ledger.Transfer(caller, collateral)
		return 0, errors.Join(ErrLedgerTransfer, err)
	}

	id, err := e.store.Allocate(Position{
		Owner:      caller,
		FaceValue:  faceValue,
		Maturity:   maturity,
		Collateral: collateral,
		InitialPV:  deltaPV,
		CreatedAt:  e.blockTime,
		IsBorrow:   true,
		Active:     true,
	})
	if err != nil {
		_ = e.ledger.TransferFrom(caller, e.poolAccount, amount)
		_ = e.ledger.Transfer(caller, collateral)
		return 0, err
	}

	e.cash = nextCash
	e.pvBonds = nextBonds
	e.liabilities = nextLiabilities
	e.recordMutation(caller)
	e.emitter.Emit(events.Borrow{
		Owner:      caller,
		PositionID: id,
		Amount:     amount,
		FaceValue:  faceValue,
		Collateral: collateral,
		Maturity:   maturity,
	})
	e.logger.Info("borrow",
		"position", id,
		"owner", caller.Hex(),
		"amount", amount.String(),
		"faceValue", faceValue.String(),
		"collateral", collateral.String(),
	)
	e.publishSolvency()
	e.refreshActiveGauge()
	return id, nil
}

func (e *Engine) maturitySpan(maturity uint64) (uint64, error) {
	if maturity <= e.blockTime {
		return 0, ErrInvalidMaturity
	}
	span := maturity - e.blockTime
	if span < e.params.MinMaturity || span > e.params.MaxMaturity {
		return 0, ErrInvalidMaturity
	}
	return span, nil
}

func (e *Engine) refreshActiveGauge() {
	if count, err := e.store.ActiveCount(); err == nil {
		e.metrics.SetActivePositions(count)
	}
}

// --- Views ---

// Cash returns the pool cash reserve.
func (e *Engine) Cash() fixedpoint.Dec { return e.cash }

// PVBonds returns the present value of the pool bond inventory.
func (e *Engine) PVBonds() fixedpoint.Dec { return e.pvBonds }

// NetLiabilities returns the accrued present value of outstanding pool debt.
func (e *Engine) NetLiabilities() fixedpoint.Dec { return e.liabilities }

// Snapshot returns a read-only copy of the accounting state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Cash:           e.cash,
		PVBonds:        e.pvBonds,
		NetLiabilities: e.liabilities,
		InitialCash:    e.initialCash,
		LastAccrual:    e.lastAccrual,
		Paused:         e.paused,
		Initialized:    e.initialized,
	}
}

// CheckSolvency reports whether the current state satisfies the floor.
func (e *Engine) CheckSolvency() bool {
	return e.solvencyOK(e.cash, e.liabilities)
}

// CurrentRate quotes the pool's instantaneous rate off a fresh anchor.
func (e *Engine) CurrentRate() (fixedpoint.Dec, error) {
	if !e.initialized {
		return fixedpoint.Dec{}, ErrNotInitialized
	}
	anchor, err := e.oracle.CurrentRate()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return pricing.Rate(e.pvBonds, e.cash, anchor)
}

// AnchorRate returns the fresh anchor rate from the oracle.
func (e *Engine) AnchorRate() (fixedpoint.Dec, error) {
	if e.oracle == nil {
		return fixedpoint.Dec{}, ErrNilCollaborator
	}
	return e.oracle.CurrentRate()
}

// GetPosition returns the stored record for the identifier; unknown
// identifiers yield a zeroed inactive record.
func (e *Engine) GetPosition(id uint64) (Position, error) {
	if e.store == nil {
		return Position{}, ErrNilCollaborator
	}
	return e.store.Get(id)
}

// Params returns the current governance parameters.
func (e *Engine) Params() Params { return e.params }

// Paused reports whether origination is halted.
func (e *Engine) Paused() bool { return e.paused }

// --- Administration ---

// Pause halts origination and liquidation. Exits stay open.
func (e *Engine) Pause() {
	e.paused = true
	e.emitter.Emit(events.Paused{})
	e.logger.Warn("pool paused")
}

// Unpause resumes origination.
func (e *Engine) Unpause() {
	e.paused = false
	e.emitter.Emit(events.Unpaused{})
	e.logger.Info("pool unpaused")
}

// SetMinMaturity updates the origination floor, in seconds.
func (e *Engine) SetMinMaturity(v uint64) error {
	if err := e.params.validateMinMaturity(v); err != nil {
		return err
	}
	e.params.MinMaturity = v
	e.emitParam("minMaturity", formatSeconds(v))
	return nil
}

// SetMaxMaturity updates the origination ceiling, in seconds.
func (e *Engine) SetMaxMaturity(v uint64) error {
	if err := e.params.validateMaxMaturity(v); err != nil {
		return err
	}
	e.params.MaxMaturity = v
	e.emitParam("maxMaturity", formatSeconds(v))
	return nil
}

// SetCollateralRatio updates the origination collateral requirement.
func (e *Engine) SetCollateralRatio(v fixedpoint.Dec) error {
	if err := validateCollateralRatio(v); err != nil {
		return err
	}
	e.params.CollateralRatio = v
	e.emitParam("collateralRatio", v.String())
	return nil
}

// SetSolvencyThreshold updates the solvency floor ratio.
func (e *Engine) SetSolvencyThreshold(v fixedpoint.Dec) error {
	if err := validateSolvencyThreshold(v); err != nil {
		return err
	}
	e.params.SolvencyThreshold = v
	e.emitParam("solvencyThreshold", v.String())
	return nil
}

// SetGracePeriod updates the post-maturity repay window, in seconds.
func (e *Engine) SetGracePeriod(v uint64) error {
	if err := validateGracePeriod(v); err != nil {
		return err
	}
	e.params.GracePeriod = v
	e.emitParam("gracePeriod", formatSeconds(v))
	return nil
}

// SetLiquidationPenalty updates the penalty rate applied at liquidation.
func (e *Engine) SetLiquidationPenalty(v fixedpoint.Dec) error {
	if err := validateLiquidationPenalty(v); err != nil {
		return err
	}
	e.params.LiquidationPenalty = v
	e.emitParam("liquidationPenalty", v.String())
	return nil
}

// SetOracleSource swaps the anchor-rate publisher consumed by the adapter.
func (e *Engine) SetOracleSource(source oracle.RateSource) error {
	if e.oracle == nil {
		return ErrNilCollaborator
	}
	e.oracle.SetSource(source)
	e.emitParam("oracleSource", "rotated")
	return nil
}

// SetFallbackRate updates the bounded settlement fallback rate.
func (e *Engine) SetFallbackRate(v fixedpoint.Dec) error {
	if e.oracle == nil {
		return ErrNilCollaborator
	}
	if err := e.oracle.SetFallbackRate(v); err != nil {
		return err
	}
	e.emitParam("fallbackRate", v.String())
	return nil
}

func (e *Engine) emitParam(name, value string) {
	e.emitter.Emit(events.ParamUpdated{Name: name, Value: value})
	e.logger.Info("parameter updated", "name", name, "value", value)
}

func formatSeconds(v uint64) string {
	return strconv.FormatUint(v, 10) + "s"
}
