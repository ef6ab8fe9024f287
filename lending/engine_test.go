package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendex/crypto"
	"lendex/oracle"
	"lendex/token"
)

type mockEngineState struct {
	pools     map[AssetClass]*AssetPool
	positions map[string]*Position
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		pools:     make(map[AssetClass]*AssetPool),
		positions: make(map[string]*Position),
	}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) GetPool(asset AssetClass) (*AssetPool, error) {
	return m.pools[asset], nil
}

func (m *mockEngineState) PutPool(pool *AssetPool) error {
	m.pools[pool.Asset] = pool
	return nil
}

func (m *mockEngineState) GetPosition(owner crypto.Address) (*Position, error) {
	return m.positions[m.key(owner)], nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	m.positions[m.key(position.Owner)] = position
	return nil
}

func makeAddress(prefix crypto.AddressPrefix, fill byte) crypto.Address {
	b := make([]byte, 20)
	for i := range b {
		b[i] = fill
	}
	return crypto.NewAddress(prefix, b)
}

const testNow int64 = 1_700_000_000

type testHarness struct {
	engine    *Engine
	state     *mockEngineState
	vault     *token.VaultLedger
	feeds     *oracle.StaticSource
	authority crypto.Address
	primary   *AssetPool
	secondary *AssetPool
	now       int64
}

// newTestHarness wires an engine against in-memory collaborators with both
// pools initialised at a fixed clock. Rates default to zero so tests control
// accrual explicitly.
func newTestHarness(t *testing.T, params RiskParameters) *testHarness {
	t.Helper()

	h := &testHarness{
		state:     newMockEngineState(),
		vault:     token.NewVaultLedger(),
		feeds:     oracle.NewStaticSource(),
		authority: makeAddress(crypto.AccountPrefix, 0x01),
		now:       testNow,
	}
	h.engine = NewEngine()
	h.engine.SetState(h.state)
	h.engine.SetTransferService(h.vault)
	h.engine.SetPriceSource(h.feeds)
	h.engine.SetTimeSource(func() int64 { return h.now })

	var err error
	h.primary, err = h.engine.InitializePool(h.authority, AssetPrimary, "SOL", 9, "SOL/USD", params)
	if err != nil {
		t.Fatalf("init primary pool: %v", err)
	}
	h.secondary, err = h.engine.InitializePool(h.authority, AssetSecondary, "USDC", 6, "USDC/USD", params)
	if err != nil {
		t.Fatalf("init secondary pool: %v", err)
	}
	h.vault.RegisterReserve(h.primary.ReserveAddress, h.authority)
	h.vault.RegisterReserve(h.secondary.ReserveAddress, h.authority)

	h.feeds.Publish("SOL/USD", big.NewRat(1, 1), testNow)
	h.feeds.Publish("USDC/USD", big.NewRat(1, 1), testNow)
	return h
}

func defaultRiskParams() RiskParameters {
	return RiskParameters{
		LiquidationThresholdBps:   8_000,
		MaxLTVBps:                 7_500,
		LiquidationBonusBps:       500,
		LiquidationCloseFactorBps: 5_000,
	}
}

func (h *testHarness) newUser(t *testing.T, fill byte, reference AssetClass) crypto.Address {
	t.Helper()
	user := makeAddress(crypto.AccountPrefix, fill)
	if _, err := h.engine.InitializePosition(user, reference); err != nil {
		t.Fatalf("init position: %v", err)
	}
	return user
}

func (h *testHarness) fund(user crypto.Address, pool *AssetPool, amount int64) {
	h.vault.Credit(token.AccountRef{Holder: user, Denom: pool.Denom}, big.NewInt(amount))
}

func (h *testHarness) pool(asset AssetClass) *AssetPool {
	return h.state.pools[asset]
}

func (h *testHarness) position(user crypto.Address) *Position {
	return h.state.positions[h.state.key(user)]
}

func TestInitializePoolRejectsDuplicate(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	if _, err := h.engine.InitializePool(h.authority, AssetPrimary, "SOL", 9, "SOL/USD", defaultRiskParams()); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
}

func TestInitializePoolRejectsInvalidThreshold(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	params := defaultRiskParams()
	params.LiquidationThresholdBps = 10_001
	if _, err := h.engine.InitializePool(h.authority, AssetPrimary, "SOL", 9, "SOL/USD", params); err == nil {
		t.Fatal("expected threshold validation error")
	}
}

func TestInitializePositionRejectsDuplicate(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)
	if _, err := h.engine.InitializePosition(user, AssetSecondary); !errors.Is(err, ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestDepositSeedsPoolOneToOne(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)
	h.fund(user, h.primary, 500)

	if err := h.engine.Deposit(user, AssetPrimary, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	pool := h.pool(AssetPrimary)
	if pool.TotalDeposits.Cmp(big.NewInt(500)) != 0 || pool.TotalDepositShares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected pool totals: %s/%s", pool.TotalDeposits, pool.TotalDepositShares)
	}
	leg := h.position(user).Leg(AssetPrimary)
	if leg.DepositAmount.Cmp(big.NewInt(500)) != 0 || leg.DepositShares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected position leg: %s/%s", leg.DepositAmount, leg.DepositShares)
	}
}

func TestSecondDepositorReceivesProportionalShares(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	first := h.newUser(t, 0x20, AssetSecondary)
	second := h.newUser(t, 0x21, AssetSecondary)
	h.fund(first, h.primary, 500)
	h.fund(second, h.primary, 500)

	if err := h.engine.Deposit(first, AssetPrimary, big.NewInt(500)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if err := h.engine.Deposit(second, AssetPrimary, big.NewInt(500)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	pool := h.pool(AssetPrimary)
	if pool.TotalDeposits.Cmp(big.NewInt(1_000)) != 0 || pool.TotalDepositShares.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected pool totals: %s/%s", pool.TotalDeposits, pool.TotalDepositShares)
	}
	leg := h.position(second).Leg(AssetPrimary)
	if leg.DepositShares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 shares for second depositor, got %s", leg.DepositShares)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := h.engine.Deposit(user, AssetPrimary, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestDepositTransferFailureLeavesLedgerUntouched(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)
	// No funding: the vault rejects the debit.

	err := h.engine.Deposit(user, AssetPrimary, big.NewInt(100))
	if !errors.Is(err, ErrTransferRejected) {
		t.Fatalf("expected ErrTransferRejected, got %v", err)
	}
	pool := h.pool(AssetPrimary)
	if pool.TotalDeposits.Sign() != 0 || pool.TotalDepositShares.Sign() != 0 {
		t.Fatalf("pool mutated despite failed transfer: %s/%s", pool.TotalDeposits, pool.TotalDepositShares)
	}
	leg := h.position(user).Leg(AssetPrimary)
	if leg.DepositAmount.Sign() != 0 {
		t.Fatalf("position mutated despite failed transfer: %s", leg.DepositAmount)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)
	h.fund(user, h.primary, 1_000)

	if err := h.engine.Deposit(user, AssetPrimary, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Withdraw(user, AssetPrimary, big.NewInt(1_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	leg := h.position(user).Leg(AssetPrimary)
	if leg.DepositAmount.Sign() != 0 || leg.DepositShares.Sign() != 0 {
		t.Fatalf("position not restored: %s/%s", leg.DepositAmount, leg.DepositShares)
	}
	pool := h.pool(AssetPrimary)
	if pool.TotalDeposits.Sign() != 0 || pool.TotalDepositShares.Sign() != 0 {
		t.Fatalf("pool not restored: %s/%s", pool.TotalDeposits, pool.TotalDepositShares)
	}
	balance := h.vault.Balance(token.AccountRef{Holder: user, Denom: h.primary.Denom})
	if balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected restored balance 1000, got %s", balance)
	}
}

func TestWithdrawRejectsOverdraw(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)
	h.fund(user, h.primary, 100)

	if err := h.engine.Deposit(user, AssetPrimary, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Withdraw(user, AssetPrimary, big.NewInt(101)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPoolTotalsAndSharesZeroTogether(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	user := h.newUser(t, 0x20, AssetSecondary)
	h.fund(user, h.primary, 750)

	checkPairing := func(step string) {
		pool := h.pool(AssetPrimary)
		depositsZero := pool.TotalDeposits.Sign() == 0
		sharesZero := pool.TotalDepositShares.Sign() == 0
		if depositsZero != sharesZero {
			t.Fatalf("%s: totals %s and shares %s not zero together", step, pool.TotalDeposits, pool.TotalDepositShares)
		}
		borrowsZero := pool.TotalBorrows.Sign() == 0
		borrowSharesZero := pool.TotalBorrowShares.Sign() == 0
		if borrowsZero != borrowSharesZero {
			t.Fatalf("%s: borrow totals %s and shares %s not zero together", step, pool.TotalBorrows, pool.TotalBorrowShares)
		}
	}

	checkPairing("initial")
	if err := h.engine.Deposit(user, AssetPrimary, big.NewInt(750)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	checkPairing("after deposit")
	if err := h.engine.Withdraw(user, AssetPrimary, big.NewInt(750)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	checkPairing("after withdraw")
}

func TestShareConservationAcrossUsers(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	users := []crypto.Address{
		h.newUser(t, 0x20, AssetSecondary),
		h.newUser(t, 0x21, AssetSecondary),
		h.newUser(t, 0x22, AssetSecondary),
	}
	amounts := []int64{733, 1_291, 57, 2_000, 311}

	for i, amount := range amounts {
		user := users[i%len(users)]
		h.fund(user, h.primary, amount)
		if err := h.engine.Deposit(user, AssetPrimary, big.NewInt(amount)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	if err := h.engine.Withdraw(users[0], AssetPrimary, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	sum := big.NewInt(0)
	for _, user := range users {
		sum.Add(sum, h.position(user).Leg(AssetPrimary).DepositShares)
	}
	pool := h.pool(AssetPrimary)
	if sum.Cmp(pool.TotalDepositShares) != 0 {
		t.Fatalf("share conservation broken: users %s, pool %s", sum, pool.TotalDepositShares)
	}
}

// Truncating share math must never let recorded user deposits outgrow the
// pool backing, no matter how deposits and withdrawals interleave.
func TestTruncationDriftNeverExceedsPoolBacking(t *testing.T) {
	h := newTestHarness(t, defaultRiskParams())
	users := []crypto.Address{
		h.newUser(t, 0x20, AssetSecondary),
		h.newUser(t, 0x21, AssetSecondary),
	}

	amounts := []int64{999, 1, 37, 4_242, 13, 777, 100_000, 3}
	for round := 0; round < 4; round++ {
		for i, amount := range amounts {
			user := users[(round+i)%len(users)]
			h.fund(user, h.primary, amount)
			if err := h.engine.Deposit(user, AssetPrimary, big.NewInt(amount)); err != nil {
				t.Fatalf("round %d deposit %d: %v", round, i, err)
			}
		}
		for i, amount := range amounts {
			user := users[(round+i)%len(users)]
			err := h.engine.Withdraw(user, AssetPrimary, big.NewInt(amount))
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("round %d withdraw %d: %v", round, i, err)
			}
		}

		pool := h.pool(AssetPrimary)
		recorded := big.NewInt(0)
		for _, user := range users {
			recorded.Add(recorded, h.position(user).Leg(AssetPrimary).DepositAmount)
		}
		if recorded.Cmp(pool.TotalDeposits) > 0 {
			t.Fatalf("round %d: recorded deposits %s exceed pool backing %s", round, recorded, pool.TotalDeposits)
		}
		sumShares := big.NewInt(0)
		for _, user := range users {
			sumShares.Add(sumShares, h.position(user).Leg(AssetPrimary).DepositShares)
		}
		if sumShares.Cmp(pool.TotalDepositShares) != 0 {
			t.Fatalf("round %d: share conservation broken: %s vs %s", round, sumShares, pool.TotalDepositShares)
		}
	}
}
