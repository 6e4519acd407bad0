//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
	"drivepass-billing/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// -----------------------------
// In-memory store shared by the repositories
// -----------------------------

// memStore mimics the Postgres schema: unique provider ids, unique payment_id on
// user_packages and at most one active row per user.
type memStore struct {
	mu           sync.Mutex
	packages     map[string]*model.Package
	payments     map[string]*model.Payment
	userPackages map[string]*model.UserPackage
	seq          int
}

func newMemStore() *memStore {
	return &memStore{
		packages:     map[string]*model.Package{},
		payments:     map[string]*model.Payment{},
		userPackages: map[string]*model.UserPackage{},
	}
}

func (s *memStore) snapshot() (map[string]model.Payment, map[string]model.UserPackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := make(map[string]model.Payment, len(s.payments))
	for k, v := range s.payments {
		ps[k] = *v
	}
	ups := make(map[string]model.UserPackage, len(s.userPackages))
	for k, v := range s.userPackages {
		ups[k] = *v
	}
	return ps, ups
}

func (s *memStore) restore(ps map[string]model.Payment, ups map[string]model.UserPackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = make(map[string]*model.Payment, len(ps))
	for k, v := range ps {
		cp := v
		s.payments[k] = &cp
	}
	s.userPackages = make(map[string]*model.UserPackage, len(ups))
	for k, v := range ups {
		cp := v
		s.userPackages[k] = &cp
	}
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *memStore) userPackagesOf(userID string) []model.UserPackage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UserPackage
	for _, up := range s.userPackages {
		if up.UserID == userID {
			out = append(out, *up)
		}
	}
	return out
}

func (s *memStore) activeCount(userID string) int {
	n := 0
	for _, up := range s.userPackagesOf(userID) {
		if up.Status == model.UserPackageStatusActive {
			n++
		}
	}
	return n
}

func (s *memStore) addPackage(p *model.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.packages[p.ID] = &cp
}

// ---- TxManager ----

type noTx struct{}

// memTxManager serializes transactions and rolls the store back when fn fails.
type memTxManager struct {
	mu    sync.Mutex
	store *memStore
	calls int
}

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ps, ups := m.store.snapshot()
	if err := fn(ctx, noTx{}); err != nil {
		m.store.restore(ps, ups)
		return err
	}
	return nil
}

// ---- PackageRepository ----

type memPackageRepo struct{ s *memStore }

var _ repository.PackageRepository = (*memPackageRepo)(nil)

func (r *memPackageRepo) Save(ctx context.Context, tx repository.Tx, p *model.Package) error {
	r.s.addPackage(p)
	return nil
}

func (r *memPackageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Package, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.packages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPackageRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Package, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Package
	for _, p := range r.s.packages {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- PaymentRepository ----

type memPaymentRepo struct {
	s *memStore

	insertErr error
	updateErr error
	findErr   error
}

var _ repository.PaymentRepository = (*memPaymentRepo)(nil)

func sameRef(p *model.Payment, ref model.ProviderRef) bool {
	r := p.Ref()
	return r.Provider == ref.Provider && r.ExternalID == ref.ExternalID
}

func (r *memPaymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.payments {
		if sameRef(existing, p.Ref()) {
			return domain.ErrAlreadyExists
		}
	}
	cp := *p
	r.s.payments[p.ID] = &cp
	return nil
}

func (r *memPaymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.payments[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *p
	if existing.SucceededAt != nil {
		cp.SucceededAt = existing.SucceededAt
	}
	r.s.payments[p.ID] = &cp
	return nil
}

func (r *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) FindByProviderRef(ctx context.Context, tx repository.Tx, ref model.ProviderRef) (*model.Payment, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if sameRef(p, ref) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.s.payments {
		if p.Status == model.PaymentStatusPending && p.UpdatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memPaymentRepo) ListSucceededWithoutPackage(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.s.payments {
		if p.Status != model.PaymentStatusSucceeded {
			continue
		}
		granted := false
		for _, up := range r.s.userPackages {
			if up.PaymentID == p.ID {
				granted = true
				break
			}
		}
		if !granted {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memPaymentRepo) SumSucceededByPeriod(ctx context.Context, tx repository.Tx, period string) (map[string]decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, p := range r.s.payments {
		if p.Status == model.PaymentStatusSucceeded {
			out[p.Currency] = out[p.Currency].Add(p.Amount)
		}
	}
	return out, nil
}

// ---- UserPackageRepository ----

type memUserPackageRepo struct {
	s *memStore

	expireErr error
	insertErr error
	locked    []string
}

var _ repository.UserPackageRepository = (*memUserPackageRepo)(nil)

func (r *memUserPackageRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.locked = append(r.locked, userID)
	return nil
}

func (r *memUserPackageRepo) ExpireActive(ctx context.Context, tx repository.Tx, userID string, at time.Time) (int64, error) {
	if r.expireErr != nil {
		return 0, r.expireErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, up := range r.s.userPackages {
		if up.UserID == userID && up.Status == model.UserPackageStatusActive {
			up.Status = model.UserPackageStatusExpired
			t := at
			up.ExpiredAt = &t
			n++
		}
	}
	return n, nil
}

func (r *memUserPackageRepo) Insert(ctx context.Context, tx repository.Tx, up *model.UserPackage) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.userPackages {
		if existing.PaymentID == up.PaymentID {
			return domain.ErrAlreadyActivated
		}
		if existing.UserID == up.UserID && existing.Status == model.UserPackageStatusActive && up.Status == model.UserPackageStatusActive {
			return domain.ErrIntegrityViolation
		}
	}
	cp := *up
	r.s.userPackages[up.ID] = &cp
	return nil
}

func (r *memUserPackageRepo) find(match func(*model.UserPackage) bool) (*model.UserPackage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, up := range r.s.userPackages {
		if match(up) {
			cp := *up
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memUserPackageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserPackage, error) {
	return r.find(func(up *model.UserPackage) bool { return up.ID == id })
}

func (r *memUserPackageRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.UserPackage, error) {
	return r.find(func(up *model.UserPackage) bool { return up.PaymentID == paymentID })
}

func (r *memUserPackageRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
	return r.find(func(up *model.UserPackage) bool {
		return up.UserID == userID && up.Status == model.UserPackageStatusActive
	})
}

// Consume checks and increments under one lock, like the conditional UPDATE.
func (r *memUserPackageRepo) Consume(ctx context.Context, tx repository.Tx, id string, kind model.UsageKind, amount int) (*model.Consumption, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	up, ok := r.s.userPackages[id]
	if !ok || !up.IsActive() {
		return nil, false, nil
	}
	pkg, ok := r.s.packages[up.PackageID]
	if !ok || !up.CanConsume(pkg, kind, amount) {
		return nil, false, nil
	}
	up.Consume(kind, amount)
	cp := *up
	return &model.Consumption{UserPackage: &cp, Balance: cp.Remaining(pkg)}, true, nil
}

func (r *memUserPackageRepo) CountUsersWithMultipleActive(ctx context.Context, tx repository.Tx) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	per := map[string]int{}
	for _, up := range r.s.userPackages {
		if up.Status == model.UserPackageStatusActive {
			per[up.UserID]++
		}
	}
	n := 0
	for _, c := range per {
		if c > 1 {
			n++
		}
	}
	return n, nil
}

// -----------------------------
// Adapters
// -----------------------------

// MockPublisher records activation notifications.
type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.PackageActivated

	PublishFunc func(ctx context.Context, ev adapter.PackageActivated) error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishPackageActivated(ctx context.Context, ev adapter.PackageActivated) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// MockLocker hands out a lock per key; Busy forces contention. With Wait set
// TryLock polls a held key until it frees up or Wait elapses.
type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
	Busy bool
	Wait time.Duration
}

func (m *MockLocker) acquire(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]string{}
	}
	if _, ok := m.held[key]; ok || m.Busy {
		return "", false
	}
	m.held[key] = "token-" + key
	return m.held[key], true
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	deadline := time.Now().Add(m.Wait)
	for {
		if token, ok := m.acquire(key); ok {
			return token, nil
		}
		if !time.Now().Before(deadline) {
			return "", domain.ErrLockBusy
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

// MockRateLimiter allows the first Limit calls.
type MockRateLimiter struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.calls <= limit, nil
}

// -----------------------------
// Fixture
// -----------------------------

type fixture struct {
	store        *memStore
	tm           *memTxManager
	packages     *memPackageRepo
	payments     *memPaymentRepo
	userPackages *memUserPackageRepo
}

func newFixture() *fixture {
	s := newMemStore()
	f := &fixture{
		store:        s,
		tm:           &memTxManager{store: s},
		packages:     &memPackageRepo{s: s},
		payments:     &memPaymentRepo{s: s},
		userPackages: &memUserPackageRepo{s: s},
	}
	s.addPackage(&model.Package{
		ID:                         "p1",
		Name:                       "Complete",
		Price:                      decimal.RequireFromString("197.00"),
		Currency:                   "BRL",
		PracticalHoursIncluded:     10,
		TheoreticalClassesIncluded: 20,
		SimulationsIncluded:        5,
		Active:                     true,
	})
	s.addPackage(&model.Package{
		ID:                         "p2",
		Name:                       "Unlimited",
		Price:                      decimal.RequireFromString("297.00"),
		Currency:                   "BRL",
		PracticalHoursIncluded:     20,
		TheoreticalClassesIncluded: model.Unlimited,
		SimulationsIncluded:        model.Unlimited,
		Active:                     true,
	})
	return f
}
