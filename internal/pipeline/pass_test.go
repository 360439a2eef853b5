package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
	"github.com/andresuchdata/stockcast/internal/repository/memory"
	"github.com/shopspring/decimal"
)

var asOf = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.Retry = RetryPolicy{
		Attempts: 5,
		Backoff:  ExponentialBackoff(time.Millisecond, 0),
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}
	return cfg
}

func newStore(leadTime int) *memory.Store {
	s := memory.NewStore()
	s.AddUser(domain.User{ID: 1, Username: "alice"})
	s.AddProduct(domain.Product{ID: 1, ProductNumber: "P-1", Name: "Widget", LeadTime: leadTime})
	return s
}

// seedHistory stores actual rows with flat sales for the days before asOf.
func seedHistory(s *memory.Store, days int, sales string) {
	for n := 1; n <= days; n++ {
		s.PutMetrics(domain.DailyMetrics{
			UserID:    1,
			ProductID: 1,
			Date:      domain.AddDays(asOf, -n),
			Sales:     dec(sales),
		})
	}
}

// rowsByDay indexes stored rows, actual preferred.
func rowsByDay(rows []domain.DailyMetrics) map[int64]domain.DailyMetrics {
	out := make(map[int64]domain.DailyMetrics)
	for _, r := range rows {
		day := domain.DayNumber(r.Date)
		if existing, ok := out[day]; ok && !existing.IsProjection {
			continue
		}
		out[day] = r
	}
	return out
}

func projectionAt(t *testing.T, s *memory.Store, offset int) *domain.DailyMetrics {
	t.Helper()
	m, err := s.GetMetrics(context.Background(), 1, 1, domain.AddDays(asOf, offset), true)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if m == nil {
		t.Fatalf("Expected projection at +%d", offset)
	}
	return m
}

func TestPass_Run_ProcessesActualAndHorizon(t *testing.T) {
	s := newStore(2)
	seedHistory(s, 7, "10")
	s.AddSale(1, 1, asOf, dec("10"))

	report := NewPass(s, testConfig()).Run(context.Background(), asOf)

	if report.Errors != 0 {
		t.Fatalf("Expected no errors, got %d: %v", report.Errors, report.Failures)
	}
	if report.Processed != 15 {
		t.Errorf("Expected 15 processed units, got %d", report.Processed)
	}
	if !report.AsOf.Equal(asOf) {
		t.Errorf("Expected report as-of %s, got %s", asOf, report.AsOf)
	}

	a, _ := s.GetMetrics(context.Background(), 1, 1, asOf, false)
	if a == nil {
		t.Fatal("Expected actual row for the as-of date")
	}
	if !a.Sales.Equal(dec("10")) || !a.Forecast.Equal(dec("10")) {
		t.Errorf("Expected sales 10 and forecast 10, got %s and %s", a.Sales, a.Forecast)
	}
	for i := 1; i <= forecast.HorizonDays; i++ {
		p := projectionAt(t, s, i)
		if p.LeadTimeDays != 2 {
			t.Errorf("Expected lead time 2 on +%d, got %d", i, p.LeadTimeDays)
		}
	}
	if m, _ := s.GetMetrics(context.Background(), 1, 1, domain.AddDays(asOf, 15), true); m != nil {
		t.Error("Expected nothing written past the horizon")
	}
}

func TestPass_Run_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(3)
	seedHistory(s, 7, "6")
	s.SetOnHand(1, 1, dec("40"))
	s.AddSale(1, 1, asOf, dec("4"))
	if err := s.CreateArrival(ctx, &domain.IncomingArrival{UserID: 1, ProductID: 1, Quantity: dec("50"), ArrivalDate: asOf}); err != nil {
		t.Fatalf("CreateArrival failed: %v", err)
	}
	if err := s.CreateArrival(ctx, &domain.IncomingArrival{UserID: 1, ProductID: 1, Quantity: dec("12"), ArrivalDate: domain.AddDays(asOf, 2)}); err != nil {
		t.Fatalf("CreateArrival failed: %v", err)
	}

	pass := NewPass(s, testConfig())
	first := pass.Run(ctx, asOf)
	before := s.AllMetrics()
	second := pass.Run(ctx, asOf)
	after := s.AllMetrics()

	if first.Errors != 0 || second.Errors != 0 {
		t.Fatalf("Expected clean passes, got %v / %v", first.Failures, second.Failures)
	}
	if len(before) != len(after) {
		t.Fatalf("Expected %d rows after re-run, got %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].SameValues(&after[i]) {
			t.Errorf("Row %s projection=%v changed on re-run:\n  first:  %+v\n  second: %+v",
				before[i].Date.Format(domain.DateLayout), before[i].IsProjection, before[i], after[i])
		}
	}

	onHand, _ := s.GetOnHand(ctx, 1, 1)
	if !onHand.Equal(dec("90")) {
		t.Errorf("Expected arrival transferred once, on-hand 90, got %s", onHand)
	}
}

func TestPass_Run_TransfersArrivals(t *testing.T) {
	ctx := context.Background()
	s := newStore(1)
	s.SetOnHand(1, 1, dec("20"))
	if err := s.CreateArrival(ctx, &domain.IncomingArrival{UserID: 1, ProductID: 1, Quantity: dec("50"), ArrivalDate: asOf}); err != nil {
		t.Fatalf("CreateArrival failed: %v", err)
	}

	report := NewPass(s, testConfig()).Run(ctx, asOf)
	if report.Errors != 0 {
		t.Fatalf("Expected no errors, got %v", report.Failures)
	}

	onHand, _ := s.GetOnHand(ctx, 1, 1)
	if !onHand.Equal(dec("70")) {
		t.Errorf("Expected on-hand 70, got %s", onHand)
	}
	pending, _ := s.ListPendingArrivals(ctx, 1, 1, asOf)
	if len(pending) != 0 {
		t.Errorf("Expected no pending arrivals, got %d", len(pending))
	}

	a, _ := s.GetMetrics(ctx, 1, 1, asOf, false)
	if a == nil {
		t.Fatal("Expected actual row")
	}
	if !a.OnHand.Equal(dec("20")) {
		t.Errorf("Expected opening on-hand 20 on the actual row, got %s", a.OnHand)
	}
	if !a.Incoming.Equal(dec("50")) {
		t.Errorf("Expected incoming 50 on the actual row, got %s", a.Incoming)
	}
}

func TestPass_Run_LeadTimeThree(t *testing.T) {
	s := newStore(3)
	seedHistory(s, 7, "10")
	s.AddSale(1, 1, asOf, dec("10"))

	report := NewPass(s, testConfig()).Run(context.Background(), asOf)
	if report.Errors != 0 {
		t.Fatalf("Expected no errors, got %v", report.Failures)
	}

	a, _ := s.GetMetrics(context.Background(), 1, 1, asOf, false)
	if !a.OrderPoint.Equal(dec("30")) {
		t.Errorf("Expected order point 30, got %s", a.OrderPoint)
	}
	if !a.ProjectedOnHand.IsZero() {
		t.Errorf("Expected projected on hand 0, got %s", a.ProjectedOnHand)
	}
	if !a.SOQ.Equal(dec("30")) || !a.PlannedArrival.Equal(dec("30")) {
		t.Errorf("Expected SOQ and planned arrival 30, got %s and %s", a.SOQ, a.PlannedArrival)
	}

	// today's SOQ lands three days later
	d3 := projectionAt(t, s, 3)
	if !d3.ProjectedOnHand.Equal(dec("20")) {
		t.Errorf("Expected projected on hand 0+30-10=20 on +3, got %s", d3.ProjectedOnHand)
	}
	if !d3.SOQ.Equal(dec("10")) {
		t.Errorf("Expected SOQ 10 on +3, got %s", d3.SOQ)
	}
	d4 := projectionAt(t, s, 4)
	if !d4.ProjectedOnHand.Equal(dec("40")) || !d4.SOQ.IsZero() {
		t.Errorf("Expected +4 projected on hand 40 and SOQ 0, got %s and %s", d4.ProjectedOnHand, d4.SOQ)
	}
}

func TestPass_Run_BootstrapsFromActualOnHand(t *testing.T) {
	s := newStore(0)
	s.SetOnHand(1, 1, dec("100"))

	NewPass(s, testConfig()).Run(context.Background(), asOf)

	a, _ := s.GetMetrics(context.Background(), 1, 1, asOf, false)
	if !a.OnHand.Equal(dec("100")) {
		t.Fatalf("Expected actual on-hand 100, got %s", a.OnHand)
	}
	if p := projectionAt(t, s, 1); !p.ProjectedOnHand.Equal(dec("100")) {
		t.Errorf("Expected first projection to start from 100, got %s", p.ProjectedOnHand)
	}
}

func TestPass_Run_WalkIsContinuous(t *testing.T) {
	ctx := context.Background()
	s := newStore(2)
	seedHistory(s, 7, "8")
	s.SetOnHand(1, 1, dec("35"))
	s.AddSale(1, 1, asOf, dec("3"))
	if err := s.CreateArrival(ctx, &domain.IncomingArrival{UserID: 1, ProductID: 1, Quantity: dec("9"), ArrivalDate: domain.AddDays(asOf, 5)}); err != nil {
		t.Fatalf("CreateArrival failed: %v", err)
	}

	NewPass(s, testConfig()).Run(ctx, asOf)
	byDay := rowsByDay(s.AllMetrics())

	for i := 1; i <= forecast.HorizonDays; i++ {
		date := domain.AddDays(asOf, i)
		row, ok := byDay[domain.DayNumber(date)]
		if !ok {
			t.Fatalf("Missing row on +%d", i)
		}
		prior := byDay[domain.DayNumber(domain.AddDays(date, -1))]
		arriving := decimal.Zero
		if r, ok := byDay[domain.DayNumber(domain.AddDays(date, -row.LeadTimeDays))]; ok {
			arriving = r.SOQ
		}

		want := forecast.ProjectedOnHand(&prior, row.Incoming, arriving, row.Forecast).Round(domain.QuantityPlaces)
		if !row.ProjectedOnHand.Equal(want) {
			t.Errorf("+%d: expected projected on hand %s, got %s", i, want, row.ProjectedOnHand)
		}
		if row.ProjectedOnHand.IsNegative() {
			t.Errorf("+%d: negative projected on hand %s", i, row.ProjectedOnHand)
		}
		if soq := forecast.SOQ(row.ProjectedOnHand, row.OrderPoint); !row.SOQ.Equal(soq) {
			t.Errorf("+%d: expected SOQ %s, got %s", i, soq, row.SOQ)
		}
	}
}

func TestPass_Run_RetriesContention(t *testing.T) {
	s := newStore(1)
	s.FailNextUpserts(2)

	var sleeps []time.Duration
	cfg := testConfig()
	cfg.Retry.Backoff = ExponentialBackoff(time.Second, 0)
	cfg.Retry.Sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	report := NewPass(s, cfg).Run(context.Background(), asOf)

	if report.Errors != 0 {
		t.Fatalf("Expected retries to absorb contention, got %v", report.Failures)
	}
	if report.Processed != 15 {
		t.Errorf("Expected 15 processed, got %d", report.Processed)
	}
	if calls := s.UpsertCalls(); calls != 17 {
		t.Errorf("Expected 17 upsert calls, got %d", calls)
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Expected backoffs [1s 2s], got %v", sleeps)
	}
}

func TestPass_Run_ExhaustedRetriesSkipUnitAndContinue(t *testing.T) {
	s := newStore(1)
	s.AddUser(domain.User{ID: 2, Username: "bob"})
	s.FailNextUpserts(2)

	cfg := testConfig()
	cfg.Retry.Attempts = 2

	report := NewPass(s, cfg).Run(context.Background(), asOf)

	if report.Errors != 1 {
		t.Fatalf("Expected one errored unit, got %d: %v", report.Errors, report.Failures)
	}
	f := report.Failures[0]
	if f.UserID != 1 || f.Stage != stageActual || !f.Date.Equal(asOf) {
		t.Errorf("Unexpected failure %s", f)
	}
	// user 1 has no anchor for its walk, user 2 runs fully
	if report.Skipped != forecast.HorizonDays {
		t.Errorf("Expected %d skipped projections, got %d", forecast.HorizonDays, report.Skipped)
	}
	if report.Processed != 15 {
		t.Errorf("Expected 15 processed units for the second user, got %d", report.Processed)
	}
}

func TestPass_Run_MissingAnchorSkipsDay(t *testing.T) {
	ctx := context.Background()
	s := newStore(1)
	s.FailNextUpserts(1)

	cfg := testConfig()
	cfg.Retry.Attempts = 1

	report := NewPass(s, cfg).Run(ctx, asOf)
	if report.Skipped != forecast.HorizonDays {
		t.Errorf("Expected every projection skipped without an anchor, got %d", report.Skipped)
	}
	if m, _ := s.GetMetrics(ctx, 1, 1, domain.AddDays(asOf, 1), true); m != nil {
		t.Error("Expected no projection without a previous-day row")
	}
}

func TestPass_Run_LateActualIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	s := newStore(0)
	late := domain.DailyMetrics{UserID: 1, ProductID: 1, Date: domain.AddDays(asOf, 2), Sales: dec("5"), OnHand: dec("3")}
	s.PutMetrics(late)

	report := NewPass(s, testConfig()).Run(ctx, asOf)
	if report.Skipped != 1 {
		t.Errorf("Expected the day with an actual row to be skipped, got %d skipped", report.Skipped)
	}
	if m, _ := s.GetMetrics(ctx, 1, 1, late.Date, true); m != nil {
		t.Error("Expected no projection over an actual row")
	}
	a, _ := s.GetMetrics(ctx, 1, 1, late.Date, false)
	if a == nil || !a.Sales.Equal(dec("5")) {
		t.Errorf("Expected the late actual row untouched, got %+v", a)
	}
	// the following day anchors on the actual row
	if p := projectionAt(t, s, 3); !p.ProjectedOnHand.Equal(dec("2.29")) {
		t.Errorf("Expected +3 to start from on-hand 3 less forecast 0.71, got %s", p.ProjectedOnHand)
	}
}

func TestPass_Run_SuppressesZeroProjections(t *testing.T) {
	testCases := []struct {
		name          string
		suppress      bool
		wantProcessed int
		wantSkipped   int
	}{
		{"disabled", false, 15, 0},
		{"enabled", true, 1, 14},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(0)
			cfg := testConfig()
			cfg.SuppressZeroProjections = tc.suppress

			report := NewPass(s, cfg).Run(context.Background(), asOf)
			if report.Processed != tc.wantProcessed || report.Skipped != tc.wantSkipped {
				t.Errorf("Expected processed=%d skipped=%d, got processed=%d skipped=%d",
					tc.wantProcessed, tc.wantSkipped, report.Processed, report.Skipped)
			}
		})
	}
}

type panickingStore struct {
	*memory.Store
}

func (p panickingStore) GetSalesTotal(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	if productID == 2 {
		panic("corrupt sales row")
	}
	return p.Store.GetSalesTotal(ctx, userID, productID, date)
}

func TestPass_Run_RecoversPanicPerPair(t *testing.T) {
	s := newStore(1)
	s.AddProduct(domain.Product{ID: 2, ProductNumber: "P-2", Name: "Gadget", LeadTime: 1})

	cfg := testConfig()
	cfg.Workers = 2
	report := NewPass(panickingStore{s}, cfg).Run(context.Background(), asOf)

	if report.Errors != 1 {
		t.Fatalf("Expected one errored unit, got %d: %v", report.Errors, report.Failures)
	}
	if report.Failures[0].ProductID != 2 || report.Failures[0].Stage != stagePanic {
		t.Errorf("Unexpected failure %s", report.Failures[0])
	}
	if report.Processed != 15 {
		t.Errorf("Expected the healthy pair fully processed, got %d", report.Processed)
	}
}

type failingCatalog struct {
	*memory.Store
}

func (failingCatalog) ListUsers(context.Context) ([]domain.User, error) {
	return nil, errors.New("connection refused")
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	finished []PassRun
}

func (f *fakeRecorder) StartRun(_ context.Context, run *PassRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	run.ID = int64(f.started)
	return nil
}

func (f *fakeRecorder) FinishRun(_ context.Context, run *PassRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, *run)
	return nil
}

func TestPass_Run_RecordsRuns(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		rec := &fakeRecorder{}
		NewPass(newStore(1), testConfig(), WithRecorder(rec)).Run(context.Background(), asOf)

		if rec.started != 1 || len(rec.finished) != 1 {
			t.Fatalf("Expected one started and finished run, got %d/%d", rec.started, len(rec.finished))
		}
		run := rec.finished[0]
		if run.Status != StatusCompleted || run.Processed != 15 || run.CompletedAt == nil {
			t.Errorf("Unexpected run %+v", run)
		}
	})

	t.Run("catalog failure", func(t *testing.T) {
		rec := &fakeRecorder{}
		report := NewPass(failingCatalog{newStore(1)}, testConfig(), WithRecorder(rec)).Run(context.Background(), asOf)

		if report.Errors != 1 || report.Failures[0].Stage != stageCatalog {
			t.Fatalf("Expected a catalog failure, got %v", report.Failures)
		}
		if rec.finished[0].Status != StatusFailed {
			t.Errorf("Expected failed run status, got %s", rec.finished[0].Status)
		}
	})
}

func TestPass_Run_UsesClockForDuration(t *testing.T) {
	start := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	ticks := []time.Time{start, start.Add(3 * time.Second)}
	clock := func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}

	report := NewPass(newStore(1), testConfig(), WithClock(clock)).Run(context.Background(), asOf)
	if report.Duration != 3*time.Second {
		t.Errorf("Expected duration 3s, got %s", report.Duration)
	}
	if !report.StartedAt.Equal(start) {
		t.Errorf("Expected start %s, got %s", start, report.StartedAt)
	}
}

type panickingCatalog struct {
	*memory.Store
}

func (panickingCatalog) ListProducts(context.Context) ([]domain.Product, error) {
	panic("products table dropped")
}

type panickingRecorder struct {
	fakeRecorder
}

func (p *panickingRecorder) StartRun(context.Context, *PassRun) error {
	panic("run table locked")
}

func TestPass_Run_RecoversPanicOutsidePairs(t *testing.T) {
	testCases := []struct {
		name string
		pass func(s *memory.Store, rec RunRecorder) *Pass
	}{
		{
			name: "catalog",
			pass: func(s *memory.Store, rec RunRecorder) *Pass {
				return NewPass(panickingCatalog{s}, testConfig(), WithRecorder(rec))
			},
		},
		{
			name: "recorder",
			pass: func(s *memory.Store, _ RunRecorder) *Pass {
				return NewPass(s, testConfig(), WithRecorder(&panickingRecorder{}))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			var report domain.PassReport
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("Expected Run to contain the panic, got %v", r)
					}
				}()
				report = tc.pass(newStore(1), rec).Run(context.Background(), asOf)
			}()

			if report.Errors != 1 || report.Failures[0].Stage != stagePanic {
				t.Fatalf("Expected one panic failure, got %v", report.Failures)
			}
			if report.Processed != 0 {
				t.Errorf("Expected nothing processed, got %d", report.Processed)
			}
		})
	}

	t.Run("run is still recorded", func(t *testing.T) {
		rec := &fakeRecorder{}
		NewPass(panickingCatalog{newStore(1)}, testConfig(), WithRecorder(rec)).Run(context.Background(), asOf)
		if len(rec.finished) != 1 || rec.finished[0].Status != StatusFailed {
			t.Fatalf("Expected one failed run recorded, got %+v", rec.finished)
		}
	})
}

// dayFailingStore rejects the projection write of one day
type dayFailingStore struct {
	*memory.Store
	day time.Time
}

func (s dayFailingStore) UpsertMetrics(ctx context.Context, record *domain.DailyMetrics) error {
	if record.IsProjection && record.Date.Equal(s.day) {
		return errors.New("disk full")
	}
	return s.Store.UpsertMetrics(ctx, record)
}

func TestPass_Run_FailedProjectionLeavesLaterForecasts(t *testing.T) {
	ctx := context.Background()
	s := newStore(0)
	seedHistory(s, 7, "7")
	s.PutMetrics(domain.DailyMetrics{UserID: 1, ProductID: 1, Date: domain.AddDays(asOf, 2), Sales: dec("7"), OnHand: dec("3")})

	report := NewPass(dayFailingStore{Store: s, day: domain.AddDays(asOf, 1)}, testConfig()).Run(ctx, asOf)

	if report.Errors != 1 || report.Failures[0].Stage != stageProjection {
		t.Fatalf("Expected the +1 projection to fail, got %v", report.Failures)
	}
	if m, _ := s.GetMetrics(ctx, 1, 1, domain.AddDays(asOf, 1), true); m != nil {
		t.Fatal("Expected no projection at +1")
	}
	// the +3 window holds four history days, asOf and the +2 actual; +1 has
	// no row and counts as zero
	if p := projectionAt(t, s, 3); !p.Forecast.Equal(dec("6")) {
		t.Errorf("Expected +3 forecast 6, got %s", p.Forecast)
	}
}
