package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/internal/repository"
)

// --- Transactions ---

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (*txProviderMock, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

// --- Booked classes ---

type memoryClasses struct {
	mu      sync.Mutex
	seq     int
	classes map[string]*models.BookedClass
	locked  []string
}

func newMemoryClasses(classes ...models.BookedClass) *memoryClasses {
	store := &memoryClasses{classes: make(map[string]*models.BookedClass)}
	for i := range classes {
		c := classes[i]
		store.classes[c.ID] = &c
	}
	return store
}

func (m *memoryClasses) get(id string) models.BookedClass {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.classes[id]
}

func (m *memoryClasses) sorted(keep func(*models.BookedClass) bool) []models.BookedClass {
	var out []models.BookedClass
	for _, c := range m.classes {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (m *memoryClasses) FindByID(ctx context.Context, id string) (*models.BookedClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (m *memoryClasses) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BookedClass, error) {
	return m.FindByID(ctx, id)
}

func (m *memoryClasses) ListActiveByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.BookedClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *models.BookedClass) bool {
		return c.TeacherID == teacherID && c.Status.Occupies() && !c.ScheduledAt.Before(from) && c.ScheduledAt.Before(to)
	}), nil
}

func (m *memoryClasses) FindActiveAt(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (*models.BookedClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.classes {
		if c.TeacherID == teacherID && c.Status.Occupies() && c.ScheduledAt.Equal(at) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryClasses) ListScheduledByTeacherRange(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.BookedClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *models.BookedClass) bool {
		return c.TeacherID == teacherID && c.Status == models.ClassStatusScheduled && !c.ScheduledAt.Before(from) && c.ScheduledAt.Before(to)
	}), nil
}

func (m *memoryClasses) ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.BookedClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	return m.sorted(func(c *models.BookedClass) bool {
		_, ok := wanted[c.ID]
		return ok
	}), nil
}

func (m *memoryClasses) ListOverdueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.BookedClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *models.BookedClass) bool {
		return c.Status == models.ClassStatusScheduled && c.EndsAt().Before(cutoff)
	}), nil
}

func (m *memoryClasses) LockSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, teacherID+"|"+at.UTC().Format(time.RFC3339))
	return nil
}

func (m *memoryClasses) Create(ctx context.Context, exec sqlx.ExtContext, class *models.BookedClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.classes {
		if c.TeacherID == class.TeacherID && c.Status.Occupies() && c.ScheduledAt.Equal(class.ScheduledAt) {
			return repository.ErrSlotTaken
		}
	}
	if class.ID == "" {
		m.seq++
		class.ID = fmt.Sprintf("class-new-%d", m.seq)
	}
	copied := *class
	m.classes[class.ID] = &copied
	return nil
}

func (m *memoryClasses) Transition(ctx context.Context, exec sqlx.ExtContext, t models.ClassTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[t.ClassID]
	if !ok || c.Status != t.From {
		return false, nil
	}
	c.Status = t.To
	c.UpdatedAt = t.At
	c.CanceledAt = t.CanceledAt
	c.CanceledBy = t.CanceledBy
	c.CancelReason = t.CancelReason
	c.VacationID = t.VacationID
	c.CompletedAt = t.CompletedAt
	c.Feedback = t.Feedback
	c.Notes = t.Notes
	if t.CreditID != nil {
		c.CreditID = t.CreditID
	}
	return true, nil
}

// --- Credits ---

type memoryCredits struct {
	mu       sync.Mutex
	seq      int
	balances map[string]int
	regular  map[string]*models.RegularClassCredit
}

func newMemoryCredits() *memoryCredits {
	return &memoryCredits{balances: make(map[string]int), regular: make(map[string]*models.RegularClassCredit)}
}

func (m *memoryCredits) grant(credit models.RegularClassCredit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regular[credit.ID] = &credit
}

func (m *memoryCredits) GetBalance(ctx context.Context, studentID string) (*models.StudentCreditBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.StudentCreditBalance{StudentID: studentID, ClassCredits: m.balances[studentID]}, nil
}

func (m *memoryCredits) DecrementClassCredits(ctx context.Context, exec sqlx.ExtContext, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[studentID] <= 0 {
		return false, nil
	}
	m.balances[studentID]--
	return true, nil
}

func (m *memoryCredits) IncrementClassCredits(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[studentID] += amount
	return nil
}

func (m *memoryCredits) usable(studentID string, creditType models.CreditType, at time.Time) []*models.RegularClassCredit {
	var out []*models.RegularClassCredit
	for _, c := range m.regular {
		if c.StudentID == studentID && (creditType == "" || c.Type == creditType) && c.UsableAt(at) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (m *memoryCredits) FindUsableForUpdate(ctx context.Context, exec sqlx.ExtContext, studentID string, creditType models.CreditType, at time.Time) (*models.RegularClassCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := m.usable(studentID, creditType, at)
	if len(found) == 0 {
		return nil, sql.ErrNoRows
	}
	copied := *found[0]
	return &copied, nil
}

func (m *memoryCredits) ConsumeUnit(ctx context.Context, exec sqlx.ExtContext, creditID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.regular[creditID]
	if !ok || !c.UsableAt(at) {
		return sql.ErrNoRows
	}
	c.Remaining--
	if c.Remaining == 0 {
		c.ConsumedAt = &at
	}
	return nil
}

func (m *memoryCredits) FindRegularByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RegularClassCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.regular[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (m *memoryCredits) CreateRegular(ctx context.Context, exec sqlx.ExtContext, credit *models.RegularClassCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if credit.ID == "" {
		m.seq++
		credit.ID = fmt.Sprintf("credit-new-%d", m.seq)
	}
	copied := *credit
	m.regular[credit.ID] = &copied
	return nil
}

func (m *memoryCredits) ListUsable(ctx context.Context, studentID string, at time.Time) ([]models.RegularClassCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RegularClassCredit
	for _, c := range m.usable(studentID, "", at) {
		out = append(out, *c)
	}
	return out, nil
}

// --- Rules and exceptions ---

type memoryRules struct {
	mu    sync.Mutex
	seq   int
	rules map[string]*models.AvailabilityRule
}

func newMemoryRules(rules ...models.AvailabilityRule) *memoryRules {
	store := &memoryRules{rules: make(map[string]*models.AvailabilityRule)}
	for i := range rules {
		r := rules[i]
		store.rules[r.ID] = &r
	}
	return store
}

func (m *memoryRules) ListByTeacher(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AvailabilityRule
	for _, r := range m.rules {
		if r.TeacherID == teacherID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRules) FindByID(ctx context.Context, id string) (*models.AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *r
	return &copied, nil
}

func (m *memoryRules) Create(ctx context.Context, rule *models.AvailabilityRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		m.seq++
		rule.ID = fmt.Sprintf("rule-new-%d", m.seq)
	}
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *memoryRules) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rules, id)
	return nil
}

type memoryExceptions struct {
	mu         sync.Mutex
	rules      *memoryRules
	exceptions []models.AvailabilityException
}

func (m *memoryExceptions) ListByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityException, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AvailabilityException
	for _, ex := range m.exceptions {
		rule, err := m.rules.FindByID(ctx, ex.RuleID)
		if err != nil || rule.TeacherID != teacherID {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

func (m *memoryExceptions) Create(ctx context.Context, exception *models.AvailabilityException) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exception.ID = fmt.Sprintf("exception-%d", len(m.exceptions)+1)
	m.exceptions = append(m.exceptions, *exception)
	return nil
}

func (m *memoryExceptions) Delete(ctx context.Context, ruleID string, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := date.Format(models.DateLayout)
	for i, ex := range m.exceptions {
		if ex.RuleID == ruleID && ex.Date.Format(models.DateLayout) == key {
			m.exceptions = append(m.exceptions[:i], m.exceptions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryExceptions) DeleteAtSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, clock models.ClockTime) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := date.Format(models.DateLayout)
	var removed int64
	kept := m.exceptions[:0]
	for _, ex := range m.exceptions {
		rule, err := m.rules.FindByID(ctx, ex.RuleID)
		if err == nil && rule.TeacherID == teacherID && rule.StartTime == clock && ex.Date.Format(models.DateLayout) == key {
			removed++
			continue
		}
		kept = append(kept, ex)
	}
	m.exceptions = kept
	return removed, nil
}

// --- Vacations and settings ---

type memoryVacations struct {
	mu      sync.Mutex
	seq     int
	periods map[string]*models.VacationPeriod
}

func newMemoryVacations() *memoryVacations {
	return &memoryVacations{periods: make(map[string]*models.VacationPeriod)}
}

func (m *memoryVacations) ListOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.VacationPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi := from.Format(models.DateLayout), to.Format(models.DateLayout)
	var out []models.VacationPeriod
	for _, p := range m.periods {
		if p.TeacherID == teacherID && p.StartDate.Format(models.DateLayout) <= hi && p.EndDate.Format(models.DateLayout) >= lo {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryVacations) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.VacationPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (m *memoryVacations) Create(ctx context.Context, exec sqlx.ExtContext, period *models.VacationPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	period.ID = fmt.Sprintf("vacation-%d", m.seq)
	copied := *period
	m.periods[period.ID] = &copied
	return nil
}

func (m *memoryVacations) SetAffectedClasses(ctx context.Context, exec sqlx.ExtContext, id string, classIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[id].AffectedClassIDs = classIDs
	return nil
}

func (m *memoryVacations) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.periods, id)
	return nil
}

type memorySettings struct {
	mu       sync.Mutex
	settings map[string]*models.TeacherSettings
}

func newMemorySettings(settings ...models.TeacherSettings) *memorySettings {
	store := &memorySettings{settings: make(map[string]*models.TeacherSettings)}
	for i := range settings {
		s := settings[i]
		store.settings[s.TeacherID] = &s
	}
	return store
}

func (m *memorySettings) FindByTeacher(ctx context.Context, teacherID string) (*models.TeacherSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[teacherID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memorySettings) FindForUpdate(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.TeacherSettings, error) {
	s, err := m.FindByTeacher(ctx, teacherID)
	if err == nil && s == nil {
		return nil, sql.ErrNoRows
	}
	return s, err
}

func (m *memorySettings) AdjustVacationDays(ctx context.Context, exec sqlx.ExtContext, teacherID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[teacherID]
	if !ok {
		return sql.ErrNoRows
	}
	s.VacationDaysRemaining += delta
	return nil
}

// --- Notifications ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

// --- Fixture ---

var fixtureNow = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T {
	return &v
}

func slotAt(day string, clock string) time.Time {
	t, err := time.Parse(models.DateLayout+" 15:04", day+" "+clock)
	if err != nil {
		panic(err)
	}
	return t
}

func tuesdayRule() models.AvailabilityRule {
	return models.AvailabilityRule{
		ID:        "rule-tue",
		TeacherID: "teacher-1",
		Kind:      models.RuleKindRegular,
		StartDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		StartTime: models.MustClockTime("10:00"),
		EndTime:   models.MustClockTime("11:00"),
		Repeating: &models.Repeating{Cadence: models.CadenceWeekly, Interval: 1},
	}
}

func wednesdayOccasionalRule(id, clock string) models.AvailabilityRule {
	start := models.MustClockTime(clock)
	return models.AvailabilityRule{
		ID:        id,
		TeacherID: "teacher-1",
		Kind:      models.RuleKindOccasional,
		StartDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   start + 60,
		Repeating: &models.Repeating{Cadence: models.CadenceWeekly, Interval: 1},
	}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

type schedulingFixture struct {
	now        time.Time
	tx         *txProviderMock
	mock       sqlmock.Sqlmock
	rules      *memoryRules
	exceptions *memoryExceptions
	classes    *memoryClasses
	credits    *memoryCredits
	vacations  *memoryVacations
	settings   *memorySettings
	notifier   *recordingNotifier

	availability *AvailabilityService
	credit       *CreditService
	booking      *BookingService
	lifecycle    *ClassLifecycleService
	vacation     *VacationService
	ruleManager  *AvailabilityRuleService
}

type fixtureConfig struct {
	rules    []models.AvailabilityRule
	classes  []models.BookedClass
	settings []models.TeacherSettings
	now      time.Time
}

func newSchedulingFixture(t *testing.T, cfg fixtureConfig) *schedulingFixture {
	t.Helper()
	if cfg.rules == nil {
		cfg.rules = []models.AvailabilityRule{tuesdayRule()}
	}
	if cfg.now.IsZero() {
		cfg.now = fixtureNow
	}

	tx, mock := newTxProviderMock(t)
	f := &schedulingFixture{
		now:       cfg.now,
		tx:        tx,
		mock:      mock,
		rules:     newMemoryRules(cfg.rules...),
		classes:   newMemoryClasses(cfg.classes...),
		credits:   newMemoryCredits(),
		vacations: newMemoryVacations(),
		settings:  newMemorySettings(cfg.settings...),
		notifier:  &recordingNotifier{},
	}
	f.exceptions = &memoryExceptions{rules: f.rules}
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})

	opts := SchedulingOptions{
		Location: time.UTC,
		Defaults: models.BookingPolicy{LeadTimeHours: 24, HorizonDays: 30, CancellationPolicyHours: 24},
		Now:      func() time.Time { return f.now },
	}
	validate := validator.New()
	logger := zap.NewNop()

	f.availability = NewAvailabilityService(f.rules, f.exceptions, f.classes, f.vacations, f.settings, nil, nil, validate, logger, opts)
	f.credit = NewCreditService(f.credits, nil, validate, logger, opts)
	f.booking = NewBookingService(f.availability, f.classes, f.credit, tx, nil, validate, logger, opts)
	f.lifecycle = NewClassLifecycleService(f.availability, f.classes, f.exceptions, f.credit, f.notifier, tx, nil, validate, logger, opts)
	f.vacation = NewVacationService(f.vacations, f.settings, f.classes, f.credit, f.availability, f.notifier, tx, validate, logger, opts)
	f.ruleManager = NewAvailabilityRuleService(f.rules, f.exceptions, f.availability, validate, logger, opts)
	return f
}

// expectCommit registers one committed transaction.
func (f *schedulingFixture) expectCommit() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

// expectRollback registers one rolled back transaction.
func (f *schedulingFixture) expectRollback() {
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
}
