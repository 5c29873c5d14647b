package service

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

type availabilityRuleReader interface {
	ListByTeacher(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityRule, error)
}

type availabilityExceptionReader interface {
	ListByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityException, error)
}

type activeClassReader interface {
	ListActiveByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.BookedClass, error)
}

type vacationReader interface {
	ListOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.VacationPeriod, error)
}

type teacherSettingsReader interface {
	FindByTeacher(ctx context.Context, teacherID string) (*models.TeacherSettings, error)
}

type availabilityCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// AvailabilityService resolves a teacher's rules, exceptions, vacations and
// bookings into displayable slots.
type AvailabilityService struct {
	rules      availabilityRuleReader
	exceptions availabilityExceptionReader
	classes    activeClassReader
	vacations  vacationReader
	settings   teacherSettingsReader
	cache      availabilityCache
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	opts       SchedulingOptions
}

// NewAvailabilityService wires the resolver dependencies. cache and metrics may be nil.
func NewAvailabilityService(
	rules availabilityRuleReader,
	exceptions availabilityExceptionReader,
	classes activeClassReader,
	vacations vacationReader,
	settings teacherSettingsReader,
	cache availabilityCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	opts SchedulingOptions,
) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{
		rules:      rules,
		exceptions: exceptions,
		classes:    classes,
		vacations:  vacations,
		settings:   settings,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		opts:       opts.normalized(),
	}
}

// resolvedSlot is one classified, gated occurrence.
type resolvedSlot struct {
	occ     models.Occurrence
	class   Classification
	verdict PolicyVerdict
}

// resolution is the full, unredacted outcome of resolving a window.
type resolution struct {
	policy models.BookingPolicy
	slots  []resolvedSlot
	// offRule holds occupying classes that no rule occurrence matched.
	offRule []*models.BookedClass
}

// Resolve returns the availability of a teacher over a closed date window as
// seen by the caller. Excepted slots are only returned to the teacher and staff.
func (s *AvailabilityService) Resolve(ctx context.Context, claims *models.JWTClaims, query dto.AvailabilityQuery) (*models.AvailabilityResult, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Invalid(err, "invalid availability query")
	}
	from, to, err := s.parseWindow(query.From, query.To)
	if err != nil {
		return nil, err
	}

	includeExcepted := query.IncludeExcepted && (claims.IsStaff() || claims.Is(query.TeacherID))
	now := s.opts.Now()
	key := AvailabilityKey(query.TeacherID, from, to, viewerScope(claims, query.TeacherID, includeExcepted), now)

	if s.cache != nil {
		var cached models.AvailabilityResult
		if hit, cacheErr := s.cache.Get(ctx, key, &cached); cacheErr == nil && hit {
			return &cached, nil
		}
	}

	res, err := s.resolve(ctx, query.TeacherID, from, to, now)
	if err != nil {
		return nil, err
	}
	result := s.present(res, claims, query.TeacherID, from, to, includeExcepted)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, result, s.opts.CacheTTL)
	}
	return result, nil
}

// InvalidateTeacher drops cached availability of a teacher after a write.
func (s *AvailabilityService) InvalidateTeacher(ctx context.Context, teacherID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, AvailabilityPattern(teacherID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

// Location returns the operating timezone.
func (s *AvailabilityService) Location() *time.Location {
	return s.opts.Location
}

// Policy returns the effective booking policy of a teacher.
func (s *AvailabilityService) Policy(ctx context.Context, teacherID string) (models.BookingPolicy, error) {
	settings, err := s.settings.FindByTeacher(ctx, teacherID)
	if err != nil {
		return models.BookingPolicy{}, appErrors.Internal(err, "failed to load teacher settings")
	}
	return settings.Resolve(s.opts.Defaults), nil
}

// SlotCheck is the write-time view of one target start instant.
type SlotCheck struct {
	Found      bool
	Occurrence models.Occurrence
	State      models.SlotState
	Reason     models.ExceptReason
	Verdict    PolicyVerdict
	Policy     models.BookingPolicy
}

// Err maps the check onto the error a booking or reschedule must return, or nil
// when the slot is vacant and offerable.
func (c SlotCheck) Err() error {
	switch {
	case !c.Found:
		return appErrors.Clone(appErrors.ErrSlotUnavailable, "no availability is offered at the requested time")
	case c.State == models.SlotReserved:
		return appErrors.Clone(appErrors.ErrSlotUnavailable, "the requested slot is already booked")
	case c.State == models.SlotExcepted:
		return appErrors.Clone(appErrors.ErrSlotUnavailable, "the teacher is not available at the requested time")
	case c.Verdict == VerdictDailyCapReached:
		return appErrors.Clone(appErrors.ErrPolicyViolation, "the teacher's daily limit for occasional classes has been reached")
	case c.Verdict == VerdictBeforeLeadTime:
		return appErrors.Clonef(appErrors.ErrSlotUnavailable, "classes must be booked at least %d hours in advance", c.Policy.LeadTimeHours)
	case c.Verdict == VerdictBeyondHorizon:
		return appErrors.Clonef(appErrors.ErrSlotUnavailable, "classes can only be booked up to %d days ahead", c.Policy.HorizonDays)
	default:
		return nil
	}
}

// CheckSlot re-resolves the date of start, bypassing the cache, and reports
// how the occurrence starting exactly at start is classified.
func (s *AvailabilityService) CheckSlot(ctx context.Context, teacherID string, start time.Time) (SlotCheck, error) {
	day := models.DateIn(start, s.opts.Location)
	res, err := s.resolve(ctx, teacherID, day, day, s.opts.Now())
	if err != nil {
		return SlotCheck{}, err
	}
	check := SlotCheck{Policy: res.policy}
	for _, slot := range res.slots {
		if slot.occ.Start.Equal(start) {
			check.Found = true
			check.Occurrence = slot.occ
			check.State = slot.class.State
			check.Reason = slot.class.Reason
			check.Verdict = slot.verdict
			return check, nil
		}
	}
	for _, class := range res.offRule {
		if class.ScheduledAt.Equal(start) {
			check.Found = true
			check.State = models.SlotReserved
			return check, nil
		}
	}
	return check, nil
}

func (s *AvailabilityService) parseWindow(rawFrom, rawTo string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(models.DateLayout, rawFrom, s.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrInvalidDate, "from must be a YYYY-MM-DD date")
	}
	to, err := time.ParseInLocation(models.DateLayout, rawTo, s.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrInvalidDate, "to must be a YYYY-MM-DD date")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrInvalidDate, "from must not be after to")
	}
	if days := models.InclusiveDays(from, to); days > s.opts.MaxWindowDays {
		return time.Time{}, time.Time{}, appErrors.Clonef(appErrors.ErrInvalidDate, "window spans %d days, the maximum is %d", days, s.opts.MaxWindowDays)
	}
	return from, to, nil
}

// resolve composes expansion, classification and gating over [from, to].
func (s *AvailabilityService) resolve(ctx context.Context, teacherID string, from, to, now time.Time) (*resolution, error) {
	loc := s.opts.Location
	start := time.Now()

	settings, err := s.settings.FindByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load teacher settings")
	}
	rules, err := s.rules.ListByTeacher(ctx, teacherID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load availability rules")
	}
	exceptions, err := s.exceptions.ListByTeacherRange(ctx, teacherID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load availability exceptions")
	}
	vacations, err := s.vacations.ListOverlapping(ctx, teacherID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load vacations")
	}
	classes, err := s.classes.ListActiveByTeacherRange(ctx, teacherID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load booked classes")
	}
	s.metrics.ObserveDBQuery("availability_load", time.Since(start))

	policy := settings.Resolve(s.opts.Defaults)
	bookings := NewBookingIndex(classes, loc)
	suppressed := NewExceptionSet(exceptions, loc)
	suppressed.AddVacations(vacations)

	var occurrences []models.Occurrence
	for _, rule := range rules {
		for occ := range ExpandRule(rule, from, to, loc) {
			occurrences = append(occurrences, occ)
		}
	}
	sort.SliceStable(occurrences, func(i, j int) bool {
		if occurrences[i].Start.Equal(occurrences[j].Start) {
			return occurrences[i].RuleID < occurrences[j].RuleID
		}
		return occurrences[i].Start.Before(occurrences[j].Start)
	})

	gate := NewPolicyGate(policy, now, loc)
	matched := make(map[string]struct{})
	res := &resolution{policy: policy}
	for _, occ := range dedupeByStart(occurrences, bookings, suppressed) {
		class := Classify(occ, bookings, suppressed)
		slot := resolvedSlot{occ: occ, class: class}
		switch class.State {
		case models.SlotReserved:
			matched[class.Booking.ID] = struct{}{}
		case models.SlotVacant:
			slot.verdict = gate.Evaluate(occ)
		case models.SlotExcepted:
		}
		res.slots = append(res.slots, slot)
	}
	for _, class := range bookings.Classes() {
		if _, ok := matched[class.ID]; !ok {
			res.offRule = append(res.offRule, class)
		}
	}
	return res, nil
}

// dedupeByStart keeps one occurrence per start instant when several rules
// overlap, preferring the one that classifies Reserved, then Vacant.
func dedupeByStart(sorted []models.Occurrence, bookings *BookingIndex, suppressed *ExceptionSet) []models.Occurrence {
	rank := func(occ models.Occurrence) int {
		switch Classify(occ, bookings, suppressed).State {
		case models.SlotReserved:
			return 0
		case models.SlotVacant:
			return 1
		default:
			return 2
		}
	}
	out := make([]models.Occurrence, 0, len(sorted))
	for _, occ := range sorted {
		if n := len(out); n > 0 && out[n-1].Start.Equal(occ.Start) {
			if rank(occ) < rank(out[n-1]) {
				out[n-1] = occ
			}
			continue
		}
		out = append(out, occ)
	}
	return out
}

// present turns a resolution into the caller's view. Policy-rejected vacant
// occurrences are dropped and class details are redacted for other students.
func (s *AvailabilityService) present(res *resolution, claims *models.JWTClaims, teacherID string, from, to time.Time, includeExcepted bool) *models.AvailabilityResult {
	loc := s.opts.Location
	result := &models.AvailabilityResult{
		TeacherID: teacherID,
		From:      from.Format(models.DateLayout),
		To:        to.Format(models.DateLayout),
		Vacant:    []models.Slot{},
		Reserved:  []models.Slot{},
	}
	if includeExcepted {
		result.Excepted = []models.Slot{}
	}

	for _, slot := range res.slots {
		out := slotOf(slot.occ, loc)
		switch slot.class.State {
		case models.SlotVacant:
			if slot.verdict != VerdictOfferable {
				continue
			}
			result.Vacant = append(result.Vacant, out)
		case models.SlotReserved:
			out.State = models.SlotReserved
			out.Booking = summaryFor(claims, teacherID, *slot.class.Booking)
			result.Reserved = append(result.Reserved, out)
		case models.SlotExcepted:
			if !includeExcepted {
				continue
			}
			out.State = models.SlotExcepted
			out.ExceptReason = slot.class.Reason
			result.Excepted = append(result.Excepted, out)
		}
	}

	for _, class := range res.offRule {
		start := class.ScheduledAt.In(loc)
		result.Reserved = append(result.Reserved, models.Slot{
			State:     models.SlotReserved,
			TeacherID: class.TeacherID,
			Kind:      class.Kind,
			Date:      start.Format(models.DateLayout),
			Start:     start,
			End:       class.EndsAt().In(loc),
			Booking:   summaryFor(claims, teacherID, *class),
		})
	}
	sortSlots(result.Reserved)
	return result
}

func sortSlots(slots []models.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
}

func slotOf(occ models.Occurrence, loc *time.Location) models.Slot {
	start := occ.Start.In(loc)
	return models.Slot{
		State:     models.SlotVacant,
		RuleID:    occ.RuleID,
		TeacherID: occ.TeacherID,
		Kind:      occ.Kind,
		Date:      start.Format(models.DateLayout),
		Start:     start,
		End:       occ.End.In(loc),
		Title:     occ.Title,
		Color:     occ.Color,
		Label:     occ.Label,
	}
}

func summaryFor(claims *models.JWTClaims, teacherID string, class models.BookedClass) *models.ClassSummary {
	summary := models.SummaryOf(class)
	if claims.IsStaff() || claims.Is(teacherID) || claims.Is(class.StudentID) {
		return summary
	}
	return summary.Redacted()
}

func viewerScope(claims *models.JWTClaims, teacherID string, includeExcepted bool) string {
	switch {
	case claims.IsStaff() && includeExcepted:
		return "staff-all"
	case claims.IsStaff():
		return "staff"
	case claims.Is(teacherID) && includeExcepted:
		return "owner-all"
	case claims.Is(teacherID):
		return "owner"
	case claims != nil:
		return "user-" + claims.UserID
	default:
		return "anonymous"
	}
}
