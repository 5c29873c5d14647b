package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/pkg/jobs"
)

// NotificationKind names the scheduling event a recipient is told about.
type NotificationKind string

const (
	NotifyClassRescheduled       NotificationKind = "class_rescheduled"
	NotifyClassCanceledByStudent NotificationKind = "class_canceled_by_student"
	NotifyClassCanceledByTeacher NotificationKind = "class_canceled_by_teacher"
	NotifyClassVacation          NotificationKind = "class_teacher_vacation"
	NotifyClassRestored          NotificationKind = "class_restored"
)

// NotificationJobType is the job type carried on the notification queue.
const NotificationJobType = "scheduling.notification"

// Notification is a fire-and-forget message about a class.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	RecipientID string           `json:"recipient_id"`
	ClassID     string           `json:"class_id"`
	TeacherID   string           `json:"teacher_id"`
	StudentID   string           `json:"student_id"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	Reason      *string          `json:"reason,omitempty"`
}

// NotificationSender delivers a notification to its recipient.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

type notificationQueue interface {
	TryEnqueue(job jobs.Job) error
}

// LogNotificationSender records notifications in the log stream. Delivery to
// email or push lives outside this service and tails these entries.
type LogNotificationSender struct {
	logger *zap.Logger
}

// NewLogNotificationSender constructs the sender.
func NewLogNotificationSender(logger *zap.Logger) *LogNotificationSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSender{logger: logger}
}

// Send logs the notification.
func (s *LogNotificationSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient_id", n.RecipientID),
		zap.String("class_id", n.ClassID),
		zap.Time("scheduled_at", n.ScheduledAt),
	)
	return nil
}

// NotificationService hands notifications to the background queue.
type NotificationService struct {
	queue  notificationQueue
	logger *zap.Logger
}

// NewNotificationService constructs the service. A nil queue drops notifications.
func NewNotificationService(queue notificationQueue, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, logger: logger}
}

// Notify enqueues n. Failures are logged and never reported to the caller.
func (s *NotificationService) Notify(n Notification) {
	if s == nil || s.queue == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: NotificationJobType, Payload: n}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("kind", string(n.Kind)),
			zap.String("class_id", n.ClassID),
			zap.Error(err),
		)
	}
}

// NotificationJobHandler adapts a sender to the queue handler signature.
func NotificationJobHandler(sender NotificationSender) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		n, ok := job.Payload.(Notification)
		if !ok {
			return nil
		}
		return sender.Send(ctx, n)
	}
}
