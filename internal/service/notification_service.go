package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/pkg/config"
	"github.com/uniexam/booking-api/pkg/jobs"
)

// Mail is one outbound message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail. The default implementation only logs; a real SMTP
// sender plugs in behind the same interface.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// LogMailer writes outbound mail to the log instead of sending it.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message.
func (m *LogMailer) Send(_ context.Context, mail Mail) error {
	m.logger.Info("outbound mail",
		zap.String("to", mail.To),
		zap.String("subject", mail.Subject))
	return nil
}

type reminderRepository interface {
	ListReminderDue(ctx context.Context, before time.Time) ([]models.ReservationReminder, error)
	MarkReminderSent(ctx context.Context, reservationID string) error
}

// NotificationService dispatches booking mail asynchronously. Enqueue
// failures are logged and swallowed; a reservation never fails because its
// confirmation mail did not go out.
type NotificationService struct {
	queue     *jobs.Queue
	mailer    Mailer
	reminders reminderRepository
	logger    *zap.Logger
	sendDelay time.Duration
}

// NewNotificationService constructs the service and its worker queue.
func NewNotificationService(mailer Mailer, reminders reminderRepository, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		mailer:    mailer,
		reminders: reminders,
		logger:    logger,
		sendDelay: cfg.SendDelay,
	}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyReservationCreated queues the confirmation mail for a new booking.
func (s *NotificationService) NotifyReservationCreated(user *models.User, exam *models.Exam, room *models.ExamRoom, machine *models.ExamMachine, reservation *models.Reservation) {
	machineName := ""
	if machine != nil && machine.Name != nil {
		machineName = *machine.Name
	}
	body := fmt.Sprintf(
		"Your reservation for %s is confirmed.\nRoom: %s (%s)\nMachine: %s\nTime: %s - %s",
		exam.Name, room.Name, room.RoomCode, machineName,
		reservation.StartAt.Format(time.RFC1123), reservation.EndAt.Format(time.RFC1123),
	)
	s.enqueue(Mail{
		To:      user.Email,
		Subject: fmt.Sprintf("Reservation confirmed: %s", exam.Name),
		Body:    body,
	})
}

// NotifyReservationCancelled queues the cancellation mail. An optional
// message from the canceling administrator is appended verbatim.
func (s *NotificationService) NotifyReservationCancelled(email string, exam *models.Exam, reservation *models.Reservation, message string) {
	body := fmt.Sprintf(
		"Your reservation for %s on %s has been cancelled.",
		exam.Name, reservation.StartAt.Format(time.RFC1123),
	)
	if message != "" {
		body += "\n\n" + message
	}
	s.enqueue(Mail{
		To:      email,
		Subject: fmt.Sprintf("Reservation cancelled: %s", exam.Name),
		Body:    body,
	})
}

// RunReminderPass queues a reminder for every reservation starting within
// the next 24 hours whose reminder has not gone out yet. Reservations made
// less than a day ahead had their reminder suppressed at creation time, so
// they never show up here.
func (s *NotificationService) RunReminderPass(ctx context.Context) error {
	due, err := s.reminders.ListReminderDue(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("listing due reminders: %w", err)
	}
	for _, r := range due {
		s.enqueue(Mail{
			To:      r.Email,
			Subject: fmt.Sprintf("Reminder: %s tomorrow", r.ExamName),
			Body: fmt.Sprintf("Your reservation for %s starts at %s.",
				r.ExamName, r.StartAt.Format(time.RFC1123)),
		})
		if err := s.reminders.MarkReminderSent(ctx, r.ReservationID); err != nil {
			s.logger.Error("failed to mark reminder sent",
				zap.String("reservation_id", r.ReservationID),
				zap.Error(err))
		}
	}
	return nil
}

// StartReminderLoop runs reminder passes on a fixed interval until ctx ends.
func (s *NotificationService) StartReminderLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunReminderPass(ctx); err != nil {
					s.logger.Error("reminder pass failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *NotificationService) enqueue(mail Mail) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "mail",
		Payload: mail,
	})
	if err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("to", mail.To),
			zap.String("subject", mail.Subject),
			zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	mail, ok := job.Payload.(Mail)
	if !ok {
		s.logger.Error("dropping malformed notification job", zap.String("job_id", job.ID))
		return nil
	}
	if s.sendDelay > 0 {
		timer := time.NewTimer(s.sendDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return s.mailer.Send(ctx, mail)
}
