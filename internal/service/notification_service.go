package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/mail"
	"github.com/campusreg/enroll-api/pkg/config"
	"github.com/campusreg/enroll-api/pkg/jobs"
)

type mailSender interface {
	Send(msg mail.Message) error
}

const (
	jobTypeInvitation     = "invitation_mail"
	jobTypeDecisionNotice = "decision_mail"
)

// NotificationService fans outbound mail through the background job queue so
// no request handler blocks on SMTP.
type NotificationService struct {
	queue         *jobs.Queue
	mailer        mailSender
	acceptURLBase string
	logger        *zap.Logger
}

// NewNotificationService constructs the service and its queue.
func NewNotificationService(mailer mailSender, cfg config.MailConfig, acceptURLBase string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: mailer, acceptURLBase: acceptURLBase, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	return s
}

// Start begins queue consumption.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// SendInvitation enqueues the invite mail carrying the acceptance link.
func (s *NotificationService) SendInvitation(email, token string) {
	s.enqueue(jobTypeInvitation, mail.Message{
		To:      email,
		Subject: "You are invited to the enrollment office",
		Body:    mail.InvitationBody(s.acceptURLBase, token),
	})
}

// SendDecisionNotice enqueues a mail informing the student of an enrollment
// decision.
func (s *NotificationService) SendDecisionNotice(email, courseCode, outcome string) {
	s.enqueue(jobTypeDecisionNotice, mail.Message{
		To:      email,
		Subject: fmt.Sprintf("Enrollment update for %s", courseCode),
		Body:    fmt.Sprintf("Your enrollment for %s is now %s.\r\n", courseCode, outcome),
	})
}

func (s *NotificationService) enqueue(jobType string, msg mail.Message) {
	job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: msg}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("type", jobType), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mail.Message)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.mailer.Send(msg)
}
