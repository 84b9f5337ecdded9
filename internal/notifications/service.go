package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/scheduler"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/0xPuncker/wellness-sync/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	colorGood    = "good"
	colorDanger  = "danger"
	colorWarning = "warning"
)

// NotificationService posts failed job runs to Slack. Successful, skipped
// and cancelled runs are not reported.
type NotificationService struct {
	slack  *Webhook
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func NewNotificationService(slack *Webhook, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		slack:  slack,
		logger: logger,
	}
}

// ObserveRun sends the notification on its own goroutine so a slow webhook
// never holds up the wake-up that produced the run.
func (s *NotificationService) ObserveRun(run types.RunOutcome) {
	if run.Success || run.Cancelled || run.Outcome == scheduler.OutcomeSkipped {
		return
	}

	message := formatRunNotification(run)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := s.slack.Post(ctx, message); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job":   run.JobID,
				"error": err.Error(),
			}).Warn("Failed to send run notification")
		}
	}()
}

// Wait blocks until in-flight notifications have been sent.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) SendStartupNotification(ctx context.Context, jobs []types.JobInfo) error {
	var lines []string
	for _, job := range jobs {
		lines = append(lines, fmt.Sprintf("• %s every %s", jobTitle(job.ID), utils.FormatDuration(job.Interval)))
	}

	message := &Message{
		Text: "🚀 Wellness sync started",
		Attachments: []Attachment{
			{
				Color: colorGood,
				Text:  strings.Join(lines, "\n"),
				Ts:    time.Now().Unix(),
			},
		},
	}
	return s.slack.Post(ctx, message)
}

func formatRunNotification(run types.RunOutcome) *Message {
	color := colorDanger
	if run.Err == "" {
		color = colorWarning
	}

	fields := []Field{
		shortField("Job", run.JobID),
		shortField("Outcome", run.Outcome),
		shortField("Run ID", run.RunID),
	}

	if run.Duration > 0 {
		fields = append(fields, shortField("Duration", utils.FormatDuration(run.Duration)))
	}

	attachment := Attachment{
		Color:  color,
		Fields: fields,
		Footer: fmt.Sprintf("Started: %s", run.StartedAt.Format(time.RFC1123)),
		Ts:     time.Now().Unix(),
	}
	if run.Err != "" {
		attachment.Text = run.Err
	}

	return &Message{
		Text:        fmt.Sprintf("❌ %s run failed", jobTitle(run.JobID)),
		Attachments: []Attachment{attachment},
	}
}

func jobTitle(jobID string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(jobID, "-", " "))
}
