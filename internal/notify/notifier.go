package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"transcription/internal/domain"
)

// SubjectError is used for every operator-facing failure notification.
const SubjectError = "Transcription ERROR"

// CanceledTimeout describes a job abandoned after the max processing window.
func CanceledTimeout(mediaPackageID, jobID string) string {
	return fmt.Sprintf("Transcription job was in processing state for too long and was marked as canceled (media package %s, job id %s).", mediaPackageID, jobID)
}

// CanceledNotFound describes a job the provider no longer knows.
func CanceledNotFound(mediaPackageID, jobID string) string {
	return fmt.Sprintf("Transcription job was not found (media package %s, job id %s).", mediaPackageID, jobID)
}

// JobFailed describes an error reported by the provider.
func JobFailed(mediaPackageID, jobID, reason string) string {
	msg := fmt.Sprintf("There was a transcription error for media package %s, job id %s.", mediaPackageID, jobID)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += "\n\n" + reason
	}
	return msg
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailOptions configures an EmailNotifier.
type EmailOptions struct {
	Recipient   string
	From        string
	SMTPAddr    string
	User        string
	Password    string
	ClusterName string
	Logger      zerolog.Logger
	Send        SendFunc
	Now         func() time.Time
}

// EmailNotifier mails operators. Failures are logged, never returned.
type EmailNotifier struct {
	opts EmailOptions
	auth smtp.Auth
}

func NewEmailNotifier(opts EmailOptions) *EmailNotifier {
	if opts.Send == nil {
		opts.Send = smtp.SendMail
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = opts.Logger.With().Str("component", "notify").Logger()
	n := &EmailNotifier{opts: opts}
	if opts.User != "" {
		host, _, err := net.SplitHostPort(opts.SMTPAddr)
		if err != nil {
			host = opts.SMTPAddr
		}
		n.auth = smtp.PlainAuth("", opts.User, opts.Password, host)
	}
	return n
}

func (n *EmailNotifier) Notify(ctx context.Context, subject, body string) {
	if n.opts.Recipient == "" || n.opts.SMTPAddr == "" {
		n.opts.Logger.Info().Str("subject", subject).Msg("notify: no recipient configured, skipping email notification")
		return
	}
	if ctx.Err() != nil {
		n.opts.Logger.Warn().Err(ctx.Err()).Str("subject", subject).Msg("notify: context done, notification dropped")
		return
	}
	fullSubject := subject
	if n.opts.ClusterName != "" {
		fullSubject = fmt.Sprintf("%s (%s)", subject, n.opts.ClusterName)
	}
	recipients := splitRecipients(n.opts.Recipient)
	msg := n.compose(recipients, fullSubject, body)
	if err := n.opts.Send(n.opts.SMTPAddr, n.auth, n.opts.From, recipients, msg); err != nil {
		n.opts.Logger.Warn().Err(err).Str("subject", fullSubject).Msg("notify: failed to send email")
		return
	}
	n.opts.Logger.Info().Str("subject", fullSubject).Strs("to", recipients).Msg("notify: email sent")
}

func (n *EmailNotifier) compose(to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.opts.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", n.opts.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LogNotifier records notifications in the log only.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, subject, body string) {
	n.Logger.Warn().Str("subject", subject).Str("body", body).Msg("notify: notification")
}

var (
	_ domain.Notifier = (*EmailNotifier)(nil)
	_ domain.Notifier = LogNotifier{}
)
