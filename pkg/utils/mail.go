package utils

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/mnuddindev/disasterlink/pkg/logger"
	"gopkg.in/gomail.v2"
)

// EmailConfig holds SMTP and app settings, passed in from app config
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	AppURL       string
	FromEmail    string
}

// Alert is the content of an urgent responder email.
type Alert struct {
	Title    string
	Message  string
	Priority string
	Path     string // relative link into the app, e.g. /sos/<id>
}

// BuildAlertMessage renders the alert into a multipart email addressed to every recipient.
func BuildAlertMessage(config EmailConfig, recipients []string, alert Alert) *gomail.Message {
	link := config.AppURL + alert.Path

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body { font-family: 'Arial', sans-serif; background-color: #f4f4f4; color: #333; }
        .container { max-width: 600px; margin: 40px auto; background-color: #ffffff; border-radius: 8px; }
        .header { background-color: #c62828; padding: 20px; text-align: center; color: #ffffff; }
        .content { padding: 30px; line-height: 1.6; }
        .priority { font-weight: bold; text-transform: uppercase; color: #c62828; }
        .button { display: inline-block; padding: 12px 24px; background-color: #c62828; color: #ffffff; text-decoration: none; border-radius: 5px; }
        .footer { padding: 20px; text-align: center; font-size: 12px; color: #777; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>%s</h1></div>
        <div class="content">
            <p class="priority">Priority: %s</p>
            <p>%s</p>
            <p style="text-align: center;"><a href="%s" class="button">Open in DisasterLink</a></p>
        </div>
        <div class="footer"><p>&copy; %d DisasterLink</p></div>
    </div>
</body>
</html>
`, html.EscapeString(alert.Title), html.EscapeString(alert.Title), html.EscapeString(alert.Priority),
		html.EscapeString(alert.Message), link, time.Now().Year())

	// Plain text fallback
	textBody := fmt.Sprintf("%s\n\nPriority: %s\n\n%s\n\nOpen: %s\n", alert.Title, alert.Priority, alert.Message, link)

	msg := gomail.NewMessage()
	msg.SetHeader("From", config.FromEmail)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", "[DisasterLink] "+alert.Title)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)
	return msg
}

// SendAlertEmail dials the configured SMTP server and sends the alert.
func SendAlertEmail(ctx context.Context, config EmailConfig, recipients []string, alert Alert, log *logger.Logger) error {
	if len(recipients) == 0 {
		return nil
	}
	msg := BuildAlertMessage(config, recipients, alert)

	dialer := gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.SMTPUsername, config.SMTPPassword)
	if err := dialer.DialAndSend(msg); err != nil {
		log.Warn(ctx).WithMeta(Map{"recipients": fmt.Sprintf("%d", len(recipients))}).WithError(err).Logs("Failed to send alert email")
		return DependencyFailure("alert email", err)
	}

	log.Info(ctx).WithMeta(Map{"recipients": fmt.Sprintf("%d", len(recipients)), "title": alert.Title}).Logs("Alert email sent")
	return nil
}
