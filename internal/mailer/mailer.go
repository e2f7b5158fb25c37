// Package mailer delivers license code emails. Delivery is asynchronous and
// fire-and-forget: issuance is complete once the record is stored, and a
// failed email is logged, never retried, never surfaced to the caller.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"sync"
)

// Mailer sends a single message. Implemented by SMTPMailer in production and
// by fakes in tests.
type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// SMTPMailer sends mail over SMTP with STARTTLS and plain auth, matching what
// the purchase-flow provider expects.
type SMTPMailer struct {
	host string
	port string
	user string
	pass string
	from string
}

func NewSMTPMailer(host, port, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, user: user, pass: pass, from: from}
}

func (m *SMTPMailer) Send(to, subject, htmlBody string) error {
	msg := "From: " + m.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" +
		htmlBody

	auth := smtp.PlainAuth("", m.user, m.pass, m.host)
	if err := smtp.SendMail(m.host+":"+m.port, auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

var licenseTmpl = template.Must(template.New("license").Parse(`<html>
  <body>
    <p>Hello,</p>
    <p>Thank you for your purchase! Here is your new <b>{{.LicenseType}}</b> license code for the Sales Manager App:</p>
    <h3 style="background-color: #f0f0f0; padding: 10px; border-radius: 5px; text-align: center;">{{.Code}}</h3>
    <p>This code is now active and ready to be used.</p>
    <p>Regards,<br>Sales Manager App Team</p>
  </body>
</html>`))

const licenseSubject = "Your New Sales Manager App License Code"

type job struct {
	to          string
	code        string
	licenseType string
}

// Dispatcher runs a small worker pool over a buffered queue. Enqueueing never
// blocks the issuance path; when the queue is full the job is dropped with a
// log line.
type Dispatcher struct {
	mailer Mailer
	jobs   chan job
	wg     sync.WaitGroup
}

func NewDispatcher(m Mailer, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 5
	}
	d := &Dispatcher{
		mailer: m,
		jobs:   make(chan job, 64),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		body, err := renderLicenseBody(j.code, j.licenseType)
		if err != nil {
			slog.Error("license email render failed", "error", err)
			continue
		}
		if err := d.mailer.Send(j.to, licenseSubject, body); err != nil {
			slog.Error("license email delivery failed", "to", j.to, "error", err)
			continue
		}
		slog.Info("license email sent", "to", j.to)
	}
}

// EnqueueLicenseCode schedules the license email for an automatic issuance.
func (d *Dispatcher) EnqueueLicenseCode(to, code, licenseType string) {
	select {
	case d.jobs <- job{to: to, code: code, licenseType: licenseType}:
	default:
		slog.Error("mail queue full, dropping license email", "to", to)
	}
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	close(d.jobs)
	d.wg.Wait()
}

func renderLicenseBody(code, licenseType string) (string, error) {
	var buf bytes.Buffer
	err := licenseTmpl.Execute(&buf, struct {
		Code        string
		LicenseType string
	}{Code: code, LicenseType: licenseType})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
