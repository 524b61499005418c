package notification

import (
	"context"
	"fmt"
	"html"
	"strings"

	"ExpeditionFlow/internal/config"

	"go.uber.org/zap"
)

// Reporter mails run summaries to the operations address.
type Reporter struct {
	mailer Mailer
	to     string
	log    *zap.Logger
}

func NewReporter(mailer Mailer, cfg *config.Config, log *zap.Logger) *Reporter {
	return &Reporter{mailer: mailer, to: cfg.Mail.OpsEmail, log: log}
}

// Enabled reports whether an operations address is configured.
func (r *Reporter) Enabled() bool {
	return r != nil && r.to != ""
}

// ReportFailures sends one email listing every failure. Nothing is sent for an
// empty list. A delivery error is logged and returned.
func (r *Reporter) ReportFailures(ctx context.Context, subject string, total int, failures []string) error {
	if !r.Enabled() || len(failures) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%d of %d items failed.</p><ul>", len(failures), total)
	for _, f := range failures {
		fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(f))
	}
	b.WriteString("</ul>")

	if err := r.mailer.Send(ctx, []string{r.to}, subject, b.String()); err != nil {
		r.log.Error("failure report not sent", zap.String("subject", subject), zap.Error(err))
		return err
	}
	r.log.Info("failure report sent", zap.String("to", r.to), zap.Int("failures", len(failures)))
	return nil
}
