package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// ImpersonationNotice tells the audit inbox that a trainer opened a trainee's dashboard.
type ImpersonationNotice struct {
	TrainerName string
	TrainerID   string
	TraineeName string
	TraineeID   string
	At          time.Time
	IPAddress   string
}

var noticeTemplate = template.Must(template.New("impersonation_notice").Parse(`<p><strong>{{.Trainer}}</strong> started viewing the dashboard of <strong>{{.TraineeName}}</strong>.</p>
<table>
<tr><td>Trainer id</td><td>{{.TrainerID}}</td></tr>
<tr><td>Trainee id</td><td>{{.TraineeID}}</td></tr>
<tr><td>Started</td><td>{{.At}}</td></tr>
{{- if .IPAddress}}
<tr><td>From</td><td>{{.IPAddress}}</td></tr>
{{- end}}
</table>
<p>The session is read-only and ends when the trainer exits the view.</p>
`))

// Compose renders the notice as a send request.
// PRE: len(to) > 0
// POST: HTML is escaped; subject names the trainee
func (n ImpersonationNotice) Compose(to []string) (SendRequest, error) {
	if len(to) == 0 {
		return SendRequest{}, ErrNoRecipients
	}
	trainer := n.TrainerName
	if trainer == "" {
		trainer = n.TrainerID
	}
	var buf bytes.Buffer
	err := noticeTemplate.Execute(&buf, struct {
		ImpersonationNotice
		Trainer string
		At      string
	}{n, trainer, n.At.UTC().Format(time.RFC1123)})
	if err != nil {
		return SendRequest{}, fmt.Errorf("render impersonation notice: %w", err)
	}
	return SendRequest{
		To:      to,
		Subject: fmt.Sprintf("Impersonation started: %s", n.TraineeName),
		HTML:    buf.String(),
	}, nil
}
