package monitor

import texttmpl "text/template"

var integrityAlertTmpl = texttmpl.Must(texttmpl.New("integrity_alert").Parse(`A monitored session was rejected.

Session:  {{.ID}}
Learner:  {{.LearnerID}}
Kind:     {{.Kind}}
Started:  {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}
{{if .Terminated}}Terminated: {{.TerminationReason}}
{{end}}
Valid watch time: {{printf "%.0f" .ValidWatchSeconds}}s of {{printf "%.0f" .TotalDurationSeconds}}s
{{with .Ledger}}Tab switches: {{.TabSwitches}}, face missing: {{.FaceMissingEvents}}, auto pauses: {{.AutoPauses}}, skips: {{.SkipCount}} ({{printf "%.0f" .SkippedSeconds}}s)
{{end}}{{with .Result}}
Reasons:
{{range .Reasons}}  - {{.}}
{{end}}{{end}}`))
