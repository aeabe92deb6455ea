package export

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/sweeney/weight-sensor/internal/status"
	"github.com/sweeney/weight-sensor/internal/store"
)

var summaryTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(summaryText))

const summaryText = `weight-sensor
{{range .Channels}}
{{printf "%-12s" .Name}} {{printf "%7d" .Grams}} g  {{stateOrUnknown (printf "%s" .State)}}{{if .Faults}}  faults={{.Faults}}{{end}}{{if .LastError}}  ({{.LastError}}){{end}}
{{- else}}
no channels
{{- end}}

ready      {{if .Baselined}}yes{{else}}no{{end}}
uptime     {{uptime .Uptime}}
started    {{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}
events     changed={{.Counts.Changed}} settled={{.Counts.Settled}} faulted={{.Counts.Faulted}} ready={{.Counts.Ready}}
journal    {{if .Config.StorePath}}{{if .StoreOK}}ok{{else}}failing{{end}}{{else}}disabled{{end}}
heartbeat  {{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}
{{- if .Recent}}

recent
{{- range .Recent}}
{{printf "%-12s" .Channel}} {{printf "%7d" .Grams}} g  {{.RecordedAt.UTC.Format "2006-01-02T15:04:05Z"}}
{{- end}}
{{- end}}
`

func renderSummary(snap status.Snapshot, recent []store.WeightLog) ([]byte, error) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Recent []store.WeightLog
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Recent:   recent,
	}
	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
