package shift

import (
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var reportTemplate = template.Must(template.New("shift").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>Shift {{.S.UserName}} {{.Date .S.From}}</title>
<style>body{font-family:sans-serif}table{border-collapse:collapse}td,th{border:1px solid #999;padding:2px 6px}td.n{text-align:right}</style>
</head>
<body>
<h1>Shift close: {{.S.UserName}}</h1>
<p>{{.Stamp .S.From}} to {{.Stamp .S.To}}</p>
<table>
<tr><th>#</th><th>Time</th><th>Customer</th><th>Status</th><th>Issued</th><th>Deferred</th><th>Total</th></tr>
{{range .S.Invoices}}<tr><td>{{.ID}}</td><td>{{$.Stamp .CreatedAt}}</td><td>{{.CustomerLabel}}</td><td>{{.Status}}</td><td class="n">{{$.Money .Issued}}</td><td class="n">{{$.Money .Deferred}}</td><td class="n">{{$.Money .GrossTotal}}</td></tr>
{{else}}<tr><td colspan="7">No invoices</td></tr>
{{end}}</table>
<table>
<tr><th>Issued</th><td class="n">{{.Money .S.IssuedTotal}}</td></tr>
<tr><th>Deferred</th><td class="n">{{.Money .S.DeferredTotal}}</td></tr>
<tr><th>Invoice discounts</th><td class="n">{{.Money .S.DiscountTotal}}</td></tr>
<tr><th>Gross</th><td class="n">{{.Money .S.GrossTotal}}</td></tr>
<tr><th>Transfers in</th><td class="n">{{.Money .S.TransfersIn}}</td></tr>
<tr><th>Transfers out</th><td class="n">{{.Money .S.TransfersOut}}</td></tr>
<tr><th>Balance</th><td class="n">{{.Money .S.Balance}}</td></tr>
</table>
</body>
</html>
`))

type reportView struct {
	S       Summary
	Lang    string
	printer *message.Printer
	loc     *time.Location
}

func (v reportView) Money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return v.printer.Sprintf("%.2f", f)
}

func (v reportView) Stamp(t time.Time) string { return t.In(v.loc).Format("2006-01-02 15:04") }

func (v reportView) Date(t time.Time) string { return t.In(v.loc).Format("2006-01-02") }

// RenderHTML writes the shift report using locale for number formatting.
func RenderHTML(w io.Writer, s Summary, locale string, loc *time.Location) error {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Indonesian
	}
	if loc == nil {
		loc = time.Local
	}
	return reportTemplate.Execute(w, reportView{S: s, Lang: tag.String(), printer: message.NewPrinter(tag), loc: loc})
}
