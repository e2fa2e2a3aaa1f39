package voucher

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-payables/web"
)

// PDFClient exposes the subset of the report client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// DisbursementDocument is the data bound to the voucher template.
type DisbursementDocument struct {
	Voucher     PaymentVoucher
	GeneratedAt time.Time
}

// Renderer turns a paid voucher into a PDF via html/template and Gotenberg.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewRenderer parses the voucher template. Amounts are formatted for lang.
func NewRenderer(client PDFClient, lang language.Tag) (*Renderer, error) {
	if client == nil {
		return nil, fmt.Errorf("voucher renderer: pdf client required")
	}
	printer := message.NewPrinter(lang)
	caser := cases.Title(lang)
	funcMap := template.FuncMap{
		"formatDate": func(v any) string {
			switch t := v.(type) {
			case time.Time:
				if t.IsZero() {
					return ""
				}
				return t.Format("02 Jan 2006")
			case *time.Time:
				if t == nil || t.IsZero() {
					return ""
				}
				return t.Format("02 Jan 2006")
			}
			return ""
		},
		"money": func(code string, v float64) string {
			return formatMoney(printer, code, v)
		},
		"formatPercent": func(v float64) string {
			return printer.Sprintf("%.2f%%", v)
		},
		"title": func(v any) string {
			return caser.String(strings.ReplaceAll(strings.ToLower(fmt.Sprint(v)), "_", " "))
		},
	}
	tpl, err := template.New("payment_voucher.html").Funcs(funcMap).ParseFS(web.Templates, "templates/reports/payment_voucher.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client}, nil
}

// HTML executes the template only.
func (r *Renderer) HTML(doc DisbursementDocument) (string, error) {
	if r == nil || r.tpl == nil {
		return "", fmt.Errorf("voucher renderer not initialised")
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render executes the template and converts the HTML to PDF bytes.
func (r *Renderer) Render(ctx context.Context, doc DisbursementDocument) ([]byte, error) {
	html, err := r.HTML(doc)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename is the storage name of a voucher's disbursement document.
func Filename(v PaymentVoucher) string {
	number := unsafeFilename.ReplaceAllString(v.VoucherNumber, "-")
	number = strings.Trim(number, "-.")
	if number == "" {
		number = fmt.Sprintf("%d", v.ID)
	}
	return "payment-voucher-" + number + ".pdf"
}

func formatMoney(p *message.Printer, code string, v float64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return p.Sprintf("%.2f", v)
	}
	return p.Sprintf("%s %.2f", unit.String(), v)
}
