package services

import (
	"io"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
)

// Placeholder tokens understood by the renderer, written as {{token}}.
const (
	FieldTargetName    = "nama_badan_publik"
	FieldCategory      = "kategori"
	FieldTargetEmail   = "email"
	FieldQuestion      = "pertanyaan"
	FieldRequesterName = "nama_pemohon"
	FieldPurpose       = "tujuan"
	FieldDate          = "tanggal"
)

// multiline fields have newlines turned into <br> since bodies are HTML.
var multilineFields = map[string]bool{
	FieldQuestion: true,
	FieldPurpose:  true,
}

var indonesianMonths = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// FormatDate renders a date the way request letters are dated, e.g. "17 Oktober 2026".
func FormatDate(t time.Time) string {
	return t.Format("2") + " " + indonesianMonths[t.Month()-1] + " " + t.Format("2006")
}

// Render substitutes every known placeholder. Unknown and unterminated
// tokens are left as written. It never fails.
func Render(template string, fields map[string]string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return fasttemplate.ExecuteFuncString(template, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		// A stray "{{" before a real tag ends up inside tag; only the text
		// after the last opener is the placeholder.
		prefix := ""
		if i := strings.LastIndex(tag, "{{"); i >= 0 {
			prefix, tag = "{{"+tag[:i], tag[i+2:]
		}
		name := strings.TrimSpace(tag)
		value, ok := fields[name]
		if !ok {
			return io.WriteString(w, prefix+"{{"+tag+"}}")
		}
		if multilineFields[name] {
			value = nl2br(value)
		}
		return io.WriteString(w, prefix+value)
	})
}

func nl2br(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "<br>")
}

// TemplateMeta is the caller-supplied part of the placeholder values.
type TemplateMeta struct {
	RequesterName string `json:"nama_pemohon"`
	Purpose       string `json:"tujuan"`
	Date          string `json:"tanggal"`
}

// fieldsFor builds the placeholder values for one target.
func fieldsFor(target targetFields, meta TemplateMeta, now time.Time) map[string]string {
	date := meta.Date
	if date == "" {
		date = FormatDate(now)
	}
	return map[string]string{
		FieldTargetName:    target.Name,
		FieldCategory:      target.Category,
		FieldTargetEmail:   target.Email,
		FieldQuestion:      target.Question,
		FieldRequesterName: meta.RequesterName,
		FieldPurpose:       meta.Purpose,
		FieldDate:          date,
	}
}

type targetFields struct {
	Name     string
	Category string
	Email    string
	Question string
}
