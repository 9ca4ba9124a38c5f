// Package render composes agreement version content into a complete document
// and converts it into a PDF artifact.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"agreementvault/sanitize"
)

// ErrRenderingFailed signals the PDF conversion engine failed. The cause is
// wrapped for diagnostics.
var ErrRenderingFailed = errors.New("render: rendering failed")

// Page is one content section of a version.
type Page struct {
	Title string
	Body  string
}

// Document is the render input: the version content plus the metadata that
// appears in the document shell.
type Document struct {
	ID            string
	Title         string
	VersionNumber int
	EffectiveDate *time.Time
	Pages         []Page
	// FileName is set for externally uploaded versions that carry no
	// structured pages.
	FileName string
}

// Result is the produced binary artifact before storage.
type Result struct {
	Data      []byte
	Filename  string
	MediaType string
}

// Renderer converts composed documents into PDF bytes.
type Renderer struct {
	tokens TokenMap
	now    func() time.Time
}

// NewRenderer builds a renderer with the given placeholder token map. A nil
// map falls back to DefaultTokens.
func NewRenderer(tokens TokenMap) *Renderer {
	if tokens == nil {
		tokens = DefaultTokens()
	}
	return &Renderer{tokens: tokens, now: time.Now}
}

// section is one composed page after substitution and sanitization.
type section struct {
	Title string
	Body  string
}

// compose applies placeholder substitution (when signatory context is
// present) and re-sanitizes every page body immediately before composition,
// regardless of what the editor already stored.
func (r *Renderer) compose(doc Document, sig *SignatoryContext) []section {
	if len(doc.Pages) == 0 && doc.FileName != "" {
		return []section{{
			Title: "Attached Document",
			Body:  fmt.Sprintf("This version was provided as an uploaded file: %s", doc.FileName),
		}}
	}

	sections := make([]section, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		title, body := p.Title, p.Body
		if sig != nil {
			title = substituteTokens(title, r.tokens, *sig)
			body = substituteTokens(body, r.tokens, *sig)
		}
		sections = append(sections, section{
			Title: title,
			Body:  sanitize.Sanitize(body),
		})
	}
	return sections
}

// Render produces the PDF artifact for a version. When sig is non-nil the
// output is a personalized rendition with placeholders resolved.
func (r *Renderer) Render(doc Document, sig *SignatoryContext) (Result, error) {
	sections := r.compose(doc, sig)
	generatedAt := r.now().UTC()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, tr(doc.Title), "", 1, "R", false, 0, "")
		pdf.Ln(2)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		footer := fmt.Sprintf("Document %s | Generated %s | Page %d/{nb}",
			doc.ID, generatedAt.Format(time.RFC3339), pdf.PageNo())
		pdf.CellFormat(0, 10, tr(footer), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	// Title block.
	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(doc.Title), "", "L", false)
	pdf.SetFont("Helvetica", "", 10)
	meta := fmt.Sprintf("Version %d", doc.VersionNumber)
	if doc.EffectiveDate != nil {
		meta += fmt.Sprintf(" | Effective %s", doc.EffectiveDate.Format("2006-01-02"))
	}
	pdf.MultiCell(0, 5, tr(meta), "", "L", false)
	pdf.Ln(4)

	html := pdf.HTMLBasicNew()
	for i, sec := range sections {
		if i > 0 {
			// Forced break between consecutive sections, never after the last.
			pdf.AddPage()
		}
		if sec.Title != "" {
			pdf.SetFont("Helvetica", "B", 13)
			pdf.MultiCell(0, 7, tr(sec.Title), "", "L", false)
			pdf.Ln(1)
		}
		pdf.SetFont("Helvetica", "", 11)
		html.Write(5.5, tr(toBasicHTML(sec.Body)))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRenderingFailed, err)
	}

	return Result{
		Data:      buf.Bytes(),
		Filename:  fmt.Sprintf("%s-v%d.pdf", slugify(doc.Title), doc.VersionNumber),
		MediaType: "application/pdf",
	}, nil
}

var (
	paraCloseRE = regexp.MustCompile(`(?i)</(?:p|div)\s*>`)
	slugRE      = regexp.MustCompile(`[^a-z0-9]+`)
	anyTagRE    = regexp.MustCompile(`</?[a-zA-Z][^<>]*/?>`)
)

// toBasicHTML reduces strict sanitized markup to the tag subset the PDF
// basic-HTML writer understands: block closers turn into line breaks, every
// other tag except b/i/u/a/br is dropped while its text is kept.
func toBasicHTML(body string) string {
	s := paraCloseRE.ReplaceAllString(body, "<br><br>")
	s = strings.ReplaceAll(s, "<br/>", "<br>")
	s = dropUnsupportedTags(s)
	return strings.TrimSuffix(strings.TrimSuffix(s, "<br>"), "<br>")
}

var keepTagRE = regexp.MustCompile(`(?i)^</?(?:b|i|u|br|a)(\s[^<>]*)?/?>$`)

func dropUnsupportedTags(s string) string {
	return anyTagRE.ReplaceAllStringFunc(s, func(tag string) string {
		if keepTagRE.MatchString(tag) {
			return tag
		}
		return ""
	})
}

func slugify(title string) string {
	s := slugRE.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "agreement"
	}
	return s
}
