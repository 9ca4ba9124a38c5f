// Package sanitize normalizes rich-text editor markup into strict,
// self-closed, well-formed markup the document renderer can consume. It runs
// a fixed, ordered pipeline of pure string passes; later passes assume the
// earlier ones already ran.
package sanitize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

type pass struct {
	name string
	fn   func(string) string
}

// pipeline is data: the fixed pass order. Tests exercise passes in isolation
// through this table.
var pipeline = []pass{
	{"self_close_voids", selfCloseVoids},
	{"replace_entities", replaceEntities},
	{"normalize_attributes", normalizeAttributes},
	{"strip_unsafe", stripUnsafe},
	{"balance_containers", balanceContainers},
}

// Sanitize runs the full pipeline over raw editor markup. It never fails: on
// any internal panic the original input is returned unchanged and a warning
// is logged. The renderer downstream decides whether the result is usable.
func Sanitize(raw string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("sanitize: pipeline panicked, returning input unchanged", "panic", fmt.Sprint(r))
			out = raw
		}
	}()

	out = raw
	for _, p := range pipeline {
		out = p.fn(out)
	}
	return out
}

var voidRE = regexp.MustCompile(`(?i)<(br|hr|img|input|meta|link|col|area|base|embed|source|track|wbr)((?:\s[^<>]*?)?)\s*/?>`)

// selfCloseVoids rewrites void elements into self-closed form.
func selfCloseVoids(s string) string {
	return voidRE.ReplaceAllStringFunc(s, func(m string) string {
		sub := voidRE.FindStringSubmatch(m)
		attrs := strings.TrimRight(sub[2], " \t")
		return "<" + sub[1] + attrs + "/>"
	})
}

// entities maps the named character entities the rich-text editor emits to
// their literal Unicode equivalents. &amp; &lt; &gt; &quot; stay escaped:
// unescaping them would reintroduce markup-significant characters.
var entities = map[string]string{
	"&nbsp;":   " ",
	"&rsquo;":  "’",
	"&lsquo;":  "‘",
	"&rdquo;":  "”",
	"&ldquo;":  "“",
	"&mdash;":  "—",
	"&ndash;":  "–",
	"&hellip;": "…",
	"&copy;":   "©",
	"&reg;":    "®",
	"&trade;":  "™",
	"&deg;":    "°",
	"&sect;":   "§",
	"&para;":   "¶",
	"&middot;": "·",
	"&bull;":   "•",
	"&laquo;":  "«",
	"&raquo;":  "»",
	"&times;":  "×",
	"&divide;": "÷",
	"&euro;":   "€",
	"&pound;":  "£",
	"&yen;":    "¥",
	"&cent;":   "¢",
	"&apos;":   "'",
}

var namedEntityRE = regexp.MustCompile(`&[a-zA-Z][a-zA-Z0-9]*;`)

// replaceEntities substitutes known named entities with literal characters.
// Unknown named entities are left untouched and logged for later review; an
// unknown entity is never a reason to fail.
func replaceEntities(s string) string {
	return namedEntityRE.ReplaceAllStringFunc(s, func(ent string) string {
		if lit, ok := entities[ent]; ok {
			return lit
		}
		switch ent {
		case "&amp;", "&lt;", "&gt;", "&quot;":
			return ent
		}
		slog.Warn("sanitize: unrecognized named entity left as-is", "entity", ent)
		return ent
	})
}

var (
	tagRE          = regexp.MustCompile(`<[a-zA-Z][^<>]*>`)
	unquotedAttrRE = regexp.MustCompile(`(\s[a-zA-Z_][a-zA-Z0-9_-]*=)([^\s"'<>` + "`" + `][^\s<>]*)`)
	boolAttrRE     = regexp.MustCompile(`(\s)(checked|disabled|selected|readonly|multiple|required|autofocus|novalidate)(?:([\s/>])|$)`)
)

// normalizeAttributes quotes unquoted attribute values and expands bare
// boolean attributes to attr="attr" form. Only tag interiors are touched.
func normalizeAttributes(s string) string {
	return tagRE.ReplaceAllStringFunc(s, func(tag string) string {
		tag = unquotedAttrRE.ReplaceAllStringFunc(tag, func(m string) string {
			sub := unquotedAttrRE.FindStringSubmatch(m)
			val := sub[2]
			// A trailing "/" belongs to a self-closed tag, not the value.
			slash := ""
			if strings.HasSuffix(val, "/") {
				val = strings.TrimSuffix(val, "/")
				slash = "/"
			}
			return sub[1] + `"` + val + `"` + slash
		})
		// A match consumes the separator the next bare attribute needs, so
		// adjacent booleans resolve over repeated applications.
		for {
			next := boolAttrRE.ReplaceAllString(tag, `$1$2="$2"$3`)
			if next == tag {
				break
			}
			tag = next
		}
		return tag
	})
}

var (
	commentRE    = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptRE     = regexp.MustCompile(`(?is)<script\b[^<>]*>.*?</script\s*>`)
	styleRE      = regexp.MustCompile(`(?is)<style\b[^<>]*>.*?</style\s*>`)
	doctypeRE    = regexp.MustCompile(`(?i)<!DOCTYPE[^<>]*>`)
	xmlDeclRE    = regexp.MustCompile(`(?i)<\?xml[^<>]*\?>`)
	emptyParaRE  = regexp.MustCompile(`(?i)<p(?:\s[^<>]*)?>\s*</p>`)
	selfClosePRE = regexp.MustCompile(`(?i)<p(?:\s[^<>]*)?/>`)
)

// stripUnsafe removes comments, embedded script/style blocks, declarations,
// and empty paragraph elements.
func stripUnsafe(s string) string {
	s = commentRE.ReplaceAllString(s, "")
	s = scriptRE.ReplaceAllString(s, "")
	s = styleRE.ReplaceAllString(s, "")
	s = doctypeRE.ReplaceAllString(s, "")
	s = xmlDeclRE.ReplaceAllString(s, "")
	s = emptyParaRE.ReplaceAllString(s, "")
	s = selfClosePRE.ReplaceAllString(s, "")
	return s
}

// containerTags are balanced best-effort by appending missing closers,
// innermost-first so the common span-in-p-in-div nesting closes cleanly.
var containerTags = []string{"span", "p", "div"}

// balanceContainers counts opens vs closes per container tag and appends the
// deficit of closing tags at the end. Self-closed forms count as neither.
func balanceContainers(s string) string {
	var b strings.Builder
	b.WriteString(s)
	for _, tag := range containerTags {
		openRE := regexp.MustCompile(`(?i)<` + tag + `(\s[^<>]*[^/<>])?>`)
		closeRE := regexp.MustCompile(`(?i)</` + tag + `\s*>`)
		deficit := len(openRE.FindAllString(s, -1)) - len(closeRE.FindAllString(s, -1))
		for i := 0; i < deficit; i++ {
			b.WriteString("</" + tag + ">")
		}
	}
	return b.String()
}

var entityLikeRE = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9]*|#[0-9]+|#x[0-9a-fA-F]+);`)

// IsWellFormed is an advisory check: balanced angle brackets and no bare
// ampersands. It does not gate rendering.
func IsWellFormed(markup string) bool {
	if strings.Count(markup, "<") != strings.Count(markup, ">") {
		return false
	}
	for i := 0; i < len(markup); i++ {
		if markup[i] != '&' {
			continue
		}
		if !entityLikeRE.MatchString(markup[i+1:]) {
			return false
		}
	}
	return true
}
