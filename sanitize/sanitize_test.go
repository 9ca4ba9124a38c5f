package sanitize

import (
	"strings"
	"testing"
)

func TestSelfCloseVoids(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"line one<br>line two", "line one<br/>line two"},
		{"<hr>", "<hr/>"},
		{`<img src="a.png">`, `<img src="a.png"/>`},
		{`<img src="a.png" />`, `<img src="a.png"/>`},
		{"<BR>", "<BR/>"},
		{"<p>already fine</p>", "<p>already fine</p>"},
		{`<input type="text" >`, `<input type="text"/>`},
	}
	for _, c := range cases {
		if got := selfCloseVoids(c.in); got != c.want {
			t.Errorf("selfCloseVoids(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReplaceEntities(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello &rsquo;world&rsquo;", "Hello ’world’"},
		{"a&nbsp;b", "a b"},
		{"em&mdash;dash", "em—dash"},
		{"5 &amp; 6", "5 &amp; 6"},
		{"&lt;tag&gt;", "&lt;tag&gt;"},
		{"unknown &wibble; stays", "unknown &wibble; stays"},
		{"&copy; 2024", "© 2024"},
	}
	for _, c := range cases {
		if got := replaceEntities(c.in); got != c.want {
			t.Errorf("replaceEntities(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeAttributes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`<p class=intro>x</p>`, `<p class="intro">x</p>`},
		{`<p class="intro">x</p>`, `<p class="intro">x</p>`},
		{`<input checked>`, `<input checked="checked">`},
		{`<input checked disabled>`, `<input checked="checked" disabled="disabled">`},
		{`<input type=text required>`, `<input type="text" required="required">`},
		{`<img src=a.png/>`, `<img src="a.png"/>`},
		{`no tags a=b here`, `no tags a=b here`},
	}
	for _, c := range cases {
		if got := normalizeAttributes(c.in); got != c.want {
			t.Errorf("normalizeAttributes(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStripUnsafe(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a<!-- hidden -->b", "ab"},
		{"a<script>alert(1)</script>b", "ab"},
		{"a<style>p{color:red}</style>b", "ab"},
		{"<!DOCTYPE html><p>x</p>", "<p>x</p>"},
		{`<?xml version="1.0"?><p>x</p>`, "<p>x</p>"},
		{"<p></p><p>keep</p>", "<p>keep</p>"},
		{"<p>   </p>", ""},
		{`<p style="x"></p>`, ""},
		{"a<!--\nmultiline\n-->b", "ab"},
	}
	for _, c := range cases {
		if got := stripUnsafe(c.in); got != c.want {
			t.Errorf("stripUnsafe(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBalanceContainers(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<p>open", "<p>open</p>"},
		{"<p>one</p>", "<p>one</p>"},
		{"<div><p>nested", "<div><p>nested</p></div>"},
		{"<span>a<span>b</span>", "<span>a<span>b</span></span>"},
		{"plain text", "plain text"},
	}
	for _, c := range cases {
		if got := balanceContainers(c.in); got != c.want {
			t.Errorf("balanceContainers(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizePipelineOrder(t *testing.T) {
	// Entity substitution happens after void closing and before stripping;
	// the full pipeline on editor output yields strict markup.
	in := `<!-- note --><p>Hello &rsquo;world&rsquo;<br></p><p></p><div>open`
	want := "<p>Hello ’world’<br/></p><div>open</div>"
	if got := Sanitize(in); got != want {
		t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
	}
}

func TestSanitizeScriptRemoved(t *testing.T) {
	got := Sanitize(`<p>safe</p><script src=evil.js>steal()</script>`)
	if strings.Contains(got, "script") || strings.Contains(got, "steal") {
		t.Errorf("expected script block removed, got %q", got)
	}
}

func TestSanitizeEmptyInput(t *testing.T) {
	if got := Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}

func TestSanitizeNeverPanics(t *testing.T) {
	inputs := []string{
		"<p", "<<<>>>", strings.Repeat("<div>", 500), "&;", "<p attr=>x",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Sanitize(%q) panicked: %v", in, r)
				}
			}()
			Sanitize(in)
		}()
	}
}

func TestIsWellFormed(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"<p>balanced</p>", true},
		{"<p>unclosed bracket <", false},
		{"bare & ampersand", false},
		{"escaped &amp; fine", true},
		{"numeric &#169; fine", true},
		{"hex &#x2019; fine", true},
		{"", true},
	}
	for _, c := range cases {
		if got := IsWellFormed(c.in); got != c.want {
			t.Errorf("IsWellFormed(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
