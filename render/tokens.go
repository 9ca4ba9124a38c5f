package render

import "regexp"

// SignatoryContext carries the display fields substituted into a
// personalized rendition. Fields are snapshots taken by the caller, not live
// identity lookups.
type SignatoryContext struct {
	Name         string
	Email        string
	Organization string
}

// TokenMap binds placeholder tokens to resolver functions. The map is passed
// into the renderer explicitly so tests can inject alternate token sets;
// there is no shared global table.
type TokenMap map[string]func(SignatoryContext) string

// DefaultTokens returns the standard placeholder set. Each resolver falls
// back to a bracketed label when the context field is empty.
func DefaultTokens() TokenMap {
	return TokenMap{
		"SIGNATORY_NAME": func(sc SignatoryContext) string {
			return orFallback(sc.Name, "[Name]")
		},
		"SIGNATORY_EMAIL": func(sc SignatoryContext) string {
			return orFallback(sc.Email, "[Email]")
		},
		"SIGNATORY_ORG": func(sc SignatoryContext) string {
			return orFallback(sc.Organization, "[Organization]")
		},
	}
}

func orFallback(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var tokenRE = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// substituteTokens replaces every known placeholder with its resolved value.
// Tokens absent from the map pass through untouched.
func substituteTokens(s string, tokens TokenMap, sc SignatoryContext) string {
	return tokenRE.ReplaceAllStringFunc(s, func(m string) string {
		key := tokenRE.FindStringSubmatch(m)[1]
		resolve, ok := tokens[key]
		if !ok {
			return m
		}
		return resolve(sc)
	})
}
