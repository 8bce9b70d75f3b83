package dispatch

import (
	"context"
	"net/url"
	"strings"
)

// PopURLFinder resolves the screen-pop URL shown to an agent for a caller.
// number is already sanitized (digits only, no NANP country code).
type PopURLFinder interface {
	Find(ctx context.Context, number string) (string, bool, error)
}

// TemplatePopURLFinder renders a URL template, replacing {number} with the
// query-escaped caller number.
type TemplatePopURLFinder struct {
	Template string
}

func (f TemplatePopURLFinder) Find(ctx context.Context, number string) (string, bool, error) {
	if f.Template == "" || number == "" {
		return "", false, nil
	}
	return strings.ReplaceAll(f.Template, "{number}", url.QueryEscape(number)), true, nil
}
