package docparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// GrammarSpec declares a vendor grammar in data form: glob patterns that
// route a sender address to the grammar, and the field expressions to
// apply to the message body. Specs are compiled once with Compile.
type GrammarSpec struct {
	// Vendor is the canonical vendor name stored on parsed documents.
	Vendor string `yaml:"vendor" json:"vendor"`

	// SenderPatterns are doublestar globs matched against the lowercased
	// sender address (e.g., "*@billing.acme.com").
	SenderPatterns []string `yaml:"sender_patterns" json:"sender_patterns"`

	// DocNumber extracts the document number; capture group 1 is used.
	// Required.
	DocNumber string `yaml:"doc_number" json:"doc_number"`

	// Amount extracts the decimal amount; capture group 1 is used.
	Amount string `yaml:"amount,omitempty" json:"amount,omitempty"`

	// Currency extracts the ISO currency code; capture group 1 is used.
	Currency string `yaml:"currency,omitempty" json:"currency,omitempty"`

	// IssuedAt extracts the issue date; capture group 1 is used and
	// parsed with DateLayout.
	IssuedAt string `yaml:"issued_at,omitempty" json:"issued_at,omitempty"`

	// DateLayout is the Go time layout for IssuedAt. Defaults to
	// "2006-01-02".
	DateLayout string `yaml:"date_layout,omitempty" json:"date_layout,omitempty"`
}

// Grammar is a compiled vendor grammar.
type Grammar struct {
	Vendor         string
	senderPatterns []string
	docNumber      *regexp.Regexp
	amount         *regexp.Regexp
	currency       *regexp.Regexp
	issuedAt       *regexp.Regexp
	dateLayout     string
}

// Compile validates a spec and compiles its expressions.
func (s GrammarSpec) Compile() (*Grammar, error) {
	vendor := strings.TrimSpace(s.Vendor)
	if vendor == "" {
		return nil, fmt.Errorf("grammar vendor is required")
	}
	if len(s.SenderPatterns) == 0 {
		return nil, fmt.Errorf("grammar %s: at least one sender pattern is required", vendor)
	}
	for _, pat := range s.SenderPatterns {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("grammar %s: invalid sender pattern %q", vendor, pat)
		}
	}
	if strings.TrimSpace(s.DocNumber) == "" {
		return nil, fmt.Errorf("grammar %s: doc_number expression is required", vendor)
	}

	g := &Grammar{
		Vendor:         vendor,
		senderPatterns: s.SenderPatterns,
		dateLayout:     s.DateLayout,
	}
	if g.dateLayout == "" {
		g.dateLayout = "2006-01-02"
	}

	var err error
	if g.docNumber, err = regexp.Compile(s.DocNumber); err != nil {
		return nil, fmt.Errorf("grammar %s: doc_number: %w", vendor, err)
	}
	if s.Amount != "" {
		if g.amount, err = regexp.Compile(s.Amount); err != nil {
			return nil, fmt.Errorf("grammar %s: amount: %w", vendor, err)
		}
	}
	if s.Currency != "" {
		if g.currency, err = regexp.Compile(s.Currency); err != nil {
			return nil, fmt.Errorf("grammar %s: currency: %w", vendor, err)
		}
	}
	if s.IssuedAt != "" {
		if g.issuedAt, err = regexp.Compile(s.IssuedAt); err != nil {
			return nil, fmt.Errorf("grammar %s: issued_at: %w", vendor, err)
		}
	}
	return g, nil
}

// MatchSender reports whether the grammar's sender patterns cover the
// given (lowercased) address.
func (g *Grammar) MatchSender(sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	for _, pat := range g.senderPatterns {
		if ok, err := doublestar.Match(pat, sender); err == nil && ok {
			return true
		}
	}
	return false
}

// Extracted holds the fields pulled out of one message body.
type Extracted struct {
	DocNumber   string
	AmountCents int64
	Currency    string
	IssuedAt    *time.Time
}

// Extract applies the grammar's field expressions to a message body.
// A missing document number is an error; the other fields are optional
// and default to zero values when their expression is absent or does
// not match.
func (g *Grammar) Extract(body string) (*Extracted, error) {
	m := g.docNumber.FindStringSubmatch(body)
	if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
		return nil, fmt.Errorf("vendor %s: document number not found", g.Vendor)
	}
	out := &Extracted{DocNumber: strings.TrimSpace(m[1])}

	if g.amount != nil {
		if am := g.amount.FindStringSubmatch(body); len(am) >= 2 {
			cents, err := parseAmountCents(am[1])
			if err != nil {
				return nil, fmt.Errorf("vendor %s: %w", g.Vendor, err)
			}
			out.AmountCents = cents
		}
	}
	if g.currency != nil {
		if cm := g.currency.FindStringSubmatch(body); len(cm) >= 2 {
			out.Currency = strings.ToUpper(strings.TrimSpace(cm[1]))
		}
	}
	if g.issuedAt != nil {
		if dm := g.issuedAt.FindStringSubmatch(body); len(dm) >= 2 {
			t, err := time.Parse(g.dateLayout, strings.TrimSpace(dm[1]))
			if err != nil {
				return nil, fmt.Errorf("vendor %s: parse issue date: %w", g.Vendor, err)
			}
			out.IssuedAt = &t
		}
	}
	return out, nil
}

// parseAmountCents converts a decimal money string ("1,234.56") to
// integer cents. Thousands separators are tolerated; more than two
// fractional digits are not.
func parseAmountCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	cents := units * 100
	if hasFrac {
		if len(frac) > 2 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		if units < 0 {
			cents -= f
		} else {
			cents += f
		}
	}
	return cents, nil
}

// GrammarSet routes senders to compiled grammars in registration order.
type GrammarSet struct {
	grammars []*Grammar
}

// CompileSet compiles all specs into a GrammarSet.
func CompileSet(specs ...GrammarSpec) (*GrammarSet, error) {
	set := &GrammarSet{grammars: make([]*Grammar, 0, len(specs))}
	for _, spec := range specs {
		g, err := spec.Compile()
		if err != nil {
			return nil, err
		}
		set.grammars = append(set.grammars, g)
	}
	return set, nil
}

// ForSender returns the first grammar whose sender patterns match, or
// nil when no vendor claims the address.
func (s *GrammarSet) ForSender(sender string) *Grammar {
	for _, g := range s.grammars {
		if g.MatchSender(sender) {
			return g
		}
	}
	return nil
}

// Vendors lists the registered vendor names in registration order.
func (s *GrammarSet) Vendors() []string {
	out := make([]string, len(s.grammars))
	for i, g := range s.grammars {
		out[i] = g.Vendor
	}
	return out
}
