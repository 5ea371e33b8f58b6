// Package normalize maps arbitrary source column labels onto canonical
// snake_case identifiers. Normalization is a pure, total function: any string
// input produces an identifier, and normalizing an already-canonical
// identifier returns it unchanged.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// compounds are domain terms that normalize as one joined concept. The table
// is consulted before generic camel-case splitting so these never get split
// or merged differently by the generic rule.
var compounds = map[string]string{
	"SalesOrder":      "sales_order",
	"PurchaseOrder":   "purchase_order",
	"CustomerPayment": "customer_payment",
	"CreditNote":      "credit_note",
	"SalesReceipt":    "sales_receipt",
	"VendorCredit":    "vendor_credit",
	"LineItem":        "line_item",
}

// Column normalizes a source column label to a canonical snake_case
// identifier. Examples:
//
//	Column("SalesOrder Number") == "sales_order_number"
//	Column("CustomerID")        == "customer_id"
//	Column("EmailID")           == "email_id"
//	Column("Order Date")        == "order_date"
//
// The function is idempotent: Column(Column(x)) == Column(x).
func Column(label string) string {
	s := stripDiacritics(strings.TrimSpace(label))

	// Rewrite known domain compounds before the generic split. The canonical
	// replacement contains an underscore, which the generic pass treats as a
	// plain separator.
	for compound, canonical := range compounds {
		s = rewriteCompound(s, compound, canonical)
	}

	return snake(s)
}

// rewriteCompound replaces compound with its canonical form wherever it ends
// at a word boundary. A lowercase letter right after the match means the
// compound sits inside a longer word ("SalesOrders"), which the generic
// camel-case split handles on its own.
func rewriteCompound(s, compound, canonical string) string {
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(s[i:], compound)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		j += i
		end := j + len(compound)
		b.WriteString(s[i:j])
		next, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLower(next) {
			b.WriteString(compound)
		} else {
			b.WriteString(" " + canonical + " ")
		}
		i = end
	}
}

// snake applies the generic camel-case-to-snake-case rule: a word boundary
// before each uppercase letter that follows a lowercase letter or digit, and
// before an uppercase letter that starts a new word after an acronym run
// ("HTTPServer" -> "http_server"). Non-alphanumeric runes are separators.
// Repeated separators collapse and leading/trailing separators are trimmed.
func snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	lastSep := true // suppress a leading separator
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && !lastSep && i > 0 {
				prev := runes[i-1]
				next := rune(0)
				if i+1 < len(runes) {
					next = runes[i+1]
				}
				startsWord := unicode.IsLower(prev) || unicode.IsDigit(prev) ||
					(unicode.IsUpper(prev) && unicode.IsLower(next))
				if startsWord {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
			}
			lastSep = true
		}
	}

	return strings.Trim(b.String(), "_")
}

// stripDiacritics removes combining marks so accented export headers
// normalize to plain ASCII identifiers.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
