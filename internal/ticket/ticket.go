// ABOUTME: Renders print payloads into fixed-width receipt text for POS printers
// ABOUTME: Accepts raw text or structured sales tickets and frames them for ESC/POS

package ticket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Width is the number of columns on a standard 58mm receipt.
const Width = 32

const (
	defaultHeader = "TICKET"
	defaultFooter = "Thank you for your purchase"
	nameColumns   = 20
	priceColumns  = 8
	feedLines     = 3
)

// ErrEmptyContent is returned when there is nothing to print.
var ErrEmptyContent = errors.New("ticket content is empty")

// Item is one sold line.
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Qty   float64 `json:"qty,omitempty"`
}

// Sale is the structured ticket form.
type Sale struct {
	Header string   `json:"header,omitempty"`
	Items  []Item   `json:"items"`
	Total  *float64 `json:"total,omitempty"`
	Footer string   `json:"footer,omitempty"`
}

// Format renders content as receipt text. Content is either a JSON string,
// printed as-is, or a Sale object.
func Format(content json.RawMessage) ([]byte, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil, ErrEmptyContent
	}

	if content[0] == '"' {
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return nil, fmt.Errorf("decoding text content: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyContent
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		return []byte(text), nil
	}

	var sale Sale
	if err := json.Unmarshal(content, &sale); err != nil {
		return nil, fmt.Errorf("decoding ticket content: %w", err)
	}
	if len(sale.Items) == 0 && sale.Total == nil {
		return nil, ErrEmptyContent
	}
	return []byte(RenderSale(sale)), nil
}

// RenderSale lays out a sale on a Width-column receipt.
func RenderSale(s Sale) string {
	header := s.Header
	if header == "" {
		header = defaultHeader
	}
	footer := s.Footer
	if footer == "" {
		footer = defaultFooter
	}
	rule := strings.Repeat("=", Width)

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString(center(header) + "\n")
	b.WriteString(rule + "\n")

	var sum float64
	for _, it := range s.Items {
		fmt.Fprintf(&b, "%-*s $%*.2f\n", nameColumns, truncate(it.Name, nameColumns), priceColumns, it.Price)
		if it.Qty != 0 && it.Qty != 1 {
			fmt.Fprintf(&b, "  Qty: %g\n", it.Qty)
			sum += it.Price * it.Qty
		} else {
			sum += it.Price
		}
	}

	total := sum
	if s.Total != nil {
		total = *s.Total
	}
	b.WriteString(strings.Repeat("-", Width) + "\n")
	amount := fmt.Sprintf("$%.2f", total)
	label := "TOTAL:"
	pad := Width - len(label) - len(amount)
	if pad < 1 {
		pad = 1
	}
	b.WriteString(label + strings.Repeat(" ", pad) + amount + "\n")
	b.WriteString(rule + "\n")
	b.WriteString(center(footer) + "\n")
	b.WriteString(strings.Repeat("\n", feedLines))
	return b.String()
}

// EscPos frames receipt text for an ESC/POS printer: initialize, text, partial cut.
func EscPos(text []byte) []byte {
	out := make([]byte, 0, len(text)+5)
	out = append(out, 0x1b, '@')
	out = append(out, text...)
	out = append(out, 0x1d, 'V', 1)
	return out
}

func center(s string) string {
	s = truncate(s, Width)
	n := utf8.RuneCountInString(s)
	left := (Width - n) / 2
	return strings.Repeat(" ", left) + s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
