package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var barcodeRe = regexp.MustCompile(`^([A-Z]{2,5})-(\d{1,6})-(\d{1,3})$`)

// ParsedBarcode holds the structured data parsed from a copy's shelf barcode.
type ParsedBarcode struct {
	Section string
	BookSeq int
	CopySeq int
}

// ParseBarcode extracts section, book sequence and copy sequence from a raw
// shelf barcode such as "FIC-0231-02". Input is trimmed and upper-cased
// before matching, so scanner output with stray whitespace or lower case is
// accepted.
func ParseBarcode(raw string) (ParsedBarcode, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	m := barcodeRe.FindStringSubmatch(s)
	if m == nil {
		return ParsedBarcode{}, fmt.Errorf("barcode %q does not match SECTION-BOOK-COPY format", raw)
	}

	bookSeq, err := strconv.Atoi(m[2])
	if err != nil {
		return ParsedBarcode{}, fmt.Errorf("barcode %q has invalid book sequence: %w", raw, err)
	}
	copySeq, err := strconv.Atoi(m[3])
	if err != nil {
		return ParsedBarcode{}, fmt.Errorf("barcode %q has invalid copy sequence: %w", raw, err)
	}
	if copySeq == 0 {
		return ParsedBarcode{}, fmt.Errorf("barcode %q has copy sequence zero; numbering starts at 1", raw)
	}

	return ParsedBarcode{
		Section: m[1],
		BookSeq: bookSeq,
		CopySeq: copySeq,
	}, nil
}

// Canonical renders the barcode back into its normalized printed form.
func (p ParsedBarcode) Canonical() string {
	return fmt.Sprintf("%s-%04d-%02d", p.Section, p.BookSeq, p.CopySeq)
}
