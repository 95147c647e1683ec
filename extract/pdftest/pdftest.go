// Package pdftest writes small, well-formed PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Options controls optional parts of a generated PDF.
type Options struct {
	Title  string
	Author string

	// Encrypted adds a standard security handler that no empty password opens.
	Encrypted bool
}

// Build returns a PDF with one page per entry of pages. Lines within a page
// are separated by "\n" and rendered as separate text rows.
func Build(pages []string, opts Options) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) int {
		offsets = append(offsets, buf.Len())
		n := len(offsets)
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
		return n
	}

	buf.WriteString("%PDF-1.4\n")

	// Object numbers are fixed up front: 1 catalog, 2 page tree, 3 font,
	// then a page and content stream per page, then the info dictionary.
	pageObj := func(i int) int { return 4 + 2*i }
	contentObj := func(i int) int { return 5 + 2*i }
	infoObj := 4 + 2*len(pages)

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", pageObj(i))
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentObj(i)))
		stream := contentStream(text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	obj(fmt.Sprintf("<< /Title %s /Author %s /Producer (pdftest) >>", literal(opts.Title), literal(opts.Author)))

	xref := buf.Len()
	size := len(offsets) + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	trailer := fmt.Sprintf("/Size %d /Root 1 0 R /Info %d 0 R", size, infoObj)
	if opts.Encrypted {
		trailer += " /Encrypt << /Filter /Standard /V 1 /R 2 /Length 40 /P -44" +
			" /O <" + strings.Repeat("4f", 32) + "> /U <" + strings.Repeat("a5", 32) + "> >>" +
			" /ID [<" + strings.Repeat("01", 16) + "> <" + strings.Repeat("01", 16) + ">]"
	}
	fmt.Fprintf(&buf, "trailer\n<< %s >>\nstartxref\n%d\n%%%%EOF\n", trailer, xref)

	return buf.Bytes()
}

// WriteFile builds a PDF and writes it to dir/name, returning the path.
func WriteFile(dir, name string, pages []string, opts Options) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(pages, opts), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func contentStream(text string) string {
	var sb strings.Builder
	sb.WriteString("BT /F1 12 Tf 14 TL 72 720 Td")
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			sb.WriteString(" T*")
		}
		sb.WriteString(" ")
		sb.WriteString(literal(line))
		sb.WriteString(" Tj")
	}
	sb.WriteString(" ET")
	return sb.String()
}

func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return "(" + r.Replace(s) + ")"
}
