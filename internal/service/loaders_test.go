package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a one-page PDF showing text in Helvetica.
func buildPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, o := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

// buildDocx writes a minimal .docx archive with the given document.xml body.
func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>%s</w:body></w:document>`, body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return b.Bytes()
}

func TestDocxText(t *testing.T) {
	data := buildDocx(t,
		`<w:p><w:r><w:t>Residual connections</w:t></w:r><w:r><w:t xml:space="preserve"> help training.</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Dropout</w:t><w:tab/><w:t>regularizes.</w:t><w:br/><w:t>Done.</w:t></w:r></w:p>`)
	text, err := docxText(data)
	require.NoError(t, err)
	assert.Equal(t, "Residual connections help training.\nDropout\tregularizes.\nDone.\n", text)
}

func TestDocxText_Invalid(t *testing.T) {
	_, err := docxText([]byte("not a zip"))
	assert.Error(t, err)

	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	_, err = zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	_, err = docxText(b.Bytes())
	assert.ErrorContains(t, err, "document.xml missing")
}

func TestPDFText(t *testing.T) {
	text, err := pdfText(buildPDF("Attention is all you need"))
	require.NoError(t, err)
	assert.Contains(t, text, "Attention is all you need")

	_, err = pdfText([]byte("%PDF-1.4 truncated"))
	assert.Error(t, err)
}

func TestIngest_PDFAndDocx(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper.pdf"), buildPDF("The encoder maps tokens to vectors."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.docx"),
		buildDocx(t, `<w:p><w:r><w:t>Bananas grow in tropical climates.</w:t></w:r></w:p>`), 0o644))
	writeFile(t, dir, "ignored.csv", "a,b")

	s := newTestService()
	res, err := s.Ingest(context.Background(), []string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)

	passages, err := s.Retrieve(context.Background(), "encoder tokens", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, filepath.Join(dir, "paper.pdf"), passages[0].Source["source"])

	passages, err = s.Retrieve(context.Background(), "tropical bananas", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, filepath.Join(dir, "notes.docx"), passages[0].Source["source"])
}

func TestIngest_CorruptDocumentFails(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "broken.docx", "plain text with a docx name")
	_, err := newTestService().Ingest(context.Background(), []string{p})
	assert.ErrorContains(t, err, "broken.docx")
}
