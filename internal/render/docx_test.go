package render

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func readPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening %s: %v", name, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		return string(content)
	}
	t.Fatalf("part %s missing", name)
	return ""
}

func TestDocxBytesStructure(t *testing.T) {
	md := "# Executive Summary\n\nSome overview text.\n\n## Key Discussion Points\n- first point\n* second point\n### Details\nclosing paragraph"
	data, err := DocxBytes(md)
	if err != nil {
		t.Fatalf("DocxBytes: %v", err)
	}

	for _, part := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml", "word/styles.xml"} {
		readPart(t, data, part)
	}

	doc := readPart(t, data, "word/document.xml")
	checks := []string{
		`<w:pStyle w:val="Heading1"/>`,
		`<w:pStyle w:val="Heading2"/>`,
		`<w:pStyle w:val="Heading3"/>`,
		`<w:pStyle w:val="ListBullet"/>`,
		"Executive Summary",
		"• first point",
		"• second point",
		"closing paragraph",
	}
	for _, want := range checks {
		if !strings.Contains(doc, want) {
			t.Errorf("document.xml missing %q", want)
		}
	}
	if strings.Contains(doc, "# Executive") {
		t.Error("markdown marker leaked into document")
	}
}

func TestDocxBytesEscapesXML(t *testing.T) {
	data, err := DocxBytes("a < b & c > d")
	if err != nil {
		t.Fatalf("DocxBytes: %v", err)
	}
	doc := readPart(t, data, "word/document.xml")
	if !strings.Contains(doc, "a &lt; b &amp; c &gt; d") {
		t.Errorf("text not escaped: %s", doc)
	}
}
