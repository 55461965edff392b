package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docchat-go/internal/rag"
)

// maxDocumentXML caps the decompressed size of word/document.xml.
const maxDocumentXML = 64 << 20

var (
	errInvalidUTF8   = errors.New("file is not valid UTF-8")
	errMissingDocXML = errors.New("word/document.xml not found")
)

// utf8BOM is stripped from the start of text files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// extractTXT reads a UTF-8 text file as one document.
func extractTXT(_ context.Context, path string) ([]rag.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, errInvalidUTF8
	}
	return []rag.Document{{
		SourcePath: path,
		Content:    string(data),
		FileType:   rag.FileTypeTXT,
	}}, nil
}

// extractPDF emits one document per page that carries a content stream.
// The parser panics on some malformed inputs; those panics become errors.
func extractPDF(ctx context.Context, path string) (docs []rag.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	docs = make([]rag.Document, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		docs = append(docs, rag.Document{
			SourcePath: path,
			Content:    text,
			Page:       i,
			FileType:   rag.FileTypePDF,
		})
	}
	return docs, nil
}

// extractDOCX reads paragraph text from word/document.xml, one line per
// paragraph.
func extractDOCX(_ context.Context, path string) ([]rag.Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !strings.EqualFold(f.Name, "word/document.xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		text, err := docxText(io.LimitReader(rc, maxDocumentXML))
		rc.Close()
		if err != nil {
			return nil, err
		}
		return []rag.Document{{
			SourcePath: path,
			Content:    text,
			FileType:   rag.FileTypeDOCX,
		}}, nil
	}
	return nil, errMissingDocXML
}

// docxText walks the WordprocessingML token stream. Text runs are
// concatenated, tabs and breaks are kept, and each paragraph ends a line.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var paras []string
	var cur strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("parsing document.xml: %w", err)
				}
				cur.WriteString(s)
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				paras = append(paras, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		paras = append(paras, cur.String())
	}
	return strings.Join(paras, "\n"), nil
}
