package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"doc-tutor/internal/models"
)

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// SupportedExtensions lists the file types Extract understands.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".md", ".txt"}

// ExtractFile reads the file at path and extracts its plain text.
func ExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", models.NewError(models.KindIngestion, fmt.Sprintf("cannot read %s", filepath.Base(path)), err)
	}
	return Extract(filepath.Base(path), data)
}

// Extract returns the plain text of an uploaded document. The format is
// chosen by the file extension.
func Extract(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		content string
		err     error
	)
	switch ext {
	case ".pdf":
		content, err = extractPDF(data)
	case ".docx":
		content, err = extractDOCX(data)
	case ".pptx":
		content, err = extractPPTX(data)
	case ".xlsx":
		content, err = extractXLSX(data)
	case ".md", ".markdown":
		content, err = extractMarkdown(data)
	case ".txt":
		content, err = extractText(data)
	default:
		return "", models.NewError(models.KindUnsupportedFormat,
			fmt.Sprintf("unsupported file format %q, supported: %s", ext, strings.Join(SupportedExtensions, ", ")), nil)
	}
	if err != nil {
		return "", models.NewError(models.KindCorruptFile, fmt.Sprintf("failed to read %s", filename), err)
	}
	if strings.TrimSpace(content) == "" {
		return "", models.NewError(models.KindIngestion, fmt.Sprintf("no text could be extracted from %s", filename), nil)
	}

	log.Debug().Str("file", filename).Int("chars", len(content)).Msg("Extracted document text")
	return content, nil
}

func extractPDF(data []byte) (content string, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var pages []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	return textFromXML(r.Editable().GetContent())
}

func extractPPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range zr.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var out strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		slideText, err := textFromXML(string(raw))
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		out.WriteString(slideText)
		out.WriteString("\n")
	}
	return out.String(), nil
}

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var out strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		fmt.Fprintf(&out, "Sheet: %s\n", sheetName)
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

func extractMarkdown(data []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var out bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				out.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			out.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				out.Write(seg.Value(data))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("text file is not valid UTF-8")
	}
	return string(data), nil
}

// textFromXML collects the character data of <t> runs (w:t in Word, a:t in
// PowerPoint) and ends a line at every closing paragraph element.
func textFromXML(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		out    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				out.Write(t)
			}
		}
	}
	return out.String(), nil
}
