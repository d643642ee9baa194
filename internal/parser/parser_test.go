package parser

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"doc-tutor/internal/models"
)

func TestExtract_Text(t *testing.T) {
	got, err := Extract("notes.TXT", []byte("Chlorophyll absorbs light."))
	require.NoError(t, err)
	assert.Equal(t, "Chlorophyll absorbs light.", got)
}

func TestExtract_Markdown(t *testing.T) {
	src := "# Photosynthesis\n\nPlants convert **light** into energy.\n\n```\nCO2 + H2O\n```\n"
	got, err := Extract("notes.md", []byte(src))
	require.NoError(t, err)

	assert.Contains(t, got, "Photosynthesis")
	assert.Contains(t, got, "Plants convert light into energy.")
	assert.Contains(t, got, "CO2 + H2O")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "#")
}

func TestExtract_PPTX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	slides := map[string]string{
		"ppt/slides/slide2.xml":  `<p:sld xmlns:a="a" xmlns:p="p"><a:p><a:r><a:t>Second slide</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide10.xml": `<p:sld xmlns:a="a" xmlns:p="p"><a:p><a:r><a:t>Tenth slide</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld xmlns:a="a" xmlns:p="p"><a:p><a:r><a:t>First </a:t></a:r><a:r><a:t>slide</a:t></a:r></a:p></p:sld>`,
	}
	for name, body := range slides {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	got, err := Extract("deck.pptx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "First slide\n\nSecond slide\n\nTenth slide\n\n", got)
}

func TestExtract_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Term"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Definition"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Stomata"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "Pores for gas exchange"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	got, err := Extract("terms.xlsx", buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, got, "Sheet: Sheet1")
	assert.Contains(t, got, "Stomata\tPores for gas exchange")
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		kind     models.ErrorKind
	}{
		{"unsupported extension", "image.png", []byte{0x89, 'P', 'N', 'G'}, models.KindUnsupportedFormat},
		{"corrupt pdf", "paper.pdf", []byte("this is not a pdf"), models.KindCorruptFile},
		{"corrupt pptx", "deck.pptx", []byte("not a zip"), models.KindCorruptFile},
		{"invalid utf8", "notes.txt", []byte{0xff, 0xfe, 0xfd}, models.KindCorruptFile},
		{"blank text", "notes.txt", []byte("   \n\t "), models.KindIngestion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.filename, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.kind, models.KindOf(err))
		})
	}
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("Light reactions happen in the thylakoid."), 0o600))

	got, err := ExtractFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Light reactions"))

	_, err = ExtractFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Equal(t, models.KindIngestion, models.KindOf(err))
}
