package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskchat/apperr"
	"deskchat/llm"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRejectsOversizedTextFile(t *testing.T) {
	h := NewFileUploadHandler()
	path := writeFile(t, "big.txt", bytes.Repeat([]byte("a"), 2<<20))

	_, err := h.ProcessFile(path)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, apperr.UserMessage(err), "too large")

	_, err = h.ProcessReader("big.txt", bytes.NewReader(bytes.Repeat([]byte("a"), 2<<20)))
	assert.True(t, apperr.IsValidation(err))
}

func TestAcceptsTextFileAtLimit(t *testing.T) {
	h := NewFileUploadHandler()
	path := writeFile(t, "notes.md", bytes.Repeat([]byte("a"), MaxTextFileSize))

	att, err := h.ProcessFile(path)
	require.NoError(t, err)
	assert.Equal(t, llm.AttachmentFile, att.Type)
	assert.Equal(t, "text/markdown", att.MimeType)
	assert.Equal(t, "notes.md", att.Filename)
}

func TestRejectsNonUTF8Text(t *testing.T) {
	_, err := NewFileUploadHandler().ProcessData("data.json", []byte{0xff, 0xfe, 0x00})
	assert.True(t, apperr.IsValidation(err))
}

func TestRejectsUnsupportedExtension(t *testing.T) {
	_, err := NewFileUploadHandler().ProcessData("report.pdf", []byte("%PDF"))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, apperr.UserMessage(err), ".pdf")
}

func TestImageKeepsMimeType(t *testing.T) {
	h := NewFileUploadHandler()
	raw := encodePNG(t, 16, 8)
	path := writeFile(t, "shot.PNG", raw)

	att, err := h.ProcessFile(path)
	require.NoError(t, err)
	assert.True(t, att.IsImage())
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, raw, att.Data, "small images are stored unchanged")
}

func TestLargeImageIsDownscaled(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, MaxImageDimension+400, 100))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	att, err := NewFileUploadHandler().ProcessData("wide.jpg", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", att.MimeType)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(att.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, MaxImageDimension, cfg.Width)
}

func TestRejectsOversizedImage(t *testing.T) {
	_, err := NewFileUploadHandler().ProcessReader("huge.webp", strings.NewReader(strings.Repeat("x", MaxImageFileSize+1)))
	assert.True(t, apperr.IsValidation(err))
}

func TestRejectsCorruptImage(t *testing.T) {
	_, err := NewFileUploadHandler().ProcessData("broken.png", []byte("not an image"))
	assert.True(t, apperr.IsValidation(err))
}

func TestExtensionEnumeration(t *testing.T) {
	for _, e := range TextExtensions() {
		assert.True(t, e.IsText(), e)
		assert.False(t, e.IsImage(), e)
	}
	for _, e := range ImageExtensions() {
		assert.True(t, e.IsImage(), e)
		assert.True(t, strings.HasPrefix(e.MimeType(), "image/"), e)
	}
	assert.Len(t, ExtensionFilter(), len(TextExtensions())+len(ImageExtensions()))

	ext, err := ParseFileExtension("Script.PY")
	require.NoError(t, err)
	assert.Equal(t, ExtPY, ext)
}

func TestTextContent(t *testing.T) {
	att := &llm.Attachment{Type: llm.AttachmentFile, Filename: "a.txt", Data: []byte("hello")}
	assert.Contains(t, TextContent(att), "--- File: a.txt ---\nhello")
	assert.Empty(t, TextContent(&llm.Attachment{Type: llm.AttachmentImage}))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.0 MB", FormatFileSize(MaxTextFileSize))
	assert.Equal(t, "10.0 MB", FormatFileSize(MaxImageFileSize))
}
