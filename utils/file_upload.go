package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/nfnt/resize"

	"deskchat/apperr"
	"deskchat/llm"
)

// FileUploadHandler validates attachments and prepares them for sending
type FileUploadHandler struct {
	maxImageSize uint // longest side kept before downscaling
	imageQuality int  // JPEG quality (1-100)
}

// NewFileUploadHandler creates a new file upload handler with default settings
func NewFileUploadHandler() *FileUploadHandler {
	return &FileUploadHandler{
		maxImageSize: MaxImageDimension,
		imageQuality: 90,
	}
}

// ProcessFile checks the file at filePath and returns it as an attachment
func (h *FileUploadHandler) ProcessFile(filePath string) (*llm.Attachment, error) {
	ext, err := ParseFileExtension(filePath)
	if err != nil {
		return nil, err
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}
	if err := checkSize(filepath.Base(filePath), ext, fileInfo.Size()); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return h.process(filepath.Base(filePath), ext, data)
}

// ProcessReader reads at most one byte past the limit from r, so oversized
// input is rejected without loading it whole.
func (h *FileUploadHandler) ProcessReader(filename string, r io.Reader) (*llm.Attachment, error) {
	ext, err := ParseFileExtension(filename)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, ext.MaxSize()+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := checkSize(filename, ext, int64(len(data))); err != nil {
		return nil, err
	}
	return h.process(filename, ext, data)
}

// ProcessData validates in-memory file content
func (h *FileUploadHandler) ProcessData(filename string, data []byte) (*llm.Attachment, error) {
	ext, err := ParseFileExtension(filename)
	if err != nil {
		return nil, err
	}
	if err := checkSize(filename, ext, int64(len(data))); err != nil {
		return nil, err
	}
	return h.process(filename, ext, data)
}

func checkSize(filename string, ext FileExtension, size int64) error {
	if size > ext.MaxSize() {
		return apperr.Validation("%s is too large: %s (max %s)", filename, FormatFileSize(size), FormatFileSize(ext.MaxSize()))
	}
	if size == 0 {
		return apperr.Validation("%s is empty", filename)
	}
	return nil
}

func (h *FileUploadHandler) process(filename string, ext FileExtension, data []byte) (*llm.Attachment, error) {
	if ext.IsImage() {
		return h.processImage(filename, ext, data)
	}
	if !utf8.Valid(data) {
		return nil, apperr.Validation("%s is not valid UTF-8 text", filename)
	}
	return &llm.Attachment{
		Type:     llm.AttachmentFile,
		MimeType: ext.MimeType(),
		Data:     data,
		Filename: filename,
	}, nil
}

// processImage downsizes large PNG and JPEG images keeping their format.
// GIF and WebP are passed through unchanged.
func (h *FileUploadHandler) processImage(filename string, ext FileExtension, data []byte) (*llm.Attachment, error) {
	att := &llm.Attachment{
		Type:     llm.AttachmentImage,
		MimeType: ext.MimeType(),
		Data:     data,
		Filename: filename,
	}

	if ext == ExtWEBP {
		return att, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validation("%s is not a readable image: %v", filename, err)
	}
	if ext == ExtGIF {
		return att, nil
	}
	if uint(cfg.Width) <= h.maxImageSize && uint(cfg.Height) <= h.maxImageSize {
		return att, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validation("%s is not a readable image: %v", filename, err)
	}

	// Calculate new dimensions maintaining aspect ratio
	if cfg.Width > cfg.Height {
		img = resize.Resize(h.maxImageSize, 0, img, resize.Lanczos3)
	} else {
		img = resize.Resize(0, h.maxImageSize, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if ext == ExtPNG {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: h.imageQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	att.Data = buf.Bytes()
	return att, nil
}

// TextContent frames a text attachment for inclusion in a message
func TextContent(att *llm.Attachment) string {
	if att.IsImage() {
		return ""
	}
	return llm.FormatFileContent(att.Filename, string(att.Data))
}
