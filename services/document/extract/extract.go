package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"voicechat/core"
)

var (
	ErrEmptyDocument  = errors.New("document is empty")
	ErrTooLarge       = errors.New("document exceeds size limit")
	ErrUnsupportedDoc = errors.New("unsupported document format")
)

// Config limits what the extractor accepts.
type Config struct {
	MaxBytes int `json:"max_bytes"` // zero means no limit
}

func DefaultConfig() Config {
	return Config{MaxBytes: 20 << 20}
}

// Extractor turns an uploaded PDF or UTF-8 text file into plain text for
// the session's document context.
type Extractor struct {
	config Config
	logger *core.Logger
}

func NewExtractor(config Config, logger *core.Logger) *Extractor {
	return &Extractor{
		config: config,
		logger: logger.OrDefault().With(map[string]any{"component": "extract"}),
	}
}

// Extract detects the format from the content itself.
func (e *Extractor) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}
	if e.config.MaxBytes > 0 && len(data) > e.config.MaxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), e.config.MaxBytes)
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return e.extractPDF(ctx, data)
	}
	return extractText(data)
}

// extractPDF concatenates every page's text in page order. A page with no
// extractable text contributes nothing.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("skipping unreadable page", "page", i, "error", err)
			continue
		}
		b.WriteString(pageText)
	}

	e.logger.Debug("pdf extracted", "pages", pages, "chars", b.Len())
	return b.String(), nil
}

func extractText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: not a PDF or UTF-8 text", ErrUnsupportedDoc)
	}
	return string(data), nil
}
