package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxPreviewRunes bounds the text preview handed to the context manager.
const maxPreviewRunes = 8000

// rawElement mirrors one entry produced by the collector script.
type rawElement struct {
	Kind       string            `json:"kind"`
	Selector   string            `json:"selector"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	InModal    bool              `json:"in_modal"`
	InForm     bool              `json:"in_form"`
	Visible    bool              `json:"visible"`
}

type rawPage struct {
	URL      string       `json:"url"`
	Title    string       `json:"title"`
	Elements []rawElement `json:"elements"`
	HTML     string       `json:"html"`
	Text     string       `json:"text"`
}

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

func decodePage(raw string) (*rawPage, error) {
	var p rawPage
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode page collector output: %w", err)
	}
	return &p, nil
}

func toKind(k string) schemas.ElementKind {
	switch kind := schemas.ElementKind(k); kind {
	case schemas.KindButton, schemas.KindLink, schemas.KindInput, schemas.KindTextarea,
		schemas.KindSelect, schemas.KindCheckbox, schemas.KindText:
		return kind
	}
	return schemas.KindOther
}

// toModel converts collector output into a page model. Elements without a
// selector are dropped and the list is capped at maxElements.
func (p *rawPage) toModel(conv *converter.Converter, maxElements int) *schemas.PageModel {
	model := &schemas.PageModel{
		URL:   p.URL,
		Title: strings.TrimSpace(p.Title),
	}
	for _, re := range p.Elements {
		if re.Selector == "" {
			continue
		}
		if maxElements > 0 && len(model.Elements) >= maxElements {
			break
		}
		model.Elements = append(model.Elements, schemas.Element{
			Kind:       toKind(re.Kind),
			Selector:   re.Selector,
			Text:       re.Text,
			Attributes: re.Attributes,
			InModal:    re.InModal,
			InForm:     re.InForm,
			Visible:    re.Visible,
		})
	}
	model.TextPreview = textPreview(conv, p.HTML, p.URL, p.Text)
	model.State = schemas.SnapshotOf(model)
	return model
}

// textPreview renders the body as markdown, falling back to the inner text
// when conversion fails or yields nothing.
func textPreview(conv *converter.Converter, html, pageURL, fallback string) string {
	preview := ""
	if conv != nil && strings.TrimSpace(html) != "" {
		md, err := conv.ConvertString(html, converter.WithDomain(pageURL))
		if err == nil {
			preview = strings.TrimSpace(md)
		}
	}
	if preview == "" {
		preview = strings.TrimSpace(fallback)
	}
	return capRunes(preview, maxPreviewRunes)
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Extract collects the full page model from the active tab.
func (s *Session) Extract(ctx context.Context) (*schemas.PageModel, error) {
	raw, err := s.collect(ctx, true)
	if err != nil {
		return nil, err
	}
	model := raw.toModel(s.converter, s.cfg.MaxElements)
	s.logger.Debug("Page extracted",
		zap.String("url", model.URL),
		zap.Int("elements", len(model.Elements)),
		zap.Int("preview_runes", len([]rune(model.TextPreview))))
	return model, nil
}

// Snapshot returns the structural fingerprint without the text content.
func (s *Session) Snapshot(ctx context.Context) (schemas.PageStateSnapshot, error) {
	raw, err := s.collect(ctx, false)
	if err != nil {
		return schemas.PageStateSnapshot{}, err
	}
	return raw.toModel(nil, s.cfg.MaxElements).State, nil
}

func (s *Session) collect(ctx context.Context, content bool) (*rawPage, error) {
	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var out string
	script := fmt.Sprintf("(%s)({max: %d, content: %t})", collectorScript, s.collectLimit(), content)
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &out)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to run page collector: %w", err)
	}
	return decodePage(out)
}

func (s *Session) collectLimit() int {
	if s.cfg.MaxElements > 0 {
		return s.cfg.MaxElements * 2
	}
	return 400
}
