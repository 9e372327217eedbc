package scraper

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Web collects readable text from arbitrary pages.
type Web struct {
	fetch    fetcher.Fetcher
	defaults WebConfig
	policy   *bluemonday.Policy
	md       *converter.Converter
}

// NewWeb creates the generic page plugin.
func NewWeb(f fetcher.Fetcher, defaults *WebConfig) *Web {
	w := &Web{
		fetch:    f,
		defaults: WebConfig{MaxChars: 4000},
		policy:   bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	if defaults != nil {
		w.defaults = *defaults.Clone().(*WebConfig)
	}
	return w
}

func (w *Web) Type() string { return TypeWeb }

func (w *Web) Describe() Description {
	return Description{DisplayName: "Web Pages", Icon: "globe"}
}

func (w *Web) DefaultConfig() Config { return w.defaults.Clone() }

// Run fetches each URL and converts it to markdown.
func (w *Web) Run(ctx context.Context, c Config) (*Outcome, error) {
	cfg, ok := c.(*WebConfig)
	if !ok {
		return nil, eris.Errorf("web: unexpected config type %T", c)
	}

	out := &Outcome{}
	for _, u := range cfg.URLs {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "web: run cancelled")
		}
		item, err := w.page(ctx, u, cfg.MaxChars)
		if err != nil {
			zap.L().Warn("web: page failed", zap.String("url", u), zap.Error(err))
			out.FailedTargets = append(out.FailedTargets, TargetFailure{Target: u, Error: err.Error()})
			continue
		}
		out.Items = append(out.Items, item)
	}

	if len(out.Items) == 0 && len(out.FailedTargets) == len(cfg.URLs) {
		return out, eris.Errorf("web: all %d urls failed", len(cfg.URLs))
	}
	return out, nil
}

func (w *Web) page(ctx context.Context, rawURL string, maxChars int) (model.Item, error) {
	resp, err := w.fetch.Get(ctx, rawURL, fetcher.WithHeader("Accept", "text/html"))
	if err != nil {
		return model.Item{}, err
	}

	raw := string(resp.Body)
	title := PageTitle(raw)

	clean := w.policy.Sanitize(raw)
	md, err := w.md.ConvertString(clean, converter.WithDomain(rawURL))
	if err != nil {
		return model.Item{}, eris.Wrapf(err, "web: convert %s", rawURL)
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return model.Item{}, eris.Errorf("web: no readable content at %s", rawURL)
	}

	sum := sha1.Sum([]byte(rawURL))
	return model.Item{
		ID:        hex.EncodeToString(sum[:8]),
		Source:    TypeWeb,
		Kind:      "page",
		Title:     title,
		Text:      truncateRunes(md, maxChars),
		URL:       rawURL,
		CreatedAt: time.Now().UTC(),
		Extra: map[string]any{
			"content_type": resp.Header.Get("Content-Type"),
			"bytes":        len(resp.Body),
		},
	}, nil
}

// PageTitle returns the text of the first <title> element.
func PageTitle(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	var find func(n *html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != "" {
				return t
			}
		}
		return ""
	}
	return find(root)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
