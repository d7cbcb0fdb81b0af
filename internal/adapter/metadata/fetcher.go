// Package metadata fetches a page and extracts its title and description.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const maxBodyBytes = 1 << 20

type Page struct {
	Title       string
	Description string
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "marksort-enricher/1.0",
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") {
		return &Page{}, nil
	}

	return Parse(io.LimitReader(resp.Body, maxBodyBytes), ct)
}

// Parse reads the document head. The body is decoded to UTF-8 using the charset
// from contentType, a <meta charset> tag or, failing both, windows-1252 for
// non-UTF-8 input. Open Graph values are used when the plain ones are missing.
func Parse(r io.Reader, contentType string) (*Page, error) {
	if decoded, err := charset.NewReader(r, contentType); err == nil {
		r = decoded
	}
	z := html.NewTokenizer(r)
	p := &Page{}
	var ogTitle, ogDesc string
	inTitle := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return finish(p, ogTitle, ogDesc), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = tt == html.StartTagToken
			case "meta":
				name, content := metaAttrs(tok)
				switch name {
				case "description":
					if p.Description == "" {
						p.Description = content
					}
				case "og:description":
					ogDesc = content
				case "og:title":
					ogTitle = content
				}
			case "body":
				return finish(p, ogTitle, ogDesc), nil
			}
		case html.TextToken:
			if inTitle && p.Title == "" {
				p.Title = string(z.Text())
			}
		case html.EndTagToken:
			tn, _ := z.TagName()
			if string(tn) == "title" {
				inTitle = false
			}
			if string(tn) == "head" {
				return finish(p, ogTitle, ogDesc), nil
			}
		}
	}
}

func metaAttrs(tok html.Token) (name, content string) {
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "name", "property":
			name = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = a.Val
		}
	}
	return name, content
}

func finish(p *Page, ogTitle, ogDesc string) *Page {
	if p.Title == "" {
		p.Title = ogTitle
	}
	if p.Description == "" {
		p.Description = ogDesc
	}
	p.Title = clean(p.Title)
	p.Description = clean(p.Description)
	return p
}

func clean(s string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(s, "")), " ")
}
