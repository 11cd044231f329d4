package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

const (
	defaultURLTimeout  = 30 * time.Second
	defaultURLMaxBytes = 4 << 20
)

var blankRegex = regexp.MustCompile(`\n{3,}`)

// blockAtoms end a line of extracted text.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Table: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Blockquote: true, atom.Ul: true, atom.Ol: true,
}

type URLLoader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

func NewURLLoader(client *http.Client, timeout time.Duration) *URLLoader {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultURLTimeout
	}
	return &URLLoader{client: client, timeout: timeout, maxBytes: defaultURLMaxBytes}
}

func (l *URLLoader) Name() string {
	return "url"
}

func (l *URLLoader) Supports(descriptor string) bool {
	u, err := url.Parse(descriptor)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (l *URLLoader) Load(ctx context.Context, descriptor string) (*model.LoadedSource, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptor, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", descriptor, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch %s: status %d: %w", descriptor, resp.StatusCode, appErr.ErrInvalid)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", descriptor, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", descriptor, l.maxBytes, appErr.ErrInvalid)
	}
	contentType := resp.Header.Get("Content-Type")
	text := string(data)
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "text/html" {
		text = htmlToText(data)
	}
	name := pathName(req.URL)
	file := newSourceFile(name, text)
	meta := map[string]string{"type": "url", "content_type": contentType}
	return newLoadedSource(descriptor, []model.SourceFile{file}, meta), nil
}

// htmlToText keeps text nodes and drops script, style and other non-content elements.
func htmlToText(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skip := 0
	pre := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidyText(sb.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				if tok.Type == html.StartTagToken {
					skip++
				}
			case atom.Pre:
				pre++
			}
			if blockAtoms[tok.DataAtom] {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				if skip > 0 {
					skip--
				}
			case atom.Pre:
				if pre > 0 {
					pre--
				}
			}
			if blockAtoms[tok.DataAtom] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if pre == 0 {
				text = strings.Join(strings.Fields(text), " ")
				if text == "" {
					continue
				}
				if sb.Len() > 0 {
					last := sb.String()[sb.Len()-1]
					if last != '\n' && last != ' ' {
						sb.WriteByte(' ')
					}
				}
			}
			sb.WriteString(text)
		}
	}
}

func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(blankRegex.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func pathName(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return u.Host
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
