package client

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/message/html"
	"github.com/yuin/goldmark"

	"atg_broadcast/pkg/telegram/conn"
)

// SendMessage отправляет текст в чат в указанной разметке.
func (c *Conn) SendMessage(ctx context.Context, chat conn.Chat, text string, format conn.Format) error {
	p, err := c.lookup(chat)
	if err != nil {
		return err
	}
	b := c.sender.To(p.input)
	switch format {
	case conn.FormatHTML:
		_, err = b.StyledText(ctx, html.String(nil, text))
	case conn.FormatMarkdown:
		rendered, rerr := RenderMarkdown(text)
		if rerr != nil {
			return rerr
		}
		_, err = b.StyledText(ctx, html.String(nil, rendered))
	default:
		_, err = b.Text(ctx, text)
	}
	return mapError(err)
}

var md = goldmark.New()

// Телеграм понимает только строчную разметку, блочные теги заменяются переводами строк.
var blockTags = strings.NewReplacer(
	"<p>", "", "</p>\n", "\n\n", "</p>", "\n\n",
	"<br />\n", "\n", "<br />", "\n", "<hr />\n", "\n",
	"<ul>\n", "", "</ul>\n", "", "<ol>\n", "", "</ol>\n", "",
	"<li>", "• ", "</li>\n", "\n", "</li>", "\n",
	"<blockquote>\n", "", "</blockquote>\n", "",
)

var headingTag = regexp.MustCompile(`<(/?)h[1-6][^>]*>`)

// RenderMarkdown переводит Markdown в HTML, который принимает парсер gotd.
func RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", errors.Wrap(err, "render markdown")
	}
	out := headingTag.ReplaceAllString(buf.String(), "<${1}b>")
	out = blockTags.Replace(out)
	return strings.TrimSpace(out), nil
}
