// Package feed retrieves and parses discussion-board syndication feeds.
package feed

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"leadflow/discovery-service/internal/model"
)

// bodyCap bounds the stored excerpt so a single long post cannot bloat the
// lead table.
const bodyCap = 2000

// Parser converts raw feed bytes into DiscoveredPosts. Parse is pure and
// deterministic: identical input yields identical output, no I/O.
type Parser struct {
	fp     *gofeed.Parser
	policy *bluemonday.Policy
}

// NewParser returns a Parser with a strict HTML-stripping policy.
func NewParser() *Parser {
	return &Parser{
		fp:     gofeed.NewParser(),
		policy: bluemonday.StrictPolicy(),
	}
}

// Parse extracts one DiscoveredPost per feed entry. Entries with no usable
// identifier are skipped; missing optional fields degrade to empty values
// rather than failing the batch.
func (p *Parser) Parse(raw []byte) ([]model.DiscoveredPost, error) {
	parsed, err := p.fp.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	posts := make([]model.DiscoveredPost, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		id := externalID(item.GUID)
		if id == "" {
			id = externalID(item.Link)
		}
		if id == "" {
			continue
		}

		body := item.Content
		if body == "" {
			body = item.Description
		}

		var postedAt int64
		if item.PublishedParsed != nil {
			postedAt = item.PublishedParsed.Unix()
		} else if item.UpdatedParsed != nil {
			postedAt = item.UpdatedParsed.Unix()
		}

		posts = append(posts, model.DiscoveredPost{
			ExternalID: id,
			Permalink:  item.Link,
			Author:     NormalizeAuthor(authorName(item)),
			Title:      p.cleanText(item.Title, 0),
			Body:       p.cleanText(body, bodyCap),
			PostedAt:   postedAt,
		})
	}

	return posts, nil
}

// cleanText strips HTML tags, decodes entities, collapses whitespace and
// truncates to limit runes (0 = unbounded).
func (p *Parser) cleanText(s string, limit int) string {
	s = p.policy.Sanitize(s)
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	if limit > 0 {
		if r := []rune(s); len(r) > limit {
			s = string(r[:limit])
		}
	}
	return s
}

// externalID extracts the trailing identifier segment from a composite id
// such as "t3_1abcd3" or a permalink.
func externalID(composite string) string {
	composite = strings.TrimRight(strings.TrimSpace(composite), "/")
	if composite == "" {
		return ""
	}
	if i := strings.LastIndex(composite, "_"); i >= 0 {
		return composite[i+1:]
	}
	if i := strings.LastIndex(composite, "/"); i >= 0 {
		return composite[i+1:]
	}
	return composite
}

func authorName(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

// NormalizeBoard strips the "r/" display prefix from a board name.
func NormalizeBoard(board string) string {
	board = strings.TrimPrefix(board, "/")
	return strings.TrimPrefix(board, "r/")
}

// NormalizeAuthor strips the "u/" display prefix from an author name.
func NormalizeAuthor(author string) string {
	author = strings.TrimPrefix(author, "/")
	return strings.TrimPrefix(author, "u/")
}
