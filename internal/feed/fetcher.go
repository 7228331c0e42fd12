package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadflow/discovery-service/internal/model"
)

const (
	httpTimeout = 15 * time.Second
	entryLimit  = 25
)

// ErrorKind classifies a failed board fetch.
type ErrorKind string

const (
	KindAccessDenied ErrorKind = "access_denied"
	KindNotFound     ErrorKind = "not_found"
	KindOther        ErrorKind = "other"
)

// FetchError reports a single board's failed fetch. The caller counts it and
// moves on to the next board; it never aborts a pass.
type FetchError struct {
	Board  string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s (%s): %v", e.Board, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): status %d", e.Board, e.Kind, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

func classify(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAccessDenied
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindOther
	}
}

// Fetcher retrieves feed documents for a board and parses them into
// DiscoveredPosts. Search mode filters server-side by the monitor's terms;
// when that yields nothing it falls back to the board's recent items,
// filtered locally.
type Fetcher struct {
	baseURL string
	format  string
	client  *http.Client
	parser  *Parser
}

// NewFetcher constructs a Fetcher with a shared HTTP client.
// baseURL is the board root, e.g. "https://www.reddit.com/r".
func NewFetcher(baseURL, format string) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		format:  format,
		client:  &http.Client{Timeout: httpTimeout},
		parser:  NewParser(),
	}
}

// Fetch returns the board's matching posts. A failed or unavailable board
// yields an empty slice; the returned *FetchError (if any) is for the
// caller's error counter, never a reason to abort the remaining boards.
func (f *Fetcher) Fetch(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error) {
	board = NormalizeBoard(board)

	posts, err := f.get(ctx, board, f.searchURL(board, terms))
	if err != nil {
		return nil, err
	}
	if len(posts) > 0 {
		f.stamp(posts, board)
		return posts, nil
	}

	// Search came back empty — fall back to the recent-items feed and filter
	// locally so a board with a broken search endpoint still yields leads.
	slog.Debug("search feed empty, trying recent items", "board", board)
	posts, err = f.get(ctx, board, f.recentURL(board))
	if err != nil {
		return nil, err
	}
	posts = filterByTerms(posts, terms)
	f.stamp(posts, board)
	return posts, nil
}

func (f *Fetcher) searchURL(board string, terms []string) string {
	q := url.Values{}
	q.Set("q", strings.Join(terms, " OR "))
	q.Set("sort", "new")
	q.Set("restrict", board)
	q.Set("limit", fmt.Sprint(entryLimit))
	return fmt.Sprintf("%s/%s/search.%s?%s", f.baseURL, board, f.format, q.Encode())
}

func (f *Fetcher) recentURL(board string) string {
	return fmt.Sprintf("%s/%s/new/.%s?limit=%d", f.baseURL, board, f.format, entryLimit)
}

func (f *Fetcher) get(ctx context.Context, board, reqURL string) ([]model.DiscoveredPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Board: board, Kind: KindOther, Err: err}
	}
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Board: board, Kind: KindOther, Err: fmt.Errorf("http GET: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Board: board, Kind: KindOther, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		fe := &FetchError{Board: board, Kind: classify(resp.StatusCode), Status: resp.StatusCode}
		slog.Warn("board fetch failed", "board", board, "status", resp.StatusCode, "kind", fe.Kind)
		return nil, fe
	}

	// An HTML body means a block page or maintenance notice, not feed
	// content. Treat the source as temporarily unavailable.
	if sniffHTML(body) {
		slog.Warn("board returned HTML instead of a feed, skipping", "board", board)
		return nil, nil
	}

	posts, err := f.parser.Parse(body)
	if err != nil {
		return nil, &FetchError{Board: board, Kind: KindOther, Err: err}
	}
	return posts, nil
}

func (f *Fetcher) stamp(posts []model.DiscoveredPost, board string) {
	for i := range posts {
		posts[i].Board = board
	}
}

// sniffHTML reports whether body starts with an HTML doctype or tag.
func sniffHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimLeft(string(body[:min(len(body), 256)]), " \t\r\n\uFEFF"))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// filterByTerms keeps posts whose title or body contains any search term,
// case-insensitive.
func filterByTerms(posts []model.DiscoveredPost, terms []string) []model.DiscoveredPost {
	if len(terms) == 0 {
		return posts
	}
	var out []model.DiscoveredPost
	for _, p := range posts {
		text := strings.ToLower(p.Title + " " + p.Body)
		for _, t := range terms {
			if t != "" && strings.Contains(text, strings.ToLower(t)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
