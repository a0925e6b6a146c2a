// Package fetch retrieves a feed document and normalizes its entries.
// It never persists anything.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/models"
)

const defaultTitle = "Untitled"

// Error is a network or parse failure reaching a source.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher is the Item Fetcher.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	opts = opts.withDefaults()
	return &Fetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Fetch downloads and parses the feed at address. Items keep document order.
func (f *Fetcher) Fetch(ctx context.Context, address string) ([]models.Item, error) {
	body, err := f.get(ctx, address)
	if err != nil {
		return nil, &Error{URL: address, Err: err}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{URL: address, Err: fmt.Errorf("parse feed: %w", err)}
	}

	entries := feed.Items
	if f.opts.MaxItems > 0 && len(entries) > f.opts.MaxItems {
		entries = entries[:f.opts.MaxItems]
	}

	items := make([]models.Item, 0, len(entries))
	for _, it := range entries {
		if it == nil {
			continue
		}
		items = append(items, Normalize(it))
	}

	log.Debug().Str("url", address).Str("feed_type", feed.FeedType).Int("items", len(items)).Msg("Feed fetched")
	return items, nil
}

// Normalize maps one parsed entry onto an Item.
func Normalize(it *gofeed.Item) models.Item {
	item := models.Item{
		Title:    strings.TrimSpace(it.Title),
		Body:     it.Content,
		Link:     strings.TrimSpace(it.Link),
		Author:   authorName(it),
		ImageURL: imageURL(it),
	}
	if item.Title == "" {
		item.Title = defaultTitle
	}
	if strings.TrimSpace(item.Body) == "" {
		item.Body = it.Description
	}
	if item.ImageURL == "" {
		item.ImageURL = inlineImage(item.Body)
	}
	switch {
	case it.PublishedParsed != nil:
		t := it.PublishedParsed.UTC()
		item.PublishedAt = &t
	case it.UpdatedParsed != nil:
		t := it.UpdatedParsed.UTC()
		item.PublishedAt = &t
	}
	item.ExternalID = externalID(it, item)
	return item
}

// externalID resolves guid, then link, then a content hash. The hash covers
// only feed-provided fields so repeated fetches agree.
func externalID(it *gofeed.Item, item models.Item) string {
	if guid := strings.TrimSpace(it.GUID); guid != "" {
		return guid
	}
	if item.Link != "" {
		return item.Link
	}
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(it.Title)))
	h.Write([]byte{0})
	h.Write([]byte(item.Body))
	h.Write([]byte{0})
	if item.PublishedAt != nil {
		h.Write([]byte(item.PublishedAt.Format(time.RFC3339)))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func authorName(it *gofeed.Item) string {
	if it.Author != nil && strings.TrimSpace(it.Author.Name) != "" {
		return strings.TrimSpace(it.Author.Name)
	}
	for _, a := range it.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	if it.DublinCoreExt != nil {
		for _, c := range it.DublinCoreExt.Creator {
			if strings.TrimSpace(c) != "" {
				return strings.TrimSpace(c)
			}
		}
	}
	return ""
}

// imageURL checks the structured media fields in order:
// media:content, media:thumbnail, the item image, then an image enclosure.
func imageURL(it *gofeed.Item) string {
	if media, ok := it.Extensions["media"]; ok {
		for _, ext := range media["content"] {
			medium := ext.Attrs["medium"]
			typ := ext.Attrs["type"]
			if u := ext.Attrs["url"]; u != "" && (medium == "" || medium == "image") && (typ == "" || strings.HasPrefix(typ, "image/")) {
				return u
			}
		}
		for _, ext := range media["thumbnail"] {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
		for _, group := range media["group"] {
			for _, ext := range group.Children["content"] {
				if u := ext.Attrs["url"]; u != "" && (ext.Attrs["medium"] == "" || ext.Attrs["medium"] == "image") {
					return u
				}
			}
			for _, ext := range group.Children["thumbnail"] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// inlineImage returns the src of the first <img> in an HTML fragment.
func inlineImage(body string) string {
	if !strings.Contains(body, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src = strings.TrimSpace(s.AttrOr("src", ""))
		return src == ""
	})
	return src
}
