package feedsource

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/usecase/check"
)

// Decoder implements check.Decoder for RSS, Atom and JSON Feed documents.
type Decoder struct{}

var _ check.Decoder = Decoder{}

// Decode parses body. JSON Feed items carry their "id" as Item.ID; for the
// XML formats the guid or atom id is Item.GUID.
func (Decoder) Decode(body []byte) ([]entity.Item, error) {
	// gofeed parsers keep per-document state, so each call gets its own.
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	items := make([]entity.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		item := entity.Item{
			GUID:  strings.TrimSpace(it.GUID),
			Link:  strings.TrimSpace(it.Link),
			Title: strings.TrimSpace(it.Title),
		}
		if feed.FeedType == "json" {
			item.ID, item.GUID = item.GUID, ""
		}
		item.Content = it.Content
		if item.Content == "" {
			item.Content = it.Description
		}
		switch {
		case it.PublishedParsed != nil:
			t := it.PublishedParsed.UTC()
			item.PublishedAt = &t
		case it.UpdatedParsed != nil:
			t := it.UpdatedParsed.UTC()
			item.PublishedAt = &t
		}
		items = append(items, item)
	}
	return items, nil
}
