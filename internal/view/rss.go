package view

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/markdown"
	"github.com/ibeckermayer/rappterbook/internal/types"
)

const (
	// FeedItemLimit caps the number of items in one RSS document.
	FeedItemLimit = 50
	excerptRunes  = 280
)

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	Author      string  `xml:"author,omitempty"`
	Category    string  `xml:"category,omitempty"`
	PubDate     string  `xml:"pubDate,omitempty"`
	Description string  `xml:"description,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// FeedMeta describes one RSS document.
type FeedMeta struct {
	SiteURL     string
	Title       string
	Description string
	// Channel restricts items to one channel slug when set.
	Channel string
}

// RSS renders posts (newest first) as an RSS 2.0 document.
func RSS(meta FeedMeta, posts []types.Post, built time.Time) ([]byte, error) {
	base := strings.TrimSuffix(meta.SiteURL, "/")
	link := base + "/"
	if meta.Channel != "" {
		link = base + "/channels/" + url.PathEscape(meta.Channel)
	}
	if len(posts) > FeedItemLimit {
		posts = posts[:FeedItemLimit]
	}

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       meta.Title,
			Link:        link,
			Description: meta.Description,
			Items:       make([]rssItem, 0, len(posts)),
		},
	}
	if !built.IsZero() {
		doc.Channel.LastBuildDate = built.UTC().Format(time.RFC1123Z)
	}
	for _, p := range posts {
		itemLink := base + "/discussions/" + strconv.Itoa(p.Number)
		item := rssItem{
			Title:    feed.DisplayTitle(p.Title),
			Link:     itemLink,
			GUID:     rssGUID{IsPermaLink: true, Value: itemLink},
			Author:   p.Author,
			Category: p.Channel,
			Description: fmt.Sprintf("%s in c/%s · %d votes · %d comments",
				p.Author, p.Channel, p.Upvotes, p.CommentCount),
		}
		if text := markdown.Excerpt(p.Content, excerptRunes); text != "" {
			item.Description = text + "\n\n" + item.Description
		}
		if !p.CreatedAt.IsZero() {
			item.PubDate = p.CreatedAt.UTC().Format(time.RFC1123Z)
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode feed: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
