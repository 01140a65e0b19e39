package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

// sourcePriority mirrors SOURCE_PRIORITY from
// original_source/core/process/workers/rss_worker.py: higher sorts earlier.
var sourcePriority = map[string]int{
	"bing.com":      95,
	"unsplash.com":  90,
	"wikimedia.org": 85,
	"nasa.gov":      75,
	"reddit.com":    10,
}

const (
	defaultSourcePriority = 50
	maxImagesPerSource    = 8
	rssRequestTimeout     = 30 * time.Second
	rssHostInterval       = 2 * time.Second
	redditHostInterval    = 4 * time.Second
	globalRedditPerMinute = 8
)

// RSSHandler implements Handler for the RSS worker: RssFetch and
// RssRefresh, grounded on original_source/core/process/workers/rss_worker.py.
// No feed-parsing library (feedparser/gofeed/mmcdole) appears anywhere
// in the example corpus, so feed parsing is hand-rolled RSS 2.0/Atom
// XML via the standard library's encoding/xml, recorded as a stdlib
// justification in DESIGN.md. Domain and global rate limiting uses
// golang.org/x/time/rate, which IS present in the corpus (the
// teacher's own go.mod carries it as an indirect dependency) and is
// promoted here to a direct one.
type RSSHandler struct {
	log    *logx.Logger
	client *http.Client

	mu          sync.Mutex
	hostLimiter map[string]*rate.Limiter
	redditGlobal *rate.Limiter
	feedsOK     uint64
}

// NewRSSHandler constructs an RSSHandler.
func NewRSSHandler(log *logx.Logger) *RSSHandler {
	return &RSSHandler{
		log:          log,
		client:       &http.Client{Timeout: rssRequestTimeout},
		hostLimiter:  make(map[string]*rate.Limiter),
		redditGlobal: rate.NewLimiter(rate.Limit(float64(globalRedditPerMinute)/60.0), globalRedditPerMinute),
	}
}

func (h *RSSHandler) IsLongRunning(msg workermsg.Message) bool {
	return msg.Type == workermsg.MsgRSSFetch || msg.Type == workermsg.MsgRSSRefresh
}

func (h *RSSHandler) HandleMessage(msg workermsg.Message) (workermsg.Response, error) {
	switch msg.Type {
	case workermsg.MsgRSSFetch:
		return h.fetch(msg)
	case workermsg.MsgRSSRefresh:
		return h.refresh(msg)
	default:
		return workermsg.Response{}, fmt.Errorf("rss worker: unknown message type %q", msg.Type)
	}
}

func (h *RSSHandler) fetch(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	feedURL, _ := pm["feed_url"].(string)
	if feedURL == "" {
		return workermsg.Response{}, fmt.Errorf("rss worker: missing feed_url")
	}
	maxImages := intFromPayload(pm, "max_images", maxImagesPerSource)

	images, err := h.fetchFeed(context.Background(), feedURL, maxImages)
	if err != nil {
		payload, _ := workermsg.NewPayload(map[string]any{"feed_url": feedURL})
		return workermsg.Response{Type: workermsg.MsgRSSResult, Success: false, Error: err.Error(), Payload: payload}, nil
	}

	payload, err := workermsg.NewPayload(map[string]any{
		"feed_url":    feedURL,
		"images":      descriptorsToAny(images),
		"image_count": len(images),
	})
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: workermsg.MsgRSSResult, Success: true, Payload: payload}, nil
}

func (h *RSSHandler) refresh(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	rawURLs, _ := pm["feed_urls"].([]any)
	urls := make([]string, 0, len(rawURLs))
	for _, v := range rawURLs {
		if s, ok := v.(string); ok {
			urls = append(urls, s)
		}
	}
	maxPerSource := intFromPayload(pm, "max_images_per_source", maxImagesPerSource)

	sort.SliceStable(urls, func(i, j int) bool {
		return sourcePriorityFor(urls[i]) > sourcePriorityFor(urls[j])
	})

	var all []feedImage
	var errs []string
	ctx := context.Background()
	for i, feedURL := range urls {
		images, err := h.fetchFeed(ctx, feedURL, maxPerSource)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", feedURL, err))
			continue
		}
		all = append(all, images...)

		if i < len(urls)-1 {
			delay := rssHostInterval
			if strings.Contains(strings.ToLower(feedURL), "reddit.com") {
				delay = redditHostInterval
			}
			time.Sleep(delay)
		}
	}

	fields := map[string]any{
		"images":          descriptorsToAny(all),
		"image_count":     len(all),
		"feeds_processed": len(urls),
	}
	if len(errs) > 0 {
		fields["errors"] = stringsToAny(errs)
	}
	payload, err := workermsg.NewPayload(fields)
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: workermsg.MsgRSSResult, Success: len(errs) < len(urls), Payload: payload}, nil
}

// feedImage is one descriptor extracted from a feed entry.
type feedImage struct {
	sourceID string
	url      string
	title    string
	priority int
	ts       int64
}

func descriptorsToAny(images []feedImage) []any {
	out := make([]any, len(images))
	for i, img := range images {
		out[i] = map[string]any{
			"source_id": img.sourceID, "url": img.url, "title": img.title,
			"priority": img.priority, "timestamp": img.ts,
		}
	}
	return out
}

func stringsToAny(xs []string) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func sourcePriorityFor(feedURL string) int {
	lower := strings.ToLower(feedURL)
	for domain, p := range sourcePriority {
		if strings.Contains(lower, domain) {
			return p
		}
	}
	return defaultSourcePriority
}

// fetchFeed applies per-host rate limiting (Reddit feeds also wait on the
// global Reddit token bucket; no share of it is held back for other
// callers), fetches the feed body, and parses it as RSS 2.0/Atom XML.
func (h *RSSHandler) fetchFeed(ctx context.Context, feedURL string, maxImages int) ([]feedImage, error) {
	isReddit := strings.Contains(strings.ToLower(feedURL), "reddit.com")

	if err := h.waitHostLimiter(ctx, feedURL, isReddit); err != nil {
		return nil, err
	}
	if isReddit {
		if err := h.redditGlobal.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss worker: %s returned status %d", feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int(workermsg.MaxRSSPayload)*4))
	if err != nil {
		return nil, err
	}

	priority := sourcePriorityFor(feedURL)
	images, err := parseFeedXML(body, priority, maxImages)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.feedsOK++
	h.mu.Unlock()
	return images, nil
}

func (h *RSSHandler) waitHostLimiter(ctx context.Context, feedURL string, isReddit bool) error {
	host := feedURL
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		host = u.Host
	}
	interval := rssHostInterval
	if isReddit {
		interval = redditHostInterval
	}

	h.mu.Lock()
	lim, ok := h.hostLimiter[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		h.hostLimiter[host] = lim
	}
	h.mu.Unlock()

	return lim.Wait(ctx)
}

// rssEntry/rssFeed/atomFeed model just enough of RSS 2.0 and Atom to
// extract an image URL and title per entry.
type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title     string        `xml:"title"`
	Link      string        `xml:"link"`
	Enclosure rssEnclosure  `xml:"enclosure"`
	MediaTag  []rssMediaTag `xml:"http://search.yahoo.com/mrss/ content"`
}

type rssMediaTag struct {
	URL string `xml:"url,attr"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssFeed struct {
	Channel rssChannel `xml:"channel"`
}

type atomEntry struct {
	Title string     `xml:"title"`
	Links []atomLink `xml:"link"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

func parseFeedXML(body []byte, priority, maxImages int) ([]feedImage, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return itemsToImages(rss.Channel.Items, priority, maxImages), nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		return entriesToImages(atom.Entries, priority, maxImages), nil
	}

	return nil, fmt.Errorf("rss worker: no recognizable RSS or Atom items in feed body")
}

func itemsToImages(items []rssItem, priority, maxImages int) []feedImage {
	var out []feedImage
	for _, item := range items {
		imgURL := item.Enclosure.URL
		if imgURL == "" {
			for _, m := range item.MediaTag {
				if m.URL != "" {
					imgURL = m.URL
					break
				}
			}
		}
		if imgURL == "" || !looksLikeImageURL(imgURL) {
			continue
		}
		out = append(out, feedImage{
			sourceID: hashURL(imgURL), url: imgURL, title: item.Title,
			priority: priority, ts: time.Now().Unix(),
		})
		if len(out) >= maxImages {
			break
		}
	}
	return out
}

func entriesToImages(entries []atomEntry, priority, maxImages int) []feedImage {
	var out []feedImage
	for _, entry := range entries {
		var imgURL string
		for _, l := range entry.Links {
			if strings.HasPrefix(l.Type, "image/") || looksLikeImageURL(l.Href) {
				imgURL = l.Href
				break
			}
		}
		if imgURL == "" {
			continue
		}
		out = append(out, feedImage{
			sourceID: hashURL(imgURL), url: imgURL, title: entry.Title,
			priority: priority, ts: time.Now().Unix(),
		})
		if len(out) >= maxImages {
			break
		}
	}
	return out
}

func looksLikeImageURL(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func hashURL(u string) string {
	sum := md5.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}
