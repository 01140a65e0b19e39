package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Example Feed</title>
  <item>
    <title>Sunset over the bay</title>
    <link>https://example.com/a</link>
    <enclosure url="https://images.example.com/sunset.jpg" type="image/jpeg"/>
  </item>
  <item>
    <title>No image here</title>
    <link>https://example.com/b</link>
  </item>
</channel></rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom Feed</title>
  <entry>
    <title>Mountain view</title>
    <link rel="enclosure" type="image/png" href="https://images.example.com/mountain.png"/>
  </entry>
</feed>`

func TestParseFeedXMLRSS(t *testing.T) {
	images, err := parseFeedXML([]byte(sampleRSS), 90, 8)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://images.example.com/sunset.jpg", images[0].url)
	assert.Equal(t, "Sunset over the bay", images[0].title)
	assert.Equal(t, 90, images[0].priority)
}

func TestParseFeedXMLAtom(t *testing.T) {
	images, err := parseFeedXML([]byte(sampleAtom), 50, 8)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://images.example.com/mountain.png", images[0].url)
	assert.Equal(t, "Mountain view", images[0].title)
}

func TestParseFeedXMLRejectsGarbage(t *testing.T) {
	_, err := parseFeedXML([]byte("not xml at all"), 50, 8)
	assert.Error(t, err)
}

func TestParseFeedXMLRespectsMaxImages(t *testing.T) {
	rss := `<rss><channel>
    <item><title>1</title><enclosure url="https://x.com/1.jpg"/></item>
    <item><title>2</title><enclosure url="https://x.com/2.jpg"/></item>
    <item><title>3</title><enclosure url="https://x.com/3.jpg"/></item>
  </channel></rss>`
	images, err := parseFeedXML([]byte(rss), 50, 2)
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

func TestSourcePriorityForKnownDomains(t *testing.T) {
	assert.Equal(t, 95, sourcePriorityFor("https://bing.com/feed.rss"))
	assert.Equal(t, 90, sourcePriorityFor("https://unsplash.com/feed"))
	assert.Equal(t, 10, sourcePriorityFor("https://www.reddit.com/r/earthporn/.rss"))
	assert.Equal(t, defaultSourcePriority, sourcePriorityFor("https://unknownsource.example.com/feed"))
}

func TestLooksLikeImageURL(t *testing.T) {
	assert.True(t, looksLikeImageURL("https://example.com/a.jpg"))
	assert.True(t, looksLikeImageURL("https://example.com/a.PNG"))
	assert.False(t, looksLikeImageURL("https://example.com/article.html"))
}

func TestHashURLIsStableAndHex(t *testing.T) {
	h1 := hashURL("https://example.com/a.jpg")
	h2 := hashURL("https://example.com/a.jpg")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}
