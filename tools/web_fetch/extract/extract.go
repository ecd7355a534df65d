package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/agentrouter/tools/web_fetch/models"
	"github.com/mohammad-safakhou/agentrouter/utils"
)

// Article runs readability over raw HTML. The returned result always carries
// the URL and HTML hash, even when extraction fails.
func Article(html, rawURL string, maxChars int) (models.Result, error) {
	sum := sha1.Sum([]byte(html))
	res := models.Result{URL: rawURL, HTMLHash: hex.EncodeToString(sum[:])}

	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return res, fmt.Errorf("extract article: %w", err)
	}
	res.Title = strings.TrimSpace(article.Title)
	res.Byline = strings.TrimSpace(article.Byline)
	res.SiteName = strings.TrimSpace(article.SiteName)
	res.Text = strings.TrimSpace(utils.Truncate(article.TextContent, maxChars))
	return res, nil
}
