package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// bodyPrefixRunes is how much of the body feeds the composite key.
const bodyPrefixRunes = 200

// trackingParams lists query parameters stripped before hashing. Any
// parameter starting with "utm_" is stripped as well.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"ref_url": {},
	"source":  {},
	"si":      {},
	"s":       {},
	"t":       {},
}

// hostAliases folds hosts that serve identical content.
var hostAliases = map[string]string{
	"twitter.com":        "x.com",
	"mobile.twitter.com": "x.com",
	"mobile.x.com":       "x.com",
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var errMissingSchemeOrHost = eris.New("dedup: url missing scheme or host")

// Key returns the dedup fingerprint for item: a hash of the normalized URL
// when the item has a usable URL, otherwise a hash of
// title|sourceID|publishedAt|first 200 characters of the body.
func Key(item model.CandidateItem) string {
	if item.HasURL() {
		if normalized, err := NormalizeURL(item.URL); err == nil {
			return "u:" + hashHex(normalized)
		}
	}

	var published string
	if item.PublishedAt != nil {
		published = item.PublishedAt.UTC().Format(time.RFC3339)
	}
	parts := []string{
		strings.TrimSpace(item.Title),
		item.SourceID,
		published,
		prefixRunes(strings.TrimSpace(item.Body), bodyPrefixRunes),
	}
	return "c:" + hashHex(strings.Join(parts, "|"))
}

// NormalizeURL reduces rawURL to a canonical form so the same article
// reached through different links hashes identically: scheme and host are
// lowercased, http is upgraded to https, "www." and default ports are
// dropped, fragments and tracking parameters are removed, remaining query
// parameters are sorted and the trailing slash is trimmed.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", eris.New("dedup: empty url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "dedup: parse url")
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errMissingSchemeOrHost
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if alias, ok := hostAliases[host]; ok {
		host = alias
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host += ":" + port
	}
	if scheme == "http" {
		scheme = "https"
	}

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		RawQuery: cleanQuery(u.Query()),
	}
	out.RawPath = normalizePath(u.EscapedPath())
	if out.Path, err = url.PathUnescape(out.RawPath); err != nil {
		return "", eris.Wrap(err, "dedup: unescape path")
	}
	return out.String(), nil
}

// normalizePath cleans an escaped path. Reserved escapes such as %2F stay
// encoded so they never collapse into path separators.
func normalizePath(escaped string) string {
	if escaped == "" || escaped == "/" {
		return ""
	}
	return strings.TrimRight(path.Clean(decodeUnreserved(escaped)), "/")
}

// decodeUnreserved decodes escapes of unreserved characters (letters,
// digits, "-._~") and upper-cases the hex digits of the others.
func decodeUnreserved(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+2 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			b.WriteByte(s[i])
			continue
		}
		if c := byte(v); isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteString("%" + strings.ToUpper(s[i+1:i+3]))
		}
		i += 2
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		lk := strings.ToLower(k)
		if _, tracking := trackingParams[lk]; tracking || strings.HasPrefix(lk, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var i, count int
	for i = range s {
		if count == n {
			break
		}
		count++
	}
	return s[:i]
}
