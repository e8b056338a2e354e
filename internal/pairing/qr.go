package pairing

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/skip2/go-qrcode"
)

const (
	PayloadScheme = "sentinelr"
	PayloadHost   = "pair"

	DefaultQRSize = 256
)

// PayloadFormat records which producer format a scanned payload matched.
type PayloadFormat string

const (
	FormatURI  PayloadFormat = "uri"
	FormatJSON PayloadFormat = "json"
	FormatRaw  PayloadFormat = "raw"
)

type Payload struct {
	Code   string
	Name   string
	Format PayloadFormat
}

// EncodePayload builds the deep link embedded in pairing QR codes, e.g.
// sentinelr://pair?code=AB12-CD34&name=Test.
func EncodePayload(code, name string) string {
	q := url.Values{}
	q.Set("code", code)
	if name != "" {
		q.Set("name", name)
	}
	u := url.URL{
		Scheme:   PayloadScheme,
		Host:     PayloadHost,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// legacy producers emitted any of these keys
var jsonCodeFields = []string{"code", "pairingCode", "pairing_code"}

// DecodePayload extracts a pairing code from scanned text. It tries the deep
// link first, then a JSON object, then the raw text itself. The returned code
// is canonicalized and shape-validated; no server round trip is involved.
func DecodePayload(scanned string) (Payload, error) {
	text := strings.TrimSpace(scanned)

	p, ok := decodeURI(text)
	if !ok {
		p, ok = decodeJSON(text)
	}
	if !ok {
		p = Payload{Code: text, Format: FormatRaw}
	}

	p.Code = canonicalCode(p.Code)
	if err := ValidateCode(p.Code); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// canonicalCode is stricter than NormalizeInput: only whitespace and the
// separator are dropped, and nothing is truncated, so arbitrary scanned text
// cannot be coerced into a valid looking code.
func canonicalCode(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == Separator {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
	return FormatCode(s)
}

func decodeURI(text string) (Payload, bool) {
	u, err := url.Parse(text)
	if err != nil || !strings.EqualFold(u.Scheme, PayloadScheme) || !strings.EqualFold(u.Host, PayloadHost) {
		return Payload{}, false
	}
	code := u.Query().Get("code")
	if code == "" {
		return Payload{}, false
	}
	return Payload{Code: code, Name: u.Query().Get("name"), Format: FormatURI}, true
}

func decodeJSON(text string) (Payload, bool) {
	if !strings.HasPrefix(text, "{") {
		return Payload{}, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Payload{}, false
	}
	for _, key := range jsonCodeFields {
		if code, ok := fields[key].(string); ok && code != "" {
			name, _ := fields["name"].(string)
			if name == "" {
				name, _ = fields["deviceName"].(string)
			}
			return Payload{Code: code, Name: name, Format: FormatJSON}, true
		}
	}
	return Payload{}, false
}

// RenderQR renders the payload as a PNG image.
func RenderQR(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
