package browser

import (
	"errors"
	"fmt"
	"net/url"

	pkgbrowser "github.com/pkg/browser"
)

// ErrNoDetail is returned when a book has no detail page to open.
var ErrNoDetail = errors.New("no detail page available")

// Opener hands a URI to an external viewer.
type Opener interface {
	Open(rawURL string) error
}

// ParseURI performs the only validation done before handoff: the string must
// parse as a URI with a scheme.
func ParseURI(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, ErrNoDetail
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid detail url %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid detail url %q: missing scheme", rawURL)
	}
	return u, nil
}

// SystemOpener asks the operating system to open URIs in the default browser.
type SystemOpener struct{}

func (SystemOpener) Open(rawURL string) error {
	u, err := ParseURI(rawURL)
	if err != nil {
		return err
	}
	return pkgbrowser.OpenURL(u.String())
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(rawURL string) error

func (f OpenerFunc) Open(rawURL string) error {
	return f(rawURL)
}
