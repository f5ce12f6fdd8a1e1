package models

// Sentinels rendered in place of absent catalog fields.
const (
	UnknownAuthorText = "unknown author"
	MissingAuthorText = "missing info of authors"
	MissingDetailText = "No info. available"
)

// AuthorState records how the authors field looked in the catalog response.
type AuthorState string

const (
	AuthorKnown   AuthorState = "known"
	AuthorUnknown AuthorState = "unknown" // key present, value null
	AuthorMissing AuthorState = "missing" // key absent
)

// Book is a single catalog entry as shown in the result list.
// Values are created once by the parser and never mutated.
type Book struct {
	CoverURL    string      `json:"cover_url,omitempty"`
	Title       string      `json:"title"`
	Author      string      `json:"author,omitempty"`
	AuthorState AuthorState `json:"author_state"`
	DetailURL   string      `json:"detail_url,omitempty"`
}

// HasDetail reports whether the catalog supplied an info link.
func (b Book) HasDetail() bool {
	return b.DetailURL != ""
}

// AuthorDisplay returns the author name or the matching sentinel.
func (b Book) AuthorDisplay() string {
	switch b.AuthorState {
	case AuthorKnown:
		if b.Author != "" {
			return b.Author
		}
		return UnknownAuthorText
	case AuthorUnknown:
		return UnknownAuthorText
	default:
		return MissingAuthorText
	}
}

// DetailDisplay returns the info link or the "No info. available" sentinel.
func (b Book) DetailDisplay() string {
	if b.HasDetail() {
		return b.DetailURL
	}
	return MissingDetailText
}
