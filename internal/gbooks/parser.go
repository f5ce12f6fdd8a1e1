package gbooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"booklisting/internal/models"
)

// FrontCoverURL is the template for rewritten cover images.
const FrontCoverURL = "https://books.google.com/books/content/images/frontcover/%s?fife=w300"

// coverIDPattern is searched anywhere in the thumbnail URL, not matched against
// the whole string.
var coverIDPattern = regexp.MustCompile(`id=(.*?)&`)

// ItemError describes an item dropped from an otherwise valid batch.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// VolumeList is the parsed form of a volumes response.
type VolumeList struct {
	Books   []models.Book
	Skipped []ItemError
}

// ParseVolumes parses a volumes response body. Empty input and a document
// without "items" yield an empty list; malformed JSON wraps ErrParse.
// Malformed items are skipped and reported in Skipped, keeping input order
// for the rest.
func ParseVolumes(body []byte) (VolumeList, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return VolumeList{}, nil
	}

	var envelope struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return VolumeList{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(envelope.Items) == 0 || bytes.Equal(envelope.Items, []byte("null")) {
		return VolumeList{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(envelope.Items, &items); err != nil {
		return VolumeList{}, fmt.Errorf("%w: items: %v", ErrParse, err)
	}

	list := VolumeList{Books: make([]models.Book, 0, len(items))}
	for i, raw := range items {
		book, err := ParseVolume(raw)
		if err != nil {
			list.Skipped = append(list.Skipped, ItemError{Index: i, Err: err})
			continue
		}
		list.Books = append(list.Books, book)
	}
	return list, nil
}

// ParseVolume maps one element of "items" to a Book.
func ParseVolume(raw []byte) (models.Book, error) {
	var item struct {
		VolumeInfo map[string]json.RawMessage `json:"volumeInfo"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.Book{}, err
	}
	if item.VolumeInfo == nil {
		return models.Book{}, fmt.Errorf("missing volumeInfo")
	}
	info := item.VolumeInfo

	var title string
	rawTitle, ok := info["title"]
	if !ok {
		return models.Book{}, fmt.Errorf("missing title")
	}
	if err := json.Unmarshal(rawTitle, &title); err != nil || title == "" {
		return models.Book{}, fmt.Errorf("invalid title %s", string(rawTitle))
	}

	book := models.Book{Title: title}
	book.Author, book.AuthorState = parseAuthor(info)
	book.CoverURL = parseCover(info["imageLinks"])

	if rawLink, ok := info["infoLink"]; ok {
		var link string
		if err := json.Unmarshal(rawLink, &link); err == nil {
			book.DetailURL = link
		}
	}
	return book, nil
}

func parseAuthor(info map[string]json.RawMessage) (string, models.AuthorState) {
	raw, ok := info["authors"]
	if !ok {
		return "", models.AuthorMissing
	}
	if isNull(raw) {
		return "", models.AuthorUnknown
	}
	var authors []any
	if err := json.Unmarshal(raw, &authors); err != nil || len(authors) == 0 {
		return "", models.AuthorUnknown
	}
	name, ok := authors[0].(string)
	if !ok || name == "" {
		return "", models.AuthorUnknown
	}
	return name, models.AuthorKnown
}

func parseCover(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var links struct {
		SmallThumbnail string `json:"smallThumbnail"`
	}
	if err := json.Unmarshal(raw, &links); err != nil {
		return ""
	}
	return CoverURL(links.SmallThumbnail)
}

// CoverURL rewrites a thumbnail URL to the larger front-cover image when a
// book id can be found; otherwise the thumbnail is returned unchanged.
func CoverURL(thumbnail string) string {
	m := coverIDPattern.FindStringSubmatch(thumbnail)
	if len(m) < 2 || m[1] == "" {
		return thumbnail
	}
	return fmt.Sprintf(FrontCoverURL, m[1])
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
