package listview

import (
	"fmt"
	"io"
	"strings"

	"booklisting/internal/models"
)

// CoverPlaceholder stands in for a book without a cover image.
const CoverPlaceholder = "(no cover)"

// Row is the display form of one Book.
type Row struct {
	Index     int
	Title     string
	Author    string
	CoverURL  string
	DetailURL string
}

// Bind maps books to rows, substituting sentinels for absent fields.
// Row indices start at 1 to match what the user types.
func Bind(books []models.Book) []Row {
	rows := make([]Row, 0, len(books))
	for i, b := range books {
		cover := b.CoverURL
		if cover == "" {
			cover = CoverPlaceholder
		}
		rows = append(rows, Row{
			Index:     i + 1,
			Title:     b.Title,
			Author:    b.AuthorDisplay(),
			CoverURL:  cover,
			DetailURL: b.DetailDisplay(),
		})
	}
	return rows
}

// Render writes rows as a numbered list.
func Render(w io.Writer, rows []Row) error {
	width := len(fmt.Sprint(len(rows)))
	for _, r := range rows {
		indent := strings.Repeat(" ", width+2)
		if _, err := fmt.Fprintf(w, "%*d. %s\n%s%s\n%s%s\n",
			width, r.Index, r.Title,
			indent, r.Author,
			indent, r.CoverURL,
		); err != nil {
			return err
		}
	}
	return nil
}

// RenderMessage writes an empty-state or status message.
func RenderMessage(w io.Writer, msg string) error {
	_, err := fmt.Fprintln(w, msg)
	return err
}
