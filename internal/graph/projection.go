package graph

import (
	"booklisting/internal/models"
)

// SearchStatements builds the writes that project one search result:
// (:Search)-[:MATCHED {rank}]->(:Book)-[:WRITTEN_BY]->(:Author).
// Books are keyed by detail URL when present, otherwise by title.
func SearchStatements(result models.SearchResult) []Statement {
	statements := []Statement{{
		Query: "MERGE (s:Search {session_id: $session_id}) " +
			"SET s.query = $query, s.url = $url, s.kind = $kind, s.done_at = $done_at",
		Params: map[string]any{
			"session_id": result.SessionID,
			"query":      result.Query,
			"url":        result.URL,
			"kind":       string(result.Kind),
			"done_at":    result.DoneAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	}}

	for i, book := range result.Books {
		if book.Title == "" {
			continue
		}
		statements = append(statements, bookStatement(result.SessionID, i+1, book))
		if book.AuthorState == models.AuthorKnown && book.Author != "" {
			statements = append(statements, authorStatement(book))
		}
	}
	return statements
}

// FailureStatements records a failed search on its Search node so the graph
// keeps every session, not only the ones that matched.
func FailureStatements(failure models.SearchFailure) []Statement {
	return []Statement{{
		Query: "MERGE (s:Search {session_id: $session_id}) " +
			"SET s.query = $query, s.url = $url, s.kind = $kind, " +
			"s.failure = $failure, s.error = $error, s.done_at = $done_at",
		Params: map[string]any{
			"session_id": failure.SessionID,
			"query":      failure.Query,
			"url":        failure.URL,
			"kind":       string(models.OutcomeFailed),
			"failure":    string(failure.Failure),
			"error":      failure.Error,
			"done_at":    failure.FailedAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	}}
}

// BookKey is the identity a Book node is merged on.
func BookKey(book models.Book) string {
	if book.DetailURL != "" {
		return book.DetailURL
	}
	return "title:" + book.Title
}

func bookStatement(sessionID string, rank int, book models.Book) Statement {
	var cover any
	if book.CoverURL != "" {
		cover = book.CoverURL
	}
	var detail any
	if book.DetailURL != "" {
		detail = book.DetailURL
	}
	return Statement{
		Query: "MERGE (b:Book {key: $key}) " +
			"SET b.title = $title, " +
			"b.cover_url = coalesce($cover_url, b.cover_url), " +
			"b.detail_url = coalesce($detail_url, b.detail_url) " +
			"WITH b MATCH (s:Search {session_id: $session_id}) " +
			"MERGE (s)-[r:MATCHED]->(b) SET r.rank = $rank",
		Params: map[string]any{
			"key":        BookKey(book),
			"title":      book.Title,
			"cover_url":  cover,
			"detail_url": detail,
			"session_id": sessionID,
			"rank":       rank,
		},
	}
}

func authorStatement(book models.Book) Statement {
	return Statement{
		Query: "MERGE (a:Author {name: $name}) " +
			"WITH a MATCH (b:Book {key: $key}) " +
			"MERGE (b)-[:WRITTEN_BY]->(a)",
		Params: map[string]any{
			"name": book.Author,
			"key":  BookKey(book),
		},
	}
}
