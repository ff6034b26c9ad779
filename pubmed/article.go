package pubmed

import "strings"

// maxAuthors is the number of authors shown per record.
const maxAuthors = 3

// Article is the summary of one PubMed record.
type Article struct {
	PMID    string
	Title   string
	Authors []string
	Journal string
	PubDate string
}

// Year returns the first four characters of the publication date.
func (a Article) Year() string {
	if len(a.PubDate) < 4 {
		return a.PubDate
	}
	return a.PubDate[:4]
}

// Format renders the record as two lines:
//
//	PMID 123: Title
//	  Author A, Author B, Author C — Journal (2024)
func (a Article) Format() string {
	title := a.Title
	if title == "" {
		title = "No title"
	}
	authors := a.Authors
	if len(authors) > maxAuthors {
		authors = authors[:maxAuthors]
	}
	var b strings.Builder
	b.WriteString("PMID ")
	b.WriteString(a.PMID)
	b.WriteString(": ")
	b.WriteString(title)
	b.WriteString("\n  ")
	b.WriteString(strings.Join(authors, ", "))
	b.WriteString(" — ")
	b.WriteString(a.Journal)
	b.WriteString(" (")
	b.WriteString(a.Year())
	b.WriteString(")")
	return b.String()
}

// FormatArticles joins formatted records with a blank line, or returns
// NoResultsMessage for an empty list.
func FormatArticles(articles []Article) string {
	if len(articles) == 0 {
		return NoResultsMessage
	}
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Format()
	}
	return strings.Join(out, "\n\n")
}

type summaryDoc struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
}

func (d summaryDoc) article(pmid string) Article {
	a := Article{
		PMID:    pmid,
		Title:   d.Title,
		Journal: d.FullJournalName,
		PubDate: d.PubDate,
	}
	for _, au := range d.Authors {
		a.Authors = append(a.Authors, au.Name)
	}
	return a
}
