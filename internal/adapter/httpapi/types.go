// Package httpapi serves and consumes the retrieval protocol.
package httpapi

import "threatfeed/internal/domain"

// RetrieveRequest is the body of POST /v1/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// ResultMetadata is the metadata object of one result.
type ResultMetadata struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RetrieveItem is one element of the POST /v1/retrieve response array.
type RetrieveItem struct {
	Text     string         `json:"text"`
	Metadata ResultMetadata `json:"metadata"`
	Score    float64        `json:"score"`
	DocID    string         `json:"doc_id,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func toItems(results []domain.RetrievalResult) []RetrieveItem {
	items := make([]RetrieveItem, len(results))
	for i, r := range results {
		items[i] = RetrieveItem{
			Text:     r.Text,
			Metadata: ResultMetadata{Title: r.Metadata.Title, URL: r.Metadata.URL},
			Score:    r.Score,
			DocID:    r.DocID,
		}
	}
	return items
}

func fromItems(items []RetrieveItem) []domain.RetrievalResult {
	results := make([]domain.RetrievalResult, len(items))
	for i, it := range items {
		results[i] = domain.RetrievalResult{
			DocID:    it.DocID,
			Score:    it.Score,
			Text:     it.Text,
			Metadata: domain.Metadata{Title: it.Metadata.Title, URL: it.Metadata.URL},
		}
	}
	return results
}
