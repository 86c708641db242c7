package port

type KeywordExtractor interface {
	Extract(text string) []string
}
