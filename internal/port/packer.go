package port

import "threatfeed/internal/domain"

// Packer defines the interface for packing retrieved documents into prompt context.
type Packer interface {
	Pack(query string, results []domain.RetrievalResult) domain.PackedContext
}
