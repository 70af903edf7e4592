package models

// PersonRecord is a gallery entry: the stored embedding for one enrolled
// person. person_id is unique across active
// records; embeddings are always 512-D and L2-normalized.
type PersonRecord struct {
	PersonID  string    `json:"person_id"`
	Embedding []float32 `json:"-"`
}
