package models

// RecordsResponse is the JSON body served by the read API.
type RecordsResponse struct {
	Run        *RunSummary       `json:"run,omitempty"`
	Data       []CanonicalRecord `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

type Pagination struct {
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	TotalItems  int `json:"total_items"`
}
