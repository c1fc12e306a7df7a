package wikipedia

// QueryResponse ist die Antwort von action=query&prop=extracts (formatversion=2).
type QueryResponse struct {
	Query struct {
		Redirects []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"redirects"`
		Pages []Page `json:"pages"`
	} `json:"query"`
}

type Page struct {
	PageID  int64  `json:"pageid"`
	Title   string `json:"title"`
	Extract string `json:"extract"`
	Missing bool   `json:"missing"`
	Invalid bool   `json:"invalid"`
}
