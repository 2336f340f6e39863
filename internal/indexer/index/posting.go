package index

// Posting records one document's occurrences of a term.
type Posting struct {
	DocID     string `json:"id"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p,omitempty"`
}

type PostingList []Posting

// DocIDs returns the ids in list order.
func (pl PostingList) DocIDs() []string {
	ids := make([]string, len(pl))
	for i, p := range pl {
		ids[i] = p.DocID
	}
	return ids
}

// TermEntry is one term of a snapshot with its postings sorted by id.
type TermEntry struct {
	Term     string
	Postings PostingList
}
