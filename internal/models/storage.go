package models

// StateVersion is the schema version written into State documents.
const StateVersion = 1

// State is the persisted portfolio document. Timestamp is Unix milliseconds
// of the last write.
type State struct {
	Funds        []Fund   `json:"funds"`
	Groups       []Group  `json:"groups"`
	MarketConfig []string `json:"marketConfig"`
	Version      int      `json:"version"`
	Timestamp    int64    `json:"timestamp"`
}

// NewState returns an empty document with non-nil collections.
func NewState() *State {
	return &State{
		Funds:        []Fund{},
		Groups:       []Group{},
		MarketConfig: []string{},
		Version:      StateVersion,
	}
}

// FindFund returns the index of the fund with code, or -1.
func (s *State) FindFund(code string) int {
	for i := range s.Funds {
		if s.Funds[i].Code == code {
			return i
		}
	}
	return -1
}

// Clone deep-copies the document.
func (s *State) Clone() *State {
	out := &State{
		Funds:        make([]Fund, len(s.Funds)),
		Groups:       append([]Group{}, s.Groups...),
		MarketConfig: append([]string{}, s.MarketConfig...),
		Version:      s.Version,
		Timestamp:    s.Timestamp,
	}
	for i, f := range s.Funds {
		out.Funds[i] = f.Clone()
	}
	return out
}
