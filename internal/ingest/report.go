package ingest

import (
	"github.com/mjhen/rosterbridge/internal/decode"
	"github.com/mjhen/rosterbridge/internal/match"
	"github.com/mjhen/rosterbridge/internal/records"
)

// State is the orchestrator's position in one import.
type State string

const (
	StateDecoding       State = "decoding"
	StateHeaderLocating State = "header-locating"
	StateRowProcessing  State = "row-processing"
	StateReporting      State = "reporting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether no further events follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MatchCounts tallies matched rows per strategy family. The name-exact
// bucket includes disambiguated and ambiguous name matches.
type MatchCounts struct {
	DistrictID int `json:"districtId"`
	StateID    int `json:"stateId"`
	NameExact  int `json:"nameExact"`
	NameFuzzy  int `json:"nameFuzzy"`
}

func (c *MatchCounts) add(s match.Strategy) {
	switch s {
	case match.StrategyDistrictID:
		c.DistrictID++
	case match.StrategyStateID:
		c.StateID++
	case match.StrategyNameExact, match.StrategyNameExactDisambiguated, match.StrategyNameExactAmbiguous:
		c.NameExact++
	case match.StrategyNameFuzzy:
		c.NameFuzzy++
	}
}

// FileReport describes one decoded file of an upload.
type FileReport struct {
	Name      string        `json:"name"`
	Format    decode.Format `json:"format,omitempty"`
	Encoding  string        `json:"encoding,omitempty"`
	Digest    string        `json:"digest,omitempty"`
	HeaderRow int           `json:"headerRow"`
	Rows      int           `json:"rows"`
	Error     string        `json:"error,omitempty"`
}

// Report is the outcome of one import.
type Report struct {
	RunID                 string              `json:"runId"`
	DatasetType           records.DatasetType `json:"datasetType,omitempty"`
	FileName              string              `json:"fileName"`
	Digest                string              `json:"digest,omitempty"`
	State                 State               `json:"state"`
	TotalRows             int                 `json:"totalRows"`
	MatchedRows           int                 `json:"matchedRows"`
	UnmatchedRows         int                 `json:"unmatchedRows"`
	ProcessedRecords      int                 `json:"processedRecords"`
	MatchCountsByStrategy MatchCounts         `json:"matchCountsByStrategy"`
	ReplacedRecords       int64               `json:"replacedRecords"`
	Errors                []string            `json:"errors"`
	Files                 []FileReport        `json:"files"`
	RosterWarnings        []string            `json:"rosterWarnings,omitempty"`
}

func newReport(runID, fileName string) *Report {
	return &Report{
		RunID:    runID,
		FileName: fileName,
		Errors:   []string{},
		Files:    []FileReport{},
	}
}
