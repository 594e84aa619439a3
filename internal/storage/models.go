package storage

import "time"

// ProfileRecord is the fixed-shape row written once per discovered node
type ProfileRecord struct {
	ID             string
	Name           string
	Headline       string
	Gender         int
	AnswerCount    int
	QuestionCount  int
	VoteupCount    int
	ThankedCount   int
	FollowingCount int
	FollowerCount  int
	School         string
	Major          string
	Address        string
	Industry       string
	Company        string
	Job            string
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	NodesExpanded     int       `json:"nodes_expanded"`
	NodesDiscovered   int       `json:"nodes_discovered"`
	FetchFailures     int       `json:"fetch_failures"`
	NodesMissing      int       `json:"nodes_missing"`
	RecordsWritten    int       `json:"records_written"`
	RecordsDropped    int       `json:"records_dropped"`
	TerminationReason string    `json:"termination_reason"`
}
