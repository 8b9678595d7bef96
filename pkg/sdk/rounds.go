package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	statusEndpoint = "/status"
	roundsEndpoint = "/rounds"
)

type Status struct {
	State           string   `json:"state"`
	Round           uint64   `json:"round"`
	TotalRounds     uint64   `json:"total_rounds"`
	CompletedRounds uint64   `json:"completed_rounds"`
	NumClients      int      `json:"num_clients"`
	Ready           []uint16 `json:"ready"`
	Collected       []uint16 `json:"collected"`
}

type Round struct {
	Round               uint64        `json:"round"`
	StartedAt           time.Time     `json:"started_at"`
	CollectedAt         time.Time     `json:"collected_at"`
	RoundDuration       string        `json:"round_duration,omitempty"`
	AggregationDuration time.Duration `json:"aggregation_duration"`
	BytesSent           uint64        `json:"bytes_sent"`
	BytesReceived       uint64        `json:"bytes_received"`
	Contributors        []uint16      `json:"contributors"`
	Partial             bool          `json:"partial,omitempty"`
}

type RoundPage struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Rounds []Round `json:"rounds"`
}

func (sdk *flSDK) Status() (Status, error) {
	url := sdk.coordinatorURL + statusEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Status{}, err
	}

	var s Status
	if err := json.Unmarshal(body, &s); err != nil {
		return Status{}, err
	}

	return s, nil
}

func (sdk *flSDK) GetRound(round uint64) (Round, error) {
	url := fmt.Sprintf("%s%s/%d", sdk.coordinatorURL, roundsEndpoint, round)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Round{}, err
	}

	var r Round
	if err := json.Unmarshal(body, &r); err != nil {
		return Round{}, err
	}

	return r, nil
}

func (sdk *flSDK) ListRounds(offset, limit uint64) (RoundPage, error) {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	query := ""
	if len(queries) > 0 {
		query = "?" + strings.Join(queries, "&")
	}
	url := sdk.coordinatorURL + roundsEndpoint + query

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return RoundPage{}, err
	}

	var page RoundPage
	if err := json.Unmarshal(body, &page); err != nil {
		return RoundPage{}, err
	}

	return page, nil
}
