package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

const maxVotingRoundId uint64 = 1<<53 - 1

func decodeFeedValuesRequest(w http.ResponseWriter, r *http.Request) (FeedValuesRequest, bool) {
	var req FeedValuesRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be valid JSON matching {feeds: FeedId[]}")
		return req, false
	}
	return req, true
}

// resolveFeeds validates every requested FeedIdDTO, returning the parsed
// domain.FeedId list in the same order. A single structurally invalid feed
// id fails the whole request with a 400 invalid feed id.
func resolveFeeds(w http.ResponseWriter, r *http.Request, dtos []FeedIdDTO) ([]domain.FeedId, bool) {
	feeds := make([]domain.FeedId, 0, len(dtos))
	for _, dto := range dtos {
		feed, err := domain.NewFeedId(dto.Category, dto.Name)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_feed_id", "invalid feed id: "+dto.Name)
			return nil, false
		}
		feeds = append(feeds, feed)
	}
	return feeds, true
}

func feedDTO(f domain.FeedId) FeedIdDTO {
	return FeedIdDTO{Category: f.Category, Name: f.Name}
}

// postFeedValues handles POST /feed-values.
func (s *Server) postFeedValues(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeFeedValuesRequest(w, r)
	if !ok {
		return
	}
	feeds, ok := resolveFeeds(w, r, req.Feeds)
	if !ok {
		return
	}

	data := make([]FeedValueEntry, 0, len(feeds))
	for _, feed := range feeds {
		ap, found := s.orch.Query(feed)
		if !found {
			data = append(data, FeedValueEntry{Feed: feedDTO(feed), Reason: "no current data available"})
			continue
		}
		price := ap.Price
		data = append(data, FeedValueEntry{Feed: feedDTO(feed), Value: &price})
	}

	writeJSON(w, http.StatusOK, FeedValuesResponse{Feeds: req.Feeds, Data: data})
}

// parseVotingRoundId validates the path parameter: non-negative
// integers up to 2^53-1; non-numeric or decimal ids are rejected.
func parseVotingRoundId(raw string) (uint64, string, bool) {
	if raw == "" {
		return 0, "voting round id is required", false
	}
	if raw[0] == '-' {
		return 0, "voting round id must be non-negative", false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, "voting round id must be a numeric integer", false
		}
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, "voting round id must be a numeric integer", false
	}
	if id > maxVotingRoundId {
		return 0, "voting round id exceeds the expected maximum value", false
	}
	return id, "", true
}

// postFeedValuesForRound handles POST /feed-values/:votingRoundId.
func (s *Server) postFeedValuesForRound(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["votingRoundId"]
	id, msg, ok := parseVotingRoundId(raw)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_voting_round_id", msg)
		return
	}

	req, ok := decodeFeedValuesRequest(w, r)
	if !ok {
		return
	}
	feeds, ok := resolveFeeds(w, r, req.Feeds)
	if !ok {
		return
	}

	round := domain.VotingRound(id)
	data := make([]FeedValueEntry, 0, len(feeds))
	anyFound := false
	for _, feed := range feeds {
		ap, found := s.orch.QueryVotingRound(feed, round)
		if !found {
			data = append(data, FeedValueEntry{Feed: feedDTO(feed), Reason: "no data for requested voting round"})
			continue
		}
		anyFound = true
		price := ap.Price
		data = append(data, FeedValueEntry{Feed: feedDTO(feed), Value: &price})
	}

	if !anyFound {
		writeError(w, r, http.StatusNotFound, "voting_round_not_found", "no data for requested voting round")
		return
	}

	writeJSON(w, http.StatusOK, VotingRoundResponse{VotingRoundId: id, Data: data})
}

// postVolumes handles POST /volumes?windowSec=N.
func (s *Server) postVolumes(w http.ResponseWriter, r *http.Request) {
	windowSec, err := strconv.Atoi(r.URL.Query().Get("windowSec"))
	if err != nil || windowSec <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_window", "windowSec must be a positive integer")
		return
	}

	req, ok := decodeFeedValuesRequest(w, r)
	if !ok {
		return
	}
	feeds, ok := resolveFeeds(w, r, req.Feeds)
	if !ok {
		return
	}

	now := time.Now()
	window := time.Duration(windowSec) * time.Second
	data := make([]VolumeEntry, 0, len(feeds))
	for _, feed := range feeds {
		vol, found := s.orch.Volume(feed, window, now)
		if !found {
			data = append(data, VolumeEntry{Feed: feedDTO(feed), Reason: "no data available"})
			continue
		}
		v := vol
		data = append(data, VolumeEntry{Feed: feedDTO(feed), Volume: &v})
	}

	writeJSON(w, http.StatusOK, VolumesResponse{Feeds: req.Feeds, WindowSec: windowSec, Data: data})
}
