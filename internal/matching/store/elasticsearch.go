package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ProfileIndexMapping is the mapping the candidate search relies on.
const ProfileIndexMapping = `{
  "mappings": {
    "properties": {
      "user_id":        {"type": "keyword"},
      "location":       {"type": "geo_point"},
      "age":            {"type": "integer"},
      "active":         {"type": "boolean"},
      "last_active_at": {"type": "date"},
      "interests": {
        "type": "nested",
        "properties": {
          "id":   {"type": "keyword"},
          "rank": {"type": "integer"}
        }
      }
    }
  }
}`

const defaultCandidateLimit = 100

type CandidateSourceConfig struct {
	Index              string
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// ElasticsearchCandidateSource runs radius searches over the profile index.
// Searches go through a circuit breaker that opens after consecutive failures.
type ElasticsearchCandidateSource struct {
	client  *elasticsearch.Client
	index   string
	breaker *gobreaker.CircuitBreaker[[]models.CandidateProfile]
	logger  logger.Logger
}

func NewElasticsearchCandidateSource(client *elasticsearch.Client, cfg CandidateSourceConfig, log logger.Logger) *ElasticsearchCandidateSource {
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout == 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}

	s := &ElasticsearchCandidateSource{
		client: client,
		index:  cfg.Index,
		logger: log.WithFields(map[string]interface{}{"component": "candidate-source", "index": cfg.Index}),
	}

	s.breaker = gobreaker.NewCircuitBreaker[[]models.CandidateProfile](gobreaker.Settings{
		Name:        "candidate-search",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return s
}

type profileDoc struct {
	UserID       string        `json:"user_id"`
	Location     *geoDoc       `json:"location"`
	Age          int           `json:"age"`
	Active       bool          `json:"active"`
	LastActiveAt *time.Time    `json:"last_active_at"`
	Interests    []interestDoc `json:"interests"`
}

type geoDoc struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type interestDoc struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string        `json:"_id"`
			Source profileDoc    `json:"_source"`
			Sort   []json.Number `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// FetchCandidates returns active members within the radius, nearest first,
// with DistanceKm taken from the geo-distance sort value.
func (s *ElasticsearchCandidateSource) FetchCandidates(ctx context.Context, q models.CandidateQuery) ([]models.CandidateProfile, error) {
	candidates, err := s.breaker.Execute(func() ([]models.CandidateProfile, error) {
		return s.search(ctx, q)
	})
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError("candidates", err)
	}
	return candidates, nil
}

func (s *ElasticsearchCandidateSource) search(ctx context.Context, q models.CandidateQuery) ([]models.CandidateProfile, error) {
	body, err := json.Marshal(BuildCandidateQuery(q))
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]models.CandidateProfile, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		c := toCandidate(hit.ID, hit.Source)
		if len(hit.Sort) > 0 {
			if d, err := hit.Sort[0].Float64(); err == nil {
				c.DistanceKm = &d
			}
		}
		if err := c.Validate(); err != nil {
			s.logger.Warn("skipping invalid candidate document", map[string]interface{}{
				"candidateId": c.ID,
				"error":       err.Error(),
			})
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func toCandidate(docID string, d profileDoc) models.CandidateProfile {
	id := d.UserID
	if id == "" {
		id = docID
	}
	c := models.CandidateProfile{UserProfile: models.UserProfile{ID: id}}
	if d.Location != nil {
		c.Location = &models.GeoPoint{Lat: d.Location.Lat, Lng: d.Location.Lon}
	}
	if d.LastActiveAt != nil {
		c.LastActiveAt = d.LastActiveAt.UTC()
	}
	for _, in := range d.Interests {
		c.Interests = append(c.Interests, models.RankedInterest{InterestID: in.ID, Rank: in.Rank})
	}
	return c
}

// BuildCandidateQuery renders the search body for a radius query.
func BuildCandidateQuery(q models.CandidateQuery) map[string]interface{} {
	origin := map[string]interface{}{"lat": q.Lat, "lon": q.Lng}

	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"active": true}},
		map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": fmt.Sprintf("%gkm", q.RadiusKm),
				"location": origin,
			},
		},
	}

	if q.AgeMin > 0 || q.AgeMax > 0 {
		rng := map[string]interface{}{}
		if q.AgeMin > 0 {
			rng["gte"] = q.AgeMin
		}
		if q.AgeMax > 0 {
			rng["lte"] = q.AgeMax
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"age": rng},
		})
	}

	size := q.Limit
	if size <= 0 {
		size = defaultCandidateLimit
	}

	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filters,
				"must_not": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"user_id": q.UserID}},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{
				"_geo_distance": map[string]interface{}{
					"location":      origin,
					"order":         "asc",
					"unit":          "km",
					"distance_type": "arc",
				},
			},
		},
	}
}
