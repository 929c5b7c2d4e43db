package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeES(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
	})
	require.NoError(t, err)
	return client
}

const searchHits = `{
  "hits": {
    "hits": [
      {
        "_id": "c1",
        "_source": {
          "user_id": "c1",
          "location": {"lat": 52.53, "lon": 13.41},
          "active": true,
          "last_active_at": "2024-01-16T10:00:00Z",
          "interests": [{"id": "hiking", "rank": 1}, {"id": "photography", "rank": 3}]
        },
        "sort": [1.25]
      },
      {
        "_id": "c2",
        "_source": {
          "user_id": "c2",
          "interests": [{"id": "chess", "rank": 1}, {"id": "go", "rank": 1}]
        },
        "sort": [3.5]
      },
      {
        "_id": "c3",
        "_source": {"location": {"lat": 52.6, "lon": 13.5}}
      }
    ]
  }
}`

func TestElasticsearchCandidateSource_FetchCandidates(t *testing.T) {
	var captured map[string]interface{}
	var path string

	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(searchHits))
	})

	src := NewElasticsearchCandidateSource(client, CandidateSourceConfig{Index: "member_profiles"}, logger.NewTestLogger(t))

	got, err := src.FetchCandidates(context.Background(), models.CandidateQuery{
		UserID: "u1", Lat: 52.52, Lng: 13.405, RadiusKm: 50, AgeMin: 25, AgeMax: 35, Limit: 20,
	})
	require.NoError(t, err)

	assert.Equal(t, "/member_profiles/_search", path)
	assert.EqualValues(t, 20, captured["size"])

	// c2 has a duplicated rank and is dropped; c3 falls back to the document id.
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	require.NotNil(t, got[0].DistanceKm)
	assert.Equal(t, 1.25, *got[0].DistanceKm)
	assert.Equal(t, time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC), got[0].LastActiveAt)
	assert.Equal(t, []models.RankedInterest{{InterestID: "hiking", Rank: 1}, {InterestID: "photography", Rank: 3}}, got[0].Interests)

	assert.Equal(t, "c3", got[1].ID)
	assert.Nil(t, got[1].DistanceKm)
	require.NotNil(t, got[1].Location)
	assert.Equal(t, 13.5, got[1].Location.Lng)
}

func TestElasticsearchCandidateSource_ErrorResponse(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"parsing_exception"}}`))
	})
	src := NewElasticsearchCandidateSource(client, CandidateSourceConfig{Index: "member_profiles"}, logger.NewNoOpLogger())

	_, err := src.FetchCandidates(context.Background(), models.CandidateQuery{UserID: "u1", RadiusKm: 50})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSearchQueryFailed, apperrors.KindOf(err))
}

func TestElasticsearchCandidateSource_BreakerOpens(t *testing.T) {
	var calls int32
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{}`))
	})
	src := NewElasticsearchCandidateSource(client, CandidateSourceConfig{
		Index:              "member_profiles",
		BreakerMaxFailures: 2,
		BreakerOpenTimeout: time.Minute,
	}, logger.NewNoOpLogger())

	for i := 0; i < 4; i++ {
		_, err := src.FetchCandidates(context.Background(), models.CandidateQuery{UserID: "u1", RadiusKm: 50})
		assert.Error(t, err)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestBuildCandidateQuery(t *testing.T) {
	q := BuildCandidateQuery(models.CandidateQuery{UserID: "u1", Lat: 1.5, Lng: 2.5, RadiusKm: 50})

	assert.Equal(t, defaultCandidateLimit, q["size"])

	boolQ := q["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := boolQ["filter"].([]interface{})
	require.Len(t, filters, 2, "no age range without bounds")

	geo := filters[1].(map[string]interface{})["geo_distance"].(map[string]interface{})
	assert.Equal(t, "50km", geo["distance"])

	mustNot := boolQ["must_not"].([]interface{})
	assert.Equal(t, map[string]interface{}{"term": map[string]interface{}{"user_id": "u1"}}, mustNot[0])

	withAge := BuildCandidateQuery(models.CandidateQuery{UserID: "u1", RadiusKm: 10, AgeMin: 21})
	ageFilters := withAge["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, ageFilters, 3)
	assert.Equal(t, map[string]interface{}{"range": map[string]interface{}{"age": map[string]interface{}{"gte": 21}}}, ageFilters[2])
}
