package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/feedline-io/feedline/internal/core/activity"
)

// memFeedStore is an in-memory FeedStore keyed on the four-field identity.
type memFeedStore struct {
	entries map[string][]*activity.Activity // "recipient|stream" -> newest first
	err     error
}

func newMemFeedStore() *memFeedStore {
	return &memFeedStore{entries: make(map[string][]*activity.Activity)}
}

func (m *memFeedStore) AppendFeedEntry(_ context.Context, recipientID string, stream activity.Stream, act *activity.Activity) error {
	if m.err != nil {
		return m.err
	}
	key := recipientID + "|" + string(stream)
	for _, existing := range m.entries[key] {
		if existing.ID == act.ID && existing.Revision == act.Revision {
			return nil
		}
	}
	m.entries[key] = append([]*activity.Activity{act}, m.entries[key]...)
	return nil
}

func (m *memFeedStore) ListFeed(_ context.Context, recipientID string, stream activity.Stream, limit, offset int) ([]*activity.Activity, error) {
	if m.err != nil {
		return nil, m.err
	}
	all := m.entries[recipientID+"|"+string(stream)]
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func feedActivity(id string) *activity.Activity {
	return &activity.Activity{
		ID:          id,
		TenantID:    "tenant-1",
		Verb:        "follow",
		ActorIDs:    []string{"simon"},
		ObjectIDs:   []string{"branden"},
		PublishedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Revision:    1,
	}
}

func newFeedRouter(store *memFeedStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewService(store).RegisterRoutes(r)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestListFeedReturnsRecipientEntries(t *testing.T) {
	store := newMemFeedStore()
	sink := NewStoreSink(store)
	ctx := context.Background()
	require.NoError(t, sink.MaterializeFeedEntry(ctx, "simon", feedActivity("act-1")))
	require.NoError(t, sink.MaterializeFeedEntry(ctx, "simon", feedActivity("act-2")))
	require.NoError(t, sink.MaterializeFeedEntry(ctx, "branden", feedActivity("act-3")))

	resp := get(newFeedRouter(store), "/v1/feeds/simon")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		RecipientID string               `json:"recipient_id"`
		Entries     []*activity.Activity `json:"entries"`
		Count       int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "simon", body.RecipientID)
	require.Equal(t, 2, body.Count)
	require.Equal(t, "act-2", body.Entries[0].ID, "newest first")
}

func TestNotificationsAndFeedAreSeparateStreams(t *testing.T) {
	store := newMemFeedStore()
	sink := NewStoreSink(store)
	ctx := context.Background()
	require.NoError(t, sink.MaterializeFeedEntry(ctx, "simon", feedActivity("act-1")))
	require.NoError(t, sink.PushNotification(ctx, "simon", feedActivity("act-2")))

	r := newFeedRouter(store)

	resp := get(r, "/v1/notifications/simon")
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Entries []*activity.Activity `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	require.Equal(t, "act-2", body.Entries[0].ID)
}

func TestListFeedEmptyRecipient(t *testing.T) {
	resp := get(newFeedRouter(newMemFeedStore()), "/v1/feeds/nobody")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Entries []*activity.Activity `json:"entries"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Entries)
	require.Zero(t, body.Count)
}

func TestListFeedPagination(t *testing.T) {
	store := newMemFeedStore()
	sink := NewStoreSink(store)
	for _, id := range []string{"act-1", "act-2", "act-3"} {
		require.NoError(t, sink.MaterializeFeedEntry(context.Background(), "simon", feedActivity(id)))
	}

	r := newFeedRouter(store)

	resp := get(r, "/v1/feeds/simon?limit=1&offset=1")
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Entries []*activity.Activity `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	require.Equal(t, "act-2", body.Entries[0].ID)
}

func TestListFeedRejectsBadPaging(t *testing.T) {
	r := newFeedRouter(newMemFeedStore())

	require.Equal(t, http.StatusBadRequest, get(r, "/v1/feeds/simon?limit=zero").Code)
	require.Equal(t, http.StatusBadRequest, get(r, "/v1/feeds/simon?limit=-5").Code)
	require.Equal(t, http.StatusBadRequest, get(r, "/v1/feeds/simon?offset=-1").Code)
}

func TestQueueDigestIsIdempotentPerRevision(t *testing.T) {
	store := newMemFeedStore()
	sink := NewStoreSink(store)
	acts := []*activity.Activity{feedActivity("act-1"), feedActivity("act-2")}

	require.NoError(t, sink.QueueDigest(context.Background(), "branden", "email:daily:h09:20240301", acts))
	// Re-drain after a partial collection.
	require.NoError(t, sink.QueueDigest(context.Background(), "branden", "email:daily:h09:20240301", acts))

	require.Len(t, store.entries["branden|email"], 2)
}
