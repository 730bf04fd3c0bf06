package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
	httperr "github.com/feedline-io/feedline/internal/core/errors"
	"github.com/feedline-io/feedline/internal/core/storage"
	"github.com/feedline-io/feedline/internal/verbs"
)

// fakeQueue records enqueued events and returns a scripted error.
type fakeQueue struct {
	enqueued []*v1.Event
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, evt *v1.Event) error {
	if q.err != nil {
		return q.err
	}
	evt.IngestSeq = int64(len(q.enqueued) + 1)
	q.enqueued = append(q.enqueued, evt)
	return nil
}

func (q *fakeQueue) DequeueAfter(context.Context, int64, int) ([]*v1.Event, error) {
	return nil, nil
}

func (q *fakeQueue) ReadCheckpoint(context.Context, string) (int64, error) { return 0, nil }

func (q *fakeQueue) AdvanceCheckpoint(context.Context, string, int64) error { return nil }

func newTestService(t *testing.T, queue *fakeQueue) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := verbs.NewRegistry(t.TempDir()) // empty dir -> default verb set
	require.NoError(t, err)

	svc := NewService(registry, queue, 1)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func postEvent(r *gin.Engine, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func validEvent() *v1.Event {
	return &v1.Event{
		ID:         "evt-001",
		TenantID:   "tenant-1",
		Verb:       v1.VerbFollow,
		ActorID:    "simon",
		ObjectID:   "branden",
		OccurredAt: time.Now().UTC(),
	}
}

func TestIngestHandler_Success(t *testing.T) {
	queue := &fakeQueue{}
	r := newTestService(t, queue)

	body, _ := json.Marshal(validEvent())
	resp := postEvent(r, body)

	require.Equal(t, http.StatusAccepted, resp.Code)
	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "accepted", result["status"])

	require.Len(t, queue.enqueued, 1)
	require.Equal(t, "evt-001", queue.enqueued[0].ID)
	require.False(t, queue.enqueued[0].IngestedAt.IsZero(), "ingestion stamps receive time")
}

func TestIngestHandler_InvalidJSON(t *testing.T) {
	queue := &fakeQueue{}
	r := newTestService(t, queue)

	resp := postEvent(r, []byte(`{"id": "evt-001",`))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
	require.Empty(t, queue.enqueued)
}

func TestIngestHandler_MissingEnvelopeFields(t *testing.T) {
	queue := &fakeQueue{}
	r := newTestService(t, queue)

	evt := validEvent()
	evt.ActorID = ""
	body, _ := json.Marshal(evt)

	resp := postEvent(r, body)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpValidationError, errResp.ErrorType)
	require.Empty(t, queue.enqueued)
}

func TestIngestHandler_UnknownVerb(t *testing.T) {
	queue := &fakeQueue{}
	r := newTestService(t, queue)

	evt := validEvent()
	evt.Verb = "teleport"
	body, _ := json.Marshal(evt)

	resp := postEvent(r, body)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpUnknownVerbError, errResp.ErrorType)
	require.Empty(t, queue.enqueued)
}

func TestIngestHandler_MissingRequiredTarget(t *testing.T) {
	queue := &fakeQueue{}
	r := newTestService(t, queue)

	evt := validEvent()
	evt.Verb = v1.VerbJoin // requires a target in the default registry
	body, _ := json.Marshal(evt)

	resp := postEvent(r, body)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Empty(t, queue.enqueued)
}

func TestIngestHandler_DuplicateEvent(t *testing.T) {
	queue := &fakeQueue{err: storage.ErrDuplicate}
	r := newTestService(t, queue)

	body, _ := json.Marshal(validEvent())
	resp := postEvent(r, body)

	require.Equal(t, http.StatusConflict, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpDuplicateEventError, errResp.ErrorType)
}

func TestIngestHandler_StorageFailure(t *testing.T) {
	queue := &fakeQueue{err: errors.New("connection refused")}
	r := newTestService(t, queue)

	body, _ := json.Marshal(validEvent())
	resp := postEvent(r, body)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestIngestHandler_OversizedBody(t *testing.T) {
	queue := &fakeQueue{}
	r := newTestService(t, queue)

	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = 'a'
	}
	resp := postEvent(r, big)

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	require.Empty(t, queue.enqueued)
}
