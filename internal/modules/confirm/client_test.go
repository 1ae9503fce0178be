package confirm

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushsync/internal/modules/notification"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recorded struct {
	Path   string
	Query  string
	Auth   string
	Body   notification.AckFrame
	ReqID  string
	Method string
}

type recorder struct {
	mu       sync.Mutex
	requests []recorded
	status   int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	raw, _ := io.ReadAll(req.Body)
	var body notification.AckFrame
	_ = json.Unmarshal(raw, &body)

	r.mu.Lock()
	r.requests = append(r.requests, recorded{
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Auth:   req.Header.Get("Authorization"),
		Body:   body,
		ReqID:  req.Header.Get("X-Request-ID"),
		Method: req.Method,
	})
	status := r.status
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *recorder) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.requests...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfirmDeliveryRequestShape(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, staticToken("tok"), nil, discard())
	c.ConfirmDelivery(notification.Message{ID: "A1", TraceID: "tr", Source: notification.SourceStream})
	c.Close(time.Second)

	reqs := rec.snapshot()
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "/confirm", r.Path)
	assert.Equal(t, "transportKind=websocket", r.Query)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("tok:A1")), r.Auth)
	assert.Equal(t, notification.AckFrame{MessageID: "A1", TraceID: "tr"}, r.Body)
	assert.NotEmpty(t, r.ReqID)
}

func TestConfirmActionRequestShape(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok"), nil, discard())
	c.ConfirmAction(notification.Message{ID: "B2"}, notification.ActionShow)
	c.ConfirmAction(notification.Message{ID: "B2"}, notification.Action("Archive"))
	c.Close(time.Second)

	reqs := rec.snapshot()
	require.Len(t, reqs, 2)
	queries := []string{reqs[0].Query, reqs[1].Query}
	assert.ElementsMatch(t, []string{"clientInteraction=Show", "clientInteraction=Archive"}, queries)
	for _, r := range reqs {
		assert.Equal(t, "/confirm-client-interaction", r.Path)
	}
}

func TestConfirmSkippedWithoutToken(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken(""), nil, discard())
	c.ConfirmDelivery(notification.Message{ID: "C3"})
	c.Close(time.Second)

	assert.Empty(t, rec.snapshot())
}

func TestConfirmFailureIsNotRetried(t *testing.T) {
	rec := &recorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok"), nil, discard())
	c.ConfirmDelivery(notification.Message{ID: "D4"})
	c.Close(time.Second)

	assert.Len(t, rec.snapshot(), 1)
}

func TestConfirmAfterCloseIsDropped(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok"), nil, discard())
	c.Close(time.Second)
	c.ConfirmDelivery(notification.Message{ID: "E5"})

	assert.Empty(t, rec.snapshot())
}

func TestHTTPErrorMessage(t *testing.T) {
	assert.Equal(t, "http 502: bad gateway", (&HTTPError{StatusCode: 502, Body: "bad gateway"}).Error())
	assert.Equal(t, "http 404", (&HTTPError{StatusCode: 404}).Error())
}
