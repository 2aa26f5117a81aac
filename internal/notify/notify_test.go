package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/config"
)

func TestCrossedMilestones(t *testing.T) {
	th := []int{25, 50, 75, 100}
	assert.Equal(t, []int{25, 50}, CrossedMilestones(0, 50, th))
	assert.Equal(t, []int{100}, CrossedMilestones(99, 100, th))
	assert.Nil(t, CrossedMilestones(50, 50, th))
	assert.Nil(t, CrossedMilestones(80, 20, th))
	assert.Nil(t, CrossedMilestones(26, 49, th))
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := Func(func(context.Context, Notification) error { calls++; return nil })
	bad := Func(func(context.Context, Notification) error { calls++; return errors.New("down") })
	err := Multi{ok, nil, bad, Nop{}}.Notify(context.Background(), Notification{Kind: KindMilestone})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 2, calls)
}

func TestWebhookNotifierPostsMatchingKinds(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		mu.Lock()
		got = append(got, n)
		secret = r.Header.Get("X-Stratline-Secret")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	off := false
	w := NewWebhookNotifier([]config.Webhook{
		{ID: "milestones", URL: srv.URL, Secret: "s3cret", Kinds: []string{KindMilestone}},
		{ID: "disabled", URL: srv.URL, Enabled: &off},
	})
	ctx := context.Background()
	require.NoError(t, w.Notify(ctx, Notification{Kind: KindMilestone, EntityID: "p1", NewValue: "50"}))
	require.NoError(t, w.Notify(ctx, Notification{Kind: KindStatusChanged, EntityID: "s1"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].EntityID)
	assert.Equal(t, "s3cret", secret)
}

func TestWebhookNotifierReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhookNotifier([]config.Webhook{{ID: "h", URL: srv.URL}})
	err := w.Notify(context.Background(), Notification{Kind: KindMilestone})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
