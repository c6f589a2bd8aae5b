package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"personal/discord_gateway/src/permissions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("token", WithBaseURL(srv.URL), WithRetryBackoff(time.Millisecond))
}

func TestClient_GetGatewayBot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gateway/bot", r.URL.Path)
		assert.Equal(t, "Bot token", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "DiscordBot")
		w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":2,"session_start_limit":{"total":1000,"remaining":999,"reset_after":14400000,"max_concurrency":1}}`))
	})

	res, err := c.GetGatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.discord.gg", res.URL)
	assert.Equal(t, 2, res.Shards)
	assert.Equal(t, 999, res.SessionStartLimit.Remaining)
	assert.Equal(t, 1, res.SessionStartLimit.MaxConcurrency)
}

func TestClient_RetriesAfter429(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.02,"global":false}`))
			return
		}
		w.Write([]byte(`{"id":"1","type":0}`))
	})

	start := time.Now()
	ch, err := c.GetChannel(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, Snowflake("1"), ch.ID)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestClient_RetryAfterHeader(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Do(context.Background(), http.MethodDelete, "/channels/1/messages/2", nil, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Global429ExhaustsGlobalBucket(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Global", "true")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"global","retry_after":0.05,"global":true}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	done := make(chan error, 1)
	go func() { done <- c.Get(context.Background(), "/guilds/1", nil) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Global().Remaining() == 0 }, time.Second, time.Millisecond)
	assert.Greater(t, c.Global().UntilReset(), time.Duration(0))
	require.NoError(t, <-done)
}

func TestClient_ServerErrorRetriedThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c := New("token", WithBaseURL(srv.URL), WithRetryBackoff(time.Millisecond), WithMaxRetries(2))

	err := c.Get(context.Background(), "/guilds/1", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadGateway, he.StatusCode)
	assert.True(t, he.Temporary())
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
	})

	_, err := c.GetChannel(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, IsNotFound(err))

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 10003, he.Code)
	assert.Equal(t, "Unknown Channel", he.Message)
}

func TestClient_RouteBucketFromHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Bucket", "abcd")
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Reset-After", "1.5")
		w.Write([]byte(`{"id":"9"}`))
	})

	_, err := c.GetGuildMember(context.Background(), "1", "9")
	require.NoError(t, err)

	b := c.bucket(routeKey(http.MethodGet, "/guilds/1/members/9"))
	require.NotNil(t, b)
	assert.Equal(t, 5, b.Capacity())
	assert.Equal(t, 4, b.Remaining())

	// Another member of the same guild shares the route.
	assert.Same(t, b, c.bucket(routeKey(http.MethodGet, "/guilds/1/members/10")))
	assert.Nil(t, c.bucket(routeKey(http.MethodGet, "/guilds/2/members/10")))
}

func TestClient_ContextCancelledDuringRetry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"retry_after":10}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Get(ctx, "/guilds/1", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_CreateInteractionResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/interactions/1/tok/callback", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body InteractionResponse
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, ResponseChannelMessageWithSource, body.Type)
		assert.Equal(t, "pong", body.Data.Content)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.CreateInteractionResponse(context.Background(), "1", "tok", InteractionResponse{
		Type: ResponseChannelMessageWithSource,
		Data: &InteractionResponseData{Content: "pong"},
	})
	require.NoError(t, err)
}

func TestRouteKey(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{"GET", "/channels/1", "GET /channels/1"},
		{"DELETE", "/channels/1/messages/2", "DELETE /channels/1/messages/:id"},
		{"GET", "/guilds/1/members/2", "GET /guilds/1/members/:id"},
		{"POST", "/interactions/1/tok/callback", "POST /interactions/:id/:token/callback"},
		{"POST", "/webhooks/1/tok", "POST /webhooks/1/:token"},
		{"GET", "/gateway/bot", "GET /gateway/bot"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routeKey(tt.method, tt.path), tt.path)
	}
}

func TestChannel_Overwrites(t *testing.T) {
	ch := Channel{PermissionOverwrites: []Overwrite{
		{ID: "1", Type: 0, Allow: "1024", Deny: "2048"},
		{ID: "2", Type: 1, Allow: "0", Deny: "1024"},
	}}

	ows, err := ch.Overwrites()
	require.NoError(t, err)
	require.Len(t, ows, 2)
	assert.True(t, ows[0].Allow.Has(permissions.ViewChannel))
	assert.True(t, ows[0].Deny.Has(permissions.SendMessages))
	assert.Equal(t, permissions.OverwriteMember, ows[1].Type)

	ch.PermissionOverwrites[0].Allow = "nope"
	_, err = ch.Overwrites()
	assert.Error(t, err)
}

func TestGuild_PermissionGuild(t *testing.T) {
	g := Guild{
		ID:      "1",
		OwnerID: "5",
		Roles: []Role{
			{ID: "1", Permissions: "1024"},
			{ID: "2", Permissions: "8"},
			{ID: "3", Permissions: "garbage"},
		},
	}
	pg := g.PermissionGuild()
	assert.Len(t, pg.Roles, 2)

	member := Member{User: &User{ID: "7"}, Roles: []Snowflake{"2"}}
	perms := permissions.Base(pg, member.Subject(""))
	assert.True(t, perms.Equal(permissions.All))
}
