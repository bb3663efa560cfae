package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/workspace-core/internal/data/repos/testutil"
	"github.com/yungbote/workspace-core/internal/domain/team"
	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/realtime"
	"github.com/yungbote/workspace-core/internal/realtime/client"
	"github.com/yungbote/workspace-core/internal/services"
)

type testApp struct {
	*App
	srv *httptest.Server
}

func newTestApp(t *testing.T, redisAddr string) *testApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := Config{
		Port:             "0",
		JWTSecretKey:     "test-secret",
		RealtimeTokenTTL: time.Hour,
		TokenBurst:       1,
		SSEHeartbeat:     time.Second,
		RedisAddr:        redisAddr,
		RedisChannel:     "workspace:test",
		ShutdownGrace:    time.Second,
	}
	a, err := Build(ctx, testutil.Logger(t), cfg, testutil.DB(t))
	require.NoError(t, err)
	require.NoError(t, a.StartForwarder(ctx))

	srv := httptest.NewServer(a.Server.Engine)
	t.Cleanup(srv.Close)
	// Open streams must end before the test server can close.
	t.Cleanup(a.Hub.Shutdown)
	t.Cleanup(func() { _ = a.Bus.Close() })
	return &testApp{App: a, srv: srv}
}

func (ta *testApp) token(t *testing.T, p services.Principal) string {
	t.Helper()
	tok, _, err := ta.Services.Tokens.IssueAccess(p, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ta *testApp) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ta.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

type nodeBody struct {
	Node struct {
		ID         uuid.UUID `json:"id"`
		Title      string    `json:"title"`
		ShareToken *string   `json:"share_token"`
	} `json:"node"`
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	return decode[response.ErrorEnvelope](t, raw).Error.Code
}

func TestUnauthenticatedRequestsGetErrorEnvelope(t *testing.T) {
	ta := newTestApp(t, "")

	status, body := ta.do(t, http.MethodGet, "/api/nodes", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", errorCode(t, body))

	status, _ = ta.do(t, http.MethodGet, "/healthcheck", "", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestNodeLifecycleWithHistory(t *testing.T) {
	ta := newTestApp(t, "")
	owner := ta.token(t, services.HumanPrincipal(uuid.New()))

	status, body := ta.do(t, http.MethodPost, "/api/nodes", owner, map[string]any{"title": "Untitled"})
	require.Equal(t, http.StatusCreated, status, string(body))
	created := decode[nodeBody](t, body).Node
	nodePath := "/api/nodes/" + created.ID.String()

	status, body = ta.do(t, http.MethodPatch, nodePath, owner, map[string]any{"title": "Plan"})
	require.Equal(t, http.StatusOK, status, string(body))
	require.Equal(t, "Plan", decode[nodeBody](t, body).Node.Title)

	status, body = ta.do(t, http.MethodGet, nodePath+"/history", owner, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	page := decode[services.HistoryPage](t, body)
	require.EqualValues(t, 2, page.Total)
	require.Len(t, page.Revisions, 2)
	insert := page.Revisions[1]
	require.EqualValues(t, "INSERT", insert.Operation)
	require.False(t, insert.HasNewData(), "meta listing must omit snapshots")

	status, body = ta.do(t, http.MethodPost, fmt.Sprintf("%s/history/%s/restore", nodePath, insert.ID), owner, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.Equal(t, "Untitled", decode[nodeBody](t, body).Node.Title)

	status, body = ta.do(t, http.MethodGet, nodePath+"/history?limit=1&fields=full", owner, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	page = decode[services.HistoryPage](t, body)
	require.EqualValues(t, 3, page.Total)
	require.Len(t, page.Revisions, 1)
	require.True(t, page.Revisions[0].HasNewData())

	status, body = ta.do(t, http.MethodGet, nodePath+"/history?limit=abc", owner, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_input", errorCode(t, body))

	status, body = ta.do(t, http.MethodDelete, nodePath, owner, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	status, _ = ta.do(t, http.MethodGet, nodePath, owner, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestPermissionGateOnRoutes(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()
	teamID := uuid.New()
	ownerID, viewerID, selectedID := uuid.New(), uuid.New(), uuid.New()

	owner := ta.token(t, services.HumanPrincipal(ownerID))
	status, body := ta.do(t, http.MethodPost, "/api/nodes", owner, map[string]any{"title": "Handbook", "visibility": "team"})
	require.Equal(t, http.StatusCreated, status, string(body))
	handbook := decode[nodeBody](t, body).Node
	status, body = ta.do(t, http.MethodPost, "/api/nodes", owner, map[string]any{"title": "Secret", "visibility": "team"})
	require.Equal(t, http.StatusCreated, status, string(body))
	secret := decode[nodeBody](t, body).Node

	testutil.SeedMember(t, ctx, ta.DB, teamID, ownerID, team.RoleOwner, services.PageAccessAll, nil)
	testutil.SeedMember(t, ctx, ta.DB, teamID, viewerID, team.RoleViewer, services.PageAccessAll, nil)
	testutil.SeedMember(t, ctx, ta.DB, teamID, selectedID, team.RoleEditor, services.PageAccessSelected, []uuid.UUID{handbook.ID})

	viewer := ta.token(t, services.HumanPrincipal(viewerID))
	status, body = ta.do(t, http.MethodGet, "/api/nodes/"+handbook.ID.String(), viewer, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	status, body = ta.do(t, http.MethodPatch, "/api/nodes/"+handbook.ID.String(), viewer, map[string]any{"title": "x"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", errorCode(t, body))

	selected := ta.token(t, services.HumanPrincipal(selectedID))
	status, body = ta.do(t, http.MethodPost, "/api/nodes", selected, map[string]any{"title": "Loose"})
	require.Equal(t, http.StatusForbidden, status, string(body))
	status, _ = ta.do(t, http.MethodGet, "/api/nodes/"+handbook.ID.String(), selected, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = ta.do(t, http.MethodGet, "/api/nodes/"+secret.ID.String(), selected, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, body = ta.do(t, http.MethodGet, "/api/nodes", selected, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	listed := decode[struct {
		Nodes []struct {
			ID uuid.UUID `json:"id"`
		} `json:"nodes"`
	}](t, body)
	require.Len(t, listed.Nodes, 1)
	require.Equal(t, handbook.ID, listed.Nodes[0].ID)
}

func TestShareIsReadableWithoutAuth(t *testing.T) {
	ta := newTestApp(t, "")
	owner := ta.token(t, services.HumanPrincipal(uuid.New()))

	status, body := ta.do(t, http.MethodPost, "/api/nodes", owner, map[string]any{"title": "Public notes"})
	require.Equal(t, http.StatusCreated, status, string(body))
	id := decode[nodeBody](t, body).Node.ID

	status, _ = ta.do(t, http.MethodGet, "/api/public/shared/nope", "", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body = ta.do(t, http.MethodPost, "/api/nodes/"+id.String()+"/share", owner, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	shared := decode[nodeBody](t, body).Node
	require.NotNil(t, shared.ShareToken)

	status, body = ta.do(t, http.MethodGet, "/api/public/shared/"+*shared.ShareToken, "", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.Equal(t, "Public notes", decode[nodeBody](t, body).Node.Title)
}

func TestRealtimeStreamChannelChecks(t *testing.T) {
	ta := newTestApp(t, "")
	userID := uuid.New()
	access := ta.token(t, services.HumanPrincipal(userID))

	status, body := ta.do(t, http.MethodPost, "/api/realtime/token", access, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	issued := decode[struct {
		Token    string   `json:"token"`
		Channels []string `json:"channels"`
	}](t, body)
	require.NotEmpty(t, issued.Token)
	require.Contains(t, issued.Channels, realtime.UserChannel(userID))

	// Access tokens do not open streams.
	status, _ = ta.do(t, http.MethodGet, "/api/realtime/stream?token="+access, "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	other := realtime.UserChannel(uuid.New())
	status, body = ta.do(t, http.MethodGet, "/api/realtime/stream?token="+issued.Token+"&channel="+other, "", nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", errorCode(t, body))

	// Without an open stream there is nothing to subscribe.
	status, _ = ta.do(t, http.MethodPost, "/api/realtime/subscribe", access, map[string]string{"channel": realtime.ChannelNewMessage})
	require.Equal(t, http.StatusConflict, status)
}

func TestRealtimeClientReceivesNodeChanges(t *testing.T) {
	mr := miniredis.RunT(t)
	for name, addr := range map[string]string{"local": "", "redis": mr.Addr()} {
		t.Run(name, func(t *testing.T) {
			ta := newTestApp(t, addr)
			userID := uuid.New()
			mine := realtime.UserChannel(userID)
			access := ta.token(t, services.HumanPrincipal(userID))

			events := make(chan realtime.ChangeEvent, 16)
			rc, err := client.New(ta.Log, client.Config{
				BaseURL:   ta.srv.URL,
				Channels:  []string{mine},
				Tokens:    client.HTTPTokenSource{BaseURL: ta.srv.URL, AccessToken: func() string { return access }},
				Heartbeat: time.Second,
			}, func(ev realtime.ChangeEvent) { events <- ev })
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = rc.Run(ctx)
			}()
			t.Cleanup(func() {
				cancel()
				<-done
			})

			require.Eventually(t, func() bool {
				return rc.Connected() && ta.Hub.Subscribers(mine) > 0
			}, 3*time.Second, 10*time.Millisecond)

			status, body := ta.do(t, http.MethodPost, "/api/nodes", access, map[string]any{"title": "Live"})
			require.Equal(t, http.StatusCreated, status, string(body))
			id := decode[nodeBody](t, body).Node.ID

			deadline := time.After(3 * time.Second)
			for {
				select {
				case ev := <-events:
					if ev.Channel != mine {
						continue
					}
					var change struct {
						ID uuid.UUID `json:"id"`
						Op string    `json:"op"`
					}
					require.NoError(t, json.Unmarshal(ev.Payload, &change))
					require.Equal(t, id, change.ID)
					require.Equal(t, "INSERT", change.Op)
					return
				case <-deadline:
					t.Fatalf("no change event for %s", id)
				}
			}
		})
	}
}
