package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	alertrepository "github.com/smallbiznis/quotaflow/internal/alert/repository"
	alertservice "github.com/smallbiznis/quotaflow/internal/alert/service"
	authdomain "github.com/smallbiznis/quotaflow/internal/auth/domain"
	authrepository "github.com/smallbiznis/quotaflow/internal/auth/repository"
	authservice "github.com/smallbiznis/quotaflow/internal/auth/service"
	"github.com/smallbiznis/quotaflow/internal/authorization"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/migration"
	"github.com/smallbiznis/quotaflow/internal/observability"
	organizationdomain "github.com/smallbiznis/quotaflow/internal/organization/domain"
	organizationrepository "github.com/smallbiznis/quotaflow/internal/organization/repository"
	organizationservice "github.com/smallbiznis/quotaflow/internal/organization/service"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	quotarepository "github.com/smallbiznis/quotaflow/internal/quota/repository"
	quotaservice "github.com/smallbiznis/quotaflow/internal/quota/service"
	"github.com/smallbiznis/quotaflow/internal/ratelimit"
	"github.com/smallbiznis/quotaflow/internal/subject"
	trackingservice "github.com/smallbiznis/quotaflow/internal/tracking/service"
	"github.com/smallbiznis/quotaflow/internal/usage/liveevents"
	usagerepository "github.com/smallbiznis/quotaflow/internal/usage/repository"
	usageservice "github.com/smallbiznis/quotaflow/internal/usage/service"
	"github.com/smallbiznis/quotaflow/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	orgID        = "100"
	ownerToken   = "tok-owner"
	memberToken  = "tok-member"
	outsideToken = "tok-outsider"
	expiredToken = "tok-expired"
)

type testServer struct {
	engine *gin.Engine
	conn   *gorm.DB
	clock  *clock.FakeClock
	authz  authorization.Service
	hub    *liveevents.Hub
}

type testOptions struct {
	limiter *ratelimit.UsageTrackLimiter
}

func newTestServer(t *testing.T, opts testOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC))
	pricing := config.NewStaticPricingConfig(config.DefaultPricingConfig())
	log := zap.NewNop()

	orgSvc := organizationservice.NewService(organizationservice.Params{
		DB:   conn,
		Repo: organizationrepository.Provide(),
	})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	usageSvc := usageservice.New(usageservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Repo: usagerepository.Provide(), Pricing: pricing,
	})
	quotaSvc := quotaservice.New(quotaservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Repo: quotarepository.Provide(), Pricing: pricing,
	})
	alertSvc := alertservice.New(alertservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Repo: alertrepository.Provide(), Pricing: pricing,
	})
	hub := liveevents.NewHub()
	authzSvc := authorization.NewService(authorization.Params{
		Log: log, Enforcer: enforcer, OrgSvc: orgSvc,
	})

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin: engine,
		Cfg: config.Config{Environment: "test"},
		Authsvc: authservice.New(authservice.Params{
			Log: log, Clock: clk, SessionRepo: authrepository.New(conn),
		}),
		AuthzSvc: authzSvc,
		UsageSvc: usageSvc,
		QuotaSvc: quotaSvc,
		AlertSvc: alertSvc,
		TrackSvc: trackingservice.New(trackingservice.Params{
			Log: log, UsageSvc: usageSvc, QuotaSvc: quotaSvc, AlertSvc: alertSvc, LiveEvents: hub,
		}),
		LiveEvents: hub,
		Limiter:    opts.limiter,
	})

	ts := &testServer{engine: engine, conn: conn, clock: clk, authz: authzSvc, hub: hub}
	ts.seed(t)
	return ts
}

func (ts *testServer) seed(t *testing.T) {
	t.Helper()
	now := ts.clock.Now()

	require.NoError(t, ts.conn.Create(&organizationdomain.Organization{
		ID: 100, Name: "Acme", Slug: "acme", CreatedAt: now, UpdatedAt: now,
	}).Error)
	members := []organizationdomain.OrganizationMember{
		{ID: 1, OrgID: 100, UserID: 1, Role: organizationdomain.RoleOwner, CreatedAt: now},
		{ID: 2, OrgID: 100, UserID: 2, Role: organizationdomain.RoleMember, CreatedAt: now},
	}
	require.NoError(t, ts.conn.Create(&members).Error)

	sessions := []struct {
		id, userID snowflake.ID
		token      string
		expires    time.Time
	}{
		{1, 1, ownerToken, now.Add(time.Hour)},
		{2, 2, memberToken, now.Add(time.Hour)},
		{3, 3, outsideToken, now.Add(time.Hour)},
		{4, 1, expiredToken, now.Add(-time.Minute)},
	}
	for _, s := range sessions {
		require.NoError(t, ts.conn.Create(&authdomain.Session{
			ID:               s.id,
			UserID:           s.userID,
			SessionTokenHash: authservice.HashToken(s.token),
			ExpiresAt:        s.expires,
			CreatedAt:        now,
			LastSeenAt:       now,
		}).Error)
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (ts *testServer) setLimit(t *testing.T, limit int64) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/quotas/update", ownerToken, gin.H{
		"quotaType":      "api_calls",
		"limitValue":     limit,
		"organizationId": orgID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (ts *testServer) track(t *testing.T, token string, quantity int64) trackUsageResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/usage/track", token, gin.H{
		"eventType":      "api_call",
		"quantity":       quantity,
		"organizationId": orgID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[trackUsageResponse](t, w)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackWithoutQuotaReportsUnlimited(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	w := ts.do(t, http.MethodPost, "/usage/track", ownerToken, gin.H{
		"eventType": "api_call",
		"quantity":  5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	status := raw["quotaStatus"].(map[string]any)
	assert.Equal(t, true, raw["success"])
	assert.EqualValues(t, 5, status["current"])
	assert.EqualValues(t, -1, status["limit"])
	assert.Nil(t, status["remaining"])
	assert.Equal(t, []any{}, raw["alerts"])

	resp := decode[trackUsageResponse](t, w)
	require.NotNil(t, resp.UsageEvent)
	assert.Equal(t, "user", string(resp.UsageEvent.SubjectType))
	assert.Equal(t, snowflake.ID(1), resp.UsageEvent.SubjectID)
}

func TestCheckQuotaReportsShortfall(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	ts.setLimit(t, 10)
	ts.track(t, memberToken, 8)

	w := ts.do(t, http.MethodPost, "/usage/check-quota", memberToken, gin.H{
		"quotaType":       "api_calls",
		"requestedAmount": 5,
		"organizationId":  orgID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[checkQuotaResponse](t, w)
	assert.False(t, resp.Allowed)
	assert.True(t, resp.WouldExceed)
	assert.True(t, resp.UpgradeRequired)
	require.NotNil(t, resp.Remaining)
	assert.Equal(t, 2.0, *resp.Remaining)
	assert.Equal(t, "pro", resp.SuggestedPlan)
	require.NotNil(t, resp.Quota)
	assert.EqualValues(t, 8, resp.Quota.CurrentUsage)
}

func TestCheckQuotaWithoutRowIsAllowed(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	w := ts.do(t, http.MethodPost, "/usage/check-quota", ownerToken, gin.H{
		"quotaType":       "exports",
		"requestedAmount": 1000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[checkQuotaResponse](t, w)
	assert.True(t, resp.Allowed)
	assert.Nil(t, resp.Remaining)
	assert.Nil(t, resp.Quota)
	assert.Empty(t, resp.SuggestedPlan)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"unknown", "nope"},
		{"expired", expiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/quotas", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			resp := decode[errorResponse](t, w)
			assert.Equal(t, "unauthorized", resp.Error.Type)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/quotas", nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrganizationScopeAuthorization(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	w := ts.do(t, http.MethodGet, "/quotas?organizationId="+orgID, outsideToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, "/quotas?organizationId="+orgID, memberToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = ts.do(t, http.MethodPost, "/quotas/update", memberToken, gin.H{
		"quotaType": "api_calls", "limitValue": 10, "organizationId": orgID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/quotas/reset", memberToken, gin.H{"organizationId": orgID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/usage/track", outsideToken, gin.H{
		"eventType": "api_call", "quantity": 1, "organizationId": orgID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	var events int64
	require.NoError(t, ts.conn.Table("usage_events").Count(&events).Error)
	assert.Zero(t, events)
}

func TestPersonalQuotaUpdateRequiresPlatformRole(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	body := gin.H{"quotaType": "api_calls", "limitValue": -1}

	for _, token := range []string{outsideToken, ownerToken} {
		w := ts.do(t, http.MethodPost, "/quotas/update", token, body)
		assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	}

	var count int64
	require.NoError(t, ts.conn.Model(&quotadomain.UsageQuota{}).Count(&count).Error)
	assert.Zero(t, count)

	require.NoError(t, ts.authz.GrantPlatformRole(context.Background(), "user:3", organizationdomain.RoleAdmin))

	w := ts.do(t, http.MethodPost, "/quotas/update", outsideToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	quota := decode[quotadomain.UsageQuota](t, w)
	assert.Equal(t, snowflake.ID(3), quota.SubjectID)
	assert.Equal(t, int64(-1), quota.LimitValue)

	w = ts.do(t, http.MethodPost, "/quotas/reset", memberToken, gin.H{})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	tests := []struct {
		name  string
		path  string
		body  gin.H
		field string
		code  string
	}{
		{"missing quantity", "/usage/track", gin.H{"eventType": "api_call"}, "quantity", "required"},
		{"negative quantity", "/usage/track", gin.H{"eventType": "api_call", "quantity": -3}, "quantity", "min"},
		{"unknown event type", "/usage/track", gin.H{"eventType": "fax_sent", "quantity": 1}, "eventType", "invalid_event_type"},
		{"bad organization", "/usage/track", gin.H{"eventType": "api_call", "quantity": 1, "organizationId": "acme"}, "organizationId", "invalid_organization"},
		{"unknown quota type", "/usage/check-quota", gin.H{"quotaType": "seats", "requestedAmount": 1}, "quotaType", "invalid_quota_type"},
		{"zero requested", "/usage/check-quota", gin.H{"quotaType": "api_calls", "requestedAmount": 0}, "requestedAmount", "required"},
		{"limit below unlimited", "/quotas/update", gin.H{"quotaType": "api_calls", "limitValue": -2}, "limitValue", "min"},
		{"bad reset period", "/quotas/update", gin.H{"quotaType": "api_calls", "limitValue": 5, "resetPeriod": "hourly"}, "resetPeriod", "invalid_reset_period"},
		{"bad quota type in reset", "/quotas/reset", gin.H{"quotaTypes": []string{"seats"}}, "quotaType", "invalid_quota_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, ownerToken, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			resp := decode[errorResponse](t, w)
			assert.Equal(t, "validation_error", resp.Error.Type)
			require.NotEmpty(t, resp.Error.Errors)
			assert.Equal(t, tt.field, resp.Error.Errors[0].Field)
			assert.Equal(t, tt.code, resp.Error.Errors[0].Code)
		})
	}

	w := ts.do(t, http.MethodGet, "/usage/analytics?timeRange=2w", ownerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackRaisesAlertsAndAlertLifecycle(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	ts.setLimit(t, 10)

	resp := ts.track(t, memberToken, 9)
	assert.EqualValues(t, 9, resp.QuotaStatus.Current)
	assert.EqualValues(t, 10, resp.QuotaStatus.Limit)
	require.NotNil(t, resp.QuotaStatus.Remaining)
	assert.Equal(t, 1.0, *resp.QuotaStatus.Remaining)
	assert.InDelta(t, 90.0, resp.QuotaStatus.Percentage, 0.001)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, alertdomain.AlertQuotaWarning, resp.Alerts[0].AlertType)

	w := ts.do(t, http.MethodGet, "/alerts?organizationId="+orgID+"&acknowledged=false", memberToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[[]alertdomain.BillingAlert](t, w)
	require.Len(t, alerts, 1)
	alertPath := "/alerts/" + alerts[0].ID.String()

	w = ts.do(t, http.MethodPost, alertPath+"/acknowledge", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, alertPath+"/acknowledge", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acked := decode[alertdomain.BillingAlert](t, w)
	assert.True(t, acked.Acknowledged)
	require.NotNil(t, acked.AcknowledgedAt)

	w = ts.do(t, http.MethodGet, "/alerts?organizationId="+orgID+"&acknowledged=false", memberToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = ts.do(t, http.MethodDelete, alertPath, ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, alertPath, ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/alerts/not-an-id", ownerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPersonalAlertsAreHiddenFromOtherUsers(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	quotaType := quotadomain.QuotaAPICalls
	alert := alertdomain.BillingAlert{
		ID:          77,
		SubjectType: "user",
		SubjectID:   1,
		AlertType:   alertdomain.AlertQuotaExceeded,
		QuotaType:   &quotaType,
		LimitValue:  1,
		TriggeredAt: ts.clock.Now(),
		Metadata:    datatypes.JSONMap{},
	}
	require.NoError(t, ts.conn.Create(&alert).Error)

	w := ts.do(t, http.MethodPost, "/alerts/77/acknowledge", outsideToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/alerts/77/acknowledge", ownerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResetQuotas(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	ts.setLimit(t, 100)
	ts.track(t, ownerToken, 40)

	w := ts.do(t, http.MethodPost, "/quotas/reset", ownerToken, gin.H{
		"organizationId": orgID,
		"quotaTypes":     []string{"api_calls"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[resetQuotasResponse](t, w)
	assert.True(t, resp.Success)
	assert.EqualValues(t, 1, resp.ResetCount)

	w = ts.do(t, http.MethodGet, "/quotas?organizationId="+orgID, ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	quotas := decode[[]quotadomain.UsageQuota](t, w)
	require.Len(t, quotas, 1)
	assert.Zero(t, quotas[0].CurrentUsage)
	assert.EqualValues(t, 100, quotas[0].LimitValue)
}

func TestUsageEventsAndAnalytics(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	ts.track(t, ownerToken, 3)
	ts.track(t, ownerToken, 4)

	w := ts.do(t, http.MethodGet, "/usage/events?organizationId="+orgID+"&limit=1", memberToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Events   []json.RawMessage `json:"events"`
		PageInfo struct {
			NextPageToken string `json:"nextPageToken"`
			HasMore       bool   `json:"hasMore"`
		} `json:"pageInfo"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Events, 1)
	assert.True(t, page.PageInfo.HasMore)
	assert.NotEmpty(t, page.PageInfo.NextPageToken)

	w = ts.do(t, http.MethodGet, "/usage/analytics?organizationId="+orgID+"&timeRange=7d&includeProjections=true", memberToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var analytics map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analytics))
	assert.EqualValues(t, 2, analytics["totalEvents"])
	assert.Equal(t, "7d", analytics["timeRange"])
	assert.NotEmpty(t, analytics["projections"])
}

func TestTrackRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewUsageTrackLimiter(config.Config{
		UsageTrack: config.UsageTrackConfig{RateLimitEnabled: true, Rate: 0.01, Burst: 1},
	}, client)
	ts := newTestServer(t, testOptions{limiter: limiter})

	body := gin.H{"eventType": "api_call", "quantity": 1}
	w := ts.do(t, http.MethodPost, "/usage/track", ownerToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/usage/track", ownerToken, body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEqual(t, "0", w.Header().Get("Retry-After"))

	// other subjects have their own bucket
	w = ts.do(t, http.MethodPost, "/usage/track", memberToken, body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer   abc "))
	assert.Empty(t, bearerToken("Bearer "))
	assert.Empty(t, bearerToken("Token abc"))
}

func TestWriteLiveUsageEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLiveUsageEvent(&buf, liveevents.LiveEvent{EventID: "1", EventType: "api_call", Quantity: 2}))
	assert.True(t, strings.HasPrefix(buf.String(), "event: usage\ndata: {"))
	assert.True(t, strings.HasSuffix(buf.String(), "}\n\n"))
}

func TestStreamUsageLiveEvents(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/usage/live?organizationId="+orgID, nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+memberToken)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.engine.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool {
		return ts.hub.Watching(subject.Organization(100)) == 1
	}, time.Second, 5*time.Millisecond)
	ts.track(t, ownerToken, 2)
	<-done

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "retry: 2000")
	assert.Contains(t, w.Body.String(), `"eventType":"api_call"`)
	assert.Contains(t, w.Body.String(), `"quantity":2`)
}

func TestStreamUsageLiveEventsRequiresMembership(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	w := ts.do(t, http.MethodGet, "/usage/live?organizationId="+orgID, outsideToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStreamUsageLiveEventsRejectsBadFilter(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	w := ts.do(t, http.MethodGet, "/usage/live?eventType=fax_sent", memberToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/usage/live?quotaType=seats", memberToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteLiveLagged(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLiveLagged(&buf, 3))
	assert.Equal(t, "event: lagged\ndata: {\"missed\":3}\n\n", buf.String())
}
