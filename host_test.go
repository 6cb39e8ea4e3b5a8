package offlinecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPassesThroughBeforeDeploy(t *testing.T) {
	s := newSite()
	host := NewHost(s.network(), &testLogger)

	rr := httptest.NewRecorder()
	host.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/assets/theme.css", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "body { color: black }", rr.Body.String())
	assert.Equal(t, "Offline-Cache; fwd=bypass", rr.Header().Get("Cache-Status"))
}

func TestHostDeployClaimsAndServes(t *testing.T) {
	s := newSite()
	storage := cache.NewMemStorage()
	host := NewHost(s.network(), &testLogger)
	rt := newTestRouter(t, s, storage, testTime)

	require.NoError(t, host.Deploy(context.Background(), rt))
	assert.Same(t, rt, host.Current())
	assert.True(t, rt.Activated())

	s.offline.Store(true)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html")
	host.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<h1>home</h1>", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Cache-Status"), "Offline-Cache; hit")
}

func TestHostNonInterceptedGoesToNetwork(t *testing.T) {
	s := newSite()
	s.set("/contact", "thanks")
	host := NewHost(s.network(), &testLogger)
	require.NoError(t, host.Deploy(context.Background(), newTestRouter(t, s, cache.NewMemStorage(), testTime)))

	rr := httptest.NewRecorder()
	host.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/contact", nil))

	assert.Equal(t, "thanks", rr.Body.String())
	assert.Equal(t, "Offline-Cache; fwd=bypass", rr.Header().Get("Cache-Status"))
}

func TestHostNetworkErrorIs502(t *testing.T) {
	s := newSite()
	s.offline.Store(true)
	host := NewHost(s.network(), &testLogger)

	rr := httptest.NewRecorder()
	host.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/contact", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHostFailedInstallKeepsPreviousRouter(t *testing.T) {
	s := newSite()
	storage := cache.NewMemStorage()
	host := NewHost(s.network(), &testLogger)
	first := newTestRouter(t, s, storage, testTime)
	require.NoError(t, host.Deploy(context.Background(), first))

	s.offline.Store(true)
	second := newTestRouter(t, s, storage, testTime.Add(24*time.Hour))
	assert.Error(t, host.Deploy(context.Background(), second))

	assert.Same(t, first, host.Current())
	assert.False(t, second.Activated())
	has, err := storage.Has(first.config.StoreNames.Precache)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRunRolloverDeploysNewVersion(t *testing.T) {
	var mutex sync.Mutex
	clock := testTime
	now = func() time.Time {
		mutex.Lock()
		defer mutex.Unlock()
		return clock
	}
	defer func() { now = time.Now }()

	s := newSite()
	storage := cache.NewMemStorage()
	host := NewHost(s.network(), &testLogger)
	build := func(at time.Time) *Router {
		return newTestRouter(t, s, storage, at)
	}
	require.NoError(t, host.Deploy(context.Background(), build(testTime)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		host.RunRollover(ctx, 10*time.Millisecond, build)
		close(done)
	}()

	mutex.Lock()
	clock = testTime.Add(24 * time.Hour)
	mutex.Unlock()

	require.Eventually(t, func() bool {
		return host.Current().VersionTag() == "v1::2024-05-02"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	names, err := storage.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"v1::2024-05-02::precache"}, names)
}

func TestDeployReleasesStoresOfRequestsInFlight(t *testing.T) {
	s := newSite()
	s.set("/gated", "still here")
	storage := cache.NewMemStorage()
	host := NewHost(s.network(), &testLogger)
	old := newTestRouter(t, s, storage, testTime)
	old.config.NavigationTimeout = 5 * time.Second
	require.NoError(t, host.Deploy(context.Background(), old))

	done := make(chan *http.Response, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/gated", nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		res, _ := old.HandleFetch(req)
		done <- res
	}()
	<-s.entered

	current := newTestRouter(t, s, storage, testTime.Add(24*time.Hour))
	require.NoError(t, host.Deploy(context.Background(), current))
	close(s.gate)

	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, "still here", body(t, res))
	assert.Equal(t, "Offline-Cache; fwd=request", res.Header.Get("Cache-Status"))
	old.Drain()

	names, err := storage.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{current.config.StoreNames.Precache}, names)

	// the old version's response is not visible to the new one
	s.offline.Store(true)
	req := httptest.NewRequest(http.MethodGet, "/gated", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	res, ok := current.HandleFetch(req)
	require.True(t, ok)
	assert.Contains(t, res.Header.Get("Cache-Status"), "detail=shell")
	body(t, res)
}
