package endpoint

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func targetFor(t *testing.T, srv *httptest.Server, timeout time.Duration) Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Target{SensorID: "s-1", Kind: models.KindTemperature, Host: host, Port: port, Timeout: timeout}
}

func TestHTTPClient_Poll_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": 40.5, "unit": "°C", "status": "OK", "quality": 95}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(zap.NewNop())
	res := client.Poll(context.Background(), targetFor(t, srv, time.Second))

	require.True(t, res.OK())
	assert.Equal(t, 40.5, *res.Reading.Value)
	assert.Equal(t, "°C", *res.Reading.Unit)
	assert.Equal(t, "ok", res.Reading.Status)
	assert.Equal(t, 95.0, *res.Reading.Quality)
	assert.Nil(t, res.Reading.Count)
	assert.Contains(t, string(res.Reading.Payload), "40.5")
}

func TestHTTPClient_Poll_HTTPStatusIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTPClient(zap.NewNop()).Poll(context.Background(), targetFor(t, srv, time.Second))

	require.False(t, res.OK())
	assert.Equal(t, FailureProtocol, res.Failure.Kind)
	assert.Contains(t, res.Failure.Detail, "500")
}

func TestHTTPClient_Poll_BadPayload(t *testing.T) {
	cases := map[string]string{
		"not json":       `garbage`,
		"unknown status": `{"value": 1, "status": "melting"}`,
		"empty reading":  `{"status": "ok"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			res := NewHTTPClient(zap.NewNop()).Poll(context.Background(), targetFor(t, srv, time.Second))
			require.NotNil(t, res.Failure)
			assert.Equal(t, FailureProtocol, res.Failure.Kind)
		})
	}
}

func TestHTTPClient_Poll_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewHTTPClient(zap.NewNop()).Poll(context.Background(), targetFor(t, srv, 50*time.Millisecond))

	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureTimeout, res.Failure.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPClient_Poll_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	res := NewHTTPClient(zap.NewNop()).Poll(context.Background(), Target{
		SensorID: "s-1", Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second,
	})

	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureConnectionRefused, res.Failure.Kind)
}

func TestSimulatedClient_Poll(t *testing.T) {
	client := NewSimulatedClient(42)

	for _, kind := range models.SensorKinds {
		res := client.Poll(context.Background(), Target{SensorID: "s", Kind: kind})
		require.True(t, res.OK(), string(kind))

		profile := simProfiles[kind]
		q := *res.Reading.Quality
		assert.GreaterOrEqual(t, q, profile.minQuality)
		assert.LessOrEqual(t, q, 100.0)

		if kind == models.KindCounter {
			require.NotNil(t, res.Reading.Count)
			assert.Nil(t, res.Reading.Value)
		} else {
			require.NotNil(t, res.Reading.Value)
			assert.GreaterOrEqual(t, *res.Reading.Value, profile.min)
			assert.LessOrEqual(t, *res.Reading.Value, profile.max)
		}
		assert.Contains(t, string(res.Reading.Payload), `"simulated":true`)
	}
}

func TestSimulatedClient_Poll_Payload(t *testing.T) {
	client := NewSimulatedClient(3)
	ctx := context.Background()

	res := client.Poll(ctx, Target{SensorID: "t1", Kind: models.KindTemperature})
	require.Nil(t, res.Failure)
	var p simPayload
	require.NoError(t, json.Unmarshal(res.Reading.Payload, &p))
	assert.True(t, p.Simulated)
	assert.Equal(t, "temperature", p.Kind)
	require.NotNil(t, p.Value)
	assert.Equal(t, *res.Reading.Value, *p.Value)
	assert.Equal(t, "°C", *p.Unit)
	assert.Nil(t, p.Count)

	res = client.Poll(ctx, Target{SensorID: "c1", Kind: models.KindCounter})
	require.Nil(t, res.Failure)
	assert.NotContains(t, string(res.Reading.Payload), `"value"`)
	p = simPayload{}
	require.NoError(t, json.Unmarshal(res.Reading.Payload, &p))
	require.NotNil(t, p.Count)
	assert.Equal(t, *res.Reading.Count, *p.Count)
}

func TestSimulatedClient_Poll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewSimulatedClient(1).Poll(ctx, Target{Kind: models.KindFlow})
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureTimeout, res.Failure.Kind)
}

func TestPollFailure_String(t *testing.T) {
	f := &PollFailure{Kind: FailureTimeout, Detail: "deadline exceeded"}
	assert.Equal(t, "timeout: deadline exceeded", f.String())
	assert.Equal(t, "connection-refused", (&PollFailure{Kind: FailureConnectionRefused}).String())
}
