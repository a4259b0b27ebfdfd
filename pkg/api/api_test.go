package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/mock"
	"github.com/fako1024/brewster/pkg/poll"
	"github.com/fako1024/brewster/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*API, *registry.Registry) {
	reg, err := registry.Open(":memory:")
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, reg.Close())
	})

	m := mock.New()
	for _, addr := range []string{"aa:01", "aa:02"} {
		_, err := reg.RegisterDevice(context.Background(), addr)
		require.Nil(t, err)
		m.SetDevice(addr, mock.NewDevice(1, 64, 34, 80))
	}

	return New(reg, poll.New(brewometer.NewReader(m), reg)), reg
}

func do(t *testing.T, api *API, method, path, body string, v interface{}) int {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := api.router.Test(req, -1)
	require.Nil(t, err)
	defer resp.Body.Close()

	if v != nil {
		require.Nil(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestDevices(t *testing.T) {
	api, _ := setup(t)

	var devices []brewometer.Device
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/devices", "", &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "aa:02", devices[1].Address)

	var d brewometer.Device
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/devices/1", "", &d))
	assert.Equal(t, "Brewometer 1", d.Name)

	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/devices/9", "", nil))
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodGet, "/devices/abc", "", nil))

	var active []brewometer.Device
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/devices/active", "", &active))
	assert.Empty(t, active)
}

func TestBrewLifecycle(t *testing.T) {
	api, _ := setup(t)

	var b brewometer.Brew
	assert.Equal(t, http.StatusCreated, do(t, api, http.MethodPost, "/devices/2/brew", `{"name": "Stout"}`, &b))
	assert.Equal(t, int64(1), b.ID)
	assert.Equal(t, int64(2), b.DeviceID)
	assert.Equal(t, "Stout", b.Name)
	assert.True(t, b.IsActive())

	assert.Equal(t, http.StatusConflict, do(t, api, http.MethodPost, "/devices/2/brew", `{"name": "Porter"}`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodPost, "/devices/1/brew", `{}`, nil))
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodPost, "/devices/7/brew", `{"name": "Porter"}`, nil))

	var active []brewometer.Device
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/devices/active", "", &active))
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].BrewID)

	assert.Equal(t, http.StatusNoContent, do(t, api, http.MethodDelete, "/devices/2/brew", "", nil))
	assert.Equal(t, http.StatusNoContent, do(t, api, http.MethodDelete, "/devices/2/brew", "", nil))

	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/brews/1", "", &b))
	assert.False(t, b.IsActive())

	var brews []brewometer.Brew
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/brews", "", &brews))
	assert.Len(t, brews, 1)
}

func TestPollAndMeasurements(t *testing.T) {
	api, reg := setup(t)

	_, err := reg.StartBrew(context.Background(), 1, "Pale Ale")
	require.Nil(t, err)

	var report pollResponse
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/poll", "", &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "aa:01", report.Results[0].Address)
	assert.Empty(t, report.Error)

	var records []brewometer.Record
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodGet, "/brews/1/measurements", "", &records))
	require.Len(t, records, 1)
	assert.Equal(t, 34, records[0].Tilt)
	assert.Equal(t, 64, records[0].Temperature)

	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/brews/5/measurements", "", nil))
}

func TestNoPoller(t *testing.T) {
	reg, err := registry.Open(":memory:")
	require.Nil(t, err)
	defer reg.Close()

	api := New(reg, nil)
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodPost, "/poll", "", nil))
}
