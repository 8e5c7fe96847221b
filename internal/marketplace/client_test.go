package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersResponse = `[
	{
		"date": "2026-08-28T14:30:00",
		"supplierArticle": "TB-001",
		"techSize": "M",
		"totalPrice": 2500,
		"discountPercent": 20,
		"warehouseName": "Коледино",
		"regionName": "Московская область",
		"nmId": 123456,
		"subject": "Футболки",
		"category": "Одежда",
		"brand": "TestBrand",
		"isCancel": false,
		"srid": "srid-1"
	}
]`

func TestGetOrders(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(ordersResponse))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	since := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	orders, err := c.GetOrders(context.Background(), "test-token", 7, since)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/supplier/orders?dateFrom=2026-08-27", gotPath)
	assert.Equal(t, "test-token", gotAuth)

	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, int64(7), o.TenantID)
	assert.Equal(t, "srid-1", o.ExternalLineID)
	assert.Equal(t, int64(123456), o.VariantID)
	assert.Equal(t, "M", o.Size)
	assert.Equal(t, 2500.0, o.Price)
	assert.Equal(t, 20.0, o.DiscountPercent)
	assert.False(t, o.Cancelled)
	assert.Equal(t, time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC), o.OccurredAt)
}

func TestGetOrders_UnauthorizedIsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetOrders(context.Background(), "revoked", 7, time.Now())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetOrders_ProxyAuthAlsoUnauthorized(t *testing.T) {
	// The statistics API answers 407 for some revoked tokens.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetOrders(context.Background(), "revoked", 7, time.Now())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetOrders_ServerErrorIsNotUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetOrders(context.Background(), "token", 7, time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "429")
}

func TestGetStocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"lastChangeDate": "2026-08-28T06:00:00",
				"warehouseName": "Казань",
				"nmId": 123456,
				"techSize": "M",
				"quantity": 3,
				"Price": 2500,
				"Discount": 20
			}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	stocks, err := c.GetStocks(context.Background(), "token", 7)
	require.NoError(t, err)

	require.Len(t, stocks, 1)
	st := stocks[0]
	assert.Equal(t, int64(7), st.TenantID)
	assert.Equal(t, "Казань", st.Warehouse)
	assert.Equal(t, 3, st.Quantity)
	assert.False(t, st.ImportedAt.IsZero())
}

func TestAPITimeParsesBothLayouts(t *testing.T) {
	var ts apiTime
	require.NoError(t, ts.UnmarshalJSON([]byte(`"2026-08-28T14:30:00"`)))
	assert.Equal(t, 14, ts.Hour())

	require.NoError(t, ts.UnmarshalJSON([]byte(`"2026-08-28T14:30:00+03:00"`)))
	assert.Equal(t, 14, ts.Hour())

	assert.Error(t, ts.UnmarshalJSON([]byte(`"28.08.2026"`)))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.NoError(t, c.Ping(context.Background(), "token"))
}
