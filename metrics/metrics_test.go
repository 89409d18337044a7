// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	is := is.New(t)

	before := testutil.ToFloat64(VotesCast.WithLabelValues("proposal"))
	VotesCast.WithLabelValues("proposal").Inc()
	is.Equal(testutil.ToFloat64(VotesCast.WithLabelValues("proposal")), before+1)
}

func TestServerExposesMetrics(t *testing.T) {
	is := is.New(t)

	RateLimitRejections.WithLabelValues("test").Inc()

	srv := httptest.NewServer(NewServer("127.0.0.1:0").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)
	is.True(strings.Contains(string(body), "votequest_ratelimit_rejections_total"))
}
