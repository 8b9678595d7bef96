package jaeger_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/absmach/flround/pkg/jaeger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	collector := url.URL{Scheme: "http", Host: "localhost:4318", Path: "/v1/traces"}

	cases := []struct {
		desc     string
		svcName  string
		url      url.URL
		fraction float64
		ok       bool
	}{
		{desc: "valid", svcName: "coordinator", url: collector, fraction: 1, ok: true},
		{desc: "empty url", svcName: "coordinator", fraction: 1},
		{desc: "empty service name", url: collector, fraction: 1},
		{desc: "fraction above one", svcName: "coordinator", url: collector, fraction: 1.5},
		{desc: "negative fraction", svcName: "coordinator", url: collector, fraction: -0.1},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			tp, err := jaeger.NewProvider(context.Background(), tc.svcName, tc.url, "instance", tc.fraction)
			if !tc.ok {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.NoError(t, tp.Shutdown(context.Background()))
		})
	}
}
