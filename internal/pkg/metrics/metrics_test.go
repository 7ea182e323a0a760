package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistryIsSingleton(t *testing.T) {
	assert.Same(t, Registry(), Registry())
}

func TestCounters(t *testing.T) {
	m := Registry()

	before := testutil.ToFloat64(m.QuotaDenials.WithLabelValues("image_generation", "no_credits"))
	QuotaDenied("image_generation", "no_credits")
	assert.Equal(t, before+1, testutil.ToFloat64(m.QuotaDenials.WithLabelValues("image_generation", "no_credits")))

	before = testutil.ToFloat64(m.Generations.WithLabelValues("video_generation", "error"))
	ObserveGeneration("video_generation", 1.5, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(m.Generations.WithLabelValues("video_generation", "error")))
}
