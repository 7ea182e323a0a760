package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedMap(t *testing.T) {
	t.Setenv("MOCKUP_TEST_KEY", "from-os")
	Env = map[string]string{"MOCKUP_TEST_KEY": "from-file"}
	defer func() { Env = nil }()

	assert.Equal(t, "from-file", GetEnv("MOCKUP_TEST_KEY", "def"))
}

func TestGetEnvFallbacks(t *testing.T) {
	Env = nil
	t.Setenv("MOCKUP_TEST_OS", "os")

	assert.Equal(t, "os", GetEnv("MOCKUP_TEST_OS", "def"))
	assert.Equal(t, "def", GetEnv("MOCKUP_TEST_MISSING", "def"))
}

func TestGetDurationAndInt(t *testing.T) {
	Env = map[string]string{
		"TTL":     "90s",
		"BAD_TTL": "soon",
		"COUNT":   "7",
		"BAD":     "x",
	}
	defer func() { Env = nil }()

	assert.Equal(t, 90*time.Second, GetDuration("TTL", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("BAD_TTL", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("NOPE", time.Minute))
	assert.Equal(t, 7, GetInt("COUNT", 1))
	assert.Equal(t, 1, GetInt("BAD", 1))
}
