package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 12, cfg.Courses.PageSize)
	assert.Equal(t, 48, cfg.Courses.MaxPageSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "course.aggregate.updated", cfg.Events.Subject)
	assert.Equal(t, 4, cfg.Recompute.Workers)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
}

func TestFromViperClampsPageSizes(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("COURSES_PAGE_SIZE", 0)
	v.Set("COURSES_MAX_PAGE_SIZE", 5)
	v.Set("RECOMPUTE_WORKERS", -2)

	cfg := fromViper(v)

	assert.Equal(t, 12, cfg.Courses.PageSize)
	assert.Equal(t, 12, cfg.Courses.MaxPageSize)
	assert.Equal(t, 1, cfg.Recompute.Workers)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("nope", time.Minute))
	assert.Equal(t, 90*time.Second, parseDuration("90s", time.Minute))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"http://a", "http://b"}, splitAndTrim(" http://a , ,http://b "))
}
