package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/service"
	"github.com/noah-isme/course-review-api/pkg/config"
)

func sampleSessions() []models.SessionStat {
	return []models.SessionStat{
		{Label: "Winter", CourseCount: 1},
		{Label: "Spring", CourseCount: 4},
		{Label: "Autumn", CourseCount: 7},
	}
}

func TestWriteSessionsList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSessions(&buf, sampleSessions(), "list", true))

	out := buf.String()
	assert.Contains(t, out, "unique sessions: 3")
	assert.Contains(t, out, "  1. Winter (used in 1 courses)")
	usage := out[strings.Index(out, "usage:"):]
	assert.Equal(t, "usage:\n  Autumn: 7 courses\n  Spring: 4 courses\n  Winter: 1 courses\n", usage)
}

func TestWriteSessionsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSessions(&buf, sampleSessions(), "json", false))
	assert.JSONEq(t, `["Winter","Spring","Autumn"]`, buf.String())

	assert.Error(t, writeSessions(&buf, nil, "sql", false))
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	writeReport(&buf, &models.RecomputeReport{Courses: 3, Succeeded: 2, Failed: []string{"MATH1131"}, Drifted: []string{"COMP1511"}})
	assert.Contains(t, buf.String(), "courses: 3  succeeded: 2")
	assert.Contains(t, buf.String(), "failed: MATH1131")
	assert.Contains(t, buf.String(), "drifted: COMP1511")
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	env := &runtime{cfg: &config.Config{JWT: config.JWTConfig{Secret: "s3cret", Issuer: "course-review-api"}}}
	var out, errOut bytes.Buffer
	app := &cli.App{Writer: &out, ErrWriter: &errOut, Commands: []*cli.Command{tokenCommand(env)}}

	require.NoError(t, app.Run([]string{"coursectl", "token", "--user", "u-1", "--username", "ada", "--admin"}))

	token := string(bytes.TrimSpace(out.Bytes()))
	claims, err := service.NewTokenService(service.TokenConfig{Secret: "s3cret", Issuer: "course-review-api"}).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Contains(t, errOut.String(), "expires")
}

func TestFlagValidationRunsBeforeDatabase(t *testing.T) {
	env := &runtime{cfg: &config.Config{}}
	app := &cli.App{
		Writer:   &bytes.Buffer{},
		Commands: []*cli.Command{importCommand(env), deleteCommand(env)},
	}
	assert.EqualError(t, app.Run([]string{"coursectl", "import"}), "specify exactly one of --file or --folder")
	assert.EqualError(t, app.Run([]string{"coursectl", "import", "--file", "a.json", "--folder", "dir"}), "specify exactly one of --file or --folder")
	assert.EqualError(t, app.Run([]string{"coursectl", "delete", "--all", "--faculty", "Science"}), "specify --all or a --faculty/--level filter")
	assert.EqualError(t, app.Run([]string{"coursectl", "delete"}), "specify --all or a --faculty/--level filter")
}
