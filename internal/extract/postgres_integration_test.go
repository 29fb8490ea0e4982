//go:build integration

package extract_test

import (
	"context"
	"database/sql"
	"os/exec"
	"strconv"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/m-mizutani/gt"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"socialplus-report/internal/config"
	"socialplus-report/internal/extract"
	"socialplus-report/internal/report"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostgres(t *testing.T, ctx context.Context) config.DatabaseConfig {
	t.Helper()
	skipIfNoDocker(t)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "reporter",
			"POSTGRES_PASSWORD": "reporter",
			"POSTGRES_DB":       "socialplus",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	gt.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	gt.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	gt.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	gt.NoError(t, err)

	return config.DatabaseConfig{
		Host:           host,
		Port:           portNum,
		Name:           "socialplus",
		User:           "reporter",
		Password:       "reporter",
		SSLMode:        "disable",
		Schema:         "simosa_feed",
		Timezone:       "Asia/Karachi",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   time.Minute,
	}
}

const feedSchema = `
CREATE SCHEMA simosa_feed;
SET search_path TO simosa_feed;
CREATE TABLE users (id int PRIMARY KEY, created_at timestamp NOT NULL);
CREATE TABLE posts (id serial PRIMARY KEY, user_id int NOT NULL, created_at timestamp NOT NULL);
CREATE TABLE groups (id int PRIMARY KEY);
CREATE TABLE group_followers (group_id int NOT NULL, user_id int NOT NULL, followed_at timestamp NOT NULL);
CREATE TABLE followers (follower_id int NOT NULL, followee_id int NOT NULL);
CREATE TABLE comments (id serial PRIMARY KEY, user_id int NOT NULL, created_at timestamp NOT NULL);
CREATE TABLE post_likes (post_id int NOT NULL, user_id int NOT NULL, created_at timestamp NOT NULL);

INSERT INTO users VALUES (1, '2024-03-04 09:00'), (2, '2024-03-01 09:00'), (3, '2024-03-04 10:00');
INSERT INTO posts (user_id, created_at) VALUES (2, '2024-03-04 11:00'), (2, '2024-03-05 11:00');
INSERT INTO groups VALUES (10);
INSERT INTO group_followers VALUES (10, 1, '2024-03-04 12:00');
INSERT INTO followers VALUES (1, 2), (2, 3);
INSERT INTO comments (user_id, created_at) VALUES (1, '2024-03-04 13:00'), (1, '2024-03-04 14:00');
INSERT INTO post_likes VALUES (1, 1, '2024-03-04 15:00'), (1, 2, '2024-03-04 15:00'), (1, 2, '2024-03-03 15:00');
`

func TestPostgresDefaultQuerySet(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t, ctx)

	sess, err := extract.Open(ctx, cfg)
	gt.NoError(t, err)
	defer sess.Close()

	setup, err := sql.Open("pgx", extract.DSN(cfg))
	gt.NoError(t, err)
	_, err = setup.ExecContext(ctx, feedSchema)
	gt.NoError(t, err)
	gt.NoError(t, setup.Close())

	gt.NoError(t, sess.Configure(ctx, cfg.Schema, cfg.Timezone))

	date := report.Date{Year: 2024, Month: time.March, Day: 4}
	result, err := sess.Extract(ctx, date, report.DefaultQuerySet(), extract.Options{Timeout: cfg.QueryTimeout})
	gt.NoError(t, err)

	row := report.BuildRow(date, report.DefaultQuerySet(), result)
	gt.Equal(t, row.Values, []string{
		"2024-03-04",
		"2", // Users Created
		"1", // Posts
		"1", // Group Following
		"2", // 1-1 Following (Total)
		"2", // Comments
		"2", // Likes
		"2", // Users Liked
		"1", // Users Commented
		"3", // Active Users
	})
}
