package report

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// DateHeader is the first CSV column.
const DateHeader = "Date"

// Query is one named aggregate query. The target date is bound as $1.
type Query struct {
	Label string `koanf:"label" yaml:"label"`
	SQL   string `koanf:"sql" yaml:"sql"`
}

// QuerySet is an ordered, versioned list of queries. Order defines both
// execution order and CSV column order.
type QuerySet struct {
	Version string  `koanf:"version" yaml:"version"`
	Queries []Query `koanf:"queries" yaml:"queries"`
}

// Labels returns the query labels in declaration order.
func (s QuerySet) Labels() []string {
	labels := make([]string, 0, len(s.Queries))
	for _, q := range s.Queries {
		labels = append(labels, q.Label)
	}
	return labels
}

// Validate rejects empty sets, blank labels or SQL, and duplicate labels.
func (s QuerySet) Validate() error {
	if len(s.Queries) == 0 {
		return goerr.New("at least one query is required")
	}
	seen := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		label := strings.TrimSpace(q.Label)
		if label == "" {
			return goerr.New("query label is required", goerr.V("index", i))
		}
		if strings.TrimSpace(q.SQL) == "" {
			return goerr.New("query sql is required", goerr.V("index", i), goerr.V("label", label))
		}
		if label == DateHeader {
			return goerr.New("query label collides with date column", goerr.V("label", label))
		}
		if seen[label] {
			return goerr.New("duplicate query label", goerr.V("label", label))
		}
		seen[label] = true
	}
	return nil
}

// DefaultQuerySet is the built-in Social+ daily metrics.
func DefaultQuerySet() QuerySet {
	return QuerySet{
		Version: "1",
		Queries: []Query{
			{
				Label: "Users Created",
				SQL:   `SELECT COUNT(*) FROM users WHERE created_at::date = $1::date`,
			},
			{
				Label: "Posts",
				SQL:   `SELECT COUNT(*) FROM posts WHERE created_at::date = $1::date`,
			},
			{
				Label: "Group Following",
				SQL: `SELECT COUNT(*)
FROM groups g
JOIN group_followers n ON n.group_id = g.id
JOIN users u ON n.user_id = u.id
WHERE n.followed_at::date = $1::date`,
			},
			{
				Label: "1-1 Following (Total)",
				SQL:   `SELECT COUNT(*) FROM followers`,
			},
			{
				Label: "Comments",
				SQL:   `SELECT COUNT(*) FROM comments WHERE created_at::date = $1::date`,
			},
			{
				Label: "Likes",
				SQL:   `SELECT COUNT(user_id) FROM post_likes WHERE created_at::date = $1::date`,
			},
			{
				Label: "Users Liked",
				SQL:   `SELECT COUNT(DISTINCT user_id) FROM post_likes WHERE created_at::date = $1::date`,
			},
			{
				Label: "Users Commented",
				SQL:   `SELECT COUNT(DISTINCT user_id) FROM comments WHERE created_at::date = $1::date`,
			},
			{
				Label: "Active Users",
				SQL: `WITH active_users AS (
	SELECT t.id AS user_id FROM users t WHERE t.created_at::date = $1::date
	UNION
	SELECT t.user_id FROM posts t WHERE t.created_at::date = $1::date
	UNION
	SELECT t.user_id FROM group_followers t WHERE t.followed_at::date = $1::date
	UNION
	SELECT t.user_id FROM post_likes t WHERE t.created_at::date = $1::date
	UNION
	SELECT t.user_id FROM comments t WHERE t.created_at::date = $1::date
)
SELECT COUNT(user_id) FROM active_users`,
			},
		},
	}
}
