package runstore

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/tracelens/internal/model"
)

var (
	placeholderRegex = regexp.MustCompile(`\$(\d+)`)
	assignmentRegex  = regexp.MustCompile(`(\w+) = \$(\d+)`)
	insertColsRegex  = regexp.MustCompile(`(?s)INSERT INTO runs \((.*?)\) VALUES \((.*?)\)`)
)

// boundColumns maps each column named in sql to the 1-based placeholder it is bound to.
func boundColumns(t *testing.T, sql string) map[string]int {
	bound := map[string]int{}
	if m := insertColsRegex.FindStringSubmatch(sql); m != nil {
		cols := strings.Split(m[1], ",")
		values := placeholderRegex.FindAllStringSubmatch(m[2], -1)
		require.Len(t, values, len(cols))
		for i, col := range cols {
			n, err := strconv.Atoi(values[i][1])
			require.NoError(t, err)
			bound[strings.TrimSpace(col)] = n
		}
		return bound
	}
	for _, m := range assignmentRegex.FindAllStringSubmatch(sql, -1) {
		n, err := strconv.Atoi(m[2])
		require.NoError(t, err)
		bound[m[1]] = n
	}
	return bound
}

func distinctPlaceholders(sql string) int {
	seen := map[string]bool{}
	for _, m := range placeholderRegex.FindAllStringSubmatch(sql, -1) {
		seen[m[1]] = true
	}
	return len(seen)
}

func TestRunArgs_MatchStatements(t *testing.T) {
	extra := model.NewTree()
	extra.Set("runtime", "go")
	inputs := model.NewTree()
	inputs.Set("question", "why")

	run := &model.Run{
		RunId:              "r1",
		Name:               "chain-1",
		RunType:            "chain",
		StartTime:          at(0),
		EndTime:            at(2 * time.Second),
		Extra:              extra,
		Tags:               []string{"a"},
		Error:              model.StringPtr("boom"),
		ReferenceExampleId: model.StringPtr("ex-1"),
		ParentRunId:        model.StringPtr("parent-1"),
		TraceId:            model.StringPtr("trace-1"),
		DottedOrder:        model.StringPtr("20240508T120000000000Zr1"),
		Inputs:             inputs,
		SessionName:        model.StringPtr("default"),
		ApiKey:             testApiKey,
		UserId:             7,
		CreatedAt:          baseTime,
		UpdatedAt:          at(2 * time.Second),
	}
	args, err := runArgs(run)
	require.NoError(t, err)

	// every column the statements write, with the value runArgs must bind to it
	want := map[string]interface{}{
		"run_id":               "r1",
		"name":                 model.StringPtr("chain-1"),
		"run_type":             "chain",
		"start_time":           at(0),
		"end_time":             at(2 * time.Second),
		"extra":                `{"runtime":"go"}`,
		"serialized":           nil,
		"events":               nil,
		"tags":                 `["a"]`,
		"error":                model.StringPtr("boom"),
		"reference_example_id": model.StringPtr("ex-1"),
		"parent_run_id":        model.StringPtr("parent-1"),
		"trace_id":             model.StringPtr("trace-1"),
		"dotted_order":         model.StringPtr("20240508T120000000000Zr1"),
		"inputs":               `{"question":"why"}`,
		"outputs":              nil,
		"session_name":         model.StringPtr("default"),
		"api_key":              testApiKey,
		"user_id":              int64(7),
		"created_at":           baseTime,
		"updated_at":           at(2 * time.Second),
	}

	tests := map[string]struct {
		sql  string
		args []interface{}
	}{
		"insert": {
			sql:  insertRunSql,
			args: args,
		},
		"replace": {
			sql:  replaceRunSql,
			args: append([]interface{}{int64(42)}, args...),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, len(tc.args), distinctPlaceholders(tc.sql))

			bound := boundColumns(t, tc.sql)
			for col, value := range want {
				n, ok := bound[col]
				require.True(t, ok, "column %s is not written", col)
				require.LessOrEqual(t, n, len(tc.args), "column %s", col)
				assert.Equal(t, value, tc.args[n-1], "column %s", col)
			}
			if n, ok := bound["id"]; ok {
				assert.Equal(t, int64(42), tc.args[n-1])
			}
			for col := range bound {
				if col == "id" {
					continue
				}
				_, ok := want[col]
				assert.True(t, ok, "unexpected column %s", col)
			}
		})
	}
}
