package integration_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/mjhen/rosterbridge/internal/db"
)

const rosterCSV = "Student ID,State ID,First Name,Last Name,Grade\n" +
	"12345678,FL123456789012,Ann,Lee,5\n" +
	"22222222,,Bo,Diaz,4\n"

func TestMandatoryAcceptanceSuite(t *testing.T) {
	env := setupIntegrationEnv(t)

	status, body := env.upload("/v1/roster", "roster.csv", []byte(rosterCSV), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(2), getNumber(t, body, "students"))

	t.Run("FullReplacePerDataset", func(t *testing.T) {
		first := "Student ID,Date,Status\n12345678,09/03/2024,P\n22222222,09/03/2024,A\n12345678,09/04/2024,T\n"
		status, report := env.upload("/v1/imports", "attendance.csv", []byte(first), map[string]string{"type": "attendance"})
		require.Equal(t, http.StatusCreated, status, report)
		assert.Equal(t, "done", getString(t, report, "state"))
		assert.Equal(t, float64(3), getNumber(t, report, "matchedRows"))

		second := "Student ID,Date,Status\n22222222,09/05/2024,P\n"
		status, report = env.upload("/v1/imports", "attendance.csv", []byte(second), map[string]string{"type": "attendance"})
		require.Equal(t, http.StatusCreated, status, report)
		assert.Equal(t, float64(3), getNumber(t, report, "replacedRecords"))

		var count int
		require.NoError(t, env.db.QueryRow(`SELECT COUNT(*) FROM student_records WHERE dataset_type = 'attendance'`).Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("MatchTiers", func(t *testing.T) {
		grades := "Student,Course,Grade\n\"Lee, Ann\",Math 5,A\n\"Diaz, Bo\",Reading,B+\n\"Here, Nobody\",Art,C\n"
		status, report := env.upload("/v1/imports", "grades.csv", []byte(grades), map[string]string{"type": "grades"})
		require.Equal(t, http.StatusCreated, status, report)
		assert.Equal(t, "grades", getString(t, report, "datasetType"))
		assert.Equal(t, float64(1), getNumber(t, report, "unmatchedRows"))

		status, match := env.doJSON(http.MethodPost, "/v1/match", map[string]any{
			"row": map[string]string{"State ID": "FL123456789012"},
		})
		require.Equal(t, http.StatusOK, status, match)
		assert.Equal(t, true, match["matched"])
		result, ok := match["result"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "state-id", getString(t, result, "strategy"))
	})

	t.Run("ProgressStream", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/v1/imports/ws"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		var hello map[string]any
		require.NoError(t, conn.ReadJSON(&hello))
		assert.Equal(t, "connected", hello["type"])

		status, report := env.upload("/v1/imports", "attendance.csv",
			[]byte("Student ID,Status\n12345678,P\n"), map[string]string{"type": "attendance"})
		require.Equal(t, http.StatusCreated, status, report)
		runID := getString(t, report, "runId")

		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var states []string
		for {
			var msg struct {
				Type  string `json:"type"`
				Event struct {
					RunID string `json:"runId"`
					State string `json:"state"`
				} `json:"event"`
			}
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type != "event" || msg.Event.RunID != runID {
				continue
			}
			if len(states) == 0 || states[len(states)-1] != msg.Event.State {
				states = append(states, msg.Event.State)
			}
			if msg.Event.State == "done" || msg.Event.State == "failed" {
				break
			}
		}
		assert.Equal(t, []string{"decoding", "header-locating", "row-processing", "reporting", "done"}, states)
	})

	t.Run("ImportHistoryAndAudit", func(t *testing.T) {
		status, list := env.doJSON(http.MethodGet, "/v1/imports?limit=2", nil)
		require.Equal(t, http.StatusOK, status, list)
		runs, ok := list["runs"].([]any)
		require.True(t, ok)
		assert.Len(t, runs, 2)

		result, err := internaldb.VerifyAuditChain(t.Context(), env.db)
		require.NoError(t, err)
		assert.True(t, result.Valid, result.Message)
	})
}
