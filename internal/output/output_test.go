package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestStateColor(t *testing.T) {
	for _, st := range []string{"open", "merged", "closed"} {
		assert.Contains(t, StateColor(st), st)
	}
	assert.Equal(t, "draft", StateColor("draft"))
}

func TestLevelColor(t *testing.T) {
	assert.Equal(t, "Lv 1", LevelColor(1))
	assert.Contains(t, LevelColor(3), "Lv 3")
	assert.Contains(t, LevelColor(7), "Lv 7")
	assert.Contains(t, LevelColor(12), "Lv 12")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[##........] 2/10", ProgressBar(2, 10, 10))
	assert.Equal(t, "[..........] 0/10", ProgressBar(0, 10, 10))
	assert.Contains(t, ProgressBar(15, 10, 10), "15/10")
	assert.Contains(t, ProgressBar(15, 10, 10), "##########")
	assert.Equal(t, "3/0", ProgressBar(3, 0, 10))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Rank", "Login", "XP"})
	require.NotNil(t, table)

	require.NoError(t, table.Append([]string{"1", "octocat", "120"}))
	require.NoError(t, table.Append([]string{"2", "hubot", "45"}))
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "octocat"), "table output should contain logins")
	assert.True(t, strings.Contains(result, "hubot"), "table output should contain logins")
}
