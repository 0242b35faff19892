// internal/store/redis_test.go
package store

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocKeyRoundTrip(t *testing.T) {
	cases := []struct {
		path string
		key  string
	}{
		{"games/ABC123", "goof:games:ABC123"},
		{"queue/user-1", "goof:queue:user-1"},
		{"users/u9", "goof:users:u9"},
	}
	for _, c := range cases {
		assert.Equal(t, c.key, docKey(splitPath(c.path)))
		assert.Equal(t, c.path, keyPath(c.key))
	}
}

func TestDocKeyIgnoresFieldSegments(t *testing.T) {
	// writes below the document level still target the document key
	assert.Equal(t, "goof:games:ABC123", docKey(splitPath("games/ABC123/host/bid")[:2]))
}

func TestParseChange(t *testing.T) {
	key, rev := parseChange("goof:games:ABC123|42")
	assert.Equal(t, "goof:games:ABC123", key)
	assert.Equal(t, int64(42), rev)

	key, rev = parseChange("garbage")
	assert.Empty(t, key)
	assert.Zero(t, rev)
}

// TestEmptyListsSurviveLuaRoundTrip covers the moment a hand runs out on the
// thirteenth bid: cjson re-encodes an empty array as {}, so patches must not
// carry one. The marker stands in on the way to the script and the read path
// restores a real array the decoder accepts.
func TestEmptyListsSurviveLuaRoundTrip(t *testing.T) {
	type player struct {
		Hand  []int  `json:"hand"`
		Name  string `json:"name"`
		Grave []int  `json:"graveyard"`
	}
	tree, err := Encode(player{Hand: []int{}, Name: "Alpha", Grave: []int{13, 12}})
	require.NoError(t, err)

	marked := markEmptyLists(tree)
	raw, err := json.Marshal(marked)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "[]", "an empty array reached the script")
	assert.Contains(t, string(raw), `\u0000`, "marker missing from the patch")

	var out player
	require.NoError(t, Decode(restoreEmptyLists(marked), &out))
	assert.Equal(t, []int{}, out.Hand)
	assert.Equal(t, []int{13, 12}, out.Grave)
	assert.Equal(t, "Alpha", out.Name)
}

func TestRestoreEmptyListsNested(t *testing.T) {
	doc := map[string]interface{}{
		"prizeDeck": emptyListMarker,
		"host": map[string]interface{}{
			"hand": emptyListMarker,
			"bid":  float64(4),
		},
		"log": []interface{}{
			map[string]interface{}{"text": "WON 13"},
		},
	}
	restored := restoreEmptyLists(doc).(map[string]interface{})
	assert.Equal(t, []interface{}{}, restored["prizeDeck"])
	assert.Equal(t, []interface{}{}, restored["host"].(map[string]interface{})["hand"])
	assert.Equal(t, "WON 13", restored["log"].([]interface{})[0].(map[string]interface{})["text"])
	assert.False(t, strings.Contains(toJSON(t, restored), `\u0000`))
}

func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestOrderedPathsShallowestFirst(t *testing.T) {
	got := orderedPaths(map[string]interface{}{
		"games/X/host/bid": 1,
		"games/X":          2,
		"games/X/status":   3,
		"queue/a":          4,
	})
	assert.Equal(t, []string{"games/X", "queue/a", "games/X/status", "games/X/host/bid"}, got)
}
