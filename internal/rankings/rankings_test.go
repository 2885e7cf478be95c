package rankings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-lab/go/testingx"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"gotest.tools/v3/assert"
)

func TestLoad(t *testing.T) {
	got, err := Load("")
	assert.NilError(t, err)
	assert.DeepEqual(t, got, Default)

	path := filepath.Join(t.TempDir(), "rankings.yaml")
	testingx.Must(t, os.WriteFile(path, []byte(`
rankings:
  - rank: 2
    country: Norway
    speed: 150.2
  - rank: 1
    country: Singapore
    speed: 300
`), 0644), "cannot write rankings file")

	got, err = Load(path)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []model.Ranking{
		{Rank: 1, Country: "Singapore", Speed: 300},
		{Rank: 2, Country: "Norway", Speed: 150.2},
	})

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading rankings file")
}

func TestParseInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"syntax":    "rankings: [",
		"no-rank":   "rankings:\n  - country: X\n    speed: 1\n",
		"negative":  "rankings:\n  - rank: 1\n    country: X\n    speed: -1\n",
		"duplicate": "rankings:\n  - rank: 1\n    country: X\n    speed: 1\n  - rank: 1\n    country: Y\n    speed: 2\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Assert(t, err != nil)
		})
	}
}
