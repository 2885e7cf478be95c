// Package rankings provides the static speed rankings table.
package rankings

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"go.yaml.in/yaml/v3"
)

// Default is the table served when no file is configured.
var Default = []model.Ranking{
	{Rank: 1, Country: "United Arab Emirates", Speed: 413.14},
	{Rank: 2, Country: "Qatar", Speed: 350.5},
	{Rank: 3, Country: "Kuwait", Speed: 252.15},
}

type file struct {
	Rankings []model.Ranking `yaml:"rankings"`
}

// Load reads a rankings table from a YAML file of the form
//
//	rankings:
//	  - rank: 1
//	    country: Qatar
//	    speed: 350.5
//
// An empty path returns Default. Rows are sorted by rank.
func Load(path string) ([]model.Ranking, error) {
	if path == "" {
		return Default, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading rankings file")
	}
	return Parse(data)
}

// Parse decodes a YAML rankings table.
func Parse(data []byte) ([]model.Ranking, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing rankings")
	}
	seen := make(map[int]bool, len(f.Rankings))
	for _, r := range f.Rankings {
		if r.Rank <= 0 || r.Country == "" || r.Speed < 0 {
			return nil, errors.Errorf("invalid ranking row %+v", r)
		}
		if seen[r.Rank] {
			return nil, errors.Errorf("duplicate rank %d", r.Rank)
		}
		seen[r.Rank] = true
	}
	sort.Slice(f.Rankings, func(i, j int) bool { return f.Rankings[i].Rank < f.Rankings[j].Rank })
	return f.Rankings, nil
}
