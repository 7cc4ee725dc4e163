package matching

import (
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/armon/go-radix"
)

var zipPattern = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)

// Gazetteer resolves place names and ZIP prefixes to locations. Names live in
// one radix tree so prefix completion comes for free; ZIP prefixes in another
// so a full code resolves by longest prefix.
type Gazetteer struct {
	names    *radix.Tree
	zips     *radix.Tree
	maxWords int
}

// NewGazetteer builds the lookup trees from place entries.
func NewGazetteer(places []PlaceEntry) *Gazetteer {
	g := &Gazetteer{
		names: radix.New(),
		zips:  radix.New(),
	}
	for _, p := range places {
		loc := ports.Location{
			Region: strings.ToLower(p.Region),
			City:   strings.ToLower(p.City),
			Area:   strings.ToLower(p.Area),
		}
		for _, name := range append([]string{p.Name}, p.Aliases...) {
			key := normalize(name)
			if key == "" {
				continue
			}
			g.names.Insert(key, loc)
			if n := len(strings.Fields(key)); n > g.maxWords {
				g.maxWords = n
			}
		}
		for _, z := range p.Zips {
			// A shared prefix keeps its most specific location.
			if existing, ok := g.zips.Get(z); ok && precision(existing.(ports.Location)) >= precision(loc) {
				continue
			}
			g.zips.Insert(z, loc)
		}
	}
	return g
}

// Resolve finds the most specific location mentioned in s. Named places win
// ties against ZIP codes.
func (g *Gazetteer) Resolve(s string) (ports.Location, bool) {
	var (
		best  ports.Location
		found bool
	)

	tokens := strings.Fields(normalize(s))
	for i := 0; i < len(tokens); i++ {
		for n := min(g.maxWords, len(tokens)-i); n >= 1; n-- {
			v, ok := g.names.Get(strings.Join(tokens[i:i+n], " "))
			if !ok {
				continue
			}
			loc := v.(ports.Location)
			if !found || precision(loc) > precision(best) {
				best, found = loc, true
			}
			i += n - 1
			break
		}
	}

	if m := zipPattern.FindStringSubmatch(s); m != nil {
		zip := m[1]
		if _, v, ok := g.zips.LongestPrefix(zip); ok {
			loc := v.(ports.Location)
			switch {
			case !found || precision(loc) > precision(best):
				best, found = loc, true
				best.Zip = zip
			case best.City == loc.City:
				best.Zip = zip
			}
		} else if !found {
			best, found = ports.Location{Zip: zip}, true
		}
	}
	return best, found
}

// Complete returns display labels for places whose name starts with prefix.
func (g *Gazetteer) Complete(prefix string, limit int) []string {
	key := normalize(prefix)
	if key == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	seen := make(map[string]bool)
	var out []string
	g.names.WalkPrefix(key, func(_ string, v interface{}) bool {
		label := v.(ports.Location).String()
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
		return len(out) >= limit
	})
	return out
}

// precision ranks a location by its most specific component.
func precision(l ports.Location) int {
	switch {
	case l.Area != "":
		return 3
	case l.City != "":
		return 2
	case l.Region != "":
		return 1
	}
	return 0
}
