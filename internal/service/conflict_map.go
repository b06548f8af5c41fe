package service

import (
	"log"

	"github.com/smartcity/trafficcore/internal/domain"
)

// isGreen reports whether a signal character grants "go"
func isGreen(c byte) bool {
	return c == 'g' || c == 'G'
}

// BuildConflictMaps derives, for every controller, which link indices are
// never green together in any phase of its first program. Controllers whose
// phases cannot be read or are empty get no entry.
func BuildConflictMaps(stepper domain.Stepper) (map[string]domain.ConflictMap, error) {
	ids, err := stepper.ControllerIDs()
	if err != nil {
		return nil, err
	}

	maps := make(map[string]domain.ConflictMap, len(ids))
	for _, id := range ids {
		phases, err := stepper.ControllerPhases(id)
		if err != nil {
			log.Printf("[Conflicts] Failed to read phases for %s: %v", id, err)
			continue
		}
		if len(phases) == 0 {
			log.Printf("[Conflicts] Warning: no phases declared for controller '%s'", id)
			continue
		}
		maps[id] = ConflictMapFromPhases(phases)
	}

	log.Printf("[Conflicts] Built conflict maps for %d controllers", len(maps))
	return maps, nil
}

// ConflictMapFromPhases computes the conflict sets of one controller's phase list.
// Two indices are compatible if some phase has both green; an index is never
// listed in its own conflict set.
func ConflictMapFromPhases(phases []string) domain.ConflictMap {
	links := 0
	for _, p := range phases {
		if len(p) > links {
			links = len(p)
		}
	}

	compatible := make([][]bool, links)
	for i := range compatible {
		compatible[i] = make([]bool, links)
	}

	for _, phase := range phases {
		green := make([]int, 0, len(phase))
		for i := 0; i < len(phase); i++ {
			if isGreen(phase[i]) {
				green = append(green, i)
			}
		}
		for _, i := range green {
			for _, j := range green {
				compatible[i][j] = true
			}
		}
	}

	cm := make(domain.ConflictMap, links)
	for i := 0; i < links; i++ {
		conflicts := make([]int, 0)
		for j := 0; j < links; j++ {
			if i != j && !compatible[i][j] {
				conflicts = append(conflicts, j)
			}
		}
		cm[i] = conflicts
	}
	return cm
}
