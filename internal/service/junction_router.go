package service

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/smartcity/trafficcore/internal/domain"
)

// DefaultControllerPrefix is stripped from a controller id to find its junction
const DefaultControllerPrefix = "GS_"

// maxNameParts bounds how many street names make up a junction display name
const maxNameParts = 2

// JunctionRoutes maps junctions to controllers and display names
type JunctionRoutes struct {
	JunctionToController map[string]string
	ControllerToJunction map[string]string
	Names                map[string]string
}

// isInternal reports whether an id names a synthetic segment or junction
func isInternal(id string) bool {
	return strings.HasPrefix(id, ":")
}

// PlaceholderName is the display name of a junction with no named streets
func PlaceholderName(junctionID string) string {
	return fmt.Sprintf("Unnamed Junction (%s)", junctionID)
}

// BuildJunctionRoutes derives the junction to controller mapping by prefix
// convention and a display name for every non-internal junction.
func BuildJunctionRoutes(stepper domain.Stepper, prefix string) (*JunctionRoutes, error) {
	routes := &JunctionRoutes{
		JunctionToController: make(map[string]string),
		ControllerToJunction: make(map[string]string),
		Names:                make(map[string]string),
	}

	junctionIDs, err := stepper.JunctionIDs()
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(junctionIDs))
	for _, id := range junctionIDs {
		known[id] = struct{}{}
	}

	controllerIDs, err := stepper.ControllerIDs()
	if err != nil {
		return nil, err
	}
	for _, cid := range controllerIDs {
		candidate := strings.TrimPrefix(cid, prefix)
		if _, ok := known[candidate]; !ok {
			log.Printf("[Router] Warning: junction '%s' derived from controller '%s' does not exist, skipped", candidate, cid)
			continue
		}
		routes.JunctionToController[candidate] = cid
		routes.ControllerToJunction[cid] = candidate
	}
	if len(routes.JunctionToController) == 0 {
		log.Println("[Router] Warning: no junction to controller mappings were built")
	}

	for _, jid := range junctionIDs {
		if isInternal(jid) {
			continue
		}
		routes.Names[jid] = junctionName(stepper, jid)
	}

	log.Printf("[Router] Mapped %d controllers, named %d junctions",
		len(routes.JunctionToController), len(routes.Names))
	return routes, nil
}

func junctionName(stepper domain.Stepper, junctionID string) string {
	var edges []string
	if in, err := stepper.JunctionIncoming(junctionID); err == nil {
		edges = append(edges, in...)
	} else {
		log.Printf("[Router] Failed to read incoming edges of %s: %v", junctionID, err)
	}
	if out, err := stepper.JunctionOutgoing(junctionID); err == nil {
		edges = append(edges, out...)
	} else {
		log.Printf("[Router] Failed to read outgoing edges of %s: %v", junctionID, err)
	}

	names := make([]string, 0, len(edges))
	for _, edgeID := range lo.Reject(edges, func(e string, _ int) bool { return isInternal(e) }) {
		name, err := stepper.EdgeStreetName(edgeID)
		if err != nil || name == "" {
			continue
		}
		names = append(names, name)
	}

	names = lo.Uniq(names)
	if len(names) == 0 {
		return PlaceholderName(junctionID)
	}
	sort.Strings(names)
	if len(names) > maxNameParts {
		names = names[:maxNameParts]
	}
	return strings.Join(names, "-")
}

// ControllerFor returns the controller governing a junction
func (r *JunctionRoutes) ControllerFor(junctionID string) (string, bool) {
	cid, ok := r.JunctionToController[junctionID]
	return cid, ok
}

// JunctionFor returns the junction a controller belongs to
func (r *JunctionRoutes) JunctionFor(controllerID string) (string, bool) {
	jid, ok := r.ControllerToJunction[controllerID]
	return jid, ok
}

// NameOf returns the display name of a junction, or its placeholder
func (r *JunctionRoutes) NameOf(junctionID string) string {
	if name, ok := r.Names[junctionID]; ok {
		return name
	}
	return PlaceholderName(junctionID)
}

// VerifyNames returns, sorted, the controlled junctions that only have a placeholder name
func (r *JunctionRoutes) VerifyNames() []string {
	unnamed := lo.Filter(lo.Keys(r.JunctionToController), func(jid string, _ int) bool {
		return r.NameOf(jid) == PlaceholderName(jid)
	})
	sort.Strings(unnamed)
	for _, jid := range unnamed {
		log.Printf("[Router] Controlled junction '%s' has no street name", jid)
	}
	return unnamed
}
