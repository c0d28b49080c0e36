package models

import (
	"encoding/json"
	"strings"
)

// VesselClass is the closed vessel taxonomy. VesselUnknown marks a label the
// taxonomy does not know.
type VesselClass string

const (
	VesselUnknown         VesselClass = "Unknown"
	VesselNotVessel       VesselClass = "Not Vessel"
	VesselSUP             VesselClass = "SUP"
	VesselKayakOrCanoe    VesselClass = "Kayak Or Canoe"
	VesselRowingBoat      VesselClass = "Rowing Boat"
	VesselYacht           VesselClass = "Yacht"
	VesselSailingDinghy   VesselClass = "Sailing Dinghy"
	VesselNarrowBoat      VesselClass = "Narrow Boat"
	VesselUberBoat        VesselClass = "Uber Boat"
	VesselClassVPassenger VesselClass = "Class V Passenger"
	VesselRIB             VesselClass = "RIB"
	VesselRNLI            VesselClass = "RNLI"
	VesselPleasureBoat    VesselClass = "Pleasure Boat"
	VesselSmallPowered    VesselClass = "Small Powered"
	VesselWorkboat        VesselClass = "Workboat"
	VesselTug             VesselClass = "Tug"
	VesselTugTowing       VesselClass = "Tug - Towing"
	VesselTugPushing      VesselClass = "Tug - Pushing"
	VesselLargeShipping   VesselClass = "Large Shipping"
	VesselFire            VesselClass = "Fire"
	VesselPolice          VesselClass = "Police"
)

// VesselClasses lists every known class, excluding VesselUnknown.
var VesselClasses = []VesselClass{
	VesselNotVessel, VesselSUP, VesselKayakOrCanoe, VesselRowingBoat, VesselYacht,
	VesselSailingDinghy, VesselNarrowBoat, VesselUberBoat, VesselClassVPassenger, VesselRIB,
	VesselRNLI, VesselPleasureBoat, VesselSmallPowered, VesselWorkboat, VesselTug,
	VesselTugTowing, VesselTugPushing, VesselLargeShipping, VesselFire, VesselPolice,
}

var vesselByKey = func() map[string]VesselClass {
	m := make(map[string]VesselClass, len(VesselClasses))
	for _, c := range VesselClasses {
		m[classKey(string(c))] = c
	}
	return m
}()

// classKey folds case and collapses whitespace so " Class V Passenger" and
// "class v  passenger" resolve to the same class.
func classKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ParseVesselClass maps a model label onto the taxonomy. The second return is
// false, with VesselUnknown, when the label is not part of the taxonomy.
func ParseVesselClass(label string) (VesselClass, bool) {
	if c, ok := vesselByKey[classKey(label)]; ok {
		return c, true
	}
	return VesselUnknown, false
}

func (c VesselClass) Known() bool {
	_, ok := vesselByKey[classKey(string(c))]
	return ok
}

// UnmarshalJSON normalizes stored labels; anything outside the taxonomy becomes VesselUnknown.
func (c *VesselClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c, _ = ParseVesselClass(s)
	return nil
}
