package protocol

import "strings"

// ViewType is an X-Plane camera view id.
type ViewType int

const (
	ViewForwards ViewType = 73 + iota
	ViewDown
	ViewLeft
	ViewRight
	ViewBack
	ViewTower
	ViewRunway
	ViewChase
	ViewFollow
	ViewFollowWithPanel
	ViewSpot
	ViewFullscreenWithHud
	ViewFullscreenNoHud
)

var viewNames = map[ViewType]string{
	ViewForwards:          "forwards",
	ViewDown:              "down",
	ViewLeft:              "left",
	ViewRight:             "right",
	ViewBack:              "back",
	ViewTower:             "tower",
	ViewRunway:            "runway",
	ViewChase:             "chase",
	ViewFollow:            "follow",
	ViewFollowWithPanel:   "follow-with-panel",
	ViewSpot:              "spot",
	ViewFullscreenWithHud: "fullscreen-with-hud",
	ViewFullscreenNoHud:   "fullscreen-no-hud",
}

// Valid reports whether v is one of the defined views.
func (v ViewType) Valid() bool {
	return v >= ViewForwards && v <= ViewFullscreenNoHud
}

func (v ViewType) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return "unknown"
}

// ParseView maps a view name such as "chase" to its id. Matching ignores
// case.
func ParseView(name string) (ViewType, bool) {
	name = strings.ToLower(name)
	for v, n := range viewNames {
		if n == name {
			return v, true
		}
	}
	return 0, false
}
