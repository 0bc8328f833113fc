// Package gate decides whether a view may be shown for the current session.
package gate

import (
	"strings"

	"github.com/kjstillabower/zappai-client/internal/session"
)

// View names a navigable screen.
type View string

const (
	ViewLogin          View = "login"
	ViewLocations      View = "locations"
	ViewCreateLocation View = "locations/create"
	ViewChooseCrop     View = "predictions/create"
	ViewPredictions    View = "predictions"
	ViewUsers          View = "users"
)

// Action is what the caller should do with the requested view.
type Action int

const (
	ActionPlaceholder Action = iota
	ActionRedirect
	ActionRender
)

func (a Action) String() string {
	switch a {
	case ActionPlaceholder:
		return "placeholder"
	case ActionRedirect:
		return "redirect"
	case ActionRender:
		return "render"
	default:
		return "unknown"
	}
}

// Decision is the gate outcome. View is the view to render or redirect to;
// Param carries the path parameter of parameterized views (the location id of
// predictions/create/{id}).
type Decision struct {
	Action Action
	View   View
	Param  string
}

// Decide is a pure function of the session snapshot and the requested view.
func Decide(snap session.Snapshot, requested View) Decision {
	view, param := Parse(string(requested))
	if snap.Phase != session.PhaseResolved {
		return Decision{Action: ActionPlaceholder, View: view, Param: param}
	}
	if view == ViewLogin {
		return Decision{Action: ActionRender, View: ViewLogin}
	}
	if snap.Session == nil {
		return Decision{Action: ActionRedirect, View: ViewLogin}
	}
	return Decision{Action: ActionRender, View: view, Param: param}
}

// Parse normalizes a path-like view name. Unknown names map to ViewLocations.
func Parse(name string) (View, string) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	switch View(name) {
	case ViewLogin, ViewLocations, ViewCreateLocation, ViewPredictions, ViewUsers:
		return View(name), ""
	}
	if rest, ok := strings.CutPrefix(name, string(ViewChooseCrop)+"/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return ViewChooseCrop, rest
	}
	return ViewLocations, ""
}

// Protected reports whether v requires a session.
func Protected(v View) bool {
	return v != ViewLogin
}
