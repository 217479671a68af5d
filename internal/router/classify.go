package router

import (
	"regexp"
	"strings"

	"missionforge/internal/mission"
)

// Route is the concrete generation routine a task is sent to.
type Route string

const (
	RouteVideo         Route = "video"
	RouteImageGenerate Route = "image_generate"
	RouteImageEdit     Route = "image_edit"
	RouteSpeech        Route = "speech"
	RouteMaps          Route = "maps"
	RouteSearch        Route = "search"
	RouteMultimodal    Route = "multimodal"
	RouteFast          Route = "fast"
	RouteReasoning     Route = "reasoning"
)

// Grounded reports whether the route attaches citations.
func (r Route) Grounded() bool { return r == RouteMaps || r == RouteSearch }

// Lexical intent patterns, checked in this order.
var (
	videoIntent    = regexp.MustCompile(`(?i)video|movie|film|animate|veo|sequence|motion`)
	imageIntent    = regexp.MustCompile(`(?i)image|picture|photo|draw|art|filter|edit|remove|visual|graphics`)
	audioIntent    = regexp.MustCompile(`(?i)speak|audio|tts|voice|say|talk`)
	locationIntent = regexp.MustCompile(`(?i)map|location|nearby|restaurant|address|find|place|directions`)
	searchIntent   = regexp.MustCompile(`(?i)search|google|current|news|latest|who is|status of`)

	editIntent = regexp.MustCompile(`(?i)edit|filter|remove|change|add`)
	fastIntent = regexp.MustCompile(`(?i)fast|quick|lite|check`)
)

// Classify picks the route for a task. First match wins:
//  1. the kind declared by the planner
//  2. lexical intent in the description
//  3. the assigned node's specialty
//  4. text reasoning
//
// Classify is pure.
func Classify(task mission.Task, files []mission.DirectiveFile) Route {
	desc := task.Description

	if task.KindDeclared {
		switch task.Kind {
		case mission.KindVideo:
			return RouteVideo
		case mission.KindImage:
			return imageRoute(desc, files)
		case mission.KindResearch:
			if locationIntent.MatchString(desc) {
				return RouteMaps
			}
			return RouteSearch
		case mission.KindStrategy:
			return textRoute(task, files)
		}
	}

	switch {
	case videoIntent.MatchString(desc):
		return RouteVideo
	case imageIntent.MatchString(desc):
		return imageRoute(desc, files)
	case audioIntent.MatchString(desc):
		return RouteSpeech
	case locationIntent.MatchString(desc):
		return RouteMaps
	case searchIntent.MatchString(desc):
		return RouteSearch
	}

	if r, ok := SpecialtyOf(task.AssignedNode); ok {
		if r == RouteImageGenerate {
			return imageRoute(desc, files)
		}
		if r != RouteFast {
			return r
		}
	}
	return textRoute(task, files)
}

func imageRoute(desc string, files []mission.DirectiveFile) Route {
	for _, f := range files {
		if f.IsImage() {
			return RouteImageEdit
		}
	}
	if editIntent.MatchString(desc) {
		return RouteImageEdit
	}
	return RouteImageGenerate
}

func textRoute(task mission.Task, files []mission.DirectiveFile) Route {
	for _, f := range files {
		if f.IsImage() || f.IsVideo() {
			return RouteMultimodal
		}
	}
	if fastIntent.MatchString(task.Description) || strings.HasPrefix(strings.ToUpper(task.AssignedNode), "MI-") {
		return RouteFast
	}
	return RouteReasoning
}
